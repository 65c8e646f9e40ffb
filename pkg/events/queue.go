package events

import "sync"

// Queue delivers posted events through a Dispatcher on a single goroutine, in the order they
// were posted. Post never blocks, so producers such as a socket reader keep running while a
// handler is busy. The worker goroutine exits whenever the queue is empty.
type Queue struct {
	d *Dispatcher

	mu      sync.Mutex
	items   []Event
	running bool
	idle    *sync.Cond
}

// NewQueue creates a queue that delivers through d.
func NewQueue(d *Dispatcher) *Queue {
	q := &Queue{d: d}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Post appends an event for delivery.
func (q *Queue) Post(name string, data any) {
	q.mu.Lock()
	q.items = append(q.items, Event{Name: name, Data: data})
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

// Len reports events posted but not yet handed to the dispatcher.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until every event posted so far has been delivered. It must not be called from
// a handler, which would wait for itself.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running {
		q.idle.Wait()
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.items = nil
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		e := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		q.d.Emit(e.Name, e.Data)
	}
}
