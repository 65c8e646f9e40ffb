// Package events fans server notifications and connection lifecycle events out to registered handlers.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Wildcard receives every emitted event.
const Wildcard = "*"

// Event is what handlers receive. Handlers registered under Wildcard see the same value,
// so Name tells them which event fired.
type Event struct {
	Name string `json:"type"`
	Data any    `json:"data"`
}

// Decode unmarshals the event payload into v. Notification params arrive as json.RawMessage;
// lifecycle payloads are Go values and are converted through JSON.
func (e Event) Decode(v any) error {
	switch d := e.Data.(type) {
	case nil:
		return nil
	case json.RawMessage:
		if len(d) == 0 {
			return nil
		}
		return json.Unmarshal(d, v)
	case []byte:
		return json.Unmarshal(d, v)
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("events: re-encode %q payload: %w", e.Name, err)
		}
		return json.Unmarshal(raw, v)
	}
}

// Handler processes one event. A returned error is logged and never stops delivery.
type Handler func(Event) error

// FailureHook is told about every handler that returned an error or panicked.
type FailureHook func(event string, err error)

type entry struct {
	id      uint64
	handler Handler
	once    bool
	fired   atomic.Bool
}

// Dispatcher maps event names to handler sets. It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]*entry
	nextID   uint64

	logger    *slog.Logger
	onFailure FailureHook
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for handler failures.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithFailureHook registers a callback for handler failures.
func WithFailureHook(hook FailureHook) Option {
	return func(d *Dispatcher) {
		d.onFailure = hook
	}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]map[uint64]*entry),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscription is the handle returned by On and Once.
type Subscription struct {
	d     *Dispatcher
	name  string
	id    uint64
	unsub sync.Once
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.d == nil {
		return
	}
	s.unsub.Do(func() {
		s.d.remove(s.name, s.id)
	})
}

// Event returns the name the subscription was registered under.
func (s *Subscription) Event() string {
	return s.name
}

// On registers h for every occurrence of name.
func (d *Dispatcher) On(name string, h Handler) *Subscription {
	return d.add(name, h, false)
}

// Once registers h for at most one occurrence of name. The handler is removed before it runs,
// so concurrent emits deliver to it at most once.
func (d *Dispatcher) Once(name string, h Handler) *Subscription {
	return d.add(name, h, true)
}

// Off removes every handler registered under name.
func (d *Dispatcher) Off(name string) {
	d.mu.Lock()
	delete(d.handlers, name)
	d.mu.Unlock()
}

// HandlerCount returns the number of handlers registered under name.
func (d *Dispatcher) HandlerCount(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[name])
}

// Emit delivers data to every handler of name and to every wildcard handler, synchronously,
// on the calling goroutine. It returns the number of handlers invoked.
func (d *Dispatcher) Emit(name string, data any) int {
	targets := d.snapshot(name)
	if len(targets) == 0 {
		return 0
	}

	evt := Event{Name: name, Data: data}
	delivered := 0
	for _, t := range targets {
		if t.e.once {
			if !t.e.fired.CompareAndSwap(false, true) {
				continue
			}
			d.remove(t.name, t.e.id)
		}
		d.invoke(t.e.handler, evt)
		delivered++
	}
	return delivered
}

type target struct {
	name string
	e    *entry
}

func (d *Dispatcher) snapshot(name string) []target {
	d.mu.RLock()
	defer d.mu.RUnlock()

	named := d.handlers[name]
	var wild map[uint64]*entry
	if name != Wildcard {
		wild = d.handlers[Wildcard]
	}
	out := make([]target, 0, len(named)+len(wild))
	for _, e := range named {
		out = append(out, target{name: name, e: e})
	}
	for _, e := range wild {
		out = append(out, target{name: Wildcard, e: e})
	}
	return out
}

func (d *Dispatcher) invoke(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("handler panic: %v", r)
			d.logger.Error("Event handler panicked", "event", evt.Name, "panic", r)
			d.fail(evt.Name, err)
		}
	}()
	if err := h(evt); err != nil {
		d.logger.Warn("Event handler returned error", "event", evt.Name, "error", err)
		d.fail(evt.Name, err)
	}
}

func (d *Dispatcher) fail(name string, err error) {
	if d.onFailure != nil {
		d.onFailure(name, err)
	}
}

func (d *Dispatcher) add(name string, h Handler, once bool) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	set, ok := d.handlers[name]
	if !ok {
		set = make(map[uint64]*entry)
		d.handlers[name] = set
	}
	set[id] = &entry{id: id, handler: h, once: once}
	return &Subscription{d: d, name: name, id: id}
}

func (d *Dispatcher) remove(name string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.handlers[name]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(d.handlers, name)
	}
}
