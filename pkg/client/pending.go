package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type result struct {
	value json.RawMessage
	err   error
}

type pendingCall struct {
	method string
	done   chan result
	timer  *time.Timer
}

// pendingTable correlates in-flight calls with responses. Whoever removes an entry settles it,
// so each call is settled exactly once.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

// add registers a call and arms its timeout.
func (t *pendingTable) add(id, method string, timeout time.Duration) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.calls[id]; exists {
		return nil, fmt.Errorf("client: duplicate call id %q", id)
	}
	pc := &pendingCall{method: method, done: make(chan result, 1)}
	t.calls[id] = pc
	pc.timer = time.AfterFunc(timeout, func() {
		t.settle(id, result{err: &TimeoutError{Method: method, Timeout: timeout}})
	})
	return pc, nil
}

// settle removes the entry and delivers r. It reports false when the id is no longer tracked.
func (t *pendingTable) settle(id string, r result) bool {
	t.mu.Lock()
	pc, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	pc.timer.Stop()
	pc.done <- r
	return true
}

// rejectAll settles every entry with err and returns how many there were.
func (t *pendingTable) rejectAll(err error) int {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.mu.Unlock()

	for _, pc := range calls {
		pc.timer.Stop()
		pc.done <- result{err: err}
	}
	return len(calls)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *pendingTable) has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.calls[id]
	return ok
}
