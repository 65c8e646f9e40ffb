package client

import (
	"sync"

	"github.com/cskr/pubsub"
)

// State is the connection state. A client is in exactly one state at a time.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange is published to watchers on every transition.
type StateChange struct {
	From State
	To   State
}

const (
	stateTopic         = "state"
	stateWatchCapacity = 16
)

// stateHolder is the observable connection state. Transitions are published on a pubsub
// topic; publishing never blocks, slow watchers lose intermediate changes.
type stateHolder struct {
	mu      sync.RWMutex
	current State
	bus     *pubsub.PubSub
	closed  bool
}

func newStateHolder() *stateHolder {
	return &stateHolder{
		current: StateDisconnected,
		bus:     pubsub.New(stateWatchCapacity),
	}
}

func (s *stateHolder) get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// set moves to the given state and returns the previous one.
func (s *stateHolder) set(to State) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.current
	if from == to {
		return from
	}
	s.current = to
	if !s.closed {
		s.bus.TryPub(StateChange{From: from, To: to}, stateTopic)
	}
	return from
}

// watch subscribes to transitions. The returned channel is closed by cancel or by close.
func (s *stateHolder) watch() (<-chan StateChange, func()) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		ch := make(chan StateChange)
		close(ch)
		return ch, func() {}
	}
	raw := s.bus.Sub(stateTopic)
	s.mu.RUnlock()

	out := make(chan StateChange, stateWatchCapacity)
	go func() {
		defer close(out)
		for msg := range raw {
			change, ok := msg.(StateChange)
			if !ok {
				continue
			}
			select {
			case out <- change:
			default:
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Unsub must not run on the subscriber goroutine and must not follow Shutdown.
			go func() {
				s.mu.RLock()
				defer s.mu.RUnlock()
				if !s.closed {
					s.bus.Unsub(raw, stateTopic)
				}
			}()
		})
	}
	return out, cancel
}

// close stops publishing and closes every watcher channel.
func (s *stateHolder) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.Shutdown()
}
