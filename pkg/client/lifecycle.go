package client

import "time"

// Lifecycle events emitted through the client's dispatcher on every transition.
const (
	EventConnect          = "socket:connect"
	EventDisconnect       = "socket:disconnect"
	EventError            = "socket:error"
	EventReconnectAttempt = "socket:reconnect_attempt"
	EventReconnectSuccess = "socket:reconnect_success"
	EventReconnectError   = "socket:reconnect_error"
	EventReconnectFailed  = "socket:reconnect_failed"
)

// PingMethod is the keepalive call. It carries no application semantics.
const PingMethod = "ping"

// noCloseFrame is the DisconnectEvent code when the socket ended without a close frame,
// or never opened.
const noCloseFrame = -1

// ConnectEvent is the payload of EventConnect.
type ConnectEvent struct {
	URL string `json:"url"`
}

// DisconnectEvent is the payload of EventDisconnect. Code is -1 when no close frame was
// received, including a Connect that failed before the socket opened.
type DisconnectEvent struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
	// Clean is true for code 1000 and for closes the client asked for.
	Clean bool `json:"clean"`
}

// ErrorEvent is the payload of EventError.
type ErrorEvent struct {
	Err     error  `json:"-"`
	Message string `json:"message"`
}

func newErrorEvent(err error) ErrorEvent {
	return ErrorEvent{Err: err, Message: err.Error()}
}

// ReconnectAttemptEvent is emitted before waiting Delay and dialing again.
type ReconnectAttemptEvent struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// ReconnectSuccessEvent is the payload of EventReconnectSuccess.
type ReconnectSuccessEvent struct {
	Attempt int `json:"attempt"`
}

// ReconnectErrorEvent reports one failed retry. More retries may follow.
type ReconnectErrorEvent struct {
	Attempt int    `json:"attempt"`
	Err     error  `json:"-"`
	Message string `json:"message"`
}

// ReconnectFailedEvent is terminal: no automatic retries follow it.
type ReconnectFailedEvent struct {
	Attempts int `json:"attempts"`
}
