package client

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned by Call and Notify when the socket is not usable and
	// cannot be (re)opened.
	ErrNotConnected = errors.New("client: not connected")
	// ErrConnectTimeout is returned by Connect when the socket does not open within Options.Timeout.
	ErrConnectTimeout = errors.New("client: connection timeout")
	// ErrConnectionClosed rejects every pending call when the client leaves the connected state.
	ErrConnectionClosed = errors.New("client: connection closed")
	// ErrMissingURL is returned by Connect when no URL is configured.
	ErrMissingURL = errors.New("client: url is required")
	// ErrInvalidURL is returned by Connect when the URL cannot be turned into a ws or wss endpoint.
	ErrInvalidURL = errors.New("client: invalid url")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("client: closed")
	// ErrDisconnectInProgress is returned by Connect while a Disconnect is still closing the socket.
	ErrDisconnectInProgress = errors.New("client: disconnect in progress")
	// ErrConnectAborted is returned by Connect when Disconnect or Close interrupted the dial.
	ErrConnectAborted = errors.New("client: connect aborted")
	// ErrTimeout matches every *TimeoutError through errors.Is.
	ErrTimeout = errors.New("client: call timed out")
)

// TimeoutError is returned by Call when no response arrived in time.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("client: call %q timed out after %s", e.Method, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
