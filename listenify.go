// Package listenify is the entry point for the Listenify realtime client. It re-exports the
// types most programs need from pkg/client, pkg/events and pkg/jsonrpc.
package listenify

import (
	"context"

	"github.com/listenify-platform/listenify-app/pkg/client"
	"github.com/listenify-platform/listenify-app/pkg/events"
	"github.com/listenify-platform/listenify-app/pkg/jsonrpc"
)

// Re-export core types
type (
	Client       = client.Client
	Options      = client.Options
	Option       = client.Option
	CallOption   = client.CallOption
	State        = client.State
	StateChange  = client.StateChange
	Event        = events.Event
	Handler      = events.Handler
	Subscription = events.Subscription
	Error        = jsonrpc.Error
	ErrorCode    = jsonrpc.ErrorCode
)

// Re-export connection states
const (
	StateDisconnected  = client.StateDisconnected
	StateConnecting    = client.StateConnecting
	StateConnected     = client.StateConnected
	StateDisconnecting = client.StateDisconnecting
	StateReconnecting  = client.StateReconnecting
)

// Re-export lifecycle event names
const (
	EventConnect          = client.EventConnect
	EventDisconnect       = client.EventDisconnect
	EventError            = client.EventError
	EventReconnectAttempt = client.EventReconnectAttempt
	EventReconnectSuccess = client.EventReconnectSuccess
	EventReconnectError   = client.EventReconnectError
	EventReconnectFailed  = client.EventReconnectFailed
	Wildcard              = events.Wildcard
)

// Re-export error values
var (
	ErrNotConnected     = client.ErrNotConnected
	ErrConnectTimeout   = client.ErrConnectTimeout
	ErrConnectionClosed = client.ErrConnectionClosed
	ErrTimeout          = client.ErrTimeout
	ErrClosed           = client.ErrClosed
)

// New creates a disconnected client.
func New(opts ...Option) *Client {
	return client.New(opts...)
}

// Dial creates a client for url and connects it. The client is closed if the first connect fails.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := client.New(append([]Option{client.WithURL(url)}, opts...)...)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// DefaultOptions returns the default client options.
func DefaultOptions() Options {
	return client.DefaultOptions()
}
