// Package relay bridges a realtime client onto NATS: every dispatched event is published on
// <prefix>.events.<event>, and requests on <prefix>.call.<method> are issued as JSON-RPC calls.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/listenify-platform/listenify-app/pkg/client"
	"github.com/listenify-platform/listenify-app/pkg/events"
	"github.com/listenify-platform/listenify-app/pkg/jsonrpc"
	"github.com/nats-io/nats.go"
)

const (
	DefaultPrefix      = "listenify.rtc"
	defaultQueueName   = "listenify-rtc-relay"
	defaultCallTimeout = 10 * time.Second
)

// Source is the part of the client the relay needs.
type Source interface {
	Call(ctx context.Context, method string, params any, opts ...client.CallOption) (json.RawMessage, error)
	On(event string, h events.Handler) *events.Subscription
}

// Options contains configuration options for the relay.
type Options struct {
	// URL is the NATS server URL.
	URL string
	// Prefix is the subject prefix. Defaults to DefaultPrefix.
	Prefix string
	// QueueName is the queue group for call subscriptions, so several relays share the load.
	QueueName string
	// CallTimeout bounds each relayed call.
	CallTimeout time.Duration
	Logger      *slog.Logger
	// ConnectionOptions are additional options for the NATS connection.
	ConnectionOptions []nats.Option
}

// Relay forwards between one Source and one NATS connection.
type Relay struct {
	src    Source
	conn   *nats.Conn
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	eventSub *events.Subscription
	callSub  *nats.Subscription

	// In-flight relayed calls. ctx is cancelled by Close.
	ctx     context.Context
	cancel  context.CancelFunc
	callsMu sync.Mutex
	closing bool
	calls   sync.WaitGroup
}

// New connects to NATS. Call Start to begin relaying.
func New(src Source, opts Options) (*Relay, error) {
	if src == nil {
		return nil, errors.New("relay: source cannot be nil")
	}
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	opts.Prefix = strings.TrimSuffix(opts.Prefix, ".")
	if opts.QueueName == "" {
		opts.QueueName = defaultQueueName
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	conn, err := nats.Connect(opts.URL, opts.ConnectionOptions...)
	if err != nil {
		return nil, fmt.Errorf("relay: failed to connect to NATS: %w", err)
	}
	return newRelay(src, conn, opts), nil
}

func newRelay(src Source, conn *nats.Conn, opts Options) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{src: src, conn: conn, opts: opts, logger: opts.Logger, ctx: ctx, cancel: cancel}
}

// EventSubject returns the subject an event is published on.
func (r *Relay) EventSubject(event string) string {
	return r.opts.Prefix + ".events." + SubjectToken(event)
}

// CallSubject returns the subject that relays a call to method.
func (r *Relay) CallSubject(method string) string {
	return r.opts.Prefix + ".call." + method
}

// Start subscribes to the source's events and to call requests.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.callSub != nil {
		return nil
	}

	sub, err := r.conn.QueueSubscribe(r.opts.Prefix+".call.>", r.opts.QueueName, r.dispatchCall)
	if err != nil {
		return fmt.Errorf("relay: failed to subscribe to calls: %w", err)
	}
	r.callSub = sub
	r.eventSub = r.src.On(events.Wildcard, r.forward)
	r.logger.Info(fmt.Sprintf("Relay: Forwarding events to %s.events.> and serving %s.call.>", r.opts.Prefix, r.opts.Prefix))
	return nil
}

// Close stops relaying, cancels in-flight calls and closes the NATS connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eventSub != nil {
		r.eventSub.Unsubscribe()
		r.eventSub = nil
	}
	var err error
	if r.callSub != nil {
		err = r.callSub.Unsubscribe()
		r.callSub = nil
	}

	r.callsMu.Lock()
	r.closing = true
	r.callsMu.Unlock()
	r.cancel()
	r.calls.Wait()

	r.conn.Close()
	return err
}

func (r *Relay) forward(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("relay: marshal %s: %w", e.Name, err)
	}
	return r.conn.Publish(r.EventSubject(e.Name), data)
}

// dispatchCall serves each request on its own goroutine. NATS runs a subscription's callbacks
// one at a time, and a call may wait up to CallTimeout for the socket.
func (r *Relay) dispatchCall(msg *nats.Msg) {
	r.callsMu.Lock()
	if r.closing {
		r.callsMu.Unlock()
		return
	}
	r.calls.Add(1)
	r.callsMu.Unlock()

	go func() {
		defer r.calls.Done()
		r.serveCall(msg)
	}()
}

func (r *Relay) serveCall(msg *nats.Msg) {
	method := strings.TrimPrefix(msg.Subject, r.opts.Prefix+".call.")
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.CallTimeout)
	defer cancel()

	reply := r.handleCall(ctx, method, msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		r.logger.Warn(fmt.Sprintf("Relay: Failed to respond to %s: %v", msg.Subject, err))
	}
}

// handleCall issues the call and encodes the outcome as a JSON-RPC response body.
func (r *Relay) handleCall(ctx context.Context, method string, data []byte) []byte {
	var params any
	if len(data) > 0 {
		if !json.Valid(data) {
			return encodeResponse(nil, jsonrpc.NewError(jsonrpc.CodeParseError, "params are not valid JSON", nil))
		}
		params = json.RawMessage(data)
	}

	result, err := r.src.Call(ctx, method, params)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil)
		}
		return encodeResponse(nil, rpcErr)
	}
	return encodeResponse(result, nil)
}

func encodeResponse(result json.RawMessage, rpcErr *jsonrpc.Error) []byte {
	resp := jsonrpc.Response{JSONRPC: jsonrpc.Version, Error: rpcErr, ID: json.RawMessage("null")}
	if rpcErr == nil {
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		resp.Result = result
	}
	data, _ := jsonrpc.Encode(resp)
	return data
}

// SubjectToken makes an event name safe to use as a single NATS subject token.
func SubjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, name)
}
