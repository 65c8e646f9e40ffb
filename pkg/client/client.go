// Package client is the realtime runtime: one WebSocket carrying JSON-RPC 2.0 calls, notifications
// and server pushes, with reconnection and keepalive.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/listenify-platform/listenify-app/pkg/events"
	"github.com/listenify-platform/listenify-app/pkg/jsonrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/listenify-platform/listenify-app/pkg/client"

// Client owns one socket and everything correlated with it.
type Client struct {
	id     string
	logger *slog.Logger

	optsMu sync.RWMutex
	opts   Options

	state   *stateHolder
	events  *events.Dispatcher
	queue   *events.Queue
	pending *pendingTable
	seq     atomic.Uint64
	metrics *metrics
	tracer  trace.Tracer

	// mu serialises transitions and guards the fields below.
	mu              sync.Mutex
	conn            *websocket.Conn
	connDone        chan struct{}
	keepaliveCancel context.CancelFunc
	dialCancel      context.CancelFunc
	dialGen         uint64
	reconnectCancel context.CancelFunc
	attempt         int
	closed          bool
}

// New creates a disconnected client from DefaultOptions and opts.
func New(opts ...Option) *Client {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return NewWithOptions(o)
}

// NewWithOptions creates a disconnected client from an Options struct.
func NewWithOptions(opts Options) *Client {
	opts.normalize()

	c := &Client{
		id:      uuid.NewString(),
		opts:    opts,
		state:   newStateHolder(),
		pending: newPendingTable(),
		metrics: newMetrics(opts.Registerer, opts.Name),
	}
	c.logger = opts.Logger.With("client", opts.Name)
	c.events = events.NewDispatcher(
		events.WithLogger(c.logger),
		events.WithFailureHook(func(event string, _ error) {
			c.metrics.handlerFailures.WithLabelValues(event).Inc()
		}),
	)

	c.queue = events.NewQueue(c.events)

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	c.tracer = tp.Tracer(tracerName)
	return c
}

// ID is the unique id of this client instance.
func (c *Client) ID() string { return c.id }

// State returns the current connection state.
func (c *Client) State() State { return c.state.get() }

// WatchState subscribes to state transitions. Call cancel when done; the channel is closed
// afterwards and when the client is closed.
func (c *Client) WatchState() (<-chan StateChange, func()) {
	return c.state.watch()
}

// Options returns a copy of the live configuration.
func (c *Client) Options() Options {
	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	return c.opts
}

// PendingCount returns the number of calls waiting for a response.
func (c *Client) PendingCount() int { return c.pending.len() }

// On registers h for the named notification or lifecycle event; "*" receives everything.
func (c *Client) On(event string, h events.Handler) *events.Subscription {
	return c.events.On(event, h)
}

// Once registers h for at most one occurrence of event.
func (c *Client) Once(event string, h events.Handler) *events.Subscription {
	return c.events.Once(event, h)
}

// Off removes every handler for event.
func (c *Client) Off(event string) { c.events.Off(event) }

// Connect opens the socket. It returns nil immediately when the client is already connecting,
// connected or reconnecting.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state.get() {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return nil
	case StateDisconnecting:
		c.mu.Unlock()
		return ErrDisconnectInProgress
	}

	opts := c.Options()
	endpoint, err := opts.Endpoint()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	c.dialGen++
	gen := c.dialGen
	c.dialCancel = cancel
	c.attempt = 0
	c.transition(StateConnecting)
	c.mu.Unlock()

	c.logger.Info(fmt.Sprintf("Client %s: Connecting to %s", c.id, opts.URL))
	conn, err := c.dial(dialCtx, endpoint, opts)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	c.mu.Lock()
	if c.dialGen != gen || c.state.get() != StateConnecting {
		c.mu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "connect aborted")
		}
		return ErrConnectAborted
	}
	c.dialCancel = nil
	if err != nil {
		c.transition(StateDisconnected)
		c.mu.Unlock()
		if timedOut {
			err = fmt.Errorf("%w after %s", ErrConnectTimeout, opts.Timeout)
		} else {
			err = fmt.Errorf("client: dial %s: %w", opts.URL, err)
		}
		c.logger.Info(fmt.Sprintf("Client %s: Connection failed: %v", c.id, err))
		c.emit(EventDisconnect, DisconnectEvent{Code: noCloseFrame, Reason: err.Error()})
		c.emit(EventError, newErrorEvent(err))
		return err
	}
	c.attach(conn, opts)
	c.mu.Unlock()

	c.logger.Info(fmt.Sprintf("Client %s: Connected to %s", c.id, opts.URL))
	c.emit(EventConnect, ConnectEvent{URL: opts.URL})
	return nil
}

// Disconnect closes the socket with code 1000 and waits for the close to be observed.
// Keepalive and any pending reconnection are cancelled.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state.get() {
	case StateDisconnected, StateDisconnecting:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		if c.dialCancel != nil {
			c.dialCancel()
			c.dialCancel = nil
		}
		c.transition(StateDisconnected)
		c.mu.Unlock()
		c.emit(EventDisconnect, DisconnectEvent{Code: int(websocket.StatusNormalClosure), Reason: "connect cancelled", Clean: true})
		return nil
	case StateReconnecting:
		c.stopReconnectLocked()
		c.transition(StateDisconnected)
		c.mu.Unlock()
		c.logger.Info(fmt.Sprintf("Client %s: Reconnection cancelled by disconnect", c.id))
		c.emit(EventDisconnect, DisconnectEvent{Code: int(websocket.StatusNormalClosure), Reason: "reconnect cancelled", Clean: true})
		return nil
	}

	conn, done := c.conn, c.connDone
	c.stopKeepaliveLocked()
	c.transition(StateDisconnecting)
	c.mu.Unlock()

	c.logger.Info(fmt.Sprintf("Client %s: Disconnecting", c.id))
	go conn.Close(websocket.StatusNormalClosure, "client disconnect")

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetOptions applies opts to the live configuration. When the URL, origin or token changes
// while connected, the client disconnects and connects again.
func (c *Client) SetOptions(ctx context.Context, opts ...Option) error {
	c.optsMu.Lock()
	prev := c.opts
	next := prev
	for _, opt := range opts {
		opt(&next)
	}
	next.normalize()
	// The logger and metrics are bound at construction.
	next.Logger, next.Registerer, next.Name = prev.Logger, prev.Registerer, prev.Name
	c.opts = next
	c.optsMu.Unlock()

	endpointChanged := prev.URL != next.URL || prev.Token != next.Token || prev.Origin != next.Origin
	if !endpointChanged || c.State() != StateConnected {
		return nil
	}

	c.logger.Info(fmt.Sprintf("Client %s: Endpoint changed, reconnecting to %s", c.id, next.URL))
	if err := c.Disconnect(ctx); err != nil {
		return err
	}
	return c.Connect(ctx)
}

// Call sends a request and waits for its result. An *jsonrpc.Error is returned as-is for
// application errors; a *TimeoutError when no response arrives in time.
func (c *Client) Call(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	if err := c.ensureConnected(ctx); err != nil {
		c.metrics.calls.WithLabelValues(method, callOutcome(err)).Inc()
		return nil, err
	}
	return c.invoke(ctx, method, params, opts...)
}

// Notify sends a notification. It returns once the frame has been written.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	req, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := jsonrpc.Encode(req)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// Close disconnects permanently. Every later operation fails with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.Options().WriteTimeout)
	defer cancel()
	err := c.Disconnect(ctx)

	c.pending.rejectAll(ErrClosed)
	c.state.close()
	c.logger.Info(fmt.Sprintf("Client %s: Closed", c.id))
	return err
}

func (c *Client) invoke(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	cfg := callConfig{timeout: c.Options().Timeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := strconv.FormatUint(c.seq.Add(1), 10)
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := jsonrpc.Encode(req)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "jsonrpc "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
			attribute.String("rpc.jsonrpc.request_id", id),
		),
	)
	defer span.End()

	start := time.Now()
	pc, err := c.pending.add(id, method, cfg.timeout)
	if err != nil {
		return nil, err
	}
	c.metrics.pending.Set(float64(c.pending.len()))

	if err := c.write(ctx, data); err != nil {
		c.pending.settle(id, result{err: err})
	}

	var r result
	select {
	case r = <-pc.done:
	case <-ctx.Done():
		c.pending.settle(id, result{err: ctx.Err()})
		r = <-pc.done
	}
	c.metrics.pending.Set(float64(c.pending.len()))
	c.metrics.observeCall(method, callOutcome(r.err), time.Since(start).Seconds())

	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
		var rpcErr *jsonrpc.Error
		if errors.As(r.err, &rpcErr) {
			span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", int(rpcErr.Code)))
		}
		return nil, r.err
	}
	span.SetStatus(codes.Ok, "")
	return r.value, nil
}

// ensureConnected makes the socket usable for a send, opening it when auto-reconnect allows.
// The wait for a connection in progress is bounded by Options.Timeout.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	switch c.state.get() {
	case StateConnected:
		return nil
	case StateDisconnecting:
		return ErrNotConnected
	}
	opts := c.Options()
	if !opts.AutoReconnect {
		return ErrNotConnected
	}

	watch, cancel := c.state.watch()
	defer cancel()

	if c.state.get() == StateDisconnected {
		if err := c.Connect(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}

	wait := time.NewTimer(opts.Timeout)
	defer wait.Stop()
	for {
		switch s := c.state.get(); s {
		case StateConnected:
			return nil
		case StateDisconnected, StateDisconnecting:
			return ErrNotConnected
		}
		select {
		case _, ok := <-watch:
			if !ok {
				return ErrClosed
			}
		case <-wait.C:
			return fmt.Errorf("%w: still %s after %s", ErrNotConnected, c.state.get(), opts.Timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state.get() == StateConnected
	c.mu.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	opts := c.Options()
	if opts.Debug {
		c.logger.Info(fmt.Sprintf("Client %s: -> %s", c.id, data))
	}
	wctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context, endpoint string, opts Options) (*websocket.Conn, error) {
	conn, resp, err := websocket.Dial(ctx, endpoint, opts.DialOptions)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status: %s)", err, resp.Status)
		}
		return nil, err
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return conn, nil
}

// attach installs a freshly opened socket. c.mu must be held.
func (c *Client) attach(conn *websocket.Conn, opts Options) {
	done := make(chan struct{})
	c.conn = conn
	c.connDone = done
	c.attempt = 0
	c.transition(StateConnected)

	go c.readLoop(conn, done)
	if opts.PingInterval > 0 {
		kctx, kcancel := context.WithCancel(context.Background())
		c.keepaliveCancel = kcancel
		go c.keepalive(kctx, opts.PingInterval)
	}
}

// transition records a state change. Leaving the connected state rejects every pending call.
// c.mu must be held.
func (c *Client) transition(to State) {
	from := c.state.set(to)
	if from == to {
		return
	}
	c.metrics.state.Set(float64(to))
	c.logger.Debug(fmt.Sprintf("Client %s: %s -> %s", c.id, from, to))
	if from == StateConnected {
		if n := c.pending.rejectAll(ErrConnectionClosed); n > 0 {
			c.logger.Info(fmt.Sprintf("Client %s: Rejected %d pending calls on %s", c.id, n, to))
			c.metrics.pending.Set(0)
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	if c.Options().Debug {
		c.logger.Info(fmt.Sprintf("Client %s: <- %s", c.id, data))
	}

	f, err := jsonrpc.Decode(data)
	if err != nil {
		c.metrics.protocolErrors.Inc()
		c.logger.Warn(fmt.Sprintf("Client %s: Dropping malformed frame: %v", c.id, err))
		return
	}

	switch f.Kind() {
	case jsonrpc.KindResponse:
		id, ok := f.IDString()
		if !ok {
			if f.Error != nil {
				c.emit(EventError, newErrorEvent(f.Error))
			}
			return
		}
		r := result{value: f.Result}
		if f.Error != nil {
			r = result{err: f.Error}
		}
		if !c.pending.settle(id, r) {
			c.logger.Debug(fmt.Sprintf("Client %s: Discarding response for unknown id %s", c.id, id))
		}
	case jsonrpc.KindNotification, jsonrpc.KindRequest:
		c.metrics.notifications.WithLabelValues(f.Method).Inc()
		c.emit(f.Method, f.Params)
	}
}

func (c *Client) handleClose(conn *websocket.Conn, readErr error) {
	code := websocket.CloseStatus(readErr)
	var reason string
	var ce websocket.CloseError
	if errors.As(readErr, &ce) {
		reason = ce.Reason
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopKeepaliveLocked()

	prev := c.state.get()
	clean := code == websocket.StatusNormalClosure || prev == StateDisconnecting || c.closed
	reconnect := !clean && prev == StateConnected && c.Options().AutoReconnect

	var rctx context.Context
	if reconnect {
		var rcancel context.CancelFunc
		rctx, rcancel = context.WithCancel(context.Background())
		c.reconnectCancel = rcancel
		c.attempt = 0
		c.transition(StateReconnecting)
	} else {
		c.transition(StateDisconnected)
	}
	c.mu.Unlock()

	c.logger.Info(fmt.Sprintf("Client %s: Connection closed (code %d, clean %t)", c.id, int(code), clean))
	// Queue the disconnect before the loop can queue its first attempt.
	c.emit(EventDisconnect, DisconnectEvent{Code: int(code), Reason: reason, Clean: clean})
	if !clean && code == noCloseFrame {
		c.emit(EventError, newErrorEvent(readErr))
	}
	if reconnect {
		go c.reconnectLoop(rctx)
	}
}

// emit queues an event for the client's dispatch goroutine. Handlers therefore never run on
// the socket reader or the reconnect loop, and may call back into the client.
func (c *Client) emit(name string, data any) {
	c.queue.Post(name, data)
}

func (c *Client) stopKeepaliveLocked() {
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func isRPCError(err error) bool {
	var rpcErr *jsonrpc.Error
	return errors.As(err, &rpcErr)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
