// Package testutil provides test helpers for the realtime client: a mock JSON-RPC WebSocket
// server and polling waits.
package testutil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/listenify-platform/listenify-app/pkg/jsonrpc"
)

// DefaultLogger is used by tests that want to see client logs.
var DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// Responder builds the reply to a call. Returning nil sends nothing.
type Responder func(req *jsonrpc.Request) *jsonrpc.Response

// MockServer is a JSON-RPC WebSocket endpoint for client tests. By default every call is
// answered with {"ok":true}.
type MockServer struct {
	T      *testing.T
	Server *httptest.Server
	WsURL  string

	mu         sync.Mutex
	conn       *websocket.Conn
	requests   []jsonrpc.Request
	queries    []url.Values
	responders map[string]Responder
	fallback   Responder
	connects   int

	refuse atomic.Bool
}

// NewMockServer starts a mock server that is shut down with the test.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	ms := &MockServer{
		T:          t,
		responders: make(map[string]Responder),
		fallback: func(req *jsonrpc.Request) *jsonrpc.Response {
			return Result(req, map[string]bool{"ok": true})
		},
	}

	ms.Server = httptest.NewServer(http.HandlerFunc(ms.serve))
	ms.WsURL = "ws" + strings.TrimPrefix(ms.Server.URL, "http")

	t.Cleanup(ms.Close)
	return ms
}

func (ms *MockServer) serve(w http.ResponseWriter, r *http.Request) {
	if ms.refuse.Load() {
		http.Error(w, "refusing connections", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		ms.T.Logf("MockServer: Accept error: %v", err)
		return
	}

	ms.mu.Lock()
	ms.conn = conn
	ms.connects++
	ms.queries = append(ms.queries, r.URL.Query())
	ms.mu.Unlock()

	defer func() {
		ms.mu.Lock()
		if ms.conn == conn {
			ms.conn = nil
		}
		ms.mu.Unlock()
		conn.CloseNow()
	}()

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var req jsonrpc.Request
		if err := json.Unmarshal(data, &req); err != nil {
			ms.T.Logf("MockServer: bad frame %s: %v", data, err)
			continue
		}

		ms.mu.Lock()
		ms.requests = append(ms.requests, req)
		responder, ok := ms.responders[req.Method]
		if !ok {
			responder = ms.fallback
		}
		ms.mu.Unlock()

		if req.IsNotification() || responder == nil {
			continue
		}
		if resp := responder(&req); resp != nil {
			if err := ms.write(conn, resp); err != nil {
				return
			}
		}
	}
}

// Handle sets the responder for one method.
func (ms *MockServer) Handle(method string, r Responder) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responders[method] = r
}

// Silence makes method never answer.
func (ms *MockServer) Silence(method string) {
	ms.Handle(method, func(*jsonrpc.Request) *jsonrpc.Response { return nil })
}

// Push sends a server notification to the connected client.
func (ms *MockServer) Push(method string, params any) error {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return ms.SendJSON(n)
}

// SendJSON writes v as one frame to the connected client.
func (ms *MockServer) SendJSON(v any) error {
	conn := ms.current()
	if conn == nil {
		return errNoConnection
	}
	return ms.write(conn, v)
}

// SendRaw writes data unmodified.
func (ms *MockServer) SendRaw(data []byte) error {
	conn := ms.current()
	if conn == nil {
		return errNoConnection
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// CloseConn closes the current connection with a close frame carrying code.
func (ms *MockServer) CloseConn(code websocket.StatusCode, reason string) {
	if conn := ms.current(); conn != nil {
		conn.Close(code, reason)
	}
}

// DropConn tears the current connection down without a close frame.
func (ms *MockServer) DropConn() {
	if conn := ms.current(); conn != nil {
		conn.CloseNow()
	}
}

// Refuse makes the server reject (or accept again) new upgrades.
func (ms *MockServer) Refuse(refuse bool) {
	ms.refuse.Store(refuse)
}

// Requests returns every frame received so far.
func (ms *MockServer) Requests() []jsonrpc.Request {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]jsonrpc.Request, len(ms.requests))
	copy(out, ms.requests)
	return out
}

// RequestsFor returns the frames received for method.
func (ms *MockServer) RequestsFor(method string) []jsonrpc.Request {
	var out []jsonrpc.Request
	for _, r := range ms.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// Connects returns how many connections were accepted.
func (ms *MockServer) Connects() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.connects
}

// LastQuery returns the query string of the most recent connection.
func (ms *MockServer) LastQuery() url.Values {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.queries) == 0 {
		return nil
	}
	return ms.queries[len(ms.queries)-1]
}

// Connected reports whether a client connection is open.
func (ms *MockServer) Connected() bool {
	return ms.current() != nil
}

// Close drops the connection and stops the server.
func (ms *MockServer) Close() {
	ms.DropConn()
	ms.Server.Close()
}

func (ms *MockServer) current() *websocket.Conn {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.conn
}

func (ms *MockServer) write(conn *websocket.Conn, v any) error {
	data, err := jsonrpc.Encode(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Result builds a success response for req.
func Result(req *jsonrpc.Request, v any) *jsonrpc.Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return Error(req, jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil))
	}
	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: raw, ID: rawID(req.ID)}
}

// Error builds an error response for req.
func Error(req *jsonrpc.Request, e *jsonrpc.Error) *jsonrpc.Response {
	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, Error: e, ID: rawID(req.ID)}
}

func rawID(id string) json.RawMessage {
	raw, _ := json.Marshal(id)
	return raw
}
