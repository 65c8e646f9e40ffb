// Package jsonrpc implements the JSON-RPC 2.0 frames exchanged over the realtime socket.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

// ErrInvalidFrame is returned by Decode for frames that are neither a response nor a notification.
var ErrInvalidFrame = errors.New("jsonrpc: invalid frame")

// Request is an outbound call or notification. A Request without an ID is a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// IsNotification reports whether no reply is expected for r.
func (r *Request) IsNotification() bool {
	return r.ID == ""
}

// Response is a reply to a Request. Exactly one of Result and Error is meaningful.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Kind classifies an inbound frame.
type Kind int

const (
	KindInvalid Kind = iota
	KindResponse
	KindNotification
	// KindRequest is a server-initiated frame carrying both a method and an id.
	KindRequest
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	case KindRequest:
		return "request"
	default:
		return "invalid"
	}
}

// Frame is the decoding superset of every message shape the server may send.
type Frame struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Kind detects what f carries.
func (f *Frame) Kind() Kind {
	switch {
	case f.Method != "" && hasID(f.ID):
		return KindRequest
	case f.Method != "":
		return KindNotification
	case f.Result != nil || f.Error != nil:
		return KindResponse
	default:
		return KindInvalid
	}
}

// IDString returns the correlation key of f. String and numeric ids map to the same key,
// so "3" and 3 correlate with the same call. ok is false when the id is absent or null.
func (f *Frame) IDString() (string, bool) {
	return idKey(f.ID)
}

// Response converts a response frame.
func (f *Frame) Response() *Response {
	return &Response{JSONRPC: f.JSONRPC, Result: f.Result, Error: f.Error, ID: f.ID}
}

// NewRequest builds a call frame. params may be nil.
func NewRequest(id, method string, params any) (*Request, error) {
	if id == "" {
		return nil, fmt.Errorf("jsonrpc: call %q needs an id", method)
	}
	req, err := NewNotification(method, params)
	if err != nil {
		return nil, err
	}
	req.ID = id
	return req, nil
}

// NewNotification builds a fire-and-forget frame. params may be nil.
func NewNotification(method string, params any) (*Request, error) {
	if method == "" {
		return nil, errors.New("jsonrpc: method is required")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: failed to marshal params for %q: %w", method, err)
	}
	return &Request{JSONRPC: Version, Method: method, Params: raw}, nil
}

// Encode serializes a frame for the wire.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode: %w", err)
	}
	return data, nil
}

// Decode parses an inbound frame and validates its shape.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("jsonrpc: parse: %w", err)
	}
	if f.JSONRPC != "" && f.JSONRPC != Version {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidFrame, f.JSONRPC)
	}
	if f.Kind() == KindInvalid {
		return nil, ErrInvalidFrame
	}
	return &f, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

var null = []byte("null")

func hasID(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), null)
}

func idKey(raw json.RawMessage) (string, bool) {
	if !hasID(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		return n.String(), true
	}
	return "", false
}
