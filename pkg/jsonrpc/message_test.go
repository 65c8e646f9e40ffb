package jsonrpc_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/listenify-platform/listenify-app/pkg/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestWireShape(t *testing.T) {
	req, err := jsonrpc.NewRequest("7", "user.getProfile", map[string]string{"id": "u1"})
	require.NoError(t, err)

	data, err := jsonrpc.Encode(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"user.getProfile","params":{"id":"u1"},"id":"7"}`, string(data))
	assert.False(t, req.IsNotification())
}

func TestNewNotificationOmitsID(t *testing.T) {
	n, err := jsonrpc.NewNotification("room:leave", nil)
	require.NoError(t, err)
	assert.True(t, n.IsNotification())

	data, err := jsonrpc.Encode(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"room:leave"}`, string(data))
}

func TestNewNotificationRawParamsPassThrough(t *testing.T) {
	n, err := jsonrpc.NewNotification("chat:send", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"text":"hi"}`, string(n.Params))
}

func TestNewRequestValidation(t *testing.T) {
	_, err := jsonrpc.NewRequest("", "ping", nil)
	assert.Error(t, err)

	_, err = jsonrpc.NewNotification("", nil)
	assert.Error(t, err)

	_, err = jsonrpc.NewNotification("bad", func() {})
	assert.Error(t, err)
}

func TestDecodeKinds(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind jsonrpc.Kind
	}{
		{"result", `{"jsonrpc":"2.0","result":{"ok":true},"id":"3"}`, jsonrpc.KindResponse},
		{"null result", `{"jsonrpc":"2.0","result":null,"id":"3"}`, jsonrpc.KindResponse},
		{"error", `{"jsonrpc":"2.0","error":{"code":4001,"message":"room not found"},"id":"3"}`, jsonrpc.KindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"room:chat_message","params":{"text":"hi"}}`, jsonrpc.KindNotification},
		{"server request", `{"jsonrpc":"2.0","method":"client.ping","id":1}`, jsonrpc.KindRequest},
		{"missing version", `{"method":"room:updated"}`, jsonrpc.KindNotification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := jsonrpc.Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, f.Kind())
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"1.0","method":"x"}`,
		`[1,2,3]`,
	} {
		_, err := jsonrpc.Decode([]byte(in))
		assert.Error(t, err, in)
	}

	_, err := jsonrpc.Decode([]byte(`{"jsonrpc":"2.0","id":"1"}`))
	assert.ErrorIs(t, err, jsonrpc.ErrInvalidFrame)
}

func TestIDStringNormalisesNumbers(t *testing.T) {
	str, err := jsonrpc.Decode([]byte(`{"result":1,"id":"3"}`))
	require.NoError(t, err)
	num, err := jsonrpc.Decode([]byte(`{"result":1,"id":3}`))
	require.NoError(t, err)

	a, ok := str.IDString()
	require.True(t, ok)
	b, ok := num.IDString()
	require.True(t, ok)
	assert.Equal(t, "3", a)
	assert.Equal(t, a, b)

	null, err := jsonrpc.Decode([]byte(`{"error":{"code":-32700,"message":"parse error"},"id":null}`))
	require.NoError(t, err)
	_, ok = null.IDString()
	assert.False(t, ok)
}

func TestErrorCodeTable(t *testing.T) {
	assert.Equal(t, jsonrpc.CategoryProtocol, jsonrpc.CodeMethodNotFound.Category())
	assert.Equal(t, jsonrpc.CategoryServer, jsonrpc.ErrorCode(-32050).Category())
	assert.Equal(t, jsonrpc.CategoryAuthentication, jsonrpc.CodeTokenExpired.Category())
	assert.Equal(t, jsonrpc.CategoryRoom, jsonrpc.CodeQueueFull.Category())
	assert.Equal(t, jsonrpc.CategoryMedia, jsonrpc.CodeMediaUnavailable.Category())
	assert.Equal(t, jsonrpc.CategoryPlaylist, jsonrpc.CodePlaylistFull.Category())
	assert.Equal(t, jsonrpc.CategoryUser, jsonrpc.CodeUserBanned.Category())
	assert.Equal(t, jsonrpc.CategoryUnknown, jsonrpc.ErrorCode(12).Category())

	assert.Equal(t, "room_full", jsonrpc.CodeRoomFull.Name())
	assert.Equal(t, "code_12", jsonrpc.ErrorCode(12).Name())
	assert.Equal(t, "media", jsonrpc.CategoryMedia.String())
}

func TestErrorIsAndAs(t *testing.T) {
	f, err := jsonrpc.Decode([]byte(`{"jsonrpc":"2.0","error":{"code":4002,"message":"room is full","data":{"capacity":50}},"id":"1"}`))
	require.NoError(t, err)
	require.NotNil(t, f.Error)

	wrapped := fmt.Errorf("join: %w", f.Error)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(wrapped, &rpcErr))
	assert.Equal(t, jsonrpc.CodeRoomFull, rpcErr.Code)
	assert.True(t, errors.Is(wrapped, &jsonrpc.Error{Code: jsonrpc.CodeRoomFull}))
	assert.False(t, errors.Is(wrapped, &jsonrpc.Error{Code: jsonrpc.CodeRoomClosed}))
	assert.Contains(t, rpcErr.Error(), "room is full")

	var data struct {
		Capacity int `json:"capacity"`
	}
	require.NoError(t, rpcErr.DecodeData(&data))
	assert.Equal(t, 50, data.Capacity)
}

func TestNewErrorCarriesData(t *testing.T) {
	e := jsonrpc.NewError(jsonrpc.CodeInvalidParams, "bad params", map[string]string{"field": "id"})
	assert.JSONEq(t, `{"field":"id"}`, string(e.Data))
	assert.Nil(t, jsonrpc.NewError(jsonrpc.CodeInternalError, "boom", nil).Data)
}
