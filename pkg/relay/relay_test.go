package relay

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/listenify-platform/listenify-app/pkg/client"
	"github.com/listenify-platform/listenify-app/pkg/events"
	"github.com/listenify-platform/listenify-app/pkg/jsonrpc"
	"github.com/listenify-platform/listenify-app/pkg/testutil"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	dispatcher *events.Dispatcher
	call       func(method string, params any) (json.RawMessage, error)
}

func (f *fakeSource) Call(_ context.Context, method string, params any, _ ...client.CallOption) (json.RawMessage, error) {
	return f.call(method, params)
}

func (f *fakeSource) On(event string, h events.Handler) *events.Subscription {
	return f.dispatcher.On(event, h)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "room:chat_message", SubjectToken("room:chat_message"))
	assert.Equal(t, "user_profile_updated", SubjectToken("user.profile.updated"))
	assert.Equal(t, "_", SubjectToken("*"))
	assert.Equal(t, "_", SubjectToken(""))
	assert.Equal(t, "a_b_c", SubjectToken("a>b c"))
}

func TestHandleCallEncodesOutcomes(t *testing.T) {
	src := &fakeSource{
		dispatcher: events.NewDispatcher(),
		call: func(method string, params any) (json.RawMessage, error) {
			switch method {
			case "room.list":
				raw, _ := params.(json.RawMessage)
				return json.RawMessage(`{"echo":` + string(raw) + `}`), nil
			case "room.join":
				return nil, jsonrpc.NewError(jsonrpc.CodeRoomFull, "room is full", nil)
			case "ping":
				return nil, nil
			default:
				return nil, errors.New("client: not connected")
			}
		},
	}
	r := &Relay{src: src}

	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(r.handleCall(context.Background(), "room.list", []byte(`[1]`)), &resp))
	assert.JSONEq(t, `{"echo":[1]}`, string(resp.Result))
	assert.Nil(t, resp.Error)

	resp = jsonrpc.Response{}
	require.NoError(t, json.Unmarshal(r.handleCall(context.Background(), "room.join", nil), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeRoomFull, resp.Error.Code)

	resp = jsonrpc.Response{}
	require.NoError(t, json.Unmarshal(r.handleCall(context.Background(), "other", nil), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeInternalError, resp.Error.Code)

	resp = jsonrpc.Response{}
	require.NoError(t, json.Unmarshal(r.handleCall(context.Background(), "room.list", []byte(`{bad`)), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.CodeParseError, resp.Error.Code)

	body := r.handleCall(context.Background(), "ping", nil)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":null,"id":null}`, string(body))
}

func TestCallsAreServedConcurrently(t *testing.T) {
	release := make(chan struct{})
	var inFlight, served atomic.Int32
	src := &fakeSource{
		dispatcher: events.NewDispatcher(),
		call: func(method string, params any) (json.RawMessage, error) {
			served.Add(1)
			inFlight.Add(1)
			defer inFlight.Add(-1)
			<-release
			return json.RawMessage(`true`), nil
		},
	}
	r := newRelay(src, nil, Options{Prefix: DefaultPrefix, CallTimeout: time.Second, Logger: testutil.DefaultLogger})
	defer r.cancel()

	// No reply subject, so nothing is sent back.
	for i := 0; i < 3; i++ {
		r.dispatchCall(&nats.Msg{Subject: r.CallSubject("room.getState")})
	}
	require.Eventually(t, func() bool { return inFlight.Load() == 3 }, 2*time.Second, 5*time.Millisecond,
		"a slow call must not hold back the next one")

	close(release)
	r.calls.Wait()
	assert.Zero(t, inFlight.Load())

	r.callsMu.Lock()
	r.closing = true
	r.callsMu.Unlock()
	r.dispatchCall(&nats.Msg{Subject: r.CallSubject("room.getState")})
	r.calls.Wait()
	assert.Equal(t, int32(3), served.Load(), "requests after Close are dropped")
}

func natsURL() string {
	if u := os.Getenv("NATS_URL"); u != "" {
		return u
	}
	return nats.DefaultURL
}

func isNATSServerRunning() bool {
	nc, err := nats.Connect(natsURL(), nats.Timeout(500*time.Millisecond))
	if err != nil {
		return false
	}
	nc.Close()
	return true
}

func TestRelayOverNATS(t *testing.T) {
	if !isNATSServerRunning() {
		t.Skip("Skipping test because no NATS server is running")
	}

	ms := testutil.NewMockServer(t)
	ms.Handle("user.getProfile", func(req *jsonrpc.Request) *jsonrpc.Response {
		return testutil.Result(req, map[string]string{"username": "ada"})
	})
	c := client.New(
		client.WithURL(ms.WsURL),
		client.WithLogger(testutil.DefaultLogger),
		client.WithPingInterval(0),
	)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	prefix := "test.relay." + c.ID()[:8]
	r, err := New(c, Options{URL: natsURL(), Prefix: prefix, Logger: testutil.DefaultLogger})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Start())

	observer, err := nats.Connect(natsURL())
	require.NoError(t, err)
	defer observer.Close()

	msgs := make(chan *nats.Msg, 4)
	sub, err := observer.ChanSubscribe(r.EventSubject("room:chat_message"), msgs)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, observer.Flush())

	require.NoError(t, ms.Push("room:chat_message", map[string]string{"text": "hi"}))
	select {
	case m := <-msgs:
		assert.JSONEq(t, `{"type":"room:chat_message","data":{"text":"hi"}}`, string(m.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("event was not relayed")
	}

	reply, err := observer.Request(r.CallSubject("user.getProfile"), []byte(`{"id":"u1"}`), 2*time.Second)
	require.NoError(t, err)
	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(reply.Data, &resp))
	assert.JSONEq(t, `{"username":"ada"}`, string(resp.Result))

	last := ms.RequestsFor("user.getProfile")
	require.NotEmpty(t, last)
	assert.JSONEq(t, `{"id":"u1"}`, string(last[len(last)-1].Params))
}
