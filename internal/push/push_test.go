package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/pkg/core"
	"github.com/studyhub/locsync/pkg/streaming"
)

// testServer upgrades every request, records envelopes per connection and
// lets the test push frames or drop the socket.
type testServer struct {
	*httptest.Server

	mu    sync.Mutex
	auth  []string
	msgs  [][]streaming.Envelope
	conns []*ws.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		ts.mu.Lock()
		idx := len(ts.conns)
		ts.auth = append(ts.auth, r.Header.Get("Authorization"))
		ts.msgs = append(ts.msgs, nil)
		ts.conns = append(ts.conns, c)
		ts.mu.Unlock()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ts.mu.Lock()
			ts.msgs[idx] = append(ts.msgs[idx], env)
			ts.mu.Unlock()
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) authAt(idx int) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.auth[idx]
}

func (ts *testServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

func (ts *testServer) messages(idx int) []streaming.Envelope {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if idx >= len(ts.msgs) {
		return nil
	}
	return append([]streaming.Envelope(nil), ts.msgs[idx]...)
}

func (ts *testServer) write(idx int, data string) error {
	ts.mu.Lock()
	c := ts.conns[idx]
	ts.mu.Unlock()
	return c.WriteMessage(ws.TextMessage, []byte(data))
}

func (ts *testServer) drop(idx int) {
	ts.mu.Lock()
	c := ts.conns[idx]
	ts.mu.Unlock()
	_ = c.Close()
}

type envelopeSink struct {
	mu   sync.Mutex
	envs []streaming.Envelope
}

func (s *envelopeSink) handle(env streaming.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *envelopeSink) all() []streaming.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]streaming.Envelope(nil), s.envs...)
}

func testPayload(lat float64) streaming.LocationPayload {
	return streaming.NewLocationPayload(core.Position{
		Latitude:   lat,
		Longitude:  88.3639,
		Accuracy:   core.Float(15),
		CapturedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}, "sess-1", nil)
}

func TestConnect_AuthAndSendUpdate(t *testing.T) {
	srv := newTestServer(t)
	ch := New(Config{Enabled: true, URL: srv.wsURL(), Token: "tok"}, nil)

	require.NoError(t, ch.Connect(context.Background(), nil))
	defer ch.Close()
	assert.True(t, ch.Connected())

	require.NoError(t, ch.SendUpdate(context.Background(), testPayload(22.5726)))

	require.Eventually(t, func() bool { return len(srv.messages(0)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Bearer tok", srv.authAt(0))

	env := srv.messages(0)[0]
	assert.Equal(t, streaming.TypeLocationUpdate, env.Type)
	var p streaming.LocationPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, 22.5726, p.Latitude)
	assert.Equal(t, "sess-1", p.SessionID)
}

func TestConnect_Idempotent(t *testing.T) {
	srv := newTestServer(t)
	ch := New(Config{Enabled: true, URL: srv.wsURL(), Token: "tok"}, nil)

	require.NoError(t, ch.Connect(context.Background(), nil))
	require.NoError(t, ch.Connect(context.Background(), nil))
	defer ch.Close()

	require.Eventually(t, func() bool { return srv.connCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, srv.connCount())
}

func TestInboundEnvelopesDelivered(t *testing.T) {
	srv := newTestServer(t)
	sink := &envelopeSink{}
	ch := New(Config{Enabled: true, URL: srv.wsURL(), Token: "tok"}, nil)

	require.NoError(t, ch.Connect(context.Background(), sink.handle))
	defer ch.Close()
	require.Eventually(t, func() bool { return srv.connCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.write(0, `not json`))
	require.NoError(t, srv.write(0, `{"payload":{}}`))
	require.NoError(t, srv.write(0, `{"type":"location:stopped","payload":{"userId":"stu-9"}}`))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
	env := sink.all()[0]
	assert.Equal(t, streaming.TypeLocationStopped, env.Type)
	assert.JSONEq(t, `{"userId":"stu-9"}`, string(env.Payload))
}

func TestReconnectReplaysLastUpdate(t *testing.T) {
	srv := newTestServer(t)
	ch := New(Config{Enabled: true, URL: srv.wsURL(), Token: "tok"}, nil)
	ch.backoff = 10 * time.Millisecond

	require.NoError(t, ch.Connect(context.Background(), nil))
	defer ch.Close()

	require.NoError(t, ch.SendUpdate(context.Background(), testPayload(10)))
	require.NoError(t, ch.SendUpdate(context.Background(), testPayload(11)))
	require.Eventually(t, func() bool { return len(srv.messages(0)) == 2 }, time.Second, 5*time.Millisecond)

	srv.drop(0)

	require.Eventually(t, func() bool { return len(srv.messages(1)) >= 1 }, 2*time.Second, 10*time.Millisecond)
	replayed := srv.messages(1)[0]
	assert.Equal(t, streaming.TypeLocationUpdate, replayed.Type)
	var p streaming.LocationPayload
	require.NoError(t, json.Unmarshal(replayed.Payload, &p))
	assert.Equal(t, 11.0, p.Latitude)
	assert.Equal(t, "Bearer tok", srv.authAt(1))
}

func TestSendStopFlushedBeforeClose(t *testing.T) {
	srv := newTestServer(t)
	ch := New(Config{Enabled: true, URL: srv.wsURL(), Token: "tok"}, nil)

	require.NoError(t, ch.Connect(context.Background(), nil))
	require.NoError(t, ch.SendStop(context.Background()))
	require.NoError(t, ch.Close())

	require.Eventually(t, func() bool { return len(srv.messages(0)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, streaming.TypeLocationStop, srv.messages(0)[0].Type)
	assert.False(t, ch.Connected())
}

func TestReconnectAfterClose(t *testing.T) {
	srv := newTestServer(t)
	ch := New(Config{Enabled: true, URL: srv.wsURL(), Token: "tok"}, nil)

	require.NoError(t, ch.Connect(context.Background(), nil))
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	require.NoError(t, ch.Connect(context.Background(), nil))
	defer ch.Close()
	require.Eventually(t, func() bool { return srv.connCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSendBeforeConnect(t *testing.T) {
	ch := New(Config{Enabled: true, URL: "ws://127.0.0.1:1", Token: "tok"}, nil)

	assert.ErrorIs(t, ch.SendUpdate(context.Background(), testPayload(1)), ErrNotConnected)
	assert.ErrorIs(t, ch.SendStop(context.Background()), ErrNotConnected)
}

func TestConnect_DialFailure(t *testing.T) {
	ch := New(Config{Enabled: true, URL: "ws://127.0.0.1:1", Token: "tok"}, nil)

	err := ch.Connect(context.Background(), nil)
	require.Error(t, err)
	assert.False(t, ch.Connected())
}

func TestInactiveChannelIsNoop(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"disabled", Config{Enabled: false, URL: "ws://127.0.0.1:1", Token: "tok"}},
		{"no url", Config{Enabled: true, Token: "tok"}},
		{"demo token", Config{Enabled: true, URL: "ws://127.0.0.1:1", Token: api.DemoToken}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := New(tt.cfg, nil)
			assert.False(t, ch.Active())
			assert.NoError(t, ch.Connect(context.Background(), nil))
			assert.NoError(t, ch.SendUpdate(context.Background(), testPayload(1)))
			assert.NoError(t, ch.SendStop(context.Background()))
			assert.NoError(t, ch.Close())
			assert.False(t, ch.Connected())
		})
	}
}
