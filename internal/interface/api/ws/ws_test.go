package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ttsBotPremium/internal/domain"
)

func wsURL(ts *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(ts.URL, "http://")
}

type envelopeLog struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (l *envelopeLog) add(env domain.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.envs = append(l.envs, env)
}

func (l *envelopeLog) all() []domain.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Envelope(nil), l.envs...)
}

func startServer(t *testing.T, handler ServerHandler) (*Server, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(ServerConfig{Handler: handler})
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return srv, ts
}

func connectClient(t *testing.T, url string, clusterID int, handler EnvelopeHandler) *Client {
	t.Helper()
	c := NewClient(ClientConfig{URL: url, ClusterID: clusterID, Handler: handler})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientServer_SendStampsOrigin(t *testing.T) {
	received := &envelopeLog{}
	srv, ts := startServer(t, func(_ context.Context, _ int, env domain.Envelope) {
		received.add(env)
	})

	c := connectClient(t, wsURL(ts), 3, nil)
	assert.Equal(t, StateConnected, c.State())
	require.Eventually(t, func() bool { return srv.IsConnected(3) }, time.Second, 5*time.Millisecond)

	env, err := domain.NewEnvelope(domain.OpInvalidateCache, domain.TargetAll,
		domain.InvalidateCachePayload{Table: "guilds", Identifier: domain.ID(9)})
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), env))

	require.Eventually(t, func() bool { return len(received.all()) == 1 }, time.Second, 5*time.Millisecond)
	got := received.all()[0]
	assert.Equal(t, domain.OpInvalidateCache, got.Opcode)
	require.NotNil(t, got.Origin)
	assert.Equal(t, 3, *got.Origin)

	var payload domain.InvalidateCachePayload
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, domain.ID(9), payload.Identifier)
}

func TestClientServer_ServerToClient(t *testing.T) {
	srv, ts := startServer(t, nil)

	received := &envelopeLog{}
	connectClient(t, wsURL(ts), 0, func(_ context.Context, env domain.Envelope) {
		received.add(env)
	})
	connectClient(t, wsURL(ts), 1, nil)
	require.Eventually(t, func() bool { return len(srv.Connected()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 1}, srv.Connected())

	env, err := domain.NewEnvelope(domain.OpChangeLogLevel, domain.TargetAll, domain.LogLevelPayload{Level: "debug"})
	require.NoError(t, err)
	srv.Broadcast(env, 1)

	require.Eventually(t, func() bool { return len(received.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.OpChangeLogLevel, received.all()[0].Opcode)

	assert.ErrorIs(t, srv.SendTo(42, env), ErrNotConnected)
}

func TestClient_RequestRoundTrip(t *testing.T) {
	var srv *Server
	srv, ts := startServer(t, func(_ context.Context, clusterID int, env domain.Envelope) {
		if env.Opcode != domain.OpRequest {
			return
		}
		var req domain.RequestPayload
		if err := env.Decode(&req); err != nil {
			return
		}
		resp, _ := domain.NewEnvelope(domain.OpResponse, req.Nonce, domain.AggregatedResponse{
			Responses: []map[string]any{{"guild_count": 10}, {"guild_count": 5}},
		})
		_ = srv.SendTo(clusterID, resp)
	})

	c := connectClient(t, wsURL(ts), 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	responses, err := c.Request(ctx, []string{domain.InfoGuildCount}, domain.TargetAll)
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.EqualValues(t, 10, responses[0]["guild_count"])
	assert.Equal(t, 0, c.pending.Size())
}

func TestClient_SendWhileDisconnectedIsSilent(t *testing.T) {
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1", ClusterID: 0})
	assert.Equal(t, StateDisconnected, c.State())

	env, err := domain.NewEnvelope(domain.OpSend, domain.TargetAll, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Send(context.Background(), env))

	_, err = c.Request(context.Background(), []string{"ping"}, domain.TargetAll)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestClient_DropsMalformedEnvelopes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"target":"*"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"opcode":"restart","target":"0"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	received := &envelopeLog{}
	connectClient(t, wsURL(ts), 0, func(_ context.Context, env domain.Envelope) {
		received.add(env)
	})

	require.Eventually(t, func() bool { return len(received.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.OpRestart, received.all()[0].Opcode)
}

func TestClient_ReconnectsOnceThenReportsLoss(t *testing.T) {
	var connections atomic.Int32
	var mu sync.Mutex
	var live *websocket.Conn
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := connections.Add(1)
		if n == 1 {
			// la primera conexión se corta enseguida
			_ = conn.Close()
			return
		}
		// las conexiones hijackeadas no las cierra httptest, las corta el test
		mu.Lock()
		live = conn
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	lost := make(chan error, 1)
	c := NewClient(ClientConfig{
		URL:       wsURL(ts),
		ClusterID: 5,
		OnLost:    func(err error) { lost <- err },
	})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections.Load() == 2 && live != nil && c.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	// sin listener el reintento falla
	ts.Close()
	mu.Lock()
	_ = live.Close()
	mu.Unlock()

	select {
	case err := <-lost:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("OnLost was not called")
	}
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, int32(2), connections.Load())
}
