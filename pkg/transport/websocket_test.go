package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/kpisim/internal/testutil"
	"github.com/ethpandaops/kpisim/pkg/broadcast"
)

type recordingHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingHandler) HandleMessage(_ context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, string(data))

	return nil
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.msgs)
}

func newTestServer(t *testing.T, cfg Config) (*broadcast.Hub, *recordingHandler, string) {
	t.Helper()

	log := testutil.NewLogger()
	hub := broadcast.NewHub(log)
	commands := &recordingHandler{}

	status := func() any {
		return map[string]any{"sim_time": 0, "sim_status": "stopped", "sim_speed": 86400}
	}

	srv := httptest.NewServer(NewHandler(context.Background(), log, hub, commands, status, cfg))
	t.Cleanup(srv.Close)

	return hub, commands, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = ws.Close() })

	return ws
}

func read(t *testing.T, ws *websocket.Conn) string {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	return string(data)
}

func TestGreetingAndBroadcast(t *testing.T) {
	hub, _, url := newTestServer(t, Config{CommandRate: 10, CommandBurst: 10})
	ws := dial(t, url)

	assert.JSONEq(t, `{"sim_time":0,"sim_status":"stopped","sim_speed":86400}`, read(t, ws))

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	for _, msg := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		hub.Publish([]byte(msg))
	}

	assert.JSONEq(t, `{"n":1}`, read(t, ws))
	assert.JSONEq(t, `{"n":2}`, read(t, ws))
	assert.JSONEq(t, `{"n":3}`, read(t, ws))
}

func TestCommandsForwarded(t *testing.T) {
	_, commands, url := newTestServer(t, Config{CommandRate: 100, CommandBurst: 10})
	ws := dial(t, url)
	read(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"command":{"type":"start"}}`)))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0x01}))

	require.Eventually(t, func() bool { return commands.count() == 1 }, time.Second, 5*time.Millisecond)

	commands.mu.Lock()
	defer commands.mu.Unlock()

	assert.Equal(t, `{"command":{"type":"start"}}`, commands.msgs[0])
}

func TestCommandRateLimited(t *testing.T) {
	_, commands, url := newTestServer(t, Config{CommandRate: 0.001, CommandBurst: 2})
	ws := dial(t, url)
	read(t, ws)

	for range 5 {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"command":{"type":"pause"}}`)))
	}

	require.Eventually(t, func() bool { return commands.count() == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, commands.count())
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, _, url := newTestServer(t, Config{CommandRate: 10, CommandBurst: 10})
	ws := dial(t, url)
	read(t, ws)

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = ws.Close()

	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, hub.Publish([]byte(`{"n":1}`)))
}

func TestCloseDisconnectsClients(t *testing.T) {
	log := testutil.NewLogger()
	hub := broadcast.NewHub(log)
	h := NewHandler(context.Background(), log, hub, &recordingHandler{}, nil, Config{CommandRate: 1, CommandBurst: 1})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ws := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	h.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}
