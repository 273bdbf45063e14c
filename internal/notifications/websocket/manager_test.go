package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"garage-portal/portal-backend/internal/notifications"
)

func dial(t *testing.T, m *Manager, key string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := m.HandleConnection(w, r, key)
		assert.NoError(t, err)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestManagerSendToUser(t *testing.T) {
	m := NewManager([]string{"*"}, zap.NewNop())
	defer m.Close()

	tab1 := dial(t, m, "user:1")
	tab2 := dial(t, m, "user:1")
	other := dial(t, m, "user:2")
	_ = other

	require.Eventually(t, func() bool { return m.GetConnectionCount() == 3 }, time.Second, 10*time.Millisecond)

	sent := m.SendToUser("user:1", notifications.WebSocketMessage{
		Type: notifications.WSMessageTypeState,
		Data: map[string]interface{}{"current_step": "pricing"},
	})
	assert.Equal(t, 2, sent)

	for _, c := range []*websocket.Conn{tab1, tab2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
		var msg notifications.WebSocketMessage
		require.NoError(t, c.ReadJSON(&msg))
		assert.Equal(t, notifications.WSMessageTypeState, msg.Type)
		assert.Equal(t, "pricing", msg.Data["current_step"])
		assert.Equal(t, "user:1", msg.Target)
	}
}

func TestManagerPresenceAndRekey(t *testing.T) {
	m := NewManager([]string{"*"}, zap.NewNop())
	defer m.Close()

	c := dial(t, m, "installation:default")
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.WriteJSON(notifications.WebSocketMessage{Type: notifications.WSMessageTypePresence}))
	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second)))
	var msg notifications.WebSocketMessage
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, notifications.WSMessageTypeStatus, msg.Type)
	assert.Equal(t, "connected", msg.Data["status"])

	m.Rekey("installation:default", "user:9")
	assert.Len(t, m.GetUserConnections("user:9"), 1)
	assert.Empty(t, m.GetUserConnections("installation:default"))
}

func TestManagerUnregistersClosedConnections(t *testing.T) {
	m := NewManager([]string{"*"}, zap.NewNop())
	defer m.Close()

	c := dial(t, m, "user:1")
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	c.Close()
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, m.SendToUser("user:1", notifications.WebSocketMessage{Type: notifications.WSMessageTypeState}))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.garage.fr"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://app.garage.fr")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}
