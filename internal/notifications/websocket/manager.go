package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"garage-portal/portal-backend/internal/notifications"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 32
)

// Manager handles WebSocket connections and message routing. Connections
// are grouped by key; one key usually has several browser tabs.
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	Key          string
	Conn         *websocket.Conn
	Send         chan notifications.WebSocketMessage
	ConnectedAt  time.Time
	LastActivity time.Time
	UserAgent    string
	IPAddress    string
	mu           sync.Mutex
	closeOnce    sync.Once
}

// NewManager creates a new WebSocket manager. allowedOrigins may contain "*".
func NewManager(allowedOrigins []string, logger *zap.Logger) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// HandleConnection upgrades the request and registers the connection under key.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, key string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:           uuid.New().String(),
		Key:          key,
		Conn:         conn,
		Send:         make(chan notifications.WebSocketMessage, sendBuffer),
		ConnectedAt:  now,
		LastActivity: now,
		UserAgent:    r.Header.Get("User-Agent"),
		IPAddress:    r.RemoteAddr,
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	m.logger.Debug("Connection registered",
		zap.String("connection_id", connection.ID),
		zap.String("key", key))

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	if _, ok := m.connections[conn.ID]; ok {
		delete(m.connections, conn.ID)
		conn.closeOnce.Do(func() { close(conn.Send) })
	}
	m.mu.Unlock()
	m.logger.Debug("Connection unregistered", zap.String("connection_id", conn.ID))
}

// readPump consumes client messages until the socket fails.
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		m.unregister(conn)
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(maxMessageSize)
	_ = conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg notifications.WebSocketMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("WebSocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump drains Send and keeps the connection alive with pings.
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers presence pings; the state itself only flows server to client.
func (m *Manager) handleMessage(conn *Connection, msg *notifications.WebSocketMessage) {
	switch msg.Type {
	case notifications.WSMessageTypePresence:
		m.mu.RLock()
		defer m.mu.RUnlock()
		if _, ok := m.connections[conn.ID]; !ok {
			return
		}
		m.enqueue(conn, notifications.WebSocketMessage{
			Type:      notifications.WSMessageTypeStatus,
			Data:      map[string]interface{}{"status": "connected", "connection_id": conn.ID},
			Timestamp: time.Now(),
			Target:    conn.Key,
		})
	default:
		m.logger.Debug("Ignoring client message", zap.String("type", msg.Type))
	}
}

// enqueue must be called with m.mu held.
func (m *Manager) enqueue(conn *Connection, msg notifications.WebSocketMessage) bool {
	select {
	case conn.Send <- msg:
		return true
	default:
		return false
	}
}

// SendToUser sends message to every connection registered under key and
// returns how many received it. Full buffers are skipped.
func (m *Manager) SendToUser(key string, message notifications.WebSocketMessage) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	message.Target = key
	sent := 0
	for _, conn := range m.connections {
		if conn.Key != key {
			continue
		}
		if m.enqueue(conn, message) {
			sent++
		} else {
			m.logger.Warn("Connection buffer full, dropping message", zap.String("connection_id", conn.ID))
		}
	}
	return sent
}

// Rekey moves connections from one key to another, used when an anonymous
// session becomes an account.
func (m *Manager) Rekey(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.connections {
		if conn.Key == from {
			conn.Key = to
		}
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// GetUserConnections returns the connections registered under key.
func (m *Manager) GetUserConnections(key string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var connections []*Connection
	for _, conn := range m.connections {
		if conn.Key == key {
			connections = append(connections, conn)
		}
	}
	return connections
}

// Close closes the WebSocket manager and all connections
func (m *Manager) Close() {
	m.mu.Lock()
	for id, conn := range m.connections {
		conn.closeOnce.Do(func() { close(conn.Send) })
		delete(m.connections, id)
	}
	m.mu.Unlock()
}
