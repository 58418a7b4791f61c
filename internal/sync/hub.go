package sync

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 2 * time.Second

// Hub fans JSON messages out to the websocket connections of one user.
type Hub struct {
	mu     sync.Mutex
	users  map[string]map[*websocket.Conn]struct{}
	logger *zap.Logger
}

type Stats struct {
	Users   int `json:"users"`
	Clients int `json:"clients"`
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[string]map[*websocket.Conn]struct{}),
		logger: logger.Named("ws"),
	}
}

func (h *Hub) AddWS(userID string, ws *websocket.Conn) {
	h.mu.Lock()
	conns, ok := h.users[userID]
	if !ok {
		conns = make(map[*websocket.Conn]struct{})
		h.users[userID] = conns
	}
	conns[ws] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) RemoveWS(userID string, ws *websocket.Conn) {
	h.mu.Lock()
	h.dropLocked(userID, ws)
	h.mu.Unlock()
	_ = ws.Close()
}

func (h *Hub) dropLocked(userID string, ws *websocket.Conn) {
	conns := h.users[userID]
	delete(conns, ws)
	if len(conns) == 0 {
		delete(h.users, userID)
	}
}

// SendToUser writes v to every connection userID has open and returns how
// many received it. Connections that fail the write are dropped.
func (h *Hub) SendToUser(userID string, v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode message", zap.Error(err))
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for ws := range h.users[userID] {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			h.logger.Debug("dropping client", zap.String("user_id", userID), zap.Error(err))
			_ = ws.Close()
			h.dropLocked(userID, ws)
			continue
		}
		sent++
	}
	return sent
}

// CloseAll disconnects every client with a normal close frame.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for userID, conns := range h.users {
		for ws := range conns {
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = ws.Close()
		}
		delete(h.users, userID)
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{Users: len(h.users)}
	for _, conns := range h.users {
		st.Clients += len(conns)
	}
	return st
}
