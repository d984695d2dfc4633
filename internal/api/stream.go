package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wonny/maestro/pkg/logger"
)

// =============================================================================
// WebSocket State Stream
// =============================================================================

// Hub 실시간 상태 스트림 허브
// 매 주기 결과를 연결된 모든 클라이언트에 JSON으로 전파
//
// 느린 클라이언트의 전송 버퍼가 가득 차면 그 클라이언트를 끊는다
// (제어 경로가 구독자 때문에 밀리면 안 됨)
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a websocket broadcast hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 모니터링 전용 스트림: 오리진 제한 없음
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("api.stream"),
	}
}

// ServeWS upgrades the connection and registers the client
// GET /ws/state
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.WithField("clients", n).Debug("websocket client connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Broadcast 모든 클라이언트에 JSON 전파 (non-blocking)
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal broadcast payload")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// 전송 버퍼 풀: 느린 클라이언트 제거
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients 현재 연결 수
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 모든 연결 종료
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
}

// readLoop 수신 메시지는 버리고 연결 종료만 감지
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}
