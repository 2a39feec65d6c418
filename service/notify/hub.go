package notify

import (
	"net/http"
	"sync"

	"QRGate/logger"
	"QRGate/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the handshake endpoints are cross-origin by design
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber serializes writes to one connection; gorilla allows a single
// concurrent writer per conn.
type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub fans authentication events out to web clients subscribed to a session.
// Subscribers are pure listeners; a dropped connection only loses the push,
// the client falls back to polling.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// HandleWS upgrades a web client and subscribes it to its session's events.
func (h *Hub) HandleWS(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "sessionId is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	sub := h.subscribe(sessionID, conn)
	logger.Debug("ws subscriber attached", zap.String("session_id", sessionID))

	// the read loop exists only to notice the close
	safe.Go("ws-read", func() {
		defer func() {
			h.unsubscribe(sessionID, sub)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// Publish sends v as JSON to every subscriber of sessionID. The conn set is
// snapshotted under the lock and the network writes happen outside it, so one
// slow subscriber cannot stall other publishes or new subscriptions.
func (h *Hub) Publish(sessionID string, v any) {
	h.mu.RLock()
	snapshot := make([]*subscriber, 0, len(h.subs[sessionID]))
	for s := range h.subs[sessionID] {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, s := range snapshot {
		if err := s.writeJSON(v); err != nil {
			logger.Debug("ws subscriber dropped",
				zap.String("session_id", sessionID), zap.Error(err))
			h.unsubscribe(sessionID, s)
			_ = s.conn.Close()
		}
	}
}

// Subscribers reports how many connections listen on a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func (h *Hub) subscribe(sessionID string, conn *websocket.Conn) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	sub := &subscriber{conn: conn}
	h.subs[sessionID][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.subs[sessionID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sessionID)
		}
	}
}
