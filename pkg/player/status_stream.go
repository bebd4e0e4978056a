package player

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aminofox/hlsplayer/pkg/logger"
)

// StatusEvent is one status/ABR-downshift notification broadcast over a
// StatusStream (SPEC_FULL.md §F.3/§F.4).
type StatusEvent struct {
	Type      string    `json:"type"`
	Status    string    `json:"status,omitempty"`
	Height    int       `json:"height,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	statusEventTypeStatus    = "status"
	statusEventTypeDownshift = "abr_downshift"
)

type statusStreamClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// StatusStream is an optional push channel a host application can attach
// to in order to observe a Player's status and ABR-downshift events
// out-of-process, adapted from the teacher's SignalingServer/WSClient
// hub-and-broadcast shape (pkg/api/websocket.go) with the inbound message
// handling stripped: this hub is broadcast-only.
type StatusStream struct {
	upgrader websocket.Upgrader
	log      logger.Logger

	mu      sync.RWMutex
	clients map[string]*statusStreamClient
}

// NewStatusStream creates an empty StatusStream.
func NewStatusStream(log logger.Logger) *StatusStream {
	if log == nil {
		log = logger.NewDefaultLogger(logger.ErrorLevel, "text")
	}
	return &StatusStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[string]*statusStreamClient),
	}
}

// HandleWebSocket upgrades r and registers the resulting connection as a
// broadcast target. Mount this at whatever path the host application
// chooses to expose the engine's status feed on.
func (s *StatusStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("status stream upgrade failed", logger.Err(err))
		return
	}

	id := uuid.NewString()
	client := &statusStreamClient{id: id, conn: conn, send: make(chan []byte, 32)}

	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()

	go s.writePump(client)
	go s.readPump(client)
}

func (s *StatusStream) readPump(c *statusStreamClient) {
	defer s.unregister(c)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *StatusStream) writePump(c *statusStreamClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *StatusStream) unregister(c *statusStreamClient) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()
}

// Broadcast fans event out to every connected client, dropping it for any
// client whose send buffer is full rather than blocking the caller.
func (s *StatusStream) Broadcast(event StatusEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Warn("failed to encode status event", logger.Err(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.log.Warn("status stream client send buffer full, dropping event", logger.String("client_id", c.id))
		}
	}
}
