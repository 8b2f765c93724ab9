package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unklstewy/skyplot/internal/buffer"
	"github.com/unklstewy/skyplot/internal/observability"
	"github.com/unklstewy/skyplot/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Message types sent on the stream.
const (
	MessageSnapshot = "snapshot"
	MessageReplaced = "replaced"
)

// Stream pushes the whole column table to websocket clients: the current
// snapshot on connect, then one "replaced" message per buffer replacement.
// A client that falls behind skips straight to the newest snapshot.
type Stream struct {
	buffer   *buffer.Buffer
	metrics  *observability.CycleCollector
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool
}

// NewStream creates a stream over buf. metrics may be nil.
func NewStream(buf *buffer.Buffer, metrics *observability.CycleCollector, log *logger.Logger) *Stream {
	return &Stream{
		buffer:  buf,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin checks are left to the CORS configuration.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  log.Named("stream"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and streams until the client goes away.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}

	if !s.add(conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	defer s.remove(conn)

	updates, unsubscribe := s.buffer.Subscribe()
	defer unsubscribe()

	// The read pump only exists to process pongs and notice disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.send(conn, MessageSnapshot, s.buffer.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := s.send(conn, MessageReplaced, snap); err != nil {
				s.logger.Debug("Dropping stream client", logger.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Stream) send(conn *websocket.Conn, kind string, snap *buffer.Snapshot) error {
	msg := NewTableResponse(snap)
	msg.Type = kind
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (s *Stream) add(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[conn] = struct{}{}
	s.setGauge()
	s.logger.Debug("Stream client connected", logger.Int("clients", len(s.clients)))
	return true
}

func (s *Stream) remove(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[conn]; !ok {
		return
	}
	delete(s.clients, conn)
	conn.Close()
	s.setGauge()
}

// setGauge must be called with mu held.
func (s *Stream) setGauge() {
	if s.metrics != nil {
		s.metrics.StreamClients.Set(float64(len(s.clients)))
	}
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones. http.Server.Shutdown
// does not close hijacked connections, so the server calls this first.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(s.clients, conn)
	}
	s.setGauge()
}
