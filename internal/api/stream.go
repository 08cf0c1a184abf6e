package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lowlandworks/pixelvale/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var errStreamBacklog = errors.New("stream subscriber backlog full")

const defaultHeartbeatEvery = 30 * time.Second

// heartbeatEvent is the keepalive frame sent to idle stream consumers.
// The transport owns heartbeats; they never pass through the bus.
func heartbeatEvent(now time.Time) events.Event {
	return events.Event{
		Type:      events.TypeHeartbeat,
		Payload:   map[string]any{"server_time": now.Unix()},
		Timestamp: now,
	}
}

// handleStream upgrades the connection and forwards bus events as JSON
// frames. Each connection gets a bounded send queue; a consumer that
// cannot keep up is unsubscribed rather than stalling the bus. Idle
// connections receive periodic heartbeat frames so clients and proxies
// can tell a quiet world from a dead socket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	send := make(chan events.Event, s.QueueSize)
	unsubscribe := s.Game.Bus.Subscribe(func(ev events.Event) error {
		select {
		case send <- ev:
			return nil
		default:
			return errStreamBacklog
		}
	})

	slog.Info("stream connected", "remote", conn.RemoteAddr())

	// Reader drains control frames and detects disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		unsubscribe()
		_ = conn.Close()
		slog.Info("stream disconnected", "remote", conn.RemoteAddr())
	}()

	every := s.HeartbeatEvery
	if every <= 0 {
		every = defaultHeartbeatEvery
	}
	heartbeat := time.NewTicker(every)
	defer heartbeat.Stop()

	for {
		select {
		case ev := <-send:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case now := <-heartbeat.C:
			if err := conn.WriteJSON(heartbeatEvent(now)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
