package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teleologic/telos/pkg/bus"
	"github.com/teleologic/telos/pkg/logging"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 45 * time.Second
	streamSendBuffer = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server binds to loopback by default; origin checks add
		// nothing there.
		return true
	},
}

// handleSynthesisStream upgrades to WebSocket and forwards synthesis progress
// events. An optional ?goal= query narrows the stream to one goal.
func (s *Server) handleSynthesisStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "progress streaming disabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(logging.CategoryServer, "ws_upgrade_failed", "websocket upgrade failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	subject := "synthesis.>"
	if goal := r.URL.Query().Get("goal"); goal != "" {
		subject = bus.SynthesisSubject(goal)
	}

	// The request context dies after the upgrade; the stream gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, streamSendBuffer)

	sub, err := s.bus.Subscribe(ctx, subject, func(msg *bus.Message) {
		select {
		case send <- msg.Data:
		default:
			// Slow consumer; drop rather than stall the bus.
		}
	})
	if err != nil {
		cancel()
		conn.Close()
		return
	}

	go s.streamWritePump(ctx, conn, send)
	go s.streamReadPump(cancel, sub, conn)
}

// streamReadPump drains client frames so pongs are processed, and tears the
// stream down when the client goes away.
func (s *Server) streamReadPump(cancel context.CancelFunc, sub bus.Subscription, conn *websocket.Conn) {
	defer func() {
		cancel()
		sub.Unsubscribe()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) streamWritePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
