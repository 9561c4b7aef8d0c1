// README: Websocket endpoint; bridges one connection to one hub session.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lastmile/internal/http/middleware"
	"lastmile/internal/modules/dispatch"
)

const (
	maxFrameBytes       = 64 << 10
	defaultWriteTimeout = 10 * time.Second
	pingPeriod          = 30 * time.Second
)

type WSHandler struct {
	hub          *dispatch.Hub
	log          *slog.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

func NewWSHandler(hub *dispatch.Hub, log *slog.Logger, writeTimeout time.Duration) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WSHandler{
		hub:          hub,
		log:          log,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Callers are authenticated by token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades an authenticated request and runs the session until the
// client goes away or a write fails.
func (h *WSHandler) Serve(c *gin.Context) {
	p := middleware.CallerPrincipal(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "caller", p.ID, "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	s := h.hub.Connect(p)
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	done := make(chan struct{})
	go h.writePump(conn, s, done)

	h.readPump(ctx, conn, s)

	cancel()
	h.hub.Disconnect(context.Background(), s)
	<-done
	_ = conn.Close()
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, s *dispatch.Session) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read", "session_id", s.ID, "err", err)
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		h.hub.Handle(ctx, s, data)
	}
}

// writePump is the only writer on conn. It exits when the outbox closes or a
// write fails; closing conn then unblocks readPump.
func (h *WSHandler) writePump(conn *websocket.Conn, s *dispatch.Session, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.Outbox():
			deadline := time.Now().Add(h.writeTimeout)
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			_ = conn.SetWriteDeadline(deadline)
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn("websocket write failed", "session_id", s.ID, "err", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
