package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"order-gateway/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams bus events to the client. An optional ?topic= filter
// restricts the stream to a single event.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	var (
		stream <-chan events.Envelope
		unsub  func()
	)
	if topic := c.Query("topic"); topic != "" {
		stream, unsub = s.Bus.Subscribe(events.Event(topic), 256)
	} else {
		stream, unsub = s.Bus.SubscribeAll(256)
	}
	defer unsub()

	// Reader goroutine notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case env, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				s.Log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}
