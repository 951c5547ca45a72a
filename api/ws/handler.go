package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/eventvm/cache"
	"github.com/kasuganosora/eventvm/config"
	"github.com/kasuganosora/eventvm/game/eventbus"
	mw "github.com/kasuganosora/eventvm/middleware"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws. Clients receive every bus event
// as a "bus" packet and may answer waiting events through the router.
type Handler struct {
	pubsub   cache.PubSub
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(pubsub cache.PubSub, sec config.SecurityConfig, router *Router, logger *zap.Logger) *Handler {
	h := &Handler{pubsub: pubsub, router: router, logger: logger}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>. Routes must be wrapped in StreamAuth.
func (h *Handler) ServeWS(c *gin.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgCh, unsub, err := h.pubsub.Subscribe(ctx, eventbus.Channel)
	if err != nil {
		h.logger.Error("ws subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream unavailable"})
		return
	}
	defer unsub()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	s := NewSession(mw.GetClient(c), conn, h.logger)
	h.logger.Info("stream client connected", zap.String("client", s.Client))
	s.Send("connected", map[string]string{"client": s.Client})

	go forward(s, msgCh)
	h.readPump(s)
}

// forward relays bus payloads until the subscription or the session closes.
func forward(s *Session, msgCh <-chan *cache.Message) {
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			s.SendRaw([]byte(`{"seq":0,"type":"bus","payload":` + msg.Payload + `}`))
		case <-s.Done:
			return
		}
	}
}

// readPump reads messages from the connection and dispatches them.
func (h *Handler) readPump(s *Session) {
	defer func() {
		s.Close()
		h.logger.Info("stream client disconnected", zap.String("client", s.Client))
	}()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.String("client", s.Client), zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}
