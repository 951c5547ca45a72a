package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/eventvm/cache"
	"github.com/kasuganosora/eventvm/game/eventbus"
	mw "github.com/kasuganosora/eventvm/middleware"
	"go.uber.org/zap"
)

const defaultKeepalive = 30 * time.Second

// Handler streams bus events to stream-token holders.
type Handler struct {
	pubsub    cache.PubSub
	bus       *eventbus.Bus
	logger    *zap.Logger
	keepalive time.Duration
}

// NewHandler creates a new SSE Handler. bus serves ?replay= and may be nil.
func NewHandler(pubsub cache.PubSub, bus *eventbus.Bus, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, bus: bus, logger: logger, keepalive: defaultKeepalive}
}

// SetKeepalive changes the keepalive comment period.
func (h *Handler) SetKeepalive(d time.Duration) { h.keepalive = d }

// filter selects which envelopes a client receives.
type filter struct {
	eventID int
	types   map[string]bool
}

func parseFilter(c *gin.Context) (filter, error) {
	var f filter
	if s := c.Query("event_id"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			return f, fmt.Errorf("invalid event_id %q", s)
		}
		f.eventID = id
	}
	if s := c.Query("types"); s != "" {
		f.types = make(map[string]bool)
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[t] = true
			}
		}
	}
	return f, nil
}

func (f filter) match(env *eventbus.Envelope) bool {
	if f.eventID != 0 && env.EventID != f.eventID {
		return false
	}
	if f.types != nil && !f.types[env.Type] {
		return false
	}
	return true
}

// ServeSSE handles GET /sse?token=<jwt>[&event_id=][&types=a,b][&replay=n].
// Routes must be wrapped in StreamAuth. Each bus event is sent with its
// sequence number as the SSE id and its type as the SSE event name.
func (h *Handler) ServeSSE(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, eventbus.Channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"client\":%q}\n\n", mw.GetClient(c))
	c.Writer.Flush()

	var lastSeq uint64
	if n, _ := strconv.Atoi(c.Query("replay")); n > 0 && h.bus != nil {
		recent, err := h.bus.Recent(c.Request.Context(), n)
		if err != nil {
			h.logger.Warn("sse replay failed", zap.Error(err))
		}
		// history is newest first
		for i := len(recent) - 1; i >= 0; i-- {
			env := &recent[i]
			if f.match(env) {
				h.write(c, env, nil)
			}
			if env.Seq > lastSeq {
				lastSeq = env.Seq
			}
		}
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			env, err := eventbus.Decode(msg.Payload)
			if err != nil {
				h.logger.Warn("sse skip undecodable payload", zap.Error(err))
				continue
			}
			if env.Seq <= lastSeq || !f.match(env) {
				continue
			}
			h.write(c, env, []byte(msg.Payload))

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) write(c *gin.Context, env *eventbus.Envelope, raw []byte) {
	if raw == nil {
		b, err := json.Marshal(env)
		if err != nil {
			return
		}
		raw = b
	}
	fmt.Fprintf(c.Writer, "id: %d\nevent: %s\ndata: %s\n\n", env.Seq, env.Type, raw)
	c.Writer.Flush()
}
