package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/eventvm/audit"
	"github.com/kasuganosora/eventvm/game/eventbus"
	"github.com/kasuganosora/eventvm/game/host"
	"github.com/kasuganosora/eventvm/game/world"
	"github.com/kasuganosora/eventvm/resource"
	"github.com/kasuganosora/eventvm/scheduler"
	"go.uber.org/zap"
)

// AdminHandler exposes the event host to operators.
// Routes should be protected by the AdminKey middleware.
type AdminHandler struct {
	host    *host.Host
	state   *world.GameState
	store   *resource.Store
	journal *audit.Service
	bus     *eventbus.Bus
	sched   *scheduler.Scheduler
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler. store, journal and bus may be nil.
func NewAdminHandler(
	h *host.Host,
	state *world.GameState,
	store *resource.Store,
	journal *audit.Service,
	bus *eventbus.Bus,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{host: h, state: state, store: store, journal: journal, bus: bus, sched: sched, logger: logger}
}

// Register mounts every control route on g.
func (h *AdminHandler) Register(g *gin.RouterGroup) {
	g.GET("/metrics", h.Metrics)
	g.GET("/scheduler", h.ListSchedulerTasks)

	g.GET("/events", h.ListEvents)
	g.PUT("/events", h.PutEvent)
	g.POST("/events/clear", h.Clear)
	g.GET("/events/:id", h.GetEvent)
	g.DELETE("/events/:id", h.DeleteEvent)
	g.POST("/events/:id/start", h.Start)
	g.POST("/events/:id/stop", h.Stop)
	g.POST("/events/:id/pause", h.Pause)
	g.POST("/events/:id/unpause", h.Unpause)
	g.POST("/events/:id/message", h.ResumeMessage)
	g.POST("/events/:id/choice", h.ResumeChoice)
	g.POST("/events/:id/movement", h.ResumeMovement)

	g.GET("/instances", h.ListInstances)
	g.GET("/switches", h.ListSwitches)
	g.PUT("/switches/:id", h.SetSwitch)
	g.GET("/variables", h.ListVariables)
	g.PUT("/variables/:id", h.SetVariable)

	g.GET("/journal", h.Journal)
	g.GET("/bus/recent", h.RecentBus)
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *AdminHandler) eventError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, resource.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, host.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, host.ErrNoActivePage):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error("admin request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Metrics returns interpreter, scheduler and bus counters.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	resp := gin.H{
		"interpreter":    h.host.Statistics(),
		"scheduler":      h.sched.Stats(),
		"pending_writes": h.state.Pending(),
	}
	if h.bus != nil {
		resp["bus_dropped"] = h.bus.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// ---- events ----

// ListEvents returns every loaded event with its current active page.
// GET /api/admin/events
func (h *AdminHandler) ListEvents(c *gin.Context) {
	events := h.host.Events()
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// GetEvent returns one event definition.
// GET /api/admin/events/:id
func (h *AdminHandler) GetEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ev, err := h.host.Event(id)
	if err != nil {
		h.eventError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev.ToMap())
}

// PutEvent adds or replaces an event from its JSON definition and persists
// it when a store is configured.
// PUT /api/admin/events
func (h *AdminHandler) PutEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	ev, err := resource.DecodeJSON(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.host.PutEvent(ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := h.store.Save(ctx, ev); err != nil {
			h.eventError(c, err)
			return
		}
	}
	h.logger.Info("event definition updated", zap.Int("event_id", ev.ID), zap.String("client", clientOf(c)))
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": ev.ID})
}

// DeleteEvent unloads an event and stops its instances.
// DELETE /api/admin/events/:id
func (h *AdminHandler) DeleteEvent(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := h.host.Event(id); err != nil {
		h.eventError(c, err)
		return
	}
	h.host.RemoveEvent(id)
	if h.store != nil {
		if err := h.store.Delete(c.Request.Context(), id); err != nil {
			h.eventError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Start runs the active page of an event.
// POST /api/admin/events/:id/start {"parallel": bool}
func (h *AdminHandler) Start(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Parallel bool `json:"parallel"`
	}
	_ = c.ShouldBindJSON(&req)
	info, err := h.host.Start(id, req.Parallel)
	if err != nil {
		h.eventError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// Stop ends every instance of an event.
// POST /api/admin/events/:id/stop
func (h *AdminHandler) Stop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": h.host.Stop(id)})
}

// Clear discards every running instance.
// POST /api/admin/events/clear
func (h *AdminHandler) Clear(c *gin.Context) {
	n := h.host.Clear()
	h.logger.Info("all events cleared", zap.Int("instances", n), zap.String("client", clientOf(c)))
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

// toggle answers 409 when the host reports the instance was not in the
// required state.
func toggle(c *gin.Context, done bool, notice string) {
	if !done {
		c.JSON(http.StatusConflict, gin.H{"error": notice})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// POST /api/admin/events/:id/pause
func (h *AdminHandler) Pause(c *gin.Context) {
	if id, ok := pathID(c); ok {
		toggle(c, h.host.Pause(id), "event is not running")
	}
}

// POST /api/admin/events/:id/unpause
func (h *AdminHandler) Unpause(c *gin.Context) {
	if id, ok := pathID(c); ok {
		toggle(c, h.host.Unpause(id), "event is not paused")
	}
}

// POST /api/admin/events/:id/message
func (h *AdminHandler) ResumeMessage(c *gin.Context) {
	if id, ok := pathID(c); ok {
		toggle(c, h.host.ResumeMessage(id), "event is not waiting for a message")
	}
}

// ResumeChoice answers a pending choice.
// POST /api/admin/events/:id/choice {"index": n}
func (h *AdminHandler) ResumeChoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Index *int `json:"index" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	toggle(c, h.host.ResumeChoice(id, *req.Index), "event is not waiting for a choice")
}

// POST /api/admin/events/:id/movement
func (h *AdminHandler) ResumeMovement(c *gin.Context) {
	if id, ok := pathID(c); ok {
		toggle(c, h.host.ResumeMovement(id), "event is not waiting for movement")
	}
}

// ListInstances returns a snapshot of every running instance.
// GET /api/admin/instances
func (h *AdminHandler) ListInstances(c *gin.Context) {
	insts := h.host.Instances()
	c.JSON(http.StatusOK, gin.H{"instances": insts, "count": len(insts)})
}

// ---- state ----

// GET /api/admin/switches
func (h *AdminHandler) ListSwitches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"switches": h.state.Switches()})
}

// SetSwitch writes one switch.
// PUT /api/admin/switches/:id {"value": bool}
func (h *AdminHandler) SetSwitch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Value *bool `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.host.SetSwitch(id, *req.Value)
	c.JSON(http.StatusOK, gin.H{"id": id, "value": *req.Value})
}

// GET /api/admin/variables
func (h *AdminHandler) ListVariables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"variables": h.state.Variables()})
}

// SetVariable writes one variable.
// PUT /api/admin/variables/:id {"value": int}
func (h *AdminHandler) SetVariable(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Value *int `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.host.SetVariable(id, *req.Value)
	c.JSON(http.StatusOK, gin.H{"id": id, "value": *req.Value})
}

// ---- history ----

// Journal returns recent lifecycle records.
// GET /api/admin/journal?event_id=&action=&limit=
func (h *AdminHandler) Journal(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusOK, gin.H{"logs": []interface{}{}})
		return
	}
	q := audit.Query{Action: c.Query("action")}
	if s := c.Query("event_id"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
			return
		}
		q.EventID = id
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		q.Limit = n
	}
	logs, err := h.journal.Recent(c.Request.Context(), q)
	if err != nil {
		h.eventError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// RecentBus returns the newest bus events.
// GET /api/admin/bus/recent?n=
func (h *AdminHandler) RecentBus(c *gin.Context) {
	n := 20
	if s := c.Query("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
			return
		}
		n = v
	}
	if h.bus == nil {
		c.JSON(http.StatusOK, gin.H{"events": []eventbus.Envelope{}})
		return
	}
	events, err := h.bus.Recent(c.Request.Context(), n)
	if err != nil {
		h.eventError(c, err)
		return
	}
	if events == nil {
		events = []eventbus.Envelope{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
