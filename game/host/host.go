// Package host owns one map's interpreter, game state view and event set.
// It is the concurrent surface of the VM: frames from the scheduler and
// calls from the control API are serialized under one mutex.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/eventvm/audit"
	"github.com/kasuganosora/eventvm/game/interpreter"
	"github.com/kasuganosora/eventvm/game/world"
	"github.com/kasuganosora/eventvm/plugin/hook"
	"github.com/kasuganosora/eventvm/resource"
	"github.com/kasuganosora/eventvm/scheduler"
	"go.uber.org/zap"
)

var (
	// ErrNoActivePage is returned when no page of the event has its conditions met.
	ErrNoActivePage = errors.New("host: event has no active page")
	// ErrAlreadyRunning is returned when a blocking event is started twice.
	ErrAlreadyRunning = errors.New("host: event already running")
)

// FrameTask is the scheduler task name of the frame loop.
const FrameTask = "interpreter.frame"

// Options configures a Host. Every collaborator is optional.
type Options struct {
	MapID         int
	CommandBudget int
	Bus           interpreter.EventBus
	Scripts       interpreter.ScriptInvoker
	Journal       *audit.Service
	Hooks         *hook.HookCenter
	// AutoAdvance acknowledges messages and movement after every frame and
	// answers choices with their default, for headless runs.
	AutoAdvance bool
	RandIntN    func(n int) int
	// DisableTriggers turns off autorun and parallel page triggers.
	DisableTriggers bool
}

// Lifecycle is the hook payload for start, end and error transitions.
type Lifecycle struct {
	TraceID      string `json:"trace_id"`
	EventID      int    `json:"event_id"`
	EventName    string `json:"event_name"`
	PageIndex    int    `json:"page_index"`
	Parallel     bool   `json:"parallel"`
	Action       string `json:"action"`
	CommandIndex int    `json:"command_index"`
	Error        string `json:"error,omitempty"`
}

// Stats extends the interpreter statistics with host counters.
type Stats struct {
	interpreter.Stats
	Frames uint64 `json:"frames"`
	Events int    `json:"events"`
	MapID  int    `json:"map_id"`
}

// EventSummary describes one loaded event and the page that would run now.
type EventSummary struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Pages      int    `json:"pages"`
	ActivePage int    `json:"active_page"`
	Trigger    string `json:"trigger,omitempty"`
	Running    bool   `json:"running"`
}

type run struct {
	traceID   string
	pageIndex int
}

// Host drives an interpreter for one map.
type Host struct {
	mu      sync.Mutex
	it      *interpreter.Interpreter
	state   *world.GameState
	view    *world.MapView
	events  *resource.EventSet
	journal *audit.Service
	hooks   *hook.HookCenter
	logger  *zap.Logger
	opts    Options

	runs map[*interpreter.Instance]*run
	// triggered holds the parallel instance started by each parallel page.
	triggered map[int]*interpreter.Instance
	frames    uint64
	stopping  bool
}

// New creates a Host. state and events must not be nil.
func New(state *world.GameState, events *resource.EventSet, opts Options, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	view := state.ForMap(opts.MapID)
	h := &Host{
		state:     state,
		view:      view,
		events:    events,
		journal:   opts.Journal,
		hooks:     opts.Hooks,
		logger:    logger.With(zap.Int("map_id", opts.MapID)),
		opts:      opts,
		runs:      make(map[*interpreter.Instance]*run),
		triggered: make(map[int]*interpreter.Instance),
	}
	h.it = interpreter.New(view, interpreter.Options{
		SelfSwitches:  view,
		Bus:           opts.Bus,
		Scripts:       opts.Scripts,
		CommandBudget: opts.CommandBudget,
		RandIntN:      opts.RandIntN,
	}, h.logger)
	h.it.ConfigureInstance = h.configureInstance
	h.it.OnInstanceEnd = h.instanceEnded
	h.it.OnError = h.instanceFailed
	return h
}

// View returns the map-scoped game state the interpreter runs against.
func (h *Host) View() *world.MapView { return h.view }

// Attach registers the frame loop on s. Each tick advances one frame.
func (h *Host) Attach(s *scheduler.Scheduler, interval time.Duration) {
	s.AddTicker(FrameTask, interval, func(elapsed time.Duration) {
		h.Tick(elapsed.Seconds())
	})
}

// ---- interpreter callbacks (called with h.mu held) ----

func (h *Host) configureInstance(inst *interpreter.Instance) {
	r := &run{traceID: uuid.NewString(), pageIndex: -1}
	if ev := inst.Context.Event; ev != nil {
		r.pageIndex = ev.PageIndex(inst.Context.Page)
	}
	h.runs[inst] = r
	if h.opts.AutoAdvance {
		inst.OnShowChoices = func(choices []string, def int) int {
			if def < 0 || def >= len(choices) {
				return 0
			}
			return def
		}
	}
	h.record(inst, audit.ActionStart, hook.OnEventStart)
}

func (h *Host) instanceEnded(inst *interpreter.Instance) {
	action := audit.ActionEnd
	switch {
	case inst.State == interpreter.StateError:
		action = audit.ActionError
	case h.stopping:
		action = audit.ActionStop
	}
	h.record(inst, action, hook.OnEventEnd)
	delete(h.runs, inst)
	if cur, ok := h.triggered[inst.EventID()]; ok && cur == inst {
		delete(h.triggered, inst.EventID())
	}
}

func (h *Host) instanceFailed(inst *interpreter.Instance, message string) {
	h.trigger(hook.OnEventError, h.lifecycle(inst, audit.ActionError))
}

func (h *Host) lifecycle(inst *interpreter.Instance, action string) *Lifecycle {
	lc := &Lifecycle{
		EventID:      inst.EventID(),
		Parallel:     inst.Parallel,
		Action:       action,
		CommandIndex: inst.Context.CommandIndex,
		PageIndex:    -1,
	}
	if ev := inst.Context.Event; ev != nil {
		lc.EventName = ev.Name
	}
	if r, ok := h.runs[inst]; ok {
		lc.TraceID = r.traceID
		lc.PageIndex = r.pageIndex
	}
	if action == audit.ActionError {
		lc.CommandIndex = inst.ErrorCommandIndex
		if inst.LastError != nil {
			lc.Error = inst.LastError.Error()
		}
	}
	return lc
}

func (h *Host) record(inst *interpreter.Instance, action, hookName string) {
	lc := h.lifecycle(inst, action)
	if h.journal != nil {
		var detail interface{}
		if action != audit.ActionStart {
			detail = inst.Info()
		}
		h.journal.Log(audit.Entry{
			TraceID:      lc.TraceID,
			EventID:      lc.EventID,
			EventName:    lc.EventName,
			PageIndex:    lc.PageIndex,
			Parallel:     lc.Parallel,
			Action:       action,
			CommandIndex: lc.CommandIndex,
			Error:        lc.Error,
			Detail:       detail,
			MapID:        h.opts.MapID,
		})
	}
	h.trigger(hookName, lc)
}

func (h *Host) trigger(name string, lc *Lifecycle) {
	if h.hooks == nil {
		return
	}
	if _, err := h.hooks.Trigger(context.Background(), name, lc); err != nil {
		h.logger.Debug("lifecycle hook interrupted", zap.String("hook", name), zap.Error(err))
	}
}

// ---- frame loop ----

// Tick refreshes page triggers and advances the interpreter one frame.
func (h *Host) Tick(delta float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tick(delta)
}

func (h *Host) tick(delta float64) {
	if !h.opts.DisableTriggers {
		h.refreshTriggers()
	}
	h.it.Update(delta)
	h.frames++
	if h.opts.AutoAdvance {
		for _, inst := range h.it.Instances() {
			if inst.WaitForMessage {
				h.it.ResumeMessage(inst.EventID())
			}
			if inst.WaitForMovement {
				h.it.ResumeMovement(inst.EventID())
			}
		}
	}
}

// refreshTriggers starts the parallel page of every event that has none
// running, and the first autorun page when nothing blocks.
func (h *Host) refreshTriggers() {
	blocking := h.it.HasBlockingEvent()
	for _, ev := range h.events.All() {
		page := ev.HighestActivePage(h.view, h.view)
		if cur, ok := h.triggered[ev.ID]; ok {
			if cur.Context.Page == page {
				continue
			}
			// the old parallel page stops once another page is active
			h.stopping = true
			h.it.StopParallel(ev.ID)
			h.stopping = false
			delete(h.triggered, ev.ID)
		}
		if page == nil || len(page.List) == 0 {
			continue
		}
		switch page.Trigger {
		case resource.TriggerParallel:
			h.triggered[ev.ID] = h.it.StartEvent(ev, page, true)
		case resource.TriggerAutorun:
			if blocking {
				continue
			}
			h.it.StartEvent(ev, page, false)
			blocking = true
		}
	}
}

// RunUntilIdle ticks until no instance remains, maxFrames is reached or ctx
// is done. It returns the number of frames run.
func (h *Host) RunUntilIdle(ctx context.Context, maxFrames int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for maxFrames <= 0 || n < maxFrames {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if n > 0 && len(h.it.Instances()) == 0 {
			return n, nil
		}
		h.tick(1)
		n++
	}
	return n, nil
}

// ---- control ----

// Start runs the active page of eventID. A blocking start fails while the
// same event is already blocking.
func (h *Host) Start(eventID int, parallel bool) (interpreter.InstanceInfo, error) {
	ev, err := h.events.Get(eventID)
	if err != nil {
		return interpreter.InstanceInfo{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	page := ev.HighestActivePage(h.view, h.view)
	if page == nil {
		return interpreter.InstanceInfo{}, fmt.Errorf("%w: %d", ErrNoActivePage, eventID)
	}
	if !parallel {
		if _, running := h.it.Blocking(eventID); running {
			return interpreter.InstanceInfo{}, fmt.Errorf("%w: %d", ErrAlreadyRunning, eventID)
		}
	}
	inst := h.it.StartEvent(ev, page, parallel)
	return inst.Info(), nil
}

// Stop ends every instance of eventID and returns how many were running.
func (h *Host) Stop(eventID int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopping = true
	defer func() { h.stopping = false }()
	n := h.it.StopParallel(eventID)
	if h.it.StopEvent(eventID) {
		n++
	}
	return n
}

// Clear discards every instance. Each one is journaled as stopped.
func (h *Host) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	insts := h.it.Instances()
	for _, inst := range insts {
		h.record(inst, audit.ActionStop, hook.OnEventEnd)
	}
	h.it.ClearAllEvents()
	h.runs = make(map[*interpreter.Instance]*run)
	h.triggered = make(map[int]*interpreter.Instance)
	return len(insts)
}

func (h *Host) Pause(eventID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.it.PauseEvent(eventID)
}

func (h *Host) Unpause(eventID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.it.UnpauseEvent(eventID)
}

func (h *Host) ResumeMessage(eventID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.it.ResumeMessage(eventID)
}

func (h *Host) ResumeChoice(eventID, index int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.it.ResumeChoice(eventID, index)
}

func (h *Host) ResumeMovement(eventID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.it.ResumeMovement(eventID)
}

// ReplaceEvents swaps the event set. Running instances keep their pages.
func (h *Host) ReplaceEvents(set *resource.EventSet) {
	h.mu.Lock()
	h.events = set
	h.mu.Unlock()
}

// SetSwitch writes a switch between frames.
func (h *Host) SetSwitch(id int, val bool) {
	h.mu.Lock()
	h.view.SetSwitch(id, val)
	h.mu.Unlock()
}

// SetVariable writes a variable between frames.
func (h *Host) SetVariable(id, val int) {
	h.mu.Lock()
	h.view.SetVariable(id, val)
	h.mu.Unlock()
}

// ---- queries ----

// Instances returns a snapshot of every running instance.
func (h *Host) Instances() []interpreter.InstanceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	insts := h.it.Instances()
	out := make([]interpreter.InstanceInfo, len(insts))
	for i, inst := range insts {
		out[i] = inst.Info()
	}
	return out
}

// IsRunning reports whether eventID has any instance.
func (h *Host) IsRunning(eventID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.it.IsEventRunning(eventID)
}

// Statistics returns interpreter and host counters.
func (h *Host) Statistics() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Stats:  h.it.Statistics(),
		Frames: h.frames,
		Events: h.events.Len(),
		MapID:  h.opts.MapID,
	}
}

// Events summarizes the loaded events against the current state.
func (h *Host) Events() []EventSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := h.events.All()
	out := make([]EventSummary, 0, len(all))
	for _, ev := range all {
		s := EventSummary{ID: ev.ID, Name: ev.Name, X: ev.X, Y: ev.Y, Pages: len(ev.Pages), ActivePage: -1}
		if page := ev.HighestActivePage(h.view, h.view); page != nil {
			s.ActivePage = ev.PageIndex(page)
			s.Trigger = page.Trigger.String()
		}
		s.Running = h.it.IsEventRunning(ev.ID)
		out = append(out, s)
	}
	return out
}

// Event returns one loaded event.
func (h *Host) Event(eventID int) (*resource.GameEvent, error) {
	h.mu.Lock()
	set := h.events
	h.mu.Unlock()
	return set.Get(eventID)
}

// PutEvent validates ev and adds or replaces it in the event set.
func (h *Host) PutEvent(ev *resource.GameEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events.Put(ev)
}

// RemoveEvent drops eventID from the set and stops its instances.
func (h *Host) RemoveEvent(eventID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopping = true
	h.it.StopParallel(eventID)
	h.it.StopEvent(eventID)
	h.stopping = false
	delete(h.triggered, eventID)
	h.events.Remove(eventID)
}
