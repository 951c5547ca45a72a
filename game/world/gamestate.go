// Package world holds the server-authoritative switch, variable and
// self-switch store shared by every running event.
package world

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kasuganosora/eventvm/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultFlushInterval is how often queued writes reach the database.
const DefaultFlushInterval = 5 * time.Second

// selfSwitchKey uniquely identifies a self-switch for one event on one map.
type selfSwitchKey struct {
	MapID   int
	EventID int
	Ch      string // "A","B","C","D"
}

type changeKind uint8

const (
	changeSwitch changeKind = iota
	changeVariable
	changeSelfSwitch
)

// pendingKey collapses repeated writes to the same slot into one row.
type pendingKey struct {
	kind changeKind
	id   int
	self selfSwitchKey
}

type pendingChange struct {
	boolVal bool
	intVal  int
}

// GameState holds switches, variables and self-switches in memory.
// Switches and variables are global; self-switches are per (map, event, channel).
//
// With a database, state is loaded once by LoadFromDB and written behind in
// batches; without one it is purely in-memory.
type GameState struct {
	mu           sync.RWMutex
	switches     map[int]bool
	variables    map[int]int
	selfSwitches map[selfSwitchKey]bool
	db           *gorm.DB // nil = no persistence (tests)
	logger       *zap.Logger

	pendingMu sync.Mutex
	pending   map[pendingKey]pendingChange

	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewGameState creates an empty GameState. A non-nil db starts a background
// flusher running every interval (DefaultFlushInterval when zero).
func NewGameState(db *gorm.DB, interval time.Duration, logger *zap.Logger) *GameState {
	if logger == nil {
		logger = zap.NewNop()
	}
	gs := &GameState{
		switches:     make(map[int]bool),
		variables:    make(map[int]int),
		selfSwitches: make(map[selfSwitchKey]bool),
		db:           db,
		logger:       logger,
		pending:      make(map[pendingKey]pendingChange),
		stopCh:       make(chan struct{}),
	}
	if db != nil {
		if interval <= 0 {
			interval = DefaultFlushInterval
		}
		gs.ticker = time.NewTicker(interval)
		go gs.batchFlusher()
	}
	return gs
}

// Stop stops the background flusher and flushes remaining changes.
func (gs *GameState) Stop() {
	gs.stopOnce.Do(func() {
		if gs.ticker != nil {
			gs.ticker.Stop()
			close(gs.stopCh)
		}
		if err := gs.Flush(context.Background()); err != nil {
			gs.logger.Error("final game state flush failed", zap.Error(err))
		}
	})
}

func (gs *GameState) batchFlusher() {
	for {
		select {
		case <-gs.ticker.C:
			if err := gs.Flush(context.Background()); err != nil {
				gs.logger.Error("failed to flush game state", zap.Error(err))
			}
		case <-gs.stopCh:
			return
		}
	}
}

// Pending returns the number of queued writes.
func (gs *GameState) Pending() int {
	gs.pendingMu.Lock()
	defer gs.pendingMu.Unlock()
	return len(gs.pending)
}

// Flush writes all queued changes in one transaction. On failure the
// changes are re-queued unless a newer write to the same slot arrived.
func (gs *GameState) Flush(ctx context.Context) error {
	if gs.db == nil {
		return nil
	}
	gs.pendingMu.Lock()
	if len(gs.pending) == 0 {
		gs.pendingMu.Unlock()
		return nil
	}
	batch := gs.pending
	gs.pending = make(map[pendingKey]pendingChange)
	gs.pendingMu.Unlock()

	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, ch := range batch {
			var row interface{}
			switch key.kind {
			case changeSwitch:
				row = &model.GameSwitch{SwitchID: key.id, Value: ch.boolVal}
			case changeVariable:
				row = &model.GameVariable{VariableID: key.id, Value: ch.intVal}
			case changeSelfSwitch:
				row = &model.GameSelfSwitch{MapID: key.self.MapID, EventID: key.self.EventID, Ch: key.self.Ch, Value: ch.boolVal}
			}
			if err := tx.Clauses(clause.OnConflict{
				UpdateAll: true,
			}).Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		gs.pendingMu.Lock()
		for k, v := range batch {
			if _, newer := gs.pending[k]; !newer {
				gs.pending[k] = v
			}
		}
		gs.pendingMu.Unlock()
		return err
	}
	gs.logger.Debug("game state flushed", zap.Int("rows", len(batch)))
	return nil
}

func (gs *GameState) queueChange(key pendingKey, change pendingChange) {
	if gs.db == nil {
		return
	}
	gs.pendingMu.Lock()
	gs.pending[key] = change
	gs.pendingMu.Unlock()
}

// LoadFromDB populates the in-memory state from the database.
// Call once at startup after NewGameState.
func (gs *GameState) LoadFromDB(ctx context.Context) error {
	if gs.db == nil {
		return nil
	}
	db := gs.db.WithContext(ctx)
	var switches []model.GameSwitch
	if err := db.Find(&switches).Error; err != nil {
		return err
	}
	var vars []model.GameVariable
	if err := db.Find(&vars).Error; err != nil {
		return err
	}
	var selfSwitches []model.GameSelfSwitch
	if err := db.Find(&selfSwitches).Error; err != nil {
		return err
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	for _, s := range switches {
		gs.switches[s.SwitchID] = s.Value
	}
	for _, v := range vars {
		gs.variables[v.VariableID] = v.Value
	}
	for _, ss := range selfSwitches {
		gs.selfSwitches[selfSwitchKey{MapID: ss.MapID, EventID: ss.EventID, Ch: ss.Ch}] = ss.Value
	}
	gs.logger.Info("game state loaded",
		zap.Int("switches", len(switches)),
		zap.Int("variables", len(vars)),
		zap.Int("self_switches", len(selfSwitches)))
	return nil
}

// GetSwitch returns the value of a global switch.
func (gs *GameState) GetSwitch(id int) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.switches[id]
}

// SetSwitch sets a global switch and queues it for persistence.
func (gs *GameState) SetSwitch(id int, val bool) {
	gs.mu.Lock()
	gs.switches[id] = val
	gs.mu.Unlock()
	gs.queueChange(pendingKey{kind: changeSwitch, id: id}, pendingChange{boolVal: val})
}

// GetVariable returns the value of a global variable.
func (gs *GameState) GetVariable(id int) int {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.variables[id]
}

// SetVariable sets a global variable and queues it for persistence.
func (gs *GameState) SetVariable(id int, val int) {
	gs.mu.Lock()
	gs.variables[id] = val
	gs.mu.Unlock()
	gs.queueChange(pendingKey{kind: changeVariable, id: id}, pendingChange{intVal: val})
}

// GetSelfSwitch returns a self-switch of one event on one map.
func (gs *GameState) GetSelfSwitch(mapID, eventID int, ch string) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.selfSwitches[selfSwitchKey{MapID: mapID, EventID: eventID, Ch: ch}]
}

// SetSelfSwitch sets a self-switch and queues it for persistence.
func (gs *GameState) SetSelfSwitch(mapID, eventID int, ch string, val bool) {
	key := selfSwitchKey{MapID: mapID, EventID: eventID, Ch: ch}
	gs.mu.Lock()
	gs.selfSwitches[key] = val
	gs.mu.Unlock()
	gs.queueChange(pendingKey{kind: changeSelfSwitch, self: key}, pendingChange{boolVal: val})
}

// ForMap returns a view whose self-switches are scoped to mapID. The view
// satisfies the interpreter's self-switch store and the page condition reader.
func (gs *GameState) ForMap(mapID int) *MapView {
	return &MapView{gs: gs, mapID: mapID}
}

// ---- Snapshots ----

// Entry is one switch or variable in a snapshot.
type Entry struct {
	ID    int         `json:"id"`
	Value interface{} `json:"value"`
}

// Switches returns every switch that has been set, ordered by id.
func (gs *GameState) Switches() []Entry {
	gs.mu.RLock()
	out := make([]Entry, 0, len(gs.switches))
	for id, v := range gs.switches {
		out = append(out, Entry{ID: id, Value: v})
	}
	gs.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Variables returns every variable that has been set, ordered by id.
func (gs *GameState) Variables() []Entry {
	gs.mu.RLock()
	out := make([]Entry, 0, len(gs.variables))
	for id, v := range gs.variables {
		out = append(out, Entry{ID: id, Value: v})
	}
	gs.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- MapView ----

// MapView is a GameState seen from one map.
type MapView struct {
	gs    *GameState
	mapID int
}

// MapID returns the map the view is scoped to.
func (v *MapView) MapID() int { return v.mapID }

func (v *MapView) GetSwitch(id int) bool       { return v.gs.GetSwitch(id) }
func (v *MapView) SetSwitch(id int, val bool)  { v.gs.SetSwitch(id, val) }
func (v *MapView) GetVariable(id int) int      { return v.gs.GetVariable(id) }
func (v *MapView) SetVariable(id int, val int) { v.gs.SetVariable(id, val) }

func (v *MapView) GetSelfSwitch(eventID int, ch string) bool {
	return v.gs.GetSelfSwitch(v.mapID, eventID, ch)
}

func (v *MapView) SetSelfSwitch(eventID int, ch string, val bool) {
	v.gs.SetSelfSwitch(v.mapID, eventID, ch, val)
}
