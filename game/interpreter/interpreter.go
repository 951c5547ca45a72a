package interpreter

import (
	"math/rand/v2"

	"github.com/kasuganosora/eventvm/resource"
	"go.uber.org/zap"
)

// DefaultCommandBudget 是每个实例每帧最多执行的指令数。
const DefaultCommandBudget = 100

// Options 是 Interpreter 的可选协作者。零值可用。
type Options struct {
	SelfSwitches  SelfSwitchStore
	Bus           EventBus
	Scripts       ScriptInvoker
	CommandBudget int
	// RandIntN 返回 [0, n) 的随机整数，测试中可替换。
	RandIntN func(n int) int
}

// Stats 是解释器的运行统计。
type Stats struct {
	RunningEvents         int    `json:"running_events"`
	ParallelEvents        int    `json:"parallel_events"`
	TotalCommandsExecuted uint64 `json:"total_commands_executed"`
	TotalEventsCompleted  uint64 `json:"total_events_completed"`
}

// Interpreter 是事件指令虚拟机的调度器：拥有全部运行中实例，
// 每帧为每个实例执行有限数量的指令。非并发安全，由宿主串行驱动。
type Interpreter struct {
	state        GameStateAccessor
	selfSwitches SelfSwitchStore
	bus          EventBus
	scripts      ScriptInvoker
	budget       int
	randIntN     func(int) int
	logger       *zap.Logger

	// 阻塞实例按启动顺序处理。
	blocking      map[int]*Instance
	blockingOrder []int
	parallel      []*Instance

	seq        uint64
	generation uint64

	totalCommands  uint64
	totalCompleted uint64

	// 解释器级回调。
	OnEventStart     func(ev *resource.GameEvent, page *resource.EventPage)
	OnEventEnd       func(ev *resource.GameEvent)
	OnCommandExecute func(cmd *resource.EventCommand, ctx *EventContext)
	OnError          func(inst *Instance, message string)
	// OnInstanceEnd 与 OnEventEnd 同时触发，携带结束时的实例。
	OnInstanceEnd func(inst *Instance)
	// ConfigureInstance 在实例注册前调用，用于设置实例级回调。
	ConfigureInstance func(inst *Instance)
}

// New 创建解释器。state 为所有实例共享的游戏状态。
func New(state GameStateAccessor, opts Options, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	it := &Interpreter{
		state:        state,
		selfSwitches: opts.SelfSwitches,
		bus:          opts.Bus,
		scripts:      opts.Scripts,
		budget:       opts.CommandBudget,
		randIntN:     opts.RandIntN,
		logger:       logger,
		blocking:     make(map[int]*Instance),
	}
	if it.selfSwitches == nil {
		it.selfSwitches = NewMemorySelfSwitches()
	}
	if it.budget <= 0 {
		it.budget = DefaultCommandBudget
	}
	if it.randIntN == nil {
		it.randIntN = rand.IntN
	}
	return it
}

// SelfSwitches 返回解释器使用的独立开关存储。
func (it *Interpreter) SelfSwitches() SelfSwitchStore { return it.selfSwitches }

// ---- 生命周期 ----

// StartEvent 为 page 创建实例并注册。阻塞实例以事件 ID 为键；
// 已存在同 ID 的阻塞实例时直接覆盖（调用方应先 StopEvent）。并行实例追加到列表。
func (it *Interpreter) StartEvent(ev *resource.GameEvent, page *resource.EventPage, parallel bool) *Instance {
	it.seq++
	inst := newInstance(NewEventContext(ev, page), parallel, it.seq)
	if it.ConfigureInstance != nil {
		it.ConfigureInstance(inst)
	}
	id := inst.EventID()
	if parallel {
		it.parallel = append(it.parallel, inst)
	} else {
		if _, exists := it.blocking[id]; exists {
			it.logger.Warn("replacing running blocking event without stop", zap.Int("event_id", id))
		} else {
			it.blockingOrder = append(it.blockingOrder, id)
		}
		it.blocking[id] = inst
	}
	it.logger.Debug("event started",
		zap.Int("event_id", id),
		zap.Bool("parallel", parallel),
		zap.Int("commands", len(inst.Context.Commands())))
	if it.OnEventStart != nil {
		it.OnEventStart(ev, inst.Context.Page)
	}
	return inst
}

// StopEvent 强制结束并移除阻塞实例，触发 OnEventEnd。
func (it *Interpreter) StopEvent(eventID int) bool {
	inst, ok := it.blocking[eventID]
	if !ok {
		return false
	}
	inst.finish()
	it.removeBlocking(eventID)
	it.logger.Debug("event stopped", zap.Int("event_id", eventID))
	it.fireEnd(inst)
	return true
}

// StopParallel 强制结束该事件的所有并行实例，返回结束的数量。
func (it *Interpreter) StopParallel(eventID int) int {
	var stopped []*Instance
	kept := it.parallel[:0]
	for _, inst := range it.parallel {
		if inst.EventID() == eventID {
			inst.finish()
			stopped = append(stopped, inst)
			continue
		}
		kept = append(kept, inst)
	}
	for i := len(kept); i < len(it.parallel); i++ {
		it.parallel[i] = nil
	}
	it.parallel = kept
	for _, inst := range stopped {
		it.fireEnd(inst)
	}
	return len(stopped)
}

// ClearAllEvents 立即丢弃所有实例，不触发 OnEventEnd。
func (it *Interpreter) ClearAllEvents() {
	it.blocking = make(map[int]*Instance)
	it.blockingOrder = nil
	it.parallel = nil
	it.generation++
	it.logger.Debug("all events cleared")
}

// PauseEvent 暂停阻塞实例；暂停期间不执行指令，等待帧也不倒数。
func (it *Interpreter) PauseEvent(eventID int) bool {
	inst, ok := it.blocking[eventID]
	if !ok || inst.IsFinished() {
		return false
	}
	inst.State = StatePaused
	return true
}

// UnpauseEvent 解除暂停。
func (it *Interpreter) UnpauseEvent(eventID int) bool {
	inst, ok := it.blocking[eventID]
	if !ok || inst.State != StatePaused {
		return false
	}
	if inst.IsWaiting() {
		inst.State = StateWaiting
	} else {
		inst.State = StateRunning
	}
	return true
}

// ---- 查询 ----

// IsEventRunning 该事件是否有阻塞或并行实例在运行。
func (it *Interpreter) IsEventRunning(eventID int) bool {
	if _, ok := it.blocking[eventID]; ok {
		return true
	}
	for _, inst := range it.parallel {
		if inst.EventID() == eventID {
			return true
		}
	}
	return false
}

// HasBlockingEvent 阻塞集合非空时为 true。
func (it *Interpreter) HasBlockingEvent() bool {
	return len(it.blocking) > 0
}

// Blocking 返回该事件的阻塞实例。
func (it *Interpreter) Blocking(eventID int) (*Instance, bool) {
	inst, ok := it.blocking[eventID]
	return inst, ok
}

// Instances 返回全部实例：先阻塞（启动顺序），后并行（列表顺序）。
func (it *Interpreter) Instances() []*Instance {
	out := make([]*Instance, 0, len(it.blocking)+len(it.parallel))
	for _, id := range it.blockingOrder {
		if inst, ok := it.blocking[id]; ok {
			out = append(out, inst)
		}
	}
	return append(out, it.parallel...)
}

// Statistics 返回运行统计。
func (it *Interpreter) Statistics() Stats {
	return Stats{
		RunningEvents:         len(it.blocking),
		ParallelEvents:        len(it.parallel),
		TotalCommandsExecuted: it.totalCommands,
		TotalEventsCompleted:  it.totalCompleted,
	}
}

// ---- 外部恢复 ----

// ResumeMessage 解除消息等待。先查阻塞实例，再查第一个等待消息的并行实例。
func (it *Interpreter) ResumeMessage(eventID int) bool {
	inst := it.findWaiting(eventID, func(i *Instance) bool { return i.WaitForMessage })
	if inst == nil {
		return false
	}
	inst.WaitForMessage = false
	inst.wake()
	return true
}

// ResumeChoice 解除选项等待，并把选择结果写入 BranchResult。
func (it *Interpreter) ResumeChoice(eventID, choiceIndex int) bool {
	inst := it.findWaiting(eventID, func(i *Instance) bool { return i.WaitForChoice })
	if inst == nil {
		return false
	}
	inst.WaitForChoice = false
	inst.Context.SetBranchResult(choiceIndex)
	inst.wake()
	return true
}

// ResumeMovement 确认移动路线完成并解除移动等待。
func (it *Interpreter) ResumeMovement(eventID int) bool {
	inst := it.findWaiting(eventID, func(i *Instance) bool { return i.WaitForMovement || i.routePending })
	if inst == nil {
		return false
	}
	inst.WaitForMovement = false
	inst.routePending = false
	inst.wake()
	return true
}

func (it *Interpreter) findWaiting(eventID int, match func(*Instance) bool) *Instance {
	if inst, ok := it.blocking[eventID]; ok && match(inst) {
		return inst
	}
	for _, inst := range it.parallel {
		if inst.EventID() == eventID && match(inst) {
			return inst
		}
	}
	return nil
}

// ---- 帧驱动 ----

// Update 推进一帧。delta 仅为与其他系统保持接口一致，执行按帧计数。
func (it *Interpreter) Update(delta float64) {
	_ = delta
	gen := it.generation

	order := append([]int(nil), it.blockingOrder...)
	for _, id := range order {
		inst, ok := it.blocking[id]
		if !ok {
			continue
		}
		if !it.updateInstance(inst) {
			continue
		}
		// 回调可能已替换或清空该实例。
		if cur, ok := it.blocking[id]; ok && cur == inst {
			it.removeBlocking(id)
		}
		it.complete(inst)
	}

	current := it.parallel
	it.parallel = nil
	survivors := make([]*Instance, 0, len(current))
	for _, inst := range current {
		if it.generation != gen {
			break
		}
		if it.updateInstance(inst) {
			it.complete(inst)
			continue
		}
		survivors = append(survivors, inst)
	}
	if it.generation != gen {
		return
	}
	// 本帧内新启动的并行实例排在已有实例之后。
	it.parallel = append(survivors, it.parallel...)
}

// updateInstance 执行单个实例的一帧，返回实例是否已结束。
func (it *Interpreter) updateInstance(inst *Instance) bool {
	if inst.State == StatePaused {
		return false
	}
	if inst.WaitFrames > 0 {
		inst.WaitFrames--
		if inst.WaitFrames == 0 {
			inst.wake()
			if inst.OnWaitComplete != nil {
				inst.OnWaitComplete()
			}
		}
		return false
	}
	if inst.IsFinished() {
		return true
	}
	if inst.IsWaitingExternal() {
		return false
	}
	if inst.State == StateWaiting || inst.State == StateIdle {
		inst.State = StateRunning
	}

	ctx := inst.Context
	for n := 0; n < it.budget; n++ {
		if inst.State != StateRunning || ctx.IsFinished() || inst.IsWaiting() {
			break
		}
		idx := ctx.CommandIndex
		cmd := ctx.CurrentCommand()
		if cmd == nil || it.shouldSkip(inst, idx) {
			ctx.Advance()
		} else {
			if err := it.execute(inst, cmd); err != nil {
				it.fail(inst, idx, cmd, err)
				return true
			}
			it.totalCommands++
			if it.OnCommandExecute != nil {
				it.OnCommandExecute(cmd, ctx)
			}
		}
		it.checkLoopEnd(inst)
	}

	if inst.IsWaiting() {
		return false
	}
	if ctx.IsFinished() && inst.State == StateRunning {
		inst.State = StateFinished
	}
	return inst.IsFinished()
}

// fail 将实例转为 Error 状态并上报。
func (it *Interpreter) fail(inst *Instance, idx int, cmd *resource.EventCommand, err error) {
	inst.State = StateError
	inst.LastError = err
	inst.ErrorCommandIndex = idx
	it.logger.Error("event command failed",
		zap.Int("event_id", inst.EventID()),
		zap.Int("command_index", idx),
		zap.String("kind", string(cmd.Kind)),
		zap.Error(err))
	if it.OnError != nil {
		it.OnError(inst, err.Error())
	}
}

// complete 处理实例结束的统计与回调。只有正常结束计入完成数。
func (it *Interpreter) complete(inst *Instance) {
	if inst.State != StateError {
		inst.State = StateFinished
		it.totalCompleted++
	}
	it.logger.Debug("event ended",
		zap.Int("event_id", inst.EventID()),
		zap.Bool("parallel", inst.Parallel),
		zap.String("state", inst.State.String()))
	it.fireEnd(inst)
}

func (it *Interpreter) fireEnd(inst *Instance) {
	if it.OnEventEnd != nil {
		it.OnEventEnd(inst.Context.Event)
	}
	if it.OnInstanceEnd != nil {
		it.OnInstanceEnd(inst)
	}
}

func (it *Interpreter) removeBlocking(id int) {
	delete(it.blocking, id)
	for i, v := range it.blockingOrder {
		if v == id {
			it.blockingOrder = append(it.blockingOrder[:i], it.blockingOrder[i+1:]...)
			break
		}
	}
}

func (it *Interpreter) emit(inst *Instance, typ string, params map[string]interface{}) {
	if it.bus == nil {
		return
	}
	data := make(map[string]interface{}, len(params))
	for k, v := range params {
		data[k] = v
	}
	it.bus.Emit(BusEvent{Type: typ, EventID: inst.EventID(), Data: data})
}
