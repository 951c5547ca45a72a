package interpreter

import "github.com/kasuganosora/eventvm/resource"

// LoopFrame 记录一个活动循环：Start 为 loop 指令位置，End 为循环体最后一条指令位置。
type LoopFrame struct {
	Start  int
	End    int
	Indent int
}

// BranchFrame 记录一个条件分支的求值结果与边界。
// ElseIndex 为 -1 表示没有 else；EndIndex 为块后第一条指令的位置。
type BranchFrame struct {
	Index     int
	Result    bool
	ElseIndex int
	EndIndex  int
}

// Instance 是一个协作式执行"线程"：持有游标、循环栈、分支栈与等待状态。
type Instance struct {
	Seq      uint64
	Context  *EventContext
	State    State
	Parallel bool

	LoopStack   []LoopFrame
	BranchStack []BranchFrame

	WaitFrames      int
	WaitForMessage  bool
	WaitForChoice   bool
	WaitForMovement bool
	// routePending 表示已发出但尚未确认完成的移动路线。
	routePending bool

	labels map[string]int

	LastError         error
	ErrorCommandIndex int

	OnShowText     func(text string, params resource.ShowTextParams)
	OnShowChoices  func(choices []string, defaultChoice int) int
	OnWaitComplete func()
}

// newInstance 创建实例并一次性建立标签索引（同名标签取第一个）。
func newInstance(ctx *EventContext, parallel bool, seq uint64) *Instance {
	inst := &Instance{
		Seq:               seq,
		Context:           ctx,
		State:             StateRunning,
		Parallel:          parallel,
		labels:            make(map[string]int),
		ErrorCommandIndex: -1,
	}
	for i, c := range ctx.Commands() {
		if c == nil || c.Kind != resource.KindLabel {
			continue
		}
		name := c.ParamString("name")
		if _, dup := inst.labels[name]; !dup {
			inst.labels[name] = i
		}
	}
	return inst
}

// EventID 返回实例所属事件的 ID。
func (inst *Instance) EventID() int { return inst.Context.EventID() }

// LabelIndex 返回标签位置。
func (inst *Instance) LabelIndex(name string) (int, bool) {
	i, ok := inst.labels[name]
	return i, ok
}

// IsWaitingExternal 是否在等待外部恢复（消息、选项、移动）。
func (inst *Instance) IsWaitingExternal() bool {
	return inst.WaitForMessage || inst.WaitForChoice || inst.WaitForMovement
}

// IsWaiting 是否处于任意挂起点。
func (inst *Instance) IsWaiting() bool {
	return inst.WaitFrames > 0 || inst.IsWaitingExternal()
}

// IsFinished 游标耗尽或状态为 Finished/Error 时为 true。
func (inst *Instance) IsFinished() bool {
	return inst.State == StateFinished || inst.State == StateError || inst.Context.IsFinished()
}

func (inst *Instance) enterWait() {
	inst.State = StateWaiting
}

// wake 在所有挂起条件解除后恢复为 Running。
func (inst *Instance) wake() {
	if inst.State == StateWaiting && !inst.IsWaiting() {
		inst.State = StateRunning
	}
}

// finish 强制结束：状态置为 Finished，游标移到末尾。
func (inst *Instance) finish() {
	inst.State = StateFinished
	inst.Context.CommandIndex = len(inst.Context.Commands())
}

// InstanceInfo 是实例的只读快照，供控制接口展示。
type InstanceInfo struct {
	Seq             uint64 `json:"seq"`
	EventID         int    `json:"event_id"`
	EventName       string `json:"event_name"`
	Parallel        bool   `json:"parallel"`
	State           string `json:"state"`
	CommandIndex    int    `json:"command_index"`
	CommandCount    int    `json:"command_count"`
	WaitFrames      int    `json:"wait_frames"`
	WaitForMessage  bool   `json:"wait_for_message"`
	WaitForChoice   bool   `json:"wait_for_choice"`
	WaitForMovement bool   `json:"wait_for_movement"`
	LoopDepth       int    `json:"loop_depth"`
	BranchDepth     int    `json:"branch_depth"`
	LastError       string `json:"last_error,omitempty"`
}

// Info 返回当前快照。
func (inst *Instance) Info() InstanceInfo {
	info := InstanceInfo{
		Seq:             inst.Seq,
		EventID:         inst.EventID(),
		Parallel:        inst.Parallel,
		State:           inst.State.String(),
		CommandIndex:    inst.Context.CommandIndex,
		CommandCount:    len(inst.Context.Commands()),
		WaitFrames:      inst.WaitFrames,
		WaitForMessage:  inst.WaitForMessage,
		WaitForChoice:   inst.WaitForChoice,
		WaitForMovement: inst.WaitForMovement,
		LoopDepth:       len(inst.LoopStack),
		BranchDepth:     len(inst.BranchStack),
	}
	if inst.Context.Event != nil {
		info.EventName = inst.Context.Event.Name
	}
	if inst.LastError != nil {
		info.LastError = inst.LastError.Error()
	}
	return info
}
