package interpreter

import "github.com/kasuganosora/eventvm/resource"

// EventContext 是单个运行中事件在其活动页指令列表上的游标。
type EventContext struct {
	Event        *resource.GameEvent
	Page         *resource.EventPage
	CommandIndex int

	// BranchResult 保存选项结果，跨越挂起点传递给后续的 choice 条件分支。
	BranchResult    int
	HasBranchResult bool
}

// NewEventContext 创建指向 page 第一条指令的游标。
func NewEventContext(ev *resource.GameEvent, page *resource.EventPage) *EventContext {
	if page == nil {
		page = resource.NewEventPage()
	}
	return &EventContext{Event: ev, Page: page}
}

// Commands 返回活动页的指令列表。
func (c *EventContext) Commands() []*resource.EventCommand {
	return c.Page.List
}

// CurrentCommand 返回游标处的指令；越过末尾时返回 nil。
func (c *EventContext) CurrentCommand() *resource.EventCommand {
	if c.CommandIndex < 0 || c.CommandIndex >= len(c.Page.List) {
		return nil
	}
	return c.Page.List[c.CommandIndex]
}

// Advance 将游标后移一位，不做边界截断。
func (c *EventContext) Advance() {
	c.CommandIndex++
}

// IsFinished 游标到达或越过指令列表末尾时为 true。
func (c *EventContext) IsFinished() bool {
	return c.CommandIndex >= len(c.Page.List)
}

// JumpToLabel 将游标移到名称完全匹配的第一个 label 指令。
// 未找到时游标不变并返回 false。
func (c *EventContext) JumpToLabel(name string) bool {
	for i, cmd := range c.Page.List {
		if cmd != nil && cmd.Kind == resource.KindLabel && cmd.ParamString("name") == name {
			c.CommandIndex = i
			return true
		}
	}
	return false
}

// SetBranchResult 记录选项结果。
func (c *EventContext) SetBranchResult(v int) {
	c.BranchResult = v
	c.HasBranchResult = true
}

// ClearBranchResult 清除选项结果。
func (c *EventContext) ClearBranchResult() {
	c.BranchResult = 0
	c.HasBranchResult = false
}

// EventID 返回所属事件的 ID；事件为空时返回 0。
func (c *EventContext) EventID() int {
	if c.Event == nil {
		return 0
	}
	return c.Event.ID
}
