package interpreter

import (
	"context"
	"errors"
	"testing"

	"github.com/kasuganosora/eventvm/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- 通用辅助函数 ----

func nopLogger() *zap.Logger { return zap.NewNop() }

// memState 是测试用的开关/变量存储。
type memState struct {
	switches map[int]bool
	vars     map[int]int
}

func newMemState() *memState {
	return &memState{switches: map[int]bool{}, vars: map[int]int{}}
}

func (m *memState) GetSwitch(id int) bool       { return m.switches[id] }
func (m *memState) SetSwitch(id int, v bool)    { m.switches[id] = v }
func (m *memState) GetVariable(id int) int      { return m.vars[id] }
func (m *memState) SetVariable(id int, val int) { m.vars[id] = val }

// recordingBus 记录所有总线事件。
type recordingBus struct {
	events []BusEvent
}

func (b *recordingBus) Emit(ev BusEvent) { b.events = append(b.events, ev) }

func (b *recordingBus) types() []string {
	out := make([]string, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

func newTestInterpreter(opts Options) (*Interpreter, *memState) {
	gs := newMemState()
	return New(gs, opts, nopLogger()), gs
}

func newEvent(id int, cmds ...*resource.EventCommand) (*resource.GameEvent, *resource.EventPage) {
	ev := resource.NewGameEvent(id, "test", 0, 0)
	ev.Pages[0].List = cmds
	return ev, ev.Pages[0]
}

// runFrames 调用 Update 直到没有实例运行或达到上限，返回调用次数。
func runFrames(it *Interpreter, max int) int {
	for i := 1; i <= max; i++ {
		it.Update(1.0 / 60)
		if len(it.Instances()) == 0 {
			return i
		}
	}
	return max
}

// ---- 顺序执行 ----

func TestSequentialExecution(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	var kinds []resource.CommandKind
	it.OnCommandExecute = func(cmd *resource.EventCommand, _ *EventContext) {
		kinds = append(kinds, cmd.Kind)
	}
	ev, page := newEvent(1,
		resource.NewControlVariable(0, 1, "set", 1),
		resource.NewControlVariable(0, 2, "set", 2),
		resource.NewControlSwitch(0, 3, true),
		resource.NewComment(0, "note"),
		resource.NewPlaySE(0, "Decision1", 90, 100, 0),
	)
	inst := it.StartEvent(ev, page, false)
	assert.True(t, it.IsEventRunning(1))
	assert.True(t, it.HasBlockingEvent())

	it.Update(1.0 / 60)

	assert.Equal(t, StateFinished, inst.State)
	assert.Equal(t, 5, inst.Context.CommandIndex)
	assert.Equal(t, []resource.CommandKind{
		resource.KindControlVariables,
		resource.KindControlVariables,
		resource.KindControlSwitches,
		resource.KindComment,
		resource.KindPlaySE,
	}, kinds)
	assert.Equal(t, 1, gs.vars[1])
	assert.Equal(t, 2, gs.vars[2])
	assert.True(t, gs.switches[3])
	assert.False(t, it.IsEventRunning(1))

	st := it.Statistics()
	assert.Equal(t, uint64(5), st.TotalCommandsExecuted)
	assert.Equal(t, uint64(1), st.TotalEventsCompleted)
	assert.Equal(t, 0, st.RunningEvents)
}

func TestEmptyPageFinishesOnFirstUpdate(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	ev, page := newEvent(1)
	var ended int
	it.OnEventEnd = func(*resource.GameEvent) { ended++ }
	it.StartEvent(ev, page, false)
	it.Update(0)
	assert.False(t, it.HasBlockingEvent())
	assert.Equal(t, 1, ended)
}

func TestNilPageIsEmpty(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	ev := resource.NewGameEvent(3, "x", 0, 0)
	inst := it.StartEvent(ev, nil, false)
	require.NotNil(t, inst.Context.Page)
	it.Update(0)
	assert.False(t, it.IsEventRunning(3))
}

// ---- 等待 ----

func TestWaitExactness(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1,
		resource.NewWait(0, 3),
		resource.NewControlVariable(0, 1, "set", 1),
	)
	inst := it.StartEvent(ev, page, false)
	var woke int
	inst.OnWaitComplete = func() { woke++ }

	it.Update(0) // wait 指令本身
	assert.Equal(t, StateWaiting, inst.State)
	for i := 0; i < 3; i++ {
		it.Update(0)
		assert.True(t, it.IsEventRunning(1), "update %d", i)
		assert.Equal(t, 0, gs.vars[1], "update %d", i)
	}
	assert.Equal(t, 1, woke)
	assert.Equal(t, StateRunning, inst.State)

	it.Update(0)
	assert.Equal(t, 1, gs.vars[1])
	assert.False(t, it.IsEventRunning(1))
}

func TestWaitZeroDoesNotSuspend(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1,
		resource.NewWait(0, 0),
		resource.NewControlVariable(0, 1, "set", 1),
	)
	it.StartEvent(ev, page, false)
	it.Update(0)
	assert.Equal(t, 1, gs.vars[1])
	assert.False(t, it.IsEventRunning(1))
}

func TestExampleScenario(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(7,
		resource.NewControlVariable(0, 1, "set", 42),
		resource.NewControlSwitch(0, 1, true),
		resource.NewWait(0, 2),
		resource.NewControlSwitch(0, 2, true),
	)
	inst := it.StartEvent(ev, page, false)

	it.Update(0)
	assert.Equal(t, 42, gs.vars[1])
	assert.True(t, gs.switches[1])
	assert.False(t, gs.switches[2])
	assert.Equal(t, StateWaiting, inst.State)

	// 两帧倒数，第三帧执行剩余指令。
	it.Update(0)
	it.Update(0)
	assert.False(t, gs.switches[2])
	it.Update(0)
	assert.True(t, gs.switches[2])
	assert.Equal(t, StateFinished, inst.State)
	assert.False(t, it.IsEventRunning(7))
}

// ---- 消息 / 选项 ----

func TestShowTextWaitsForResume(t *testing.T) {
	bus := &recordingBus{}
	it, gs := newTestInterpreter(Options{Bus: bus})
	ev, page := newEvent(1,
		resource.NewShowTextWithFace(0, "hello", "Actor1", 2),
		resource.NewControlVariable(0, 1, "set", 1),
	)
	inst := it.StartEvent(ev, page, false)
	var shown []string
	inst.OnShowText = func(text string, p resource.ShowTextParams) {
		shown = append(shown, text)
		assert.Equal(t, "Actor1", p.FaceName)
		assert.Equal(t, 2, p.FaceIndex)
	}

	for i := 0; i < 10; i++ {
		it.Update(0)
	}
	assert.Equal(t, []string{"hello"}, shown)
	assert.True(t, inst.WaitForMessage)
	assert.Equal(t, 0, gs.vars[1])
	require.Len(t, bus.events, 1)
	assert.Equal(t, BusTextDisplayed, bus.events[0].Type)
	assert.Equal(t, 1, bus.events[0].EventID)
	assert.Equal(t, "hello", bus.events[0].Data["text"])

	assert.True(t, it.ResumeMessage(1))
	assert.False(t, it.ResumeMessage(1))
	it.Update(0)
	assert.Equal(t, 1, gs.vars[1])
	assert.False(t, it.IsEventRunning(1))
}

func choicePage() []*resource.EventCommand {
	return []*resource.EventCommand{
		resource.NewShowChoices(0, []string{"yes", "no"}, 0),
		resource.NewChoiceCondition(0, 0),
		resource.NewControlVariable(1, 1, "set", 10),
		resource.NewChoiceCondition(0, 1),
		resource.NewControlVariable(1, 1, "set", 20),
	}
}

func TestShowChoicesSynchronous(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	it.ConfigureInstance = func(inst *Instance) {
		inst.OnShowChoices = func(choices []string, def int) int {
			assert.Equal(t, []string{"yes", "no"}, choices)
			assert.Equal(t, 0, def)
			return 1
		}
	}
	ev, page := newEvent(1, choicePage()...)
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	assert.False(t, inst.WaitForChoice)
	assert.Equal(t, 20, gs.vars[1])
	assert.False(t, it.IsEventRunning(1))
}

func TestShowChoicesAsynchronous(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1, choicePage()...)
	inst := it.StartEvent(ev, page, false)
	inst.OnShowChoices = func([]string, int) int { return -1 }

	it.Update(0)
	it.Update(0)
	assert.True(t, inst.WaitForChoice)
	assert.Equal(t, 0, gs.vars[1])

	assert.True(t, it.ResumeChoice(1, 0))
	assert.True(t, inst.Context.HasBranchResult)
	it.Update(0)
	assert.Equal(t, 10, gs.vars[1])
}

// ---- 移动路线 ----

func TestMoveRouteWaitsForMovement(t *testing.T) {
	bus := &recordingBus{}
	it, gs := newTestInterpreter(Options{Bus: bus})
	route := []interface{}{map[string]interface{}{"code": 1}}
	ev, page := newEvent(1,
		resource.NewSetMoveRoute(0, 0, route, true),
		resource.NewControlVariable(0, 1, "set", 1),
	)
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	it.Update(0)
	assert.True(t, inst.WaitForMovement)
	assert.Equal(t, 0, gs.vars[1])
	assert.Equal(t, []string{BusMoveRoute}, bus.types())

	assert.True(t, it.ResumeMovement(1))
	it.Update(0)
	assert.Equal(t, 1, gs.vars[1])
}

func TestWaitForMovementWithoutPendingRoute(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1,
		resource.NewWaitForMovement(0),
		resource.NewControlVariable(0, 1, "set", 1),
	)
	it.StartEvent(ev, page, false)
	it.Update(0)
	assert.Equal(t, 1, gs.vars[1])
}

func TestWaitForMovementAfterRoute(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1,
		resource.NewSetMoveRoute(0, 0, nil, false),
		resource.NewWaitForMovement(0),
		resource.NewControlVariable(0, 1, "set", 1),
	)
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	assert.True(t, inst.WaitForMovement)
	assert.Equal(t, 0, gs.vars[1])
	it.ResumeMovement(1)
	it.Update(0)
	assert.Equal(t, 1, gs.vars[1])
}

// ---- 并行实例 ----

func TestParallelIndependence(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	evA, pageA := newEvent(1,
		resource.NewControlVariable(0, 1, "add", 1),
		resource.NewWait(0, 1),
		resource.NewControlVariable(0, 1, "add", 1),
	)
	evB, pageB := newEvent(2, resource.NewControlVariable(0, 2, "set", 5))
	a := it.StartEvent(evA, pageA, true)
	b := it.StartEvent(evB, pageB, true)
	assert.False(t, it.HasBlockingEvent())
	assert.Equal(t, 2, it.Statistics().ParallelEvents)

	runFrames(it, 10)
	assert.Equal(t, StateFinished, a.State)
	assert.Equal(t, StateFinished, b.State)
	assert.Equal(t, 2, gs.vars[1])
	assert.Equal(t, 5, gs.vars[2])
	assert.Equal(t, uint64(2), it.Statistics().TotalEventsCompleted)
}

func TestParallelAllowsDuplicateEventIDs(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1, resource.NewControlVariable(0, 1, "add", 1))
	it.StartEvent(ev, page, true)
	it.StartEvent(ev, page, true)
	it.Update(0)
	assert.Equal(t, 2, gs.vars[1])
}

func TestClearAllEvents(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	var ended int
	it.OnEventEnd = func(*resource.GameEvent) { ended++ }
	evA, pageA := newEvent(1, resource.NewWait(0, 5), resource.NewControlVariable(0, 1, "set", 1))
	evB, pageB := newEvent(2, resource.NewWait(0, 5), resource.NewControlVariable(0, 2, "set", 1))
	evC, pageC := newEvent(3, resource.NewWait(0, 5))
	it.StartEvent(evA, pageA, true)
	it.StartEvent(evB, pageB, true)
	it.StartEvent(evC, pageC, false)
	it.Update(0)

	it.ClearAllEvents()
	assert.False(t, it.IsEventRunning(1))
	assert.False(t, it.IsEventRunning(2))
	assert.False(t, it.HasBlockingEvent())
	runFrames(it, 10)
	assert.Equal(t, 0, gs.vars[1])
	assert.Equal(t, 0, gs.vars[2])
	assert.Equal(t, 0, ended)
}

func TestClearAllEventsFromCallback(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	evA, pageA := newEvent(1, resource.NewComment(0, "a"))
	evB, pageB := newEvent(2, resource.NewWait(0, 3))
	it.OnEventEnd = func(ev *resource.GameEvent) {
		if ev.ID == 1 {
			it.ClearAllEvents()
		}
	}
	it.StartEvent(evA, pageA, true)
	it.StartEvent(evB, pageB, true)
	it.Update(0)
	assert.Empty(t, it.Instances())
}

// ---- 生命周期 ----

func TestStopEvent(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	var started, ended []int
	it.OnEventStart = func(ev *resource.GameEvent, _ *resource.EventPage) { started = append(started, ev.ID) }
	it.OnEventEnd = func(ev *resource.GameEvent) { ended = append(ended, ev.ID) }
	ev, page := newEvent(4, resource.NewShowText(0, "..."), resource.NewControlVariable(0, 1, "set", 1))
	inst := it.StartEvent(ev, page, false)
	it.Update(0)

	assert.True(t, it.StopEvent(4))
	assert.False(t, it.StopEvent(4))
	assert.Equal(t, StateFinished, inst.State)
	assert.True(t, inst.Context.IsFinished())
	assert.Equal(t, []int{4}, started)
	assert.Equal(t, []int{4}, ended)
	it.Update(0)
	assert.Equal(t, 0, gs.vars[1])
	assert.Equal(t, uint64(0), it.Statistics().TotalEventsCompleted)
}

func TestStopParallel(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	ev, page := newEvent(5, resource.NewWait(0, 10))
	other, otherPage := newEvent(6, resource.NewWait(0, 10))
	it.StartEvent(ev, page, true)
	it.StartEvent(ev, page, true)
	it.StartEvent(other, otherPage, true)
	assert.Equal(t, 2, it.StopParallel(5))
	assert.False(t, it.IsEventRunning(5))
	assert.True(t, it.IsEventRunning(6))
}

func TestBlockingOrderIsStartOrder(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	var order []int
	it.OnCommandExecute = func(_ *resource.EventCommand, ctx *EventContext) {
		order = append(order, ctx.EventID())
	}
	for _, id := range []int{9, 3, 5} {
		ev, page := newEvent(id, resource.NewComment(0, "x"))
		it.StartEvent(ev, page, false)
	}
	it.Update(0)
	assert.Equal(t, []int{9, 3, 5}, order)
}

func TestPauseEvent(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1, resource.NewWait(0, 1), resource.NewControlVariable(0, 1, "set", 1))
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	require.True(t, it.PauseEvent(1))
	for i := 0; i < 5; i++ {
		it.Update(0)
	}
	assert.Equal(t, StatePaused, inst.State)
	assert.Equal(t, 1, inst.WaitFrames)
	require.True(t, it.UnpauseEvent(1))
	assert.Equal(t, StateWaiting, inst.State)
	it.Update(0)
	it.Update(0)
	assert.Equal(t, 1, gs.vars[1])
}

func TestInfoSnapshot(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	ev, page := newEvent(2, resource.NewWait(0, 4), resource.NewComment(0, ""))
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	info := inst.Info()
	assert.Equal(t, 2, info.EventID)
	assert.Equal(t, "waiting", info.State)
	assert.Equal(t, 1, info.CommandIndex)
	assert.Equal(t, 2, info.CommandCount)
	assert.Equal(t, 4, info.WaitFrames)
	assert.Empty(t, info.LastError)
}

// ---- 错误隔离 ----

func TestErrorIsolation(t *testing.T) {
	scripts := NewScriptTable()
	boom := errors.New("boom")
	scripts.Register("explode", func(context.Context, *ScriptCall) (bool, error) { return false, boom })
	it, gs := newTestInterpreter(Options{Scripts: scripts})

	var errInst []*Instance
	var messages []string
	it.OnError = func(inst *Instance, msg string) {
		errInst = append(errInst, inst)
		messages = append(messages, msg)
	}
	evBad, pageBad := newEvent(1,
		resource.NewScript(0, "explode", nil),
		resource.NewControlVariable(0, 9, "set", 1),
	)
	evGood, pageGood := newEvent(2, resource.NewControlVariable(0, 1, "set", 7))
	bad := it.StartEvent(evBad, pageBad, false)
	it.StartEvent(evGood, pageGood, false)

	runFrames(it, 5)

	require.Len(t, errInst, 1)
	assert.Same(t, bad, errInst[0])
	assert.Contains(t, messages[0], "boom")
	assert.False(t, it.IsEventRunning(1))
	assert.Equal(t, StateError, bad.State)
	assert.Equal(t, 0, bad.ErrorCommandIndex)
	assert.ErrorIs(t, bad.LastError, boom)
	assert.Equal(t, 1, bad.Context.CommandIndex)
	assert.Equal(t, 0, gs.vars[9])
	assert.Equal(t, 7, gs.vars[1])
	assert.Equal(t, uint64(1), it.Statistics().TotalEventsCompleted)
}

func TestMissingScriptIsFatal(t *testing.T) {
	it, _ := newTestInterpreter(Options{Scripts: NewScriptTable()})
	ev, page := newEvent(1, resource.NewScript(0, "nope", nil))
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	assert.ErrorIs(t, inst.LastError, ErrScriptNotFound)
}

func TestScriptWithoutInvoker(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	ev, page := newEvent(1, resource.NewScript(0, "any", nil))
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	assert.ErrorIs(t, inst.LastError, ErrNoScriptInvoker)
}

func TestScriptSeesGameState(t *testing.T) {
	scripts := NewScriptTable()
	scripts.Register("bump", func(_ context.Context, call *ScriptCall) (bool, error) {
		call.State.SetVariable(3, call.State.GetVariable(3)+call.Event.ID)
		assert.Equal(t, "v", call.Args["k"])
		assert.Equal(t, 0, call.Context.CommandIndex)
		return true, nil
	})
	it, gs := newTestInterpreter(Options{Scripts: scripts})
	ev, page := newEvent(4, resource.NewScript(0, "bump", map[string]interface{}{"k": "v"}))
	it.StartEvent(ev, page, false)
	it.Update(0)
	assert.Equal(t, 4, gs.vars[3])
}

func TestHandlerPanicBecomesError(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1, resource.NewShowText(0, "x"))
	inst := it.StartEvent(ev, page, false)
	inst.OnShowText = func(string, resource.ShowTextParams) { panic("ui gone") }
	other, otherPage := newEvent(2, resource.NewControlVariable(0, 1, "set", 3))
	it.StartEvent(other, otherPage, false)

	it.Update(0)
	assert.Equal(t, StateError, inst.State)
	assert.Contains(t, inst.LastError.Error(), "ui gone")
	assert.Equal(t, 3, gs.vars[1])
}

func TestDecodeErrorIsFatal(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	bad := resource.NewCommand(resource.KindShowText, 0, map[string]interface{}{
		"text": map[string]interface{}{"nested": true},
	})
	ev, page := newEvent(1, bad)
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	assert.Equal(t, StateError, inst.State)
	assert.Error(t, inst.LastError)
}

func TestUnknownKindIsSkipped(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1,
		resource.NewCommand("play_movie", 0, map[string]interface{}{"name": "intro"}),
		resource.NewControlVariable(0, 1, "set", 1),
	)
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	assert.Equal(t, StateFinished, inst.State)
	assert.Nil(t, inst.LastError)
	assert.Equal(t, 1, gs.vars[1])
}

func TestExitEvent(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(1,
		resource.NewLoop(0),
		resource.NewExitEvent(1),
		resource.NewControlVariable(0, 1, "set", 1),
	)
	inst := it.StartEvent(ev, page, false)
	it.Update(0)
	assert.Equal(t, StateFinished, inst.State)
	assert.True(t, inst.Context.IsFinished())
	assert.Equal(t, 0, gs.vars[1])
	assert.Equal(t, uint64(1), it.Statistics().TotalEventsCompleted)
}

// ---- 总线透传 ----

func TestPassThroughNotifications(t *testing.T) {
	bus := &recordingBus{}
	it, _ := newTestInterpreter(Options{Bus: bus})
	ev, page := newEvent(1,
		resource.NewPlayBGM(0, "Theme1", 90, 100, 0),
		resource.NewPlaySE(0, "Cursor1", 80, 100, 0),
		resource.NewFadeoutBGM(0, 3),
		resource.NewTransferPlayer(0, 2, 5, 6, 2),
	)
	it.StartEvent(ev, page, false)
	it.Update(0)
	assert.Equal(t, []string{BusPlayBGM, BusPlaySE, BusFadeoutBGM, BusTransferPlayer}, bus.types())
	assert.Equal(t, "Theme1", bus.events[0].Data["name"])
	assert.Equal(t, 2, bus.events[3].Data["map_id"])

	// 通知数据是参数副本。
	bus.events[0].Data["name"] = "changed"
	assert.Equal(t, "Theme1", page.List[0].Parameters["name"])
}

func TestNilBusIsSafe(t *testing.T) {
	it, _ := newTestInterpreter(Options{})
	ev, page := newEvent(1,
		resource.NewShowText(0, "x"),
		resource.NewPlayBGM(0, "Theme1", 90, 100, 0),
		resource.NewTransferPlayer(0, 2, 5, 6, 2),
	)
	it.StartEvent(ev, page, false)
	assert.NotPanics(t, func() {
		it.Update(0)
		it.ResumeMessage(1)
		it.Update(0)
	})
	assert.False(t, it.IsEventRunning(1))
}

func TestResumeFindsParallelInstance(t *testing.T) {
	it, gs := newTestInterpreter(Options{})
	ev, page := newEvent(8, resource.NewShowText(0, "p"), resource.NewControlVariable(0, 1, "set", 1))
	it.StartEvent(ev, page, true)
	it.Update(0)
	assert.True(t, it.ResumeMessage(8))
	it.Update(0)
	assert.Equal(t, 1, gs.vars[1])
}
