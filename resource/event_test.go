package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type condState struct {
	switches  map[int]bool
	variables map[int]int
	self      map[string]bool
}

func newCondState() *condState {
	return &condState{switches: map[int]bool{}, variables: map[int]int{}, self: map[string]bool{}}
}

func (s *condState) GetSwitch(id int) bool   { return s.switches[id] }
func (s *condState) GetVariable(id int) int  { return s.variables[id] }
func (s *condState) GetSelfSwitch(eventID int, ch string) bool {
	return s.self[ch]
}

// sampleEvent covers every constructor so the codecs see each parameter shape.
func sampleEvent() *GameEvent {
	ev := NewGameEvent(7, "Guard", 3, 4)
	p := ev.Pages[0]
	p.Trigger = TriggerAutorun
	p.Priority = PriorityAbove
	p.Graphic["character_name"] = "Actor1"
	p.Conditions.Switch1Valid = true
	p.Conditions.Switch1ID = 5
	p.List = []*EventCommand{
		NewShowTextWithFace(0, "Halt!", "Actor1", 2),
		NewShowChoices(0, []string{"Yes", "No"}, 1),
		NewChoiceCondition(0, 0),
		NewControlVariableRandom(1, 2, "add", 1, 6),
		NewElse(0),
		NewScript(1, "greet", map[string]interface{}{"times": 2, "loud": true}),
		NewBranchEnd(0),
		NewLoop(0),
		NewWait(1, 30),
		NewBreakLoop(1),
		NewRepeatAbove(0),
		NewSetMoveRoute(0, 0, []interface{}{map[string]interface{}{"code": 1}}, true),
		NewWaitForMovement(0),
		NewPlayBGM(0, "Town", 90, 100, 0),
		NewTransferPlayer(0, 2, 10, 11, 8),
		NewControlSelfSwitch(0, "B", true),
		NewExitEvent(0),
	}
	page2 := NewEventPage(NewShowText(0, "Second"))
	page2.Conditions.SelfSwitchValid = true
	page2.Conditions.SelfSwitchCh = "B"
	ev.Pages = append(ev.Pages, page2)
	return ev
}

func TestEventMapRoundTrip(t *testing.T) {
	ev := sampleEvent()
	back, err := EventFromMap(ev.ToMap())
	require.NoError(t, err)
	assert.Equal(t, ev.ToMap(), back.ToMap())
}

func TestEventJSONRoundTrip(t *testing.T) {
	ev := sampleEvent()
	data, err := EncodeJSON(ev)
	require.NoError(t, err)

	back, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, ev.ToMap(), back.ToMap())
	assert.Equal(t, 30, back.Pages[0].List[8].Parameters["duration"])
}

func TestEventYAMLRoundTrip(t *testing.T) {
	ev := sampleEvent()
	data, err := EncodeYAML(ev)
	require.NoError(t, err)

	back, err := DecodeYAML(data)
	require.NoError(t, err)
	assert.Equal(t, ev.ToMap(), back.ToMap())
}

func TestEventMarshalJSONInterface(t *testing.T) {
	ev := sampleEvent()
	data, err := ev.MarshalJSON()
	require.NoError(t, err)

	var back GameEvent
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, 7, back.ID)
	assert.Equal(t, "Guard", back.Name)
	assert.Len(t, back.Pages, 2)
}

func TestUnknownKindPreserved(t *testing.T) {
	ev := NewGameEvent(1, "Future", 0, 0)
	ev.Pages[0].List = []*EventCommand{NewCommand("show_picture", 0, map[string]interface{}{"name": "x"})}

	data, err := EncodeJSON(ev)
	require.NoError(t, err)
	back, err := DecodeJSON(data)
	require.NoError(t, err)
	cmd := back.Pages[0].List[0]
	assert.Equal(t, CommandKind("show_picture"), cmd.Kind)
	assert.False(t, cmd.Kind.Known())
	assert.Equal(t, "x", cmd.ParamString("name"))
}

func TestEventFromMapPages(t *testing.T) {
	ev, err := EventFromMap(map[string]interface{}{"id": 1, "name": "n"})
	require.NoError(t, err)
	assert.Len(t, ev.Pages, 1, "missing pages gets a default page")

	ev, err = EventFromMap(map[string]interface{}{"id": 1, "pages": []interface{}{}})
	require.NoError(t, err)
	assert.Empty(t, ev.Pages, "explicit empty list stays empty")
}

func TestEventFromMapErrors(t *testing.T) {
	_, err := EventFromMap(map[string]interface{}{"id": "abc"})
	assert.Error(t, err)

	_, err = EventFromMap(map[string]interface{}{"id": 1, "pages": "nope"})
	assert.Error(t, err)

	_, err = EventFromMap(map[string]interface{}{"id": 1, "pages": []interface{}{
		map[string]interface{}{"trigger": "teleport"},
	}})
	assert.ErrorIs(t, err, ErrUnknownTrigger)

	_, err = CommandFromMap(map[string]interface{}{"indent": 0})
	assert.Error(t, err)

	_, err = CommandFromMap(map[string]interface{}{"kind": "wait", "indent": -1})
	assert.ErrorIs(t, err, ErrMalformedIndent)
}

func TestActivePageSelection(t *testing.T) {
	ev := sampleEvent()
	st := newCondState()

	assert.Nil(t, ev.ActivePage(st, st), "switch 5 off, self B off")

	st.switches[5] = true
	assert.Same(t, ev.Pages[0], ev.ActivePage(st, st))
	assert.Same(t, ev.Pages[0], ev.HighestActivePage(st, st))

	st.self["B"] = true
	assert.Same(t, ev.Pages[0], ev.ActivePage(st, st), "first satisfied page")
	assert.Same(t, ev.Pages[1], ev.HighestActivePage(st, st), "last satisfied page")
	assert.Equal(t, 1, ev.PageIndex(ev.Pages[1]))
	assert.Equal(t, -1, ev.PageIndex(NewEventPage()))
}

func TestPageConditions(t *testing.T) {
	st := newCondState()
	c := DefaultConditions()
	assert.True(t, c.Satisfied(1, nil, nil), "no condition enabled")

	c.VariableValid = true
	c.VariableID = 3
	c.VariableValue = 10
	assert.False(t, c.Satisfied(1, nil, nil), "nil state fails variable condition")
	st.variables[3] = 9
	assert.False(t, c.Satisfied(1, st, st))
	st.variables[3] = 10
	assert.True(t, c.Satisfied(1, st, st), "variable >= value")

	c.Switch2Valid = true
	c.Switch2ID = 4
	assert.False(t, c.Satisfied(1, st, st))
	st.switches[4] = true
	assert.True(t, c.Satisfied(1, st, st))

	c.Switch1Valid = true
	c.Switch1ID = 8
	c.Switch1Value = false
	assert.True(t, c.Satisfied(1, st, st), "switch1 expected OFF")
}

func TestTriggerAndPriorityNames(t *testing.T) {
	for _, tr := range []Trigger{TriggerActionButton, TriggerPlayerTouch, TriggerEventTouch, TriggerAutorun, TriggerParallel} {
		back, err := ParseTrigger(tr.String())
		require.NoError(t, err)
		assert.Equal(t, tr, back)
	}
	assert.Equal(t, "trigger(9)", Trigger(9).String())

	p, err := ParsePriority("below")
	require.NoError(t, err)
	assert.Equal(t, PriorityBelow, p)
	_, err = ParsePriority("side")
	assert.ErrorIs(t, err, ErrUnknownTrigger)
}
