package resource

import (
	"errors"
	"fmt"

	"github.com/spf13/cast"
)

// ErrUnknownTrigger is returned when a page names a trigger or priority
// this module does not define.
var ErrUnknownTrigger = errors.New("resource: unknown trigger")

// Trigger decides how the map layer starts a page. The interpreter itself
// never reads it.
type Trigger int

const (
	TriggerActionButton Trigger = iota
	TriggerPlayerTouch
	TriggerEventTouch
	TriggerAutorun
	TriggerParallel
)

var triggerNames = []string{"action_button", "player_touch", "event_touch", "autorun", "parallel"}

func (t Trigger) String() string {
	if int(t) < 0 || int(t) >= len(triggerNames) {
		return fmt.Sprintf("trigger(%d)", int(t))
	}
	return triggerNames[t]
}

// ParseTrigger maps a stable name back to its Trigger.
func ParseTrigger(name string) (Trigger, error) {
	for i, n := range triggerNames {
		if n == name {
			return Trigger(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
}

// Priority is the render layer of the event relative to the player.
type Priority int

const (
	PriorityBelow Priority = iota
	PrioritySame
	PriorityAbove
)

var priorityNames = []string{"below", "same", "above"}

func (p Priority) String() string {
	if int(p) < 0 || int(p) >= len(priorityNames) {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority maps a stable name back to its Priority.
func ParsePriority(name string) (Priority, error) {
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("%w: priority %q", ErrUnknownTrigger, name)
}

// PageConditions holds the activation conditions for an event page.
// Switch2 has no expected value: it must be ON.
// The variable condition holds when the value is >= VariableValue.
type PageConditions struct {
	Switch1Valid    bool
	Switch1ID       int
	Switch1Value    bool
	Switch2Valid    bool
	Switch2ID       int
	VariableValid   bool
	VariableID      int
	VariableValue   int
	SelfSwitchValid bool
	SelfSwitchCh    string
	SelfSwitchValue bool
}

// DefaultConditions returns conditions with nothing enabled and the
// expected values set to ON.
func DefaultConditions() PageConditions {
	return PageConditions{Switch1Value: true, SelfSwitchValue: true, SelfSwitchCh: "A"}
}

// ConditionState is the read side of the switch/variable store.
type ConditionState interface {
	GetSwitch(id int) bool
	GetVariable(id int) int
}

// SelfSwitchReader reads per-event self-switches.
type SelfSwitchReader interface {
	GetSelfSwitch(eventID int, ch string) bool
}

// Satisfied reports whether every enabled condition holds.
// A nil state fails any switch or variable condition; a nil self reader
// fails a self-switch condition.
func (c *PageConditions) Satisfied(eventID int, state ConditionState, self SelfSwitchReader) bool {
	if c.Switch1Valid {
		if state == nil || state.GetSwitch(c.Switch1ID) != c.Switch1Value {
			return false
		}
	}
	if c.Switch2Valid {
		if state == nil || !state.GetSwitch(c.Switch2ID) {
			return false
		}
	}
	if c.VariableValid {
		if state == nil || state.GetVariable(c.VariableID) < c.VariableValue {
			return false
		}
	}
	if c.SelfSwitchValid {
		if self == nil || self.GetSelfSwitch(eventID, c.SelfSwitchCh) != c.SelfSwitchValue {
			return false
		}
	}
	return true
}

func (c *PageConditions) toMap() map[string]interface{} {
	return map[string]interface{}{
		"switch1_valid":     c.Switch1Valid,
		"switch1_id":        c.Switch1ID,
		"switch1_value":     c.Switch1Value,
		"switch2_valid":     c.Switch2Valid,
		"switch2_id":        c.Switch2ID,
		"variable_valid":    c.VariableValid,
		"variable_id":       c.VariableID,
		"variable_value":    c.VariableValue,
		"self_switch_valid": c.SelfSwitchValid,
		"self_switch_ch":    c.SelfSwitchCh,
		"self_switch_value": c.SelfSwitchValue,
	}
}

func conditionsFromMap(m map[string]interface{}) PageConditions {
	c := DefaultConditions()
	c.Switch1Valid = cast.ToBool(m["switch1_valid"])
	c.Switch1ID = cast.ToInt(m["switch1_id"])
	if v, ok := m["switch1_value"]; ok {
		c.Switch1Value = cast.ToBool(v)
	}
	c.Switch2Valid = cast.ToBool(m["switch2_valid"])
	c.Switch2ID = cast.ToInt(m["switch2_id"])
	c.VariableValid = cast.ToBool(m["variable_valid"])
	c.VariableID = cast.ToInt(m["variable_id"])
	c.VariableValue = cast.ToInt(m["variable_value"])
	c.SelfSwitchValid = cast.ToBool(m["self_switch_valid"])
	if v, ok := m["self_switch_ch"]; ok {
		c.SelfSwitchCh = cast.ToString(v)
	}
	if v, ok := m["self_switch_value"]; ok {
		c.SelfSwitchValue = cast.ToBool(v)
	}
	return c
}

// EventPage is one page of an event: a command list guarded by conditions.
// Graphic and Movement are opaque to the interpreter and carried as-is.
type EventPage struct {
	Conditions PageConditions
	Trigger    Trigger
	Priority   Priority
	Graphic    map[string]interface{}
	Movement   map[string]interface{}
	List       []*EventCommand
}

// NewEventPage returns an empty action-button page with default conditions.
func NewEventPage(cmds ...*EventCommand) *EventPage {
	return &EventPage{
		Conditions: DefaultConditions(),
		Trigger:    TriggerActionButton,
		Priority:   PrioritySame,
		Graphic:    map[string]interface{}{},
		Movement:   map[string]interface{}{},
		List:       cmds,
	}
}

// ToMap converts the page to its nested map form.
func (p *EventPage) ToMap() map[string]interface{} {
	cmds := make([]interface{}, 0, len(p.List))
	for _, c := range p.List {
		if c == nil {
			continue
		}
		cmds = append(cmds, c.ToMap())
	}
	return map[string]interface{}{
		"conditions": p.Conditions.toMap(),
		"trigger":    p.Trigger.String(),
		"priority":   p.Priority.String(),
		"graphic":    copyMap(p.Graphic),
		"movement":   copyMap(p.Movement),
		"list":       cmds,
	}
}

// PageFromMap rebuilds a page from the map produced by ToMap.
func PageFromMap(m map[string]interface{}) (*EventPage, error) {
	p := NewEventPage()
	if raw, ok := m["conditions"]; ok && raw != nil {
		cm, err := toStringMap(raw)
		if err != nil {
			return nil, fmt.Errorf("resource: page conditions: %w", err)
		}
		p.Conditions = conditionsFromMap(cm)
	}
	if raw, ok := m["trigger"]; ok {
		t, err := ParseTrigger(cast.ToString(raw))
		if err != nil {
			return nil, err
		}
		p.Trigger = t
	}
	if raw, ok := m["priority"]; ok {
		pr, err := ParsePriority(cast.ToString(raw))
		if err != nil {
			return nil, err
		}
		p.Priority = pr
	}
	for _, key := range []string{"graphic", "movement"} {
		raw, ok := m[key]
		if !ok || raw == nil {
			continue
		}
		gm, err := toStringMap(raw)
		if err != nil {
			return nil, fmt.Errorf("resource: page %s: %w", key, err)
		}
		if key == "graphic" {
			p.Graphic = gm
		} else {
			p.Movement = gm
		}
	}
	list, err := toSlice(m["list"])
	if err != nil {
		return nil, fmt.Errorf("resource: page list: %w", err)
	}
	for i, raw := range list {
		cm, err := toStringMap(raw)
		if err != nil {
			return nil, fmt.Errorf("resource: command %d: %w", i, err)
		}
		cmd, err := CommandFromMap(cm)
		if err != nil {
			return nil, fmt.Errorf("resource: command %d: %w", i, err)
		}
		p.List = append(p.List, cmd)
	}
	return p, nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toSlice(v interface{}) ([]interface{}, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return s, nil
	case []map[string]interface{}:
		out := make([]interface{}, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list, got %T", v)
}
