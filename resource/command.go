package resource

import (
	"fmt"

	"github.com/spf13/cast"
)

// CommandKind is the stable string name of an event command.
// Unknown names are preserved verbatim so data authored for a newer
// interpreter still round-trips.
type CommandKind string

const (
	KindConditionalBranch CommandKind = "conditional_branch"
	KindBranchEnd         CommandKind = "branch_end"
	KindLoop              CommandKind = "loop"
	KindRepeatAbove       CommandKind = "repeat_above"
	KindBreakLoop         CommandKind = "break_loop"
	KindExitEvent         CommandKind = "exit_event"
	KindLabel             CommandKind = "label"
	KindJumpToLabel       CommandKind = "jump_to_label"
	KindComment           CommandKind = "comment"
	KindWait              CommandKind = "wait"
	KindShowText          CommandKind = "show_text"
	KindShowChoices       CommandKind = "show_choices"
	KindControlSwitches   CommandKind = "control_switches"
	KindControlVariables  CommandKind = "control_variables"
	KindControlSelfSwitch CommandKind = "control_self_switch"
	KindPlayBGM           CommandKind = "play_bgm"
	KindPlaySE            CommandKind = "play_se"
	KindFadeoutBGM        CommandKind = "fadeout_bgm"
	KindTransferPlayer    CommandKind = "transfer_player"
	KindScript            CommandKind = "script"
	KindSetMoveRoute      CommandKind = "set_move_route"
	KindWaitForMovement   CommandKind = "wait_for_movement"
)

var knownKinds = map[CommandKind]bool{
	KindConditionalBranch: true,
	KindBranchEnd:         true,
	KindLoop:              true,
	KindRepeatAbove:       true,
	KindBreakLoop:         true,
	KindExitEvent:         true,
	KindLabel:             true,
	KindJumpToLabel:       true,
	KindComment:           true,
	KindWait:              true,
	KindShowText:          true,
	KindShowChoices:       true,
	KindControlSwitches:   true,
	KindControlVariables:  true,
	KindControlSelfSwitch: true,
	KindPlayBGM:           true,
	KindPlaySE:            true,
	KindFadeoutBGM:        true,
	KindTransferPlayer:    true,
	KindScript:            true,
	KindSetMoveRoute:      true,
	KindWaitForMovement:   true,
}

// Known reports whether k is one of the kinds this module understands.
func (k CommandKind) Known() bool { return knownKinds[k] }

// OpensBlock reports whether commands following k may be indented one level deeper.
func (k CommandKind) OpensBlock() bool {
	return k == KindConditionalBranch || k == KindLoop
}

// EventCommand is a single event command.
// Parameters holds the operand set whose shape depends on Kind; see params.go
// for the typed view of each kind.
type EventCommand struct {
	Kind       CommandKind            `json:"kind"`
	Parameters map[string]interface{} `json:"parameters"`
	Indent     int                    `json:"indent"`
}

// NewCommand builds a command with a private copy of params.
func NewCommand(kind CommandKind, indent int, params map[string]interface{}) *EventCommand {
	p := make(map[string]interface{}, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &EventCommand{Kind: kind, Parameters: p, Indent: indent}
}

// Param returns the raw parameter value for key, or nil.
func (c *EventCommand) Param(key string) interface{} {
	if c == nil || c.Parameters == nil {
		return nil
	}
	return c.Parameters[key]
}

// ParamString returns a parameter as a string ("" when absent).
func (c *EventCommand) ParamString(key string) string {
	return cast.ToString(c.Param(key))
}

// ParamInt returns a parameter as an int (0 when absent or not numeric).
func (c *EventCommand) ParamInt(key string) int {
	return cast.ToInt(c.Param(key))
}

// ToMap converts the command to its nested map form.
func (c *EventCommand) ToMap() map[string]interface{} {
	params := make(map[string]interface{}, len(c.Parameters))
	for k, v := range c.Parameters {
		params[k] = v
	}
	return map[string]interface{}{
		"kind":       string(c.Kind),
		"parameters": params,
		"indent":     c.Indent,
	}
}

// CommandFromMap rebuilds a command from the map produced by ToMap.
func CommandFromMap(m map[string]interface{}) (*EventCommand, error) {
	kind, err := cast.ToStringE(m["kind"])
	if err != nil || kind == "" {
		return nil, fmt.Errorf("resource: command kind missing or invalid: %v", m["kind"])
	}
	indent, err := cast.ToIntE(valueOr(m["indent"], 0))
	if err != nil {
		return nil, fmt.Errorf("resource: command %s indent: %w", kind, err)
	}
	if indent < 0 {
		return nil, fmt.Errorf("resource: command %s: %w (indent %d)", kind, ErrMalformedIndent, indent)
	}
	params := map[string]interface{}{}
	if raw, ok := m["parameters"]; ok && raw != nil {
		pm, err := toStringMap(raw)
		if err != nil {
			return nil, fmt.Errorf("resource: command %s parameters: %w", kind, err)
		}
		params = pm
	}
	return &EventCommand{Kind: CommandKind(kind), Parameters: params, Indent: indent}, nil
}

// valueOr returns def when v is nil.
func valueOr(v, def interface{}) interface{} {
	if v == nil {
		return def
	}
	return v
}

// toStringMap accepts both map[string]interface{} and the
// map[interface{}]interface{} shape some decoders produce.
func toStringMap(v interface{}) (map[string]interface{}, error) {
	switch m := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = normalizeValue(val)
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[cast.ToString(k)] = normalizeValue(val)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected map, got %T", v)
}
