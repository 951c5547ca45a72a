package resource

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Typed parameter views, one per command kind. Fields not listed in a view
// are collected into Extra, so newer data never fails to decode.

// ConditionParams is the operand set of conditional_branch.
type ConditionParams struct {
	ConditionType string `mapstructure:"condition_type"` // switch | variable | self_switch | script | choice
	SwitchID      int    `mapstructure:"switch_id"`
	Value         bool   `mapstructure:"value"`
	VariableID    int    `mapstructure:"variable_id"`
	Operator      string `mapstructure:"operator"`     // == != > >= < <=
	CompareType   string `mapstructure:"compare_type"` // constant | variable
	CompareValue  int    `mapstructure:"compare_value"`
	Channel       string `mapstructure:"channel"`
	Script        string `mapstructure:"script"`
	ChoiceIndex   int    `mapstructure:"choice_index"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// ShowTextParams is the operand set of show_text.
type ShowTextParams struct {
	Text       string `mapstructure:"text"`
	FaceName   string `mapstructure:"face_name"`
	FaceIndex  int    `mapstructure:"face_index"`
	Background int    `mapstructure:"background"` // 0=window 1=dim 2=transparent
	Position   int    `mapstructure:"position"`   // 0=top 1=middle 2=bottom

	Extra map[string]interface{} `mapstructure:",remain"`
}

// ShowChoicesParams is the operand set of show_choices.
type ShowChoicesParams struct {
	Choices       []string `mapstructure:"choices"`
	DefaultChoice int      `mapstructure:"default_choice"`
	CancelType    int      `mapstructure:"cancel_type"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// ControlSwitchesParams is the operand set of control_switches.
// EndID of zero (or below SwitchID) addresses the single switch SwitchID.
type ControlSwitchesParams struct {
	SwitchID int  `mapstructure:"switch_id"`
	Value    bool `mapstructure:"value"`
	EndID    int  `mapstructure:"end_id"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// ControlVariablesParams is the operand set of control_variables.
// OperandValue is an int for constant/variable operands and a [min, max]
// pair for random operands, so it stays loosely typed here.
type ControlVariablesParams struct {
	VariableID   int         `mapstructure:"variable_id"`
	Operation    string      `mapstructure:"operation"`    // set add sub mul div mod
	OperandType  string      `mapstructure:"operand_type"` // constant variable random
	OperandValue interface{} `mapstructure:"operand_value"`
	EndID        int         `mapstructure:"end_id"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// SelfSwitchParams is the operand set of control_self_switch.
type SelfSwitchParams struct {
	Channel string `mapstructure:"channel"`
	Value   bool   `mapstructure:"value"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// WaitParams is the operand set of wait; Duration counts frames.
type WaitParams struct {
	Duration int `mapstructure:"duration"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// AudioParams is the operand set of play_bgm and play_se.
type AudioParams struct {
	Name   string `mapstructure:"name"`
	Volume int    `mapstructure:"volume"`
	Pitch  int    `mapstructure:"pitch"`
	Pan    int    `mapstructure:"pan"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// TransferParams is the operand set of transfer_player.
type TransferParams struct {
	MapID     int `mapstructure:"map_id"`
	X         int `mapstructure:"x"`
	Y         int `mapstructure:"y"`
	Direction int `mapstructure:"direction"` // 0=keep 2=down 4=left 6=right 8=up
	FadeType  int `mapstructure:"fade_type"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// ScriptParams is the operand set of script. Script is the id of a
// registered hook, never source text evaluated by the interpreter itself.
type ScriptParams struct {
	Script string                 `mapstructure:"script"`
	Args   map[string]interface{} `mapstructure:"args"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// MoveRouteParams is the operand set of set_move_route.
// Target 0 means the running event itself.
type MoveRouteParams struct {
	Target int           `mapstructure:"target"`
	Route  []interface{} `mapstructure:"route"`
	Wait   bool          `mapstructure:"wait"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// DecodeParams decodes the command's parameter map into out.
// Numeric strings and JSON floats are converted weakly, matching the
// loose typing of hand-authored data; a value of the wrong shape (a map
// where a string is expected) is an error.
func (c *EventCommand) DecodeParams(out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(c.Parameters); err != nil {
		return fmt.Errorf("resource: decode %s parameters: %w", c.Kind, err)
	}
	return nil
}

// Condition decodes a conditional_branch operand set.
func (c *EventCommand) Condition() (ConditionParams, error) {
	var p ConditionParams
	err := c.DecodeParams(&p)
	return p, err
}

// ShowText decodes a show_text operand set.
func (c *EventCommand) ShowText() (ShowTextParams, error) {
	var p ShowTextParams
	err := c.DecodeParams(&p)
	return p, err
}

// ShowChoices decodes a show_choices operand set.
func (c *EventCommand) ShowChoices() (ShowChoicesParams, error) {
	var p ShowChoicesParams
	err := c.DecodeParams(&p)
	return p, err
}

// ControlSwitches decodes a control_switches operand set.
func (c *EventCommand) ControlSwitches() (ControlSwitchesParams, error) {
	var p ControlSwitchesParams
	err := c.DecodeParams(&p)
	return p, err
}

// ControlVariables decodes a control_variables operand set.
func (c *EventCommand) ControlVariables() (ControlVariablesParams, error) {
	var p ControlVariablesParams
	err := c.DecodeParams(&p)
	return p, err
}

// SelfSwitch decodes a control_self_switch operand set.
func (c *EventCommand) SelfSwitch() (SelfSwitchParams, error) {
	var p SelfSwitchParams
	err := c.DecodeParams(&p)
	return p, err
}

// Wait decodes a wait operand set.
func (c *EventCommand) Wait() (WaitParams, error) {
	var p WaitParams
	err := c.DecodeParams(&p)
	return p, err
}

// Script decodes a script operand set.
func (c *EventCommand) Script() (ScriptParams, error) {
	var p ScriptParams
	err := c.DecodeParams(&p)
	return p, err
}

// Audio decodes a play_bgm or play_se operand set.
func (c *EventCommand) Audio() (AudioParams, error) {
	var p AudioParams
	err := c.DecodeParams(&p)
	return p, err
}

// Transfer decodes a transfer_player operand set.
func (c *EventCommand) Transfer() (TransferParams, error) {
	var p TransferParams
	err := c.DecodeParams(&p)
	return p, err
}

// MoveRoute decodes a set_move_route operand set.
func (c *EventCommand) MoveRoute() (MoveRouteParams, error) {
	var p MoveRouteParams
	err := c.DecodeParams(&p)
	return p, err
}
