package resource

// Command constructors. Each writes exactly the parameter keys the
// interpreter's handler for that kind reads.

// ElseMarker is the comment text that separates the two arms of a
// conditional branch.
const ElseMarker = "else"

// NewShowText builds a show_text command.
func NewShowText(indent int, text string) *EventCommand {
	return NewCommand(KindShowText, indent, map[string]interface{}{
		"text":       text,
		"face_name":  "",
		"face_index": 0,
		"background": 0,
		"position":   2,
	})
}

// NewShowTextWithFace builds a show_text command with a face graphic.
func NewShowTextWithFace(indent int, text, faceName string, faceIndex int) *EventCommand {
	c := NewShowText(indent, text)
	c.Parameters["face_name"] = faceName
	c.Parameters["face_index"] = faceIndex
	return c
}

// NewShowChoices builds a show_choices command. Choices are stored as
// []interface{} so the map form equals its decoded JSON form.
func NewShowChoices(indent int, choices []string, defaultChoice int) *EventCommand {
	list := make([]interface{}, len(choices))
	for i, c := range choices {
		list[i] = c
	}
	return NewCommand(KindShowChoices, indent, map[string]interface{}{
		"choices":        list,
		"default_choice": defaultChoice,
		"cancel_type":    -1,
	})
}

// NewSwitchCondition builds a conditional_branch on switchID == expected.
func NewSwitchCondition(indent, switchID int, expected bool) *EventCommand {
	return NewCommand(KindConditionalBranch, indent, map[string]interface{}{
		"condition_type": "switch",
		"switch_id":      switchID,
		"value":          expected,
	})
}

// NewVariableCondition builds a conditional_branch comparing variable
// variableID against a constant with op.
func NewVariableCondition(indent, variableID int, op string, value int) *EventCommand {
	return NewCommand(KindConditionalBranch, indent, map[string]interface{}{
		"condition_type": "variable",
		"variable_id":    variableID,
		"operator":       op,
		"compare_type":   "constant",
		"compare_value":  value,
	})
}

// NewVariableRefCondition builds a conditional_branch comparing two variables.
func NewVariableRefCondition(indent, variableID int, op string, otherID int) *EventCommand {
	c := NewVariableCondition(indent, variableID, op, otherID)
	c.Parameters["compare_type"] = "variable"
	return c
}

// NewSelfSwitchCondition builds a conditional_branch on a self-switch channel.
func NewSelfSwitchCondition(indent int, channel string, expected bool) *EventCommand {
	return NewCommand(KindConditionalBranch, indent, map[string]interface{}{
		"condition_type": "self_switch",
		"channel":        channel,
		"value":          expected,
	})
}

// NewScriptCondition builds a conditional_branch decided by a registered script hook.
func NewScriptCondition(indent int, scriptID string) *EventCommand {
	return NewCommand(KindConditionalBranch, indent, map[string]interface{}{
		"condition_type": "script",
		"script":         scriptID,
	})
}

// NewChoiceCondition builds a conditional_branch that holds when the last
// choice selection equals index.
func NewChoiceCondition(indent, index int) *EventCommand {
	return NewCommand(KindConditionalBranch, indent, map[string]interface{}{
		"condition_type": "choice",
		"choice_index":   index,
	})
}

// NewElse builds the else marker for a branch opened at branchIndent.
func NewElse(branchIndent int) *EventCommand {
	return NewComment(branchIndent+1, ElseMarker)
}

// NewBranchEnd builds the optional end marker of a branch opened at indent.
func NewBranchEnd(indent int) *EventCommand {
	return NewCommand(KindBranchEnd, indent, nil)
}

// NewControlSwitch sets a single switch.
func NewControlSwitch(indent, switchID int, value bool) *EventCommand {
	return NewCommand(KindControlSwitches, indent, map[string]interface{}{
		"switch_id": switchID,
		"value":     value,
	})
}

// NewControlSwitchRange sets every switch in [startID, endID].
func NewControlSwitchRange(indent, startID, endID int, value bool) *EventCommand {
	c := NewControlSwitch(indent, startID, value)
	c.Parameters["end_id"] = endID
	return c
}

// NewControlVariable applies op with a constant operand to one variable.
func NewControlVariable(indent, variableID int, op string, value int) *EventCommand {
	return NewCommand(KindControlVariables, indent, map[string]interface{}{
		"variable_id":   variableID,
		"operation":     op,
		"operand_type":  "constant",
		"operand_value": value,
	})
}

// NewControlVariableRef applies op using the value of variable sourceID.
func NewControlVariableRef(indent, variableID int, op string, sourceID int) *EventCommand {
	c := NewControlVariable(indent, variableID, op, sourceID)
	c.Parameters["operand_type"] = "variable"
	return c
}

// NewControlVariableRandom applies op with a uniform random integer in [min, max].
func NewControlVariableRandom(indent, variableID int, op string, min, max int) *EventCommand {
	c := NewControlVariable(indent, variableID, op, 0)
	c.Parameters["operand_type"] = "random"
	c.Parameters["operand_value"] = []interface{}{min, max}
	return c
}

// NewControlVariableRange applies op with a constant operand to [startID, endID].
func NewControlVariableRange(indent, startID, endID int, op string, value int) *EventCommand {
	c := NewControlVariable(indent, startID, op, value)
	c.Parameters["end_id"] = endID
	return c
}

// NewControlSelfSwitch sets a self-switch channel of the running event.
func NewControlSelfSwitch(indent int, channel string, value bool) *EventCommand {
	return NewCommand(KindControlSelfSwitch, indent, map[string]interface{}{
		"channel": channel,
		"value":   value,
	})
}

// NewWait suspends the event for frames frames.
func NewWait(indent, frames int) *EventCommand {
	return NewCommand(KindWait, indent, map[string]interface{}{"duration": frames})
}

// NewPlayBGM builds a play_bgm command.
func NewPlayBGM(indent int, name string, volume, pitch, pan int) *EventCommand {
	return NewCommand(KindPlayBGM, indent, map[string]interface{}{
		"name":   name,
		"volume": volume,
		"pitch":  pitch,
		"pan":    pan,
	})
}

// NewPlaySE builds a play_se command.
func NewPlaySE(indent int, name string, volume, pitch, pan int) *EventCommand {
	c := NewPlayBGM(indent, name, volume, pitch, pan)
	c.Kind = KindPlaySE
	return c
}

// NewFadeoutBGM fades the current BGM over duration seconds.
func NewFadeoutBGM(indent, duration int) *EventCommand {
	return NewCommand(KindFadeoutBGM, indent, map[string]interface{}{"duration": duration})
}

// NewTransferPlayer builds a transfer_player command.
func NewTransferPlayer(indent, mapID, x, y, direction int) *EventCommand {
	return NewCommand(KindTransferPlayer, indent, map[string]interface{}{
		"map_id":    mapID,
		"x":         x,
		"y":         y,
		"direction": direction,
		"fade_type": 0,
	})
}

// NewScript invokes the script hook registered under scriptID.
func NewScript(indent int, scriptID string, args map[string]interface{}) *EventCommand {
	params := map[string]interface{}{"script": scriptID}
	if args != nil {
		params["args"] = args
	}
	return NewCommand(KindScript, indent, params)
}

// NewLabel marks a jump target.
func NewLabel(indent int, name string) *EventCommand {
	return NewCommand(KindLabel, indent, map[string]interface{}{"name": name})
}

// NewJumpToLabel jumps to the label called name.
func NewJumpToLabel(indent int, name string) *EventCommand {
	return NewCommand(KindJumpToLabel, indent, map[string]interface{}{"label": name})
}

// NewComment builds a comment; it is also the else marker of a branch.
func NewComment(indent int, text string) *EventCommand {
	return NewCommand(KindComment, indent, map[string]interface{}{"text": text})
}

// NewLoop opens a loop whose body is indented one level deeper.
func NewLoop(indent int) *EventCommand { return NewCommand(KindLoop, indent, nil) }

// NewRepeatAbove closes a loop opened at indent.
func NewRepeatAbove(indent int) *EventCommand { return NewCommand(KindRepeatAbove, indent, nil) }

// NewBreakLoop leaves the innermost loop.
func NewBreakLoop(indent int) *EventCommand { return NewCommand(KindBreakLoop, indent, nil) }

// NewExitEvent ends the event immediately.
func NewExitEvent(indent int) *EventCommand { return NewCommand(KindExitEvent, indent, nil) }

// NewSetMoveRoute forwards a move route for target; wait suspends the
// event until the host reports the movement finished.
func NewSetMoveRoute(indent, target int, route []interface{}, wait bool) *EventCommand {
	if route == nil {
		route = []interface{}{}
	}
	return NewCommand(KindSetMoveRoute, indent, map[string]interface{}{
		"target": target,
		"route":  route,
		"wait":   wait,
	})
}

// NewWaitForMovement suspends the event until movement resumes it.
func NewWaitForMovement(indent int) *EventCommand {
	return NewCommand(KindWaitForMovement, indent, nil)
}
