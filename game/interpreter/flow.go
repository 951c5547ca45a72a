// 控制流：条件分支、循环与标签跳转。块边界由缩进推断。
package interpreter

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/eventvm/resource"
	"go.uber.org/zap"
)

var (
	// ErrUnknownCondition 表示条件分支的 condition_type 无法识别。
	ErrUnknownCondition = errors.New("interpreter: unknown condition type")
	// ErrUnknownOperator 表示比较或运算符无法识别。
	ErrUnknownOperator = errors.New("interpreter: unknown operator")
	// ErrNoScriptInvoker 表示未配置脚本调用器却执行了脚本。
	ErrNoScriptInvoker = errors.New("interpreter: no script invoker configured")
)

// ---- 分支跳过 ----

// shouldSkip 根据栈顶分支帧判断 idx 处的指令是否位于未激活的分支臂。
// 游标离开分支块（到达块尾之后或回到分支指令之前）的帧会先被弹出。
func (it *Interpreter) shouldSkip(inst *Instance, idx int) bool {
	for len(inst.BranchStack) > 0 {
		top := inst.BranchStack[len(inst.BranchStack)-1]
		if idx >= top.EndIndex || idx <= top.Index {
			inst.BranchStack = inst.BranchStack[:len(inst.BranchStack)-1]
			continue
		}
		switch {
		case top.Result && top.ElseIndex >= 0:
			return idx >= top.ElseIndex
		case top.Result:
			return false
		case top.ElseIndex >= 0:
			return idx <= top.ElseIndex
		default:
			return true
		}
	}
	return false
}

// findBranchBounds 从分支指令向后扫描：else 标记为缩进 = 分支缩进+1 的 "else" 注释，
// 块尾为其后第一条缩进 <= 分支缩进的指令（不存在时为列表长度）。
func findBranchBounds(cmds []*resource.EventCommand, idx int) (elseIdx, endIdx int) {
	indent := cmds[idx].Indent
	elseIdx = -1
	for j := idx + 1; j < len(cmds); j++ {
		c := cmds[j]
		if c == nil {
			continue
		}
		if c.Indent <= indent {
			return elseIdx, j
		}
		if elseIdx < 0 && resource.IsElseMarker(c, indent) {
			elseIdx = j
		}
	}
	return elseIdx, len(cmds)
}

// cmdConditionalBranch 求值条件、压入分支帧并把游标移入相应分支臂。
func (it *Interpreter) cmdConditionalBranch(inst *Instance, cmd *resource.EventCommand) error {
	ctx := inst.Context
	idx := ctx.CommandIndex
	result, err := it.evaluateCondition(inst, cmd)
	if err != nil {
		return err
	}
	elseIdx, endIdx := findBranchBounds(ctx.Commands(), idx)
	inst.BranchStack = append(inst.BranchStack, BranchFrame{
		Index:     idx,
		Result:    result,
		ElseIndex: elseIdx,
		EndIndex:  endIdx,
	})
	switch {
	case result:
		ctx.Advance()
	case elseIdx >= 0:
		ctx.CommandIndex = elseIdx + 1
	default:
		ctx.CommandIndex = endIdx
	}
	return nil
}

// ---- 条件求值 ----

func (it *Interpreter) evaluateCondition(inst *Instance, cmd *resource.EventCommand) (bool, error) {
	p, err := cmd.Condition()
	if err != nil {
		return false, err
	}
	switch p.ConditionType {
	case "", "switch":
		return it.getSwitch(p.SwitchID) == p.Value, nil
	case "variable":
		lhs := it.getVariable(p.VariableID)
		rhs := p.CompareValue
		if p.CompareType == "variable" {
			rhs = it.getVariable(p.CompareValue)
		}
		return compareInts(lhs, p.Operator, rhs)
	case "self_switch":
		ch := p.Channel
		if ch == "" {
			ch = "A"
		}
		return it.selfSwitches.GetSelfSwitch(inst.EventID(), ch) == p.Value, nil
	case "script":
		return it.invokeScript(inst, p.Script, nil)
	case "choice":
		ctx := inst.Context
		return ctx.HasBranchResult && ctx.BranchResult == p.ChoiceIndex, nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownCondition, p.ConditionType)
}

func compareInts(lhs int, op string, rhs int) (bool, error) {
	switch op {
	case "==", "":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case ">":
		return lhs > rhs, nil
	case ">=":
		return lhs >= rhs, nil
	case "<":
		return lhs < rhs, nil
	case "<=":
		return lhs <= rhs, nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
}

func (it *Interpreter) invokeScript(inst *Instance, id string, args map[string]interface{}) (bool, error) {
	if it.scripts == nil {
		return false, ErrNoScriptInvoker
	}
	return it.scripts.InvokeScript(context.Background(), &ScriptCall{
		ID:      id,
		Args:    args,
		Event:   inst.Context.Event,
		Context: inst.Context,
		State:   it.state,
	})
}

// ---- 循环 ----

// findLoopEnd 返回循环体最后一条指令的位置：同缩进的 repeat_above 标记，
// 或缩进回落前的最后一条指令。循环体为空时返回 idx。
func findLoopEnd(cmds []*resource.EventCommand, idx int) int {
	indent := cmds[idx].Indent
	end := idx
	for j := idx + 1; j < len(cmds); j++ {
		c := cmds[j]
		if c == nil {
			end = j
			continue
		}
		if c.Indent <= indent {
			if c.Kind == resource.KindRepeatAbove && c.Indent == indent {
				return j
			}
			break
		}
		end = j
	}
	return end
}

func (it *Interpreter) cmdLoop(inst *Instance, cmd *resource.EventCommand) {
	ctx := inst.Context
	idx := ctx.CommandIndex
	end := findLoopEnd(ctx.Commands(), idx)
	ctx.Advance()
	if end == idx {
		it.logger.Warn("loop with empty body ignored",
			zap.Int("event_id", inst.EventID()),
			zap.Int("command_index", idx))
		return
	}
	if n := len(inst.LoopStack); n > 0 && inst.LoopStack[n-1].Start == idx {
		return
	}
	inst.LoopStack = append(inst.LoopStack, LoopFrame{Start: idx, End: end, Indent: cmd.Indent})
}

// checkLoopEnd 在每条指令之后调用：游标越过栈顶循环的末尾时跳回循环体开头；
// 游标回到循环指令之前时弹出该帧。
func (it *Interpreter) checkLoopEnd(inst *Instance) {
	if inst.State == StateFinished || inst.State == StateError {
		return
	}
	ctx := inst.Context
	for len(inst.LoopStack) > 0 {
		top := inst.LoopStack[len(inst.LoopStack)-1]
		switch {
		case ctx.CommandIndex > top.End:
			ctx.CommandIndex = top.Start + 1
			return
		case ctx.CommandIndex <= top.Start:
			inst.LoopStack = inst.LoopStack[:len(inst.LoopStack)-1]
		default:
			return
		}
	}
}

// cmdBreakLoop 弹出栈顶循环并跳到其后；循环栈为空时只记录日志并前进。
func (it *Interpreter) cmdBreakLoop(inst *Instance) {
	ctx := inst.Context
	n := len(inst.LoopStack)
	if n == 0 {
		it.logger.Warn("break_loop outside of a loop",
			zap.Int("event_id", inst.EventID()),
			zap.Int("command_index", ctx.CommandIndex))
		ctx.Advance()
		return
	}
	top := inst.LoopStack[n-1]
	inst.LoopStack = inst.LoopStack[:n-1]
	ctx.CommandIndex = top.End + 1
}

// ---- 标签 ----

// cmdJumpToLabel 跳到标签所在位置（标签本身作为空操作再执行一次）。
// 目标不在某循环体内时弹出该循环帧。未找到标签时记录日志并前进。
func (it *Interpreter) cmdJumpToLabel(inst *Instance, cmd *resource.EventCommand) {
	ctx := inst.Context
	name := cmd.ParamString("label")
	target, ok := inst.LabelIndex(name)
	if !ok {
		it.logger.Warn("jump to missing label",
			zap.Int("event_id", inst.EventID()),
			zap.Int("command_index", ctx.CommandIndex),
			zap.String("label", name))
		ctx.Advance()
		return
	}
	for len(inst.LoopStack) > 0 {
		top := inst.LoopStack[len(inst.LoopStack)-1]
		if target > top.Start && target <= top.End {
			break
		}
		inst.LoopStack = inst.LoopStack[:len(inst.LoopStack)-1]
	}
	ctx.CommandIndex = target
}
