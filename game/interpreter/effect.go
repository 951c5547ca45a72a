// 状态变更与外部通知：开关、变量、独立开关、音频、场所移动与移动路线。
package interpreter

import (
	"fmt"

	"github.com/kasuganosora/eventvm/resource"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

func (it *Interpreter) getSwitch(id int) bool {
	if it.state == nil {
		return false
	}
	return it.state.GetSwitch(id)
}

func (it *Interpreter) getVariable(id int) int {
	if it.state == nil {
		return 0
	}
	return it.state.GetVariable(id)
}

// idRange 返回 [start, end] 闭区间；end 小于 start 时只包含 start。
func idRange(start, end int) (int, int) {
	if end < start {
		return start, start
	}
	return start, end
}

// ---- 开关 / 变量 ----

func (it *Interpreter) cmdControlSwitches(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.ControlSwitches()
	if err != nil {
		return err
	}
	if it.state != nil {
		from, to := idRange(p.SwitchID, p.EndID)
		for id := from; id <= to; id++ {
			it.state.SetSwitch(id, p.Value)
		}
	}
	inst.Context.Advance()
	return nil
}

// cmdControlVariables 操作数只解析一次，随后应用到区间内的每个变量。
func (it *Interpreter) cmdControlVariables(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.ControlVariables()
	if err != nil {
		return err
	}
	operand, err := it.resolveOperand(p)
	if err != nil {
		return err
	}
	if it.state != nil {
		from, to := idRange(p.VariableID, p.EndID)
		for id := from; id <= to; id++ {
			next, err := applyOperation(it.state.GetVariable(id), p.Operation, operand)
			if err != nil {
				return err
			}
			it.state.SetVariable(id, next)
		}
	}
	inst.Context.Advance()
	return nil
}

func (it *Interpreter) resolveOperand(p resource.ControlVariablesParams) (int, error) {
	switch p.OperandType {
	case "", "constant":
		return cast.ToIntE(valueOrZero(p.OperandValue))
	case "variable":
		id, err := cast.ToIntE(valueOrZero(p.OperandValue))
		if err != nil {
			return 0, err
		}
		return it.getVariable(id), nil
	case "random":
		bounds, err := cast.ToIntSliceE(p.OperandValue)
		if err != nil || len(bounds) != 2 {
			return 0, fmt.Errorf("interpreter: random operand needs [min, max], got %v", p.OperandValue)
		}
		lo, hi := bounds[0], bounds[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		return lo + it.randIntN(hi-lo+1), nil
	}
	return 0, fmt.Errorf("%w: operand type %q", ErrUnknownOperator, p.OperandType)
}

// applyOperation 应用变量运算；除数为 0 时保持原值。
func applyOperation(cur int, op string, operand int) (int, error) {
	switch op {
	case "", "set":
		return operand, nil
	case "add":
		return cur + operand, nil
	case "sub":
		return cur - operand, nil
	case "mul":
		return cur * operand, nil
	case "div":
		if operand == 0 {
			return cur, nil
		}
		return cur / operand, nil
	case "mod":
		if operand == 0 {
			return cur, nil
		}
		return cur % operand, nil
	}
	return cur, fmt.Errorf("%w: operation %q", ErrUnknownOperator, op)
}

func valueOrZero(v interface{}) interface{} {
	if v == nil {
		return 0
	}
	return v
}

func (it *Interpreter) cmdControlSelfSwitch(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.SelfSwitch()
	if err != nil {
		return err
	}
	ch := p.Channel
	if ch == "" {
		ch = "A"
	}
	it.selfSwitches.SetSelfSwitch(inst.EventID(), ch, p.Value)
	inst.Context.Advance()
	return nil
}

// ---- 透传通知 ----

func (it *Interpreter) cmdAudio(inst *Instance, cmd *resource.EventCommand, typ string) error {
	if _, err := cmd.Audio(); err != nil {
		return err
	}
	inst.Context.Advance()
	it.emit(inst, typ, cmd.Parameters)
	return nil
}

func (it *Interpreter) cmdFadeoutBGM(inst *Instance, cmd *resource.EventCommand) error {
	if _, err := cmd.Wait(); err != nil {
		return err
	}
	inst.Context.Advance()
	it.emit(inst, BusFadeoutBGM, cmd.Parameters)
	return nil
}

func (it *Interpreter) cmdTransferPlayer(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.Transfer()
	if err != nil {
		return err
	}
	inst.Context.Advance()
	it.logger.Debug("transfer player",
		zap.Int("event_id", inst.EventID()),
		zap.Int("map_id", p.MapID),
		zap.Int("x", p.X),
		zap.Int("y", p.Y))
	it.emit(inst, BusTransferPlayer, cmd.Parameters)
	return nil
}

// ---- 移动路线 ----

// cmdSetMoveRoute 发出移动路线；wait 为 true 时等待 ResumeMovement。
func (it *Interpreter) cmdSetMoveRoute(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.MoveRoute()
	if err != nil {
		return err
	}
	inst.Context.Advance()
	inst.routePending = true
	it.emit(inst, BusMoveRoute, cmd.Parameters)
	if p.Wait {
		inst.WaitForMovement = true
		inst.enterWait()
	}
	return nil
}

// cmdWaitForMovement 仅在仍有未确认的移动路线时进入等待。
func (it *Interpreter) cmdWaitForMovement(inst *Instance) {
	inst.Context.Advance()
	if inst.routePending {
		inst.WaitForMovement = true
		inst.enterWait()
	}
}
