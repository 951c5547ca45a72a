// 指令分发：按指令类型路由到各处理函数。
package interpreter

import (
	"fmt"

	"github.com/kasuganosora/eventvm/resource"
	"go.uber.org/zap"
)

// execute 分发单条指令。处理函数中的 panic 被转换为错误，只影响当前实例。
func (it *Interpreter) execute(inst *Instance, cmd *resource.EventCommand) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter: panic in %s: %v", cmd.Kind, r)
		}
	}()

	ctx := inst.Context
	switch cmd.Kind {
	case resource.KindConditionalBranch:
		return it.cmdConditionalBranch(inst, cmd)
	case resource.KindLoop:
		it.cmdLoop(inst, cmd)
	case resource.KindBreakLoop:
		it.cmdBreakLoop(inst)
	case resource.KindJumpToLabel:
		it.cmdJumpToLabel(inst, cmd)
	case resource.KindExitEvent:
		inst.finish()
	case resource.KindLabel, resource.KindComment, resource.KindRepeatAbove, resource.KindBranchEnd:
		ctx.Advance()
	case resource.KindWait:
		return it.cmdWait(inst, cmd)
	case resource.KindShowText:
		return it.cmdShowText(inst, cmd)
	case resource.KindShowChoices:
		return it.cmdShowChoices(inst, cmd)
	case resource.KindControlSwitches:
		return it.cmdControlSwitches(inst, cmd)
	case resource.KindControlVariables:
		return it.cmdControlVariables(inst, cmd)
	case resource.KindControlSelfSwitch:
		return it.cmdControlSelfSwitch(inst, cmd)
	case resource.KindPlayBGM:
		return it.cmdAudio(inst, cmd, BusPlayBGM)
	case resource.KindPlaySE:
		return it.cmdAudio(inst, cmd, BusPlaySE)
	case resource.KindFadeoutBGM:
		return it.cmdFadeoutBGM(inst, cmd)
	case resource.KindTransferPlayer:
		return it.cmdTransferPlayer(inst, cmd)
	case resource.KindScript:
		return it.cmdScript(inst, cmd)
	case resource.KindSetMoveRoute:
		return it.cmdSetMoveRoute(inst, cmd)
	case resource.KindWaitForMovement:
		it.cmdWaitForMovement(inst)
	default:
		it.logger.Warn("unknown command kind, skipped",
			zap.Int("event_id", inst.EventID()),
			zap.Int("command_index", ctx.CommandIndex),
			zap.String("kind", string(cmd.Kind)))
		ctx.Advance()
	}
	return nil
}

// ---- 等待 / 对话 ----

// cmdWait 设置等待帧数；等待从下一条指令开始生效。
func (it *Interpreter) cmdWait(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.Wait()
	if err != nil {
		return err
	}
	inst.Context.Advance()
	if p.Duration > 0 {
		inst.WaitFrames = p.Duration
		inst.enterWait()
	}
	return nil
}

func (it *Interpreter) cmdShowText(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.ShowText()
	if err != nil {
		return err
	}
	if inst.OnShowText != nil {
		inst.OnShowText(p.Text, p)
	}
	inst.WaitForMessage = true
	inst.enterWait()
	inst.Context.Advance()
	it.emit(inst, BusTextDisplayed, cmd.Parameters)
	return nil
}

// cmdShowChoices 回调同步返回非负索引时直接记录结果；
// 否则进入选项等待，由 ResumeChoice 恢复。
func (it *Interpreter) cmdShowChoices(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.ShowChoices()
	if err != nil {
		return err
	}
	ctx := inst.Context
	ctx.ClearBranchResult()
	ctx.Advance()
	it.emit(inst, BusChoicesDisplayed, cmd.Parameters)
	if inst.OnShowChoices != nil {
		if idx := inst.OnShowChoices(p.Choices, p.DefaultChoice); idx >= 0 {
			ctx.SetBranchResult(idx)
			return nil
		}
	}
	inst.WaitForChoice = true
	inst.enterWait()
	return nil
}

// ---- 脚本 ----

// cmdScript 调用注册的脚本。失败时记录日志并前进游标，再把错误返回给实例。
func (it *Interpreter) cmdScript(inst *Instance, cmd *resource.EventCommand) error {
	p, err := cmd.Script()
	if err != nil {
		return err
	}
	_, err = it.invokeScript(inst, p.Script, p.Args)
	inst.Context.Advance()
	if err != nil {
		it.logger.Warn("script failed",
			zap.Int("event_id", inst.EventID()),
			zap.String("script", p.Script),
			zap.Error(err))
		return fmt.Errorf("script %q: %w", p.Script, err)
	}
	return nil
}
