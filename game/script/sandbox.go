// Package script runs event script hooks in a pool of sandboxed goja VMs.
// A hook is a JavaScript function body; it sees the game state through
// $gameSwitches, $gameVariables and $gameSelfSwitches, the call arguments as
// args and the running event as event. Its return value decides script
// conditions by JavaScript truthiness.
package script

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dop251/goja"
	"github.com/kasuganosora/eventvm/game/interpreter"
	"go.uber.org/zap"
)

// ErrTimeout is returned when a script exceeds the execution time limit.
var ErrTimeout = errors.New("script: execution timed out")

// ErrException is returned when a script throws an uncaught exception.
var ErrException = errors.New("script: uncaught exception")

// ScriptContext is what one run can reach. Nil fields leave the matching
// global undefined.
type ScriptContext struct {
	State        interpreter.GameStateAccessor
	SelfSwitches interpreter.SelfSwitchStore
	EventID      int
	EventName    string
	CommandIndex int
	Args         map[string]interface{}
}

// Result is the outcome of one run.
type Result struct {
	Value  interface{}
	Truthy bool
}

// VMPool is a thread-safe pool of pre-initialised goja runtimes.
type VMPool struct {
	pool    chan *goja.Runtime
	timeout time.Duration
	random  func() float64
	logger  *zap.Logger
}

// NewVMPool creates a VMPool with the given concurrency size and per-script timeout.
func NewVMPool(size int, timeout time.Duration, logger *zap.Logger) *VMPool {
	if size <= 0 {
		size = 4
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &VMPool{
		pool:    make(chan *goja.Runtime, size),
		timeout: timeout,
		random:  rand.Float64,
		logger:  logger,
	}
	for i := 0; i < size; i++ {
		p.pool <- p.newSafeVM()
	}
	return p
}

// run executes fn on a pooled VM under the timeout. A VM interrupted by a
// timeout or cancellation is replaced with a fresh one.
func (p *VMPool) run(ctx context.Context, sc *ScriptContext, fn func(vm *goja.Runtime) (goja.Value, error)) (Result, error) {
	var vm *goja.Runtime
	select {
	case vm = <-p.pool:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	injectContext(vm, sc)

	stop := make(chan struct{})
	interrupted := make(chan bool, 1)
	go func() {
		t := time.NewTimer(p.timeout)
		defer t.Stop()
		select {
		case <-t.C:
			vm.Interrupt(ErrTimeout)
			interrupted <- true
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
			interrupted <- true
		case <-stop:
			interrupted <- false
		}
	}()

	var value goja.Value
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("%w: %v", ErrException, r)
			}
		}()
		value, runErr = fn(vm)
	}()
	close(stop)

	if <-interrupted {
		// An interrupt that lands after the script returned still taints the VM.
		p.pool <- p.newSafeVM()
	} else {
		vm.ClearInterrupt()
		p.pool <- vm
	}

	if runErr != nil {
		var ie *goja.InterruptedError
		if errors.As(runErr, &ie) {
			if errors.Is(runErr, ErrTimeout) {
				return Result{}, ErrTimeout
			}
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			return Result{}, runErr
		}
		var ex *goja.Exception
		if errors.As(runErr, &ex) {
			return Result{}, fmt.Errorf("%w: %s", ErrException, ex.Error())
		}
		return Result{}, runErr
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return Result{}, nil
	}
	return Result{Value: value.Export(), Truthy: value.ToBoolean()}, nil
}

// newSafeVM creates a goja Runtime with dangerous globals removed.
func (p *VMPool) newSafeVM() *goja.Runtime {
	vm := goja.New()
	for _, name := range []string{"require", "process", "fetch", "XMLHttpRequest", "eval", "Function"} {
		_ = vm.Set(name, goja.Undefined())
	}
	if m := vm.Get("Math"); m != nil {
		_ = m.ToObject(vm).Set("random", func() float64 { return p.random() })
	}
	logger := p.logger
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		logger.Debug("script console", zap.Any("args", args))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
	return vm
}

// injectContext binds the accessors of sc as $game* globals, replacing
// whatever the previous run left behind.
func injectContext(vm *goja.Runtime, sc *ScriptContext) {
	for _, name := range []string{"$gameVariables", "$gameSwitches", "$gameSelfSwitches", "args", "event"} {
		_ = vm.Set(name, goja.Undefined())
	}
	if sc == nil {
		return
	}
	if st := sc.State; st != nil {
		vars := vm.NewObject()
		_ = vars.Set("value", func(id int) int { return st.GetVariable(id) })
		_ = vars.Set("setValue", func(id, v int) { st.SetVariable(id, v) })
		_ = vm.Set("$gameVariables", vars)

		sw := vm.NewObject()
		_ = sw.Set("value", func(id int) bool { return st.GetSwitch(id) })
		_ = sw.Set("setValue", func(id int, v bool) { st.SetSwitch(id, v) })
		_ = vm.Set("$gameSwitches", sw)
	}
	if self := sc.SelfSwitches; self != nil {
		eventID := sc.EventID
		ss := vm.NewObject()
		_ = ss.Set("value", func(ch string) bool { return self.GetSelfSwitch(eventID, ch) })
		_ = ss.Set("setValue", func(ch string, v bool) { self.SetSelfSwitch(eventID, ch, v) })
		_ = vm.Set("$gameSelfSwitches", ss)
	}
	args := sc.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	_ = vm.Set("args", args)
	ev := vm.NewObject()
	_ = ev.Set("id", sc.EventID)
	_ = ev.Set("name", sc.EventName)
	_ = ev.Set("commandIndex", sc.CommandIndex)
	_ = vm.Set("event", ev)
}

// Sandbox wraps a VMPool with logging.
type Sandbox struct {
	pool   *VMPool
	logger *zap.Logger
}

// NewSandbox creates a Sandbox backed by a VMPool.
func NewSandbox(size int, timeout time.Duration, logger *zap.Logger) *Sandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sandbox{
		pool:   NewVMPool(size, timeout, logger),
		logger: logger,
	}
}

// SetRandom replaces the source behind Math.random for VMs created afterwards
// and for the next run of every pooled VM.
func (sb *Sandbox) SetRandom(fn func() float64) {
	if fn != nil {
		sb.pool.random = fn
	}
}

// Eval evaluates src as a program and returns its completion value.
func (sb *Sandbox) Eval(ctx context.Context, src string, sc *ScriptContext) (interface{}, error) {
	res, err := sb.pool.run(ctx, sc, func(vm *goja.Runtime) (goja.Value, error) {
		return vm.RunString(src)
	})
	if err != nil {
		sb.logger.Warn("script execution error",
			zap.String("src_preview", truncate(src, 80)),
			zap.Error(err))
	}
	return res.Value, err
}

// Invoke calls a compiled hook.
func (sb *Sandbox) Invoke(ctx context.Context, h *Hook, sc *ScriptContext) (Result, error) {
	res, err := sb.pool.run(ctx, sc, func(vm *goja.Runtime) (goja.Value, error) {
		fnVal, err := vm.RunProgram(h.program)
		if err != nil {
			return nil, err
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return nil, fmt.Errorf("script %s: body did not compile to a function", h.ID)
		}
		return fn(goja.Undefined())
	})
	if err != nil {
		sb.logger.Warn("script hook failed", zap.String("script", h.ID), zap.Error(err))
	}
	return res, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
