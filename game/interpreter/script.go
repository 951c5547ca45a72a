package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kasuganosora/eventvm/resource"
)

// ErrScriptNotFound 表示脚本 ID 未注册。
var ErrScriptNotFound = errors.New("interpreter: script not found")

// ScriptCall 是一次脚本调用可见的全部内容：游戏状态、当前事件与游标。
type ScriptCall struct {
	ID      string
	Args    map[string]interface{}
	Event   *resource.GameEvent
	Context *EventContext
	State   GameStateAccessor
}

// ScriptInvoker 按脚本 ID 调用宿主注册的扩展函数。
// 返回值只在 script 条件分支中使用。
type ScriptInvoker interface {
	InvokeScript(ctx context.Context, call *ScriptCall) (bool, error)
}

// ScriptFunc 是注册到 ScriptTable 的脚本函数。
type ScriptFunc func(ctx context.Context, call *ScriptCall) (bool, error)

// ScriptTable 是以脚本 ID 为键的 ScriptInvoker 实现。
type ScriptTable struct {
	mu    sync.RWMutex
	funcs map[string]ScriptFunc
}

// NewScriptTable 创建空脚本表。
func NewScriptTable() *ScriptTable {
	return &ScriptTable{funcs: make(map[string]ScriptFunc)}
}

// Register 注册或替换 id 对应的函数。
func (t *ScriptTable) Register(id string, fn ScriptFunc) {
	t.mu.Lock()
	t.funcs[id] = fn
	t.mu.Unlock()
}

// Unregister 移除 id。
func (t *ScriptTable) Unregister(id string) {
	t.mu.Lock()
	delete(t.funcs, id)
	t.mu.Unlock()
}

// IDs 返回已注册的脚本 ID（已排序）。
func (t *ScriptTable) IDs() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.funcs))
	for id := range t.funcs {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// InvokeScript 实现 ScriptInvoker。
func (t *ScriptTable) InvokeScript(ctx context.Context, call *ScriptCall) (bool, error) {
	t.mu.RLock()
	fn, ok := t.funcs[call.ID]
	t.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrScriptNotFound, call.ID)
	}
	return fn(ctx, call)
}
