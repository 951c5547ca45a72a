package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dop251/goja"
	"github.com/kasuganosora/eventvm/game/interpreter"
	"go.uber.org/zap"
)

// Hook is a compiled script hook. The source is a function body; it may
// return a value to decide a script condition.
type Hook struct {
	ID      string
	Source  string
	program *goja.Program
}

// Compile wraps src in a function and compiles it in strict mode.
func Compile(id, src string) (*Hook, error) {
	wrapped := "(function() {\n" + src + "\n})"
	prog, err := goja.Compile(id+".js", wrapped, true)
	if err != nil {
		return nil, fmt.Errorf("script %s: compile: %w", id, err)
	}
	return &Hook{ID: id, Source: src, program: prog}, nil
}

// LoadDir compiles every *.js file in dir. The hook id is the file name
// without its extension. A missing directory yields no hooks.
func LoadDir(dir string) ([]*Hook, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("script: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".js") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	hooks := make([]*Hook, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("script: read %s: %w", name, err)
		}
		h, err := Compile(strings.TrimSuffix(name, filepath.Ext(name)), string(data))
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

// Func adapts h into an interpreter script function. self scopes the
// $gameSelfSwitches global; it may be nil.
func (sb *Sandbox) Func(h *Hook, self interpreter.SelfSwitchStore) interpreter.ScriptFunc {
	return func(ctx context.Context, call *interpreter.ScriptCall) (bool, error) {
		sc := &ScriptContext{
			State:        call.State,
			SelfSwitches: self,
			Args:         call.Args,
		}
		if call.Event != nil {
			sc.EventID = call.Event.ID
			sc.EventName = call.Event.Name
		}
		if call.Context != nil {
			sc.CommandIndex = call.Context.CommandIndex
		}
		res, err := sb.Invoke(ctx, h, sc)
		if err != nil {
			return false, err
		}
		return res.Truthy, nil
	}
}

// Register adds every hook to table, replacing hooks with the same id.
func (sb *Sandbox) Register(table *interpreter.ScriptTable, hooks []*Hook, self interpreter.SelfSwitchStore) {
	for _, h := range hooks {
		table.Register(h.ID, sb.Func(h, self))
		sb.logger.Debug("script hook registered", zap.String("script", h.ID))
	}
}
