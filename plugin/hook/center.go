// Package hook is a priority-ordered registry of synchronous listeners keyed
// by hook name. The event bus and the host trigger it for every bus event and
// lifecycle transition.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInterrupt signals that a handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler function.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
// Any other error is ignored and the chain continues with the returned data.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	seq      uint64
	fn       HookFn
	name     string
}

// HookCenter manages hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
	seq   uint64

	// OnPanic, when set, is told about handlers that panicked.
	OnPanic func(event, name string, recovered interface{})
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds fn for event. Lower priority runs first; equal priorities
// run in registration order. name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.seq++
	entries := append(hc.hooks[event], &hookEntry{priority: priority, seq: hc.seq, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})
	hc.hooks[event] = entries
}

func removeNamed(entries []*hookEntry, name string) []*hookEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.name != name {
			out = append(out, e)
		}
	}
	for i := len(out); i < len(entries); i++ {
		entries[i] = nil
	}
	return out
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = removeNamed(hc.hooks[event], name)
	if len(hc.hooks[event]) == 0 {
		delete(hc.hooks, event)
	}
}

// UnregisterAll removes every hook registered under name.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = removeNamed(entries, name)
		if len(hc.hooks[event]) == 0 {
			delete(hc.hooks, event)
		}
	}
}

// Count returns the number of handlers registered for event.
func (hc *HookCenter) Count(event string) int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.hooks[event])
}

// Trigger runs the handlers for event in priority order, threading data
// through them. It stops at the first ErrInterrupt and returns it.
// A panicking handler is skipped and data passes on unchanged.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	for _, e := range entries {
		out, err := hc.call(ctx, e, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, err
		}
		if err == nil {
			data = out
		}
	}
	return data, nil
}

func (hc *HookCenter) call(ctx context.Context, e *hookEntry, event string, data interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			if hc.OnPanic != nil {
				hc.OnPanic(event, e.name, r)
			}
			out, err = data, fmt.Errorf("hook %s panicked: %v", e.name, r)
		}
	}()
	return e.fn(ctx, event, data)
}

// ---- Hook names ----

const (
	// OnBusEvent fires for every event bus notification with an *eventbus.Envelope.
	OnBusEvent = "on_bus_event"
	// OnEventStart fires when the host starts an event page.
	OnEventStart = "on_event_start"
	// OnEventEnd fires when an instance finishes, fails or is stopped.
	OnEventEnd = "on_event_end"
	// OnEventError fires when an instance enters the error state.
	OnEventError = "on_event_error"
)

// BusEventName returns the hook name for one bus event type, e.g.
// "bus.text_displayed".
func BusEventName(typ string) string { return "bus." + typ }
