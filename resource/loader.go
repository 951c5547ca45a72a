package resource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ErrEventNotFound is returned when an event id is not in the set.
var ErrEventNotFound = errors.New("resource: event not found")

// ---- EventSet ----

// EventSet is an id-indexed collection of events, safe for concurrent reads.
type EventSet struct {
	mu     sync.RWMutex
	events map[int]*GameEvent
}

// NewEventSet creates an empty EventSet.
func NewEventSet() *EventSet {
	return &EventSet{events: make(map[int]*GameEvent)}
}

// Put validates ev and stores it, replacing any event with the same id.
func (s *EventSet) Put(ev *GameEvent) error {
	if ev == nil {
		return errors.New("resource: nil event")
	}
	if err := ValidateEvent(ev); err != nil {
		return err
	}
	s.mu.Lock()
	s.events[ev.ID] = ev
	s.mu.Unlock()
	return nil
}

// Get returns the event with the given id.
func (s *EventSet) Get(id int) (*GameEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	return ev, nil
}

// Remove deletes the event with the given id.
func (s *EventSet) Remove(id int) {
	s.mu.Lock()
	delete(s.events, id)
	s.mu.Unlock()
}

// All returns the events ordered by id.
func (s *EventSet) All() []*GameEvent {
	s.mu.RLock()
	out := make([]*GameEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of events.
func (s *EventSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// ---- Loader ----

// Loader reads event definition files from a directory.
// Each .json/.yaml/.yml file holds either one event or {"events": [...]}.
type Loader struct {
	Dir string
}

// NewLoader creates a Loader for dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

// Load reads every definition file in the directory into a new EventSet.
// Files are processed in name order; a duplicate id across files is an error.
func (l *Loader) Load() (*EventSet, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("resource: read dir %s: %w", l.Dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isDefinitionFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	set := NewEventSet()
	origin := map[int]string{}
	for _, name := range names {
		path := filepath.Join(l.Dir, name)
		evs, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, ev := range evs {
			if prev, dup := origin[ev.ID]; dup {
				return nil, fmt.Errorf("resource: event %d defined in both %s and %s", ev.ID, prev, name)
			}
			if err := set.Put(ev); err != nil {
				return nil, fmt.Errorf("resource: %s: %w", name, err)
			}
			origin[ev.ID] = name
		}
	}
	return set, nil
}

// LoadFile parses one definition file.
func LoadFile(path string) ([]*GameEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", path, err)
	}
	var root map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		root, err = decodeJSONMap(data)
	default:
		err = yaml.Unmarshal(data, &root)
	}
	if err != nil {
		return nil, fmt.Errorf("resource: parse %s: %w", path, err)
	}
	evs, err := eventsFromRoot(root)
	if err != nil {
		return nil, fmt.Errorf("resource: %s: %w", path, err)
	}
	return evs, nil
}

func eventsFromRoot(root map[string]interface{}) ([]*GameEvent, error) {
	raw, ok := root["events"]
	if !ok {
		ev, err := EventFromMap(root)
		if err != nil {
			return nil, err
		}
		return []*GameEvent{ev}, nil
	}
	list, err := toSlice(raw)
	if err != nil {
		return nil, err
	}
	out := make([]*GameEvent, 0, len(list))
	for i, item := range list {
		m, err := toStringMap(item)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		ev, err := EventFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("events[%d] (id %v): %w", i, cast.ToString(m["id"]), err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
