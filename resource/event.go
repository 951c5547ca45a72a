package resource

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// GameEvent is an event placed on a map: identity, grid position and an
// ordered list of pages.
type GameEvent struct {
	ID    int
	Name  string
	X     int
	Y     int
	Pages []*EventPage
}

// NewGameEvent creates an event with a single default page, so a fresh
// event always has a page to fall back to.
func NewGameEvent(id int, name string, x, y int) *GameEvent {
	return &GameEvent{ID: id, Name: name, X: x, Y: y, Pages: []*EventPage{NewEventPage()}}
}

// ActivePage returns the first page whose conditions hold, or nil.
func (ev *GameEvent) ActivePage(state ConditionState, self SelfSwitchReader) *EventPage {
	for _, p := range ev.Pages {
		if p == nil {
			continue
		}
		if p.Conditions.Satisfied(ev.ID, state, self) {
			return p
		}
	}
	return nil
}

// HighestActivePage returns the last page whose conditions hold, or nil.
// This is the map-layer convention where later pages take priority.
func (ev *GameEvent) HighestActivePage(state ConditionState, self SelfSwitchReader) *EventPage {
	for i := len(ev.Pages) - 1; i >= 0; i-- {
		p := ev.Pages[i]
		if p == nil {
			continue
		}
		if p.Conditions.Satisfied(ev.ID, state, self) {
			return p
		}
	}
	return nil
}

// PageIndex returns the position of page within ev.Pages, or -1.
func (ev *GameEvent) PageIndex(page *EventPage) int {
	for i, p := range ev.Pages {
		if p == page {
			return i
		}
	}
	return -1
}

// ToMap converts the event to its nested map form.
func (ev *GameEvent) ToMap() map[string]interface{} {
	pages := make([]interface{}, 0, len(ev.Pages))
	for _, p := range ev.Pages {
		if p == nil {
			continue
		}
		pages = append(pages, p.ToMap())
	}
	return map[string]interface{}{
		"id":    ev.ID,
		"name":  ev.Name,
		"x":     ev.X,
		"y":     ev.Y,
		"pages": pages,
	}
}

// EventFromMap rebuilds an event from the map produced by ToMap.
// An explicit empty page list is kept empty.
func EventFromMap(m map[string]interface{}) (*GameEvent, error) {
	id, err := cast.ToIntE(valueOr(m["id"], 0))
	if err != nil {
		return nil, fmt.Errorf("resource: event id: %w", err)
	}
	ev := &GameEvent{
		ID:   id,
		Name: cast.ToString(m["name"]),
		X:    cast.ToInt(m["x"]),
		Y:    cast.ToInt(m["y"]),
	}
	raw, present := m["pages"]
	pages, err := toSlice(raw)
	if err != nil {
		return nil, fmt.Errorf("resource: event %d pages: %w", id, err)
	}
	if !present {
		ev.Pages = []*EventPage{NewEventPage()}
		return ev, nil
	}
	ev.Pages = make([]*EventPage, 0, len(pages))
	for i, rp := range pages {
		pm, err := toStringMap(rp)
		if err != nil {
			return nil, fmt.Errorf("resource: event %d page %d: %w", id, i, err)
		}
		p, err := PageFromMap(pm)
		if err != nil {
			return nil, fmt.Errorf("resource: event %d page %d: %w", id, i, err)
		}
		ev.Pages = append(ev.Pages, p)
	}
	return ev, nil
}

// MarshalJSON encodes the event in its map form.
func (ev *GameEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(ev.ToMap())
}

// UnmarshalJSON decodes the map form, keeping integers as int.
func (ev *GameEvent) UnmarshalJSON(data []byte) error {
	m, err := decodeJSONMap(data)
	if err != nil {
		return err
	}
	parsed, err := EventFromMap(m)
	if err != nil {
		return err
	}
	*ev = *parsed
	return nil
}

// EncodeJSON renders the event as indented JSON text.
func EncodeJSON(ev *GameEvent) ([]byte, error) {
	return json.MarshalIndent(ev.ToMap(), "", "  ")
}

// DecodeJSON parses JSON text into an event.
func DecodeJSON(data []byte) (*GameEvent, error) {
	m, err := decodeJSONMap(data)
	if err != nil {
		return nil, err
	}
	return EventFromMap(m)
}

// EncodeYAML renders the event as YAML text.
func EncodeYAML(ev *GameEvent) ([]byte, error) {
	return yaml.Marshal(ev.ToMap())
}

// DecodeYAML parses YAML text into an event.
func DecodeYAML(data []byte) (*GameEvent, error) {
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("resource: parse yaml: %w", err)
	}
	return EventFromMap(m)
}

func decodeJSONMap(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("resource: parse json: %w", err)
	}
	nm, err := toStringMap(m)
	if err != nil {
		return nil, err
	}
	return nm, nil
}

// normalizeValue turns decoder-specific shapes into the shapes the
// constructors produce: json.Number becomes int (or float64 when it has a
// fraction) and nested maps get string keys.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, x := range val {
			out[k] = normalizeValue(x)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, x := range val {
			out[cast.ToString(k)] = normalizeValue(x)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, x := range val {
			out[i] = normalizeValue(x)
		}
		return out
	}
	return v
}
