package scraper

import (
	"encoding/json"
	"strconv"
	"time"
)

// State is the immutable cursor of one scraper. Every change returns a new
// value, so a State handed to an identifier source never moves under it.
type State struct {
	values map[string]any
}

// NewState copies m into a State
func NewState(m map[string]any) State {
	values := make(map[string]any, len(m))
	for k, v := range m {
		values[k] = v
	}
	return State{values: values}
}

// Int reads an integer cursor. Values loaded from JSON arrive as float64.
func (s State) Int(key string, def int) int {
	switch v := s.values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (s State) String(key, def string) string {
	if v, ok := s.values[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Date reads a cursor stored as YYYY-MM-DD
func (s State) Date(key string, def time.Time) time.Time {
	if v, ok := s.values[key].(string); ok {
		if t, err := time.Parse(time.DateOnly, v); err == nil {
			return t
		}
	}
	return def
}

func (s State) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// With returns a copy of s with key set to v
func (s State) With(key string, v any) State {
	next := NewState(s.values)
	if t, ok := v.(time.Time); ok {
		v = t.Format(time.DateOnly)
	}
	next.values[key] = v
	return next
}

// Map returns a copy of the underlying values for persistence
func (s State) Map() map[string]any {
	return NewState(s.values).values
}

func (s State) Len() int {
	return len(s.values)
}
