package graph

import (
	"fmt"
	"sync"
)

// Update is the partial state a stage returns. Keys are field names.
type Update map[string]any

// State is the accumulator threaded through every stage of one run.
// Stages only read it; the executor merges their updates.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState seeds a State. Seed values bypass merge policies.
func NewState(seed Update) *State {
	s := &State{values: make(map[string]any, len(seed))}
	for k, v := range seed {
		s.values[k] = v
	}
	return s
}

// Get returns the raw value of a field.
func (s *State) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Lookup returns a field's value as T. ok is false when the field is unset
// or holds another type.
func Lookup[T any](s *State, name string) (T, bool) {
	var zero T
	v, ok := s.Get(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Snapshot copies the current field map.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// apply merges u into the state. Either every key is merged or none is.
func (s *State) apply(fields map[string]Field, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]any, len(u))
	for name, v := range u {
		f, ok := fields[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		switch f.Policy {
		case PolicyReplace:
			merged[name] = v
		case PolicyAppend:
			nv, err := f.Combine(s.values[name], v)
			if err != nil {
				return err
			}
			merged[name] = nv
		default:
			return fmt.Errorf("field %q: unsupported %s", name, f.Policy)
		}
	}
	for k, v := range merged {
		s.values[k] = v
	}
	return nil
}
