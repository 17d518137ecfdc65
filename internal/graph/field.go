package graph

import "fmt"

// Policy controls how a stage's write to a field is merged into State.
type Policy int

const (
	// PolicyReplace: last writer wins. Only valid when the writers of the
	// field are ordered by the graph.
	PolicyReplace Policy = iota
	// PolicyAppend: writes are folded in with the field's Combine func,
	// which must not lose either operand.
	PolicyAppend
)

func (p Policy) String() string {
	switch p {
	case PolicyReplace:
		return "replace"
	case PolicyAppend:
		return "append"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// CombineFunc folds an update into the current value of a field.
// current is nil when the field has never been written.
type CombineFunc func(current, update any) (any, error)

// Field declares one slot of State and how concurrent writers share it.
type Field struct {
	Name    string
	Policy  Policy
	Combine CombineFunc
}

// Replace declares a single-writer field.
func Replace(name string) Field {
	return Field{Name: name, Policy: PolicyReplace}
}

// Append declares a []T field whose writes are concatenated. The result is
// always a fresh slice so values previously read from State never alias it.
func Append[T any](name string) Field {
	return Field{
		Name:   name,
		Policy: PolicyAppend,
		Combine: func(current, update any) (any, error) {
			add, ok := update.([]T)
			if !ok {
				return nil, fmt.Errorf("field %q: append expects %T, got %T", name, []T(nil), update)
			}
			var base []T
			if current != nil {
				base, ok = current.([]T)
				if !ok {
					return nil, fmt.Errorf("field %q: stored value is %T, want %T", name, current, []T(nil))
				}
			}
			out := make([]T, 0, len(base)+len(add))
			out = append(out, base...)
			return append(out, add...), nil
		},
	}
}
