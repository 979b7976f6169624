// Package response holds the in-progress client response of one operation.
//
// A Tree is written by many fetches, some of them concurrent, and read back
// when later fetches need entity representations. Locations are addressed by
// plan.Path; a key that is present with a nil value is an explicit null and
// blocks further writes below it.
package response

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hanpama/fedgate/internal/plan"
)

// ErrNullAncestor is returned by Merge when a location on the path has
// already been nulled.
var ErrNullAncestor = errors.New("response: path crosses a null")

// Error is a located GraphQL error.
type Error struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       plan.Path      `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Location is a position in the operation text.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (e Error) Error() string { return e.Message }

// Tree is a JSON-like value tree plus the error list of one response.
// All methods are safe for concurrent use.
type Tree struct {
	mu     sync.Mutex
	data   map[string]any
	nulled bool
	errors []Error
}

// New returns a tree whose data is the empty object.
func New() *Tree {
	return &Tree{data: map[string]any{}}
}

// Merge deep-merges value at path, creating intermediate objects as needed.
// Object keys merge recursively; scalars and lists are replaced.
func (t *Tree) Merge(path plan.Path, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nulled {
		return ErrNullAncestor
	}
	if len(path) == 0 {
		obj, ok := value.(map[string]any)
		if !ok {
			if value == nil {
				return nil
			}
			return fmt.Errorf("response: cannot merge %T at the root", value)
		}
		mergeObject(t.data, obj)
		return nil
	}

	parent, err := t.walk(path[:len(path)-1], true)
	if err != nil {
		return err
	}
	return assign(parent, path[len(path)-1], value)
}

// SetNull writes null at path. An empty path nulls the whole data.
func (t *Tree) SetNull(path plan.Path) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setNull(path)
}

// Fail nulls the location at path and records errs in one step.
func (t *Tree) Fail(path plan.Path, errs ...Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setNull(path)
	t.errors = append(t.errors, errs...)
}

// AddError records errs without touching data.
func (t *Tree) AddError(errs ...Error) {
	t.mu.Lock()
	t.errors = append(t.errors, errs...)
	t.mu.Unlock()
}

// Errors returns the recorded errors in append order.
func (t *Tree) Errors() []Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.errors) == 0 {
		return nil
	}
	out := make([]Error, len(t.errors))
	copy(out, t.errors)
	return out
}

// Data returns the response data: an object, or nil once the root has been
// nulled. The result must not be modified while writers are active.
func (t *Tree) Data() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nulled {
		return nil
	}
	return t.data
}

// Get returns the value at path. ok is false when the path does not exist;
// a present null reports (nil, true).
func (t *Tree) Get(path plan.Path) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nulled {
		return nil, len(path) == 0
	}
	var cur any = t.data
	for _, seg := range path {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (t *Tree) setNull(path plan.Path) {
	if len(path) == 0 {
		t.nulled = true
		t.data = nil
		return
	}
	if t.nulled {
		return
	}
	parent, err := t.walk(path[:len(path)-1], true)
	if err != nil {
		return
	}
	switch seg := path[len(path)-1].(type) {
	case string:
		if m, ok := parent.(map[string]any); ok {
			m[seg] = nil
		}
	case int:
		if l, ok := parent.([]any); ok && seg >= 0 && seg < len(l) {
			l[seg] = nil
		}
	}
}

// walk descends along path and returns the container at its end. Missing
// object keys are created when create is set; list indexes must exist.
func (t *Tree) walk(path plan.Path, create bool) (any, error) {
	var cur any = t.data
	for i, seg := range path {
		switch seg := seg.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("response: %s is not an object", path[:i])
			}
			next, present := m[seg]
			if !present {
				if !create {
					return nil, fmt.Errorf("response: %s does not exist", path[:i+1])
				}
				next = map[string]any{}
				m[seg] = next
			}
			if next == nil {
				return nil, ErrNullAncestor
			}
			cur = next
		case int:
			l, ok := cur.([]any)
			if !ok || seg < 0 || seg >= len(l) {
				return nil, fmt.Errorf("response: %s is out of range", path[:i+1])
			}
			if l[seg] == nil {
				return nil, ErrNullAncestor
			}
			cur = l[seg]
		default:
			return nil, fmt.Errorf("response: invalid path element %v", seg)
		}
	}
	return cur, nil
}

func assign(parent any, seg plan.PathElement, value any) error {
	switch seg := seg.(type) {
	case string:
		m, ok := parent.(map[string]any)
		if !ok {
			return fmt.Errorf("response: cannot set %q on %T", seg, parent)
		}
		m[seg] = mergeValue(m[seg], value)
		return nil
	case int:
		l, ok := parent.([]any)
		if !ok || seg < 0 || seg >= len(l) {
			return fmt.Errorf("response: index %d out of range", seg)
		}
		if l[seg] == nil {
			return ErrNullAncestor
		}
		l[seg] = mergeValue(l[seg], value)
		return nil
	}
	return fmt.Errorf("response: invalid path element %v", seg)
}

func mergeValue(existing, value any) any {
	dst, ok1 := existing.(map[string]any)
	src, ok2 := value.(map[string]any)
	if ok1 && ok2 {
		mergeObject(dst, src)
		return dst
	}
	return value
}

func mergeObject(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = mergeValue(dst[k], v)
	}
}

func child(cur any, seg plan.PathElement) (any, bool) {
	switch seg := seg.(type) {
	case string:
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		return v, ok
	case int:
		l, ok := cur.([]any)
		if !ok || seg < 0 || seg >= len(l) {
			return nil, false
		}
		return l[seg], true
	}
	return nil, false
}
