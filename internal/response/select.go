package response

import "github.com/hanpama/fedgate/internal/plan"

// Element is one concrete location matched by a flatten path.
type Element struct {
	Path  plan.Path
	Value any
}

// Elements expands a plan path against the current data. Each plan.Flatten
// segment fans out over the list at that point; a list met where the pattern
// names a field, or at the end of the pattern, is fanned out the same way.
// Missing and null locations are dropped, so the result only holds values
// that exist.
func (t *Tree) Elements(pattern plan.Path) []Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nulled {
		return nil
	}
	var out []Element
	expand(t.data, pattern, nil, func(p plan.Path, v any) {
		out = append(out, Element{Path: p, Value: v})
	})
	return out
}

// Representations expands pattern and projects each element through sels,
// the entity key selection of an entity fetch. Elements that lack a
// required key field are left out: their dependency cannot be satisfied.
func (t *Tree) Representations(pattern plan.Path, sels []plan.Selection) []Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nulled {
		return nil
	}
	var out []Element
	expand(t.data, pattern, nil, func(p plan.Path, v any) {
		obj, ok := v.(map[string]any)
		if !ok {
			return
		}
		rep, ok := project(obj, sels)
		if !ok || len(rep) == 0 {
			return
		}
		out = append(out, Element{Path: p, Value: rep})
	})
	return out
}

func expand(cur any, pattern plan.Path, at plan.Path, emit func(plan.Path, any)) {
	if cur == nil {
		return
	}
	if len(pattern) == 0 {
		if l, ok := cur.([]any); ok {
			for i, v := range l {
				expand(v, nil, at.Append(i), emit)
			}
			return
		}
		emit(at, cur)
		return
	}
	seg, rest := pattern[0], pattern[1:]
	if s, ok := seg.(string); ok && s == plan.Flatten {
		l, ok := cur.([]any)
		if !ok {
			return
		}
		for i, v := range l {
			expand(v, rest, at.Append(i), emit)
		}
		return
	}
	next, ok := child(cur, seg)
	if !ok {
		if l, isList := cur.([]any); isList {
			if _, isField := seg.(string); isField {
				for i, v := range l {
					expand(v, pattern, at.Append(i), emit)
				}
			}
		}
		return
	}
	expand(next, rest, at.Append(seg), emit)
}

// project copies the fields of sels out of obj. Inline fragments apply when
// their type condition matches obj's __typename. A selected field that is
// missing or null fails the projection.
func project(obj map[string]any, sels []plan.Selection) (map[string]any, bool) {
	out := map[string]any{}
	if !projectInto(out, obj, sels) {
		return nil, false
	}
	return out, true
}

func projectInto(out, obj map[string]any, sels []plan.Selection) bool {
	for _, sel := range sels {
		switch sel.Kind {
		case plan.SelectionInlineFragment:
			if sel.TypeCondition != "" {
				if tn, _ := obj["__typename"].(string); tn != sel.TypeCondition {
					continue
				}
			}
			if !projectInto(out, obj, sel.Selections) {
				return false
			}
		default:
			v, ok := obj[sel.ResponseKey()]
			if !ok || v == nil {
				return false
			}
			if len(sel.Selections) == 0 {
				out[sel.Name] = v
				continue
			}
			pv, ok := projectValue(v, sel.Selections)
			if !ok {
				return false
			}
			out[sel.Name] = pv
		}
	}
	return true
}

func projectValue(v any, sels []plan.Selection) (any, bool) {
	switch v := v.(type) {
	case map[string]any:
		return project(v, sels)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			pv, ok := projectValue(item, sels)
			if !ok {
				return nil, false
			}
			items[i] = pv
		}
		return items, true
	}
	return nil, false
}
