package router

import (
	"fmt"

	language "github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/response"
	schema "github.com/hanpama/fedgate/internal/schema"
)

// shape projects the merged subgraph data onto the selection set of op. Keys
// the planner added for its own use (__typename, entity keys) are dropped,
// fragments apply by runtime type, and a requested field no subgraph wrote
// comes back as null. When that field is non-null, an error is returned for
// it and the null propagates to the nearest nullable ancestor.
func shape(s *schema.Schema, doc *language.QueryDocument, op *language.OperationDefinition, vars map[string]any, data any) (any, []response.Error) {
	obj, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	root := s.RootType(op.Operation)
	if root == nil {
		return data, nil
	}
	sh := &shaper{schema: s, doc: doc, vars: vars}
	out := map[string]any{}
	if !sh.selectionSet(root.Name, op.SelectionSet, obj, out, plan.Path{}) {
		return nil, sh.errs
	}
	return out, sh.errs
}

type shaper struct {
	schema *schema.Schema
	doc    *language.QueryDocument
	vars   map[string]any
	errs   []response.Error
}

// selectionSet fills out from src. It returns false when a non-null field
// ends up null, in which case out must be replaced by null.
func (sh *shaper) selectionSet(typeName string, set language.SelectionSet, src, out map[string]any, path plan.Path) bool {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if !sh.included(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			if s.Name == "__typename" {
				if v, ok := src[key]; ok && v != nil {
					out[key] = v
				} else {
					out[key] = typeName
				}
				continue
			}
			ft := sh.schema.FieldType(typeName, s.Name)
			v, ok := src[key]
			if !ok {
				if _, seen := out[key]; seen {
					continue
				}
				out[key] = nil
				if ft != nil && ft.NonNull {
					sh.errs = append(sh.errs, response.Error{
						Message: fmt.Sprintf("Cannot return null for non-nullable field %s.%s.", typeName, s.Name),
						Path:    path.Append(key),
					})
					return false
				}
				continue
			}
			sv, valid := sh.value(ft, s.SelectionSet, v, path.Append(key))
			if !valid {
				return false
			}
			out[key] = mergeShaped(out[key], sv)
		case *language.InlineFragment:
			if sh.included(s.Directives) && sh.applies(s.TypeCondition, typeName) {
				if !sh.selectionSet(typeName, s.SelectionSet, src, out, path) {
					return false
				}
			}
		case *language.FragmentSpread:
			def := sh.doc.Fragments.ForName(s.Name)
			if def != nil && sh.included(s.Directives) && sh.applies(def.TypeCondition, typeName) {
				if !sh.selectionSet(typeName, def.SelectionSet, src, out, path) {
					return false
				}
			}
		}
	}
	return true
}

// value shapes v as a t. valid is false when the result is null at a
// non-null position.
func (sh *shaper) value(t *language.Type, set language.SelectionSet, v any, path plan.Path) (any, bool) {
	if t == nil {
		return v, true
	}
	if v == nil {
		return nil, !t.NonNull
	}
	if t.Elem != nil {
		list, ok := v.([]any)
		if !ok {
			return v, true
		}
		out := make([]any, len(list))
		for i, item := range list {
			iv, valid := sh.value(t.Elem, set, item, path.Append(i))
			if !valid {
				return nil, !t.NonNull
			}
			out[i] = iv
		}
		return out, true
	}
	obj, ok := v.(map[string]any)
	if !ok || len(set) == 0 {
		return v, true
	}
	typeName := t.NamedType
	if runtime, ok := obj["__typename"].(string); ok {
		typeName = runtime
	}
	out := map[string]any{}
	if !sh.selectionSet(typeName, set, obj, out, path) {
		return nil, !t.NonNull
	}
	return out, true
}

// applies reports whether a fragment on condition matches an object of
// runtime type typeName.
func (sh *shaper) applies(condition, typeName string) bool {
	if condition == "" || condition == typeName {
		return true
	}
	def := sh.schema.Type(condition)
	if def == nil {
		return false
	}
	for _, possible := range sh.schema.AST().GetPossibleTypes(def) {
		if possible.Name == typeName {
			return true
		}
	}
	return false
}

func (sh *shaper) included(ds language.DirectiveList) bool {
	for _, d := range ds {
		switch d.Name {
		case "skip":
			if cond, _ := d.ArgumentMap(sh.vars)["if"].(bool); cond {
				return false
			}
		case "include":
			if cond, _ := d.ArgumentMap(sh.vars)["if"].(bool); !cond {
				return false
			}
		}
	}
	return true
}

// mergeShaped combines two projections of the same response key, as
// produced when several fragments select one field.
func mergeShaped(prev, next any) any {
	switch p := prev.(type) {
	case map[string]any:
		n, ok := next.(map[string]any)
		if !ok {
			return next
		}
		for k, v := range n {
			p[k] = mergeShaped(p[k], v)
		}
		return p
	case []any:
		n, ok := next.([]any)
		if !ok || len(n) != len(p) {
			return next
		}
		for i := range p {
			p[i] = mergeShaped(p[i], n[i])
		}
		return p
	}
	return next
}
