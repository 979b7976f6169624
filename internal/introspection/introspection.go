// Package introspection answers the __schema and __type root fields from the
// client-facing schema of a supergraph. Composition types and directives
// (join__, link__) are hidden, and subgraphs are never asked.
package introspection

import (
	"sort"
	"strings"

	language "github.com/hanpama/fedgate/internal/language"
	schema "github.com/hanpama/fedgate/internal/schema"
)

const (
	schemaField   = "__schema"
	typeField     = "__type"
	typenameField = "__typename"

	defaultDeprecationReason = "No longer supported"
)

// Resolve executes the introspection root fields op selects and returns their
// values by response key, already shaped by their selection sets. It returns
// nil when op selects none.
func Resolve(s *schema.Schema, doc *language.QueryDocument, op *language.OperationDefinition, vars map[string]any) map[string]any {
	if op.Operation != language.Query {
		return nil
	}
	root := s.RootType(language.Query)
	if root == nil {
		return nil
	}
	r := &resolver{schema: s, doc: doc, vars: vars}
	var out map[string]any
	for _, f := range r.collect(root.Name, op.SelectionSet) {
		var v any
		switch f.name {
		case schemaField:
			v = r.object("__Schema", s.AST(), f.set)
		case typeField:
			name, _ := f.args["name"].(string)
			if def := r.lookup(name); def != nil {
				v = r.object("__Type", def, f.set)
			}
		default:
			continue
		}
		if out == nil {
			out = map[string]any{}
		}
		out[f.key] = v
	}
	return out
}

type resolver struct {
	schema *schema.Schema
	doc    *language.QueryDocument
	vars   map[string]any
}

// collected is one response key with the merged selection sets of every
// field selecting it.
type collected struct {
	key  string
	name string
	args map[string]any
	set  language.SelectionSet
}

func (r *resolver) collect(typeName string, set language.SelectionSet) []*collected {
	var out []*collected
	r.collectInto(typeName, set, &out, map[string]*collected{})
	return out
}

func (r *resolver) collectInto(typeName string, set language.SelectionSet, out *[]*collected, byKey map[string]*collected) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if !r.included(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			if c, ok := byKey[key]; ok {
				c.set = append(c.set, s.SelectionSet...)
				continue
			}
			c := &collected{key: key, name: s.Name, set: append(language.SelectionSet(nil), s.SelectionSet...)}
			if s.Definition != nil {
				c.args = s.ArgumentMap(r.vars)
			}
			byKey[key] = c
			*out = append(*out, c)
		case *language.InlineFragment:
			if r.included(s.Directives) && applies(s.TypeCondition, typeName) {
				r.collectInto(typeName, s.SelectionSet, out, byKey)
			}
		case *language.FragmentSpread:
			def := r.doc.Fragments.ForName(s.Name)
			if def != nil && r.included(s.Directives) && applies(def.TypeCondition, typeName) {
				r.collectInto(typeName, def.SelectionSet, out, byKey)
			}
		}
	}
}

func (r *resolver) included(ds language.DirectiveList) bool {
	for _, d := range ds {
		switch d.Name {
		case "skip":
			if cond, _ := d.ArgumentMap(r.vars)["if"].(bool); cond {
				return false
			}
		case "include":
			if cond, _ := d.ArgumentMap(r.vars)["if"].(bool); !cond {
				return false
			}
		}
	}
	return true
}

// applies matches a fragment condition. Introspection types are all
// concrete objects.
func applies(condition, typeName string) bool {
	return condition == "" || condition == typeName
}

func (r *resolver) object(typeName string, src any, set language.SelectionSet) map[string]any {
	out := make(map[string]any)
	for _, f := range r.collect(typeName, set) {
		if f.name == typenameField {
			out[f.key] = typeName
			continue
		}
		v := r.resolve(typeName, src, f.name, f.args)
		out[f.key] = r.complete(r.schema.FieldType(typeName, f.name), v, f.set)
	}
	return out
}

func (r *resolver) complete(t *language.Type, v any, set language.SelectionSet) any {
	if v == nil || t == nil {
		return v
	}
	if t.Elem != nil {
		items, ok := v.([]any)
		if !ok {
			return nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = r.complete(t.Elem, item, set)
		}
		return out
	}
	if len(set) == 0 {
		return v
	}
	return r.object(t.NamedType, v, set)
}

func (r *resolver) resolve(typeName string, src any, field string, args map[string]any) any {
	switch typeName {
	case "__Schema":
		return r.schemaField(field)
	case "__Type":
		return r.typeField(src, field, args)
	case "__Field":
		return r.fieldField(src.(*language.FieldDefinition), field, args)
	case "__InputValue":
		return r.inputValueField(src.(inputValue), field)
	case "__EnumValue":
		return enumValueField(src.(*language.EnumValueDefinition), field)
	case "__Directive":
		return r.directiveField(src.(*language.DirectiveDefinition), field, args)
	}
	return nil
}

// --- __Schema ---

func (r *resolver) schemaField(field string) any {
	ast := r.schema.AST()
	switch field {
	case "types":
		names := make([]string, 0, len(ast.Types))
		for name := range ast.Types {
			if !schema.IsFederationName(name) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		out := make([]any, len(names))
		for i, name := range names {
			out[i] = ast.Types[name]
		}
		return out
	case "queryType":
		return definition(ast.Query)
	case "mutationType":
		return definition(ast.Mutation)
	case "subscriptionType":
		return definition(ast.Subscription)
	case "directives":
		names := make([]string, 0, len(ast.Directives))
		for name := range ast.Directives {
			if !schema.IsFederationName(name) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		out := make([]any, len(names))
		for i, name := range names {
			out[i] = ast.Directives[name]
		}
		return out
	}
	return nil
}

// --- __Type ---

// wrapper is a LIST or NON_NULL __Type.
type wrapper struct {
	kind   string
	ofType *language.Type
}

func (r *resolver) typeRef(t *language.Type) any {
	switch {
	case t == nil:
		return nil
	case t.NonNull:
		inner := *t
		inner.NonNull = false
		return wrapper{kind: "NON_NULL", ofType: &inner}
	case t.Elem != nil:
		return wrapper{kind: "LIST", ofType: t.Elem}
	}
	return definition(r.schema.Type(t.NamedType))
}

func (r *resolver) lookup(name string) *language.Definition {
	if name == "" || schema.IsFederationName(name) {
		return nil
	}
	return r.schema.Type(name)
}

func (r *resolver) typeField(src any, field string, args map[string]any) any {
	if w, ok := src.(wrapper); ok {
		switch field {
		case "kind":
			return w.kind
		case "ofType":
			return r.typeRef(w.ofType)
		}
		return nil
	}
	def := src.(*language.Definition)
	includeDeprecated, _ := args["includeDeprecated"].(bool)
	switch field {
	case "kind":
		return string(def.Kind)
	case "name":
		return def.Name
	case "description":
		return optional(def.Description)
	case "specifiedByURL":
		if d := def.Directives.ForName("specifiedBy"); d != nil {
			if a := d.Arguments.ForName("url"); a != nil && a.Value != nil {
				return a.Value.Raw
			}
		}
		return nil
	case "fields":
		if def.Kind != language.Object && def.Kind != language.Interface {
			return nil
		}
		out := []any{}
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			if deprecated, _ := deprecation(f.Directives); deprecated && !includeDeprecated {
				continue
			}
			out = append(out, f)
		}
		return out
	case "interfaces":
		if def.Kind != language.Object && def.Kind != language.Interface {
			return nil
		}
		out := []any{}
		for _, name := range def.Interfaces {
			if d := r.lookup(name); d != nil {
				out = append(out, d)
			}
		}
		return out
	case "possibleTypes":
		if def.Kind != language.Interface && def.Kind != language.Union {
			return nil
		}
		types := append([]*language.Definition(nil), r.schema.AST().GetPossibleTypes(def)...)
		sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
		out := make([]any, len(types))
		for i, t := range types {
			out[i] = t
		}
		return out
	case "enumValues":
		if def.Kind != language.Enum {
			return nil
		}
		out := []any{}
		for _, ev := range def.EnumValues {
			if deprecated, _ := deprecation(ev.Directives); deprecated && !includeDeprecated {
				continue
			}
			out = append(out, ev)
		}
		return out
	case "inputFields":
		if def.Kind != language.InputObject {
			return nil
		}
		out := []any{}
		for _, f := range def.Fields {
			iv := inputValue{name: f.Name, description: f.Description, typ: f.Type, defaultValue: f.DefaultValue, directives: f.Directives}
			if deprecated, _ := deprecation(iv.directives); deprecated && !includeDeprecated {
				continue
			}
			out = append(out, iv)
		}
		return out
	case "isOneOf":
		if def.Kind != language.InputObject {
			return nil
		}
		return def.Directives.ForName("oneOf") != nil
	}
	return nil
}

// --- __Field, __InputValue, __EnumValue, __Directive ---

func (r *resolver) fieldField(f *language.FieldDefinition, field string, args map[string]any) any {
	switch field {
	case "name":
		return f.Name
	case "description":
		return optional(f.Description)
	case "args":
		includeDeprecated, _ := args["includeDeprecated"].(bool)
		return arguments(f.Arguments, includeDeprecated)
	case "type":
		return r.typeRef(f.Type)
	case "isDeprecated":
		deprecated, _ := deprecation(f.Directives)
		return deprecated
	case "deprecationReason":
		_, reason := deprecation(f.Directives)
		return reason
	}
	return nil
}

// inputValue is an argument or an input object field.
type inputValue struct {
	name         string
	description  string
	typ          *language.Type
	defaultValue *language.Value
	directives   language.DirectiveList
}

func arguments(defs []*language.ArgumentDefinition, includeDeprecated bool) []any {
	out := []any{}
	for _, a := range defs {
		iv := inputValue{name: a.Name, description: a.Description, typ: a.Type, defaultValue: a.DefaultValue, directives: a.Directives}
		if deprecated, _ := deprecation(iv.directives); deprecated && !includeDeprecated {
			continue
		}
		out = append(out, iv)
	}
	return out
}

func (r *resolver) inputValueField(iv inputValue, field string) any {
	switch field {
	case "name":
		return iv.name
	case "description":
		return optional(iv.description)
	case "type":
		return r.typeRef(iv.typ)
	case "defaultValue":
		if iv.defaultValue == nil {
			return nil
		}
		return iv.defaultValue.String()
	case "isDeprecated":
		deprecated, _ := deprecation(iv.directives)
		return deprecated
	case "deprecationReason":
		_, reason := deprecation(iv.directives)
		return reason
	}
	return nil
}

func enumValueField(ev *language.EnumValueDefinition, field string) any {
	switch field {
	case "name":
		return ev.Name
	case "description":
		return optional(ev.Description)
	case "isDeprecated":
		deprecated, _ := deprecation(ev.Directives)
		return deprecated
	case "deprecationReason":
		_, reason := deprecation(ev.Directives)
		return reason
	}
	return nil
}

func (r *resolver) directiveField(d *language.DirectiveDefinition, field string, args map[string]any) any {
	switch field {
	case "name":
		return d.Name
	case "description":
		return optional(d.Description)
	case "isRepeatable":
		return d.IsRepeatable
	case "locations":
		out := make([]any, len(d.Locations))
		for i, l := range d.Locations {
			out[i] = string(l)
		}
		return out
	case "args":
		includeDeprecated, _ := args["includeDeprecated"].(bool)
		return arguments(d.Arguments, includeDeprecated)
	}
	return nil
}

// deprecation reports whether ds marks its element deprecated, and the
// reason as a response value.
func deprecation(ds language.DirectiveList) (bool, any) {
	d := ds.ForName("deprecated")
	if d == nil {
		return false, nil
	}
	if a := d.Arguments.ForName("reason"); a != nil && a.Value != nil {
		return true, a.Value.Raw
	}
	return true, defaultDeprecationReason
}

func definition(d *language.Definition) any {
	if d == nil {
		return nil
	}
	return d
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
