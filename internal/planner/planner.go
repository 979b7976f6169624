// Package planner turns a validated operation into a query plan against a
// supergraph.
//
// Root fields are grouped by the subgraph that owns them. Inside one
// subgraph's selection, a field that subgraph cannot resolve becomes an entity
// jump: the parent fetch is extended with __typename and the entity key, and a
// Flatten over the parent location runs an _entities fetch against the owning
// subgraph once the parent fetch has completed. Jumps discovered inside an
// entity fetch nest the same way.
//
// Query root groups run in Parallel, mutation root groups in Sequence, split
// only between consecutive fields so mutation order is kept.
package planner

import (
	"context"
	"fmt"
	"strings"

	language "github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/plan"
	schema "github.com/hanpama/fedgate/internal/schema"
)

const (
	typenameField       = "__typename"
	representationsVar  = "representations"
	entitiesField       = "_entities"
	anyScalar           = "_Any"
	directiveInclude    = "include"
	directiveSkip       = "skip"
	directiveArgumentIf = "if"
)

// Planner builds query plans. It holds no state; one Planner may serve any
// number of schemas concurrently.
type Planner struct{}

// New creates a Planner.
func New() *Planner { return &Planner{} }

// Plan builds the plan of the named operation of doc. doc must have been
// validated against s.AST().
func (p *Planner) Plan(ctx context.Context, s *schema.Schema, doc *language.QueryDocument, operationName string) (*plan.QueryPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, transientError(err)
	}
	op, err := language.SelectOperation(doc, operationName)
	if err != nil {
		return nil, planningErrorf(nil, "%s", err.Error())
	}
	root := s.RootType(op.Operation)
	if root == nil {
		return nil, planningErrorf(nil, "schema does not support %s operations", op.Operation)
	}
	if op.Operation == language.Subscription {
		return nil, planningErrorf(nil, "subscriptions are not supported")
	}

	b := &builder{ctx: ctx, schema: s, doc: doc, op: op}
	node, err := b.planRoot(root.Name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, transientError(ctx.Err())
		}
		return nil, err
	}
	return &plan.QueryPlan{Root: node}, nil
}

type builder struct {
	ctx     context.Context
	schema  *schema.Schema
	doc     *language.QueryDocument
	op      *language.OperationDefinition
	fetches int
}

// condition is a variable guard from @include or @skip.
type condition struct {
	variable string
	skip     bool
}

// location is where a selection set writes in the response.
type location struct {
	// path is a pattern with plan.Flatten for every list level.
	path plan.Path
	// nullables[i] reports whether the value at path[:i+1] may be null.
	nullables []bool
	cond      *condition
	// keys holds the client fields selected at path, by response key.
	keys map[string][]*language.Field
}

func (l location) field(key string, t *language.Type) location {
	path := l.path.Append(key)
	nullables := append(append([]bool(nil), l.nullables...), !t.NonNull)
	for t.Elem != nil {
		t = t.Elem
		path = path.Append(plan.Flatten)
		nullables = append(nullables, !t.NonNull)
	}
	return location{path: path, nullables: nullables, cond: l.cond}
}

func (l location) guarded(directives language.DirectiveList) location {
	if c := conditionOf(directives); c != nil {
		l.cond = c
	}
	return l
}

// boundary is the nearest location at or above l that may hold null.
func (l location) boundary() plan.Path {
	for k := len(l.path); k > 0; k-- {
		if l.nullables[k-1] {
			return append(plan.Path(nil), l.path[:k]...)
		}
	}
	return plan.Path{}
}

// jump is a group of fields resolved through one _entities fetch.
type jump struct {
	loc      location
	typeName string
	service  string
	fields   language.SelectionSet
	requires language.SelectionSet
}

// fetchBuilder accumulates what one subgraph fetch needs.
type fetchBuilder struct {
	service   string
	variables map[string]bool
	jumps     []*jump
	byKey     map[string]*jump
}

func newFetchBuilder(service string) *fetchBuilder {
	return &fetchBuilder{service: service, variables: map[string]bool{}, byKey: map[string]*jump{}}
}

func (b *builder) planRoot(rootType string) (plan.Node, error) {
	fields, err := b.rootFields(b.op.SelectionSet, nil)
	if err != nil {
		return nil, err
	}

	// Fields guarded by the same variable share a fetch so the guard can
	// skip it as a whole.
	type group struct {
		service string
		cond    *condition
		fields  []*language.Field
	}
	var groups []*group
	byKey := map[string]*group{}
	for _, f := range fields {
		// __typename, __schema and __type are answered by the gateway.
		if strings.HasPrefix(f.Name, "__") {
			continue
		}
		resolvers := b.schema.Resolvers(rootType, f.Name)
		if len(resolvers) == 0 {
			return nil, planningErrorf(plan.Path{responseKey(f)}, "no subgraph resolves %s.%s", rootType, f.Name)
		}
		service := resolvers[0]
		cond := conditionOf(f.Directives)
		if b.op.Operation == language.Mutation {
			if n := len(groups); n > 0 && groups[n-1].service == service && condKey(groups[n-1].cond) == condKey(cond) {
				groups[n-1].fields = append(groups[n-1].fields, f)
				continue
			}
			groups = append(groups, &group{service: service, cond: cond, fields: []*language.Field{f}})
			continue
		}
		key := service + "|" + condKey(cond)
		if g, ok := byKey[key]; ok {
			g.fields = append(g.fields, f)
			continue
		}
		g := &group{service: service, cond: cond, fields: []*language.Field{f}}
		byKey[key] = g
		groups = append(groups, g)
	}

	nodes := make([]plan.Node, 0, len(groups))
	for _, g := range groups {
		set := make(language.SelectionSet, len(g.fields))
		for i, f := range g.fields {
			set[i] = f
		}
		n, err := b.rootFetch(g.service, rootType, set)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, guard(g.cond, n))
	}
	switch {
	case len(nodes) == 0:
		return nil, nil
	case len(nodes) == 1:
		return nodes[0], nil
	case b.op.Operation == language.Mutation:
		return &plan.SequenceNode{Nodes: nodes}, nil
	}
	return &plan.ParallelNode{Nodes: nodes}, nil
}

// rootFields flattens fragments at the root so fields can be grouped by
// owner. Fragment directives are carried onto the fields they contain.
func (b *builder) rootFields(set language.SelectionSet, inherited language.DirectiveList) ([]*language.Field, error) {
	var out []*language.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if len(inherited) == 0 {
				out = append(out, s)
				continue
			}
			cp := *s
			cp.Directives = append(append(language.DirectiveList(nil), inherited...), s.Directives...)
			out = append(out, &cp)
		case *language.InlineFragment:
			fs, err := b.rootFields(s.SelectionSet, append(append(language.DirectiveList(nil), inherited...), s.Directives...))
			if err != nil {
				return nil, err
			}
			out = append(out, fs...)
		case *language.FragmentSpread:
			def := b.fragment(s)
			if def == nil {
				return nil, planningErrorf(nil, "unknown fragment %q", s.Name)
			}
			fs, err := b.rootFields(def.SelectionSet, append(append(language.DirectiveList(nil), inherited...), s.Directives...))
			if err != nil {
				return nil, err
			}
			out = append(out, fs...)
		}
	}
	return out, nil
}

func (b *builder) rootFetch(service, rootType string, set language.SelectionSet) (plan.Node, error) {
	fb := newFetchBuilder(service)
	loc := location{path: plan.Path{}, keys: b.clientFields(b.op.SelectionSet)}
	sel, err := b.buildSelection(fb, rootType, set, loc)
	if err != nil {
		return nil, err
	}
	provides, err := b.provides(rootType, set)
	if err != nil {
		return nil, err
	}
	opDef := &language.OperationDefinition{
		Operation:           b.op.Operation,
		Name:                b.fetchName(service),
		VariableDefinitions: b.variableDefinitions(fb),
		SelectionSet:        sel,
	}
	fetch := &plan.FetchNode{
		ServiceName:    service,
		Operation:      printOperation(opDef),
		OperationName:  opDef.Name,
		OperationKind:  string(b.op.Operation),
		VariableUsages: b.variableUsages(fb),
		Provides:       provides,
		NullBoundary:   plan.Path{},
	}
	return b.withJumps(fetch, fb)
}

// entityNode plans one jump: Flatten(path, _entities fetch), followed by the
// jumps discovered inside it, under the jump's variable guard if any.
func (b *builder) entityNode(j *jump) (plan.Node, error) {
	fb := newFetchBuilder(j.service)
	sel, err := b.buildSelection(fb, j.typeName, j.fields, j.loc)
	if err != nil {
		return nil, err
	}
	provides, err := b.provides(j.typeName, j.fields)
	if err != nil {
		return nil, err
	}

	vars := append(language.VariableDefinitionList{{
		Variable: representationsVar,
		Type:     language.NonNullListType(language.NonNullNamedType(anyScalar, nil), nil),
	}}, b.variableDefinitions(fb)...)
	opDef := &language.OperationDefinition{
		Operation:           language.Query,
		Name:                b.fetchName(j.service),
		VariableDefinitions: vars,
		SelectionSet: language.SelectionSet{&language.Field{
			Name: entitiesField,
			Arguments: language.ArgumentList{{
				Name:  representationsVar,
				Value: &language.Value{Kind: language.Variable, Raw: representationsVar},
			}},
			SelectionSet: language.SelectionSet{&language.InlineFragment{
				TypeCondition: j.typeName,
				SelectionSet:  sel,
			}},
		}},
	}
	fetch := &plan.FetchNode{
		ServiceName:    j.service,
		Operation:      printOperation(opDef),
		OperationName:  opDef.Name,
		OperationKind:  string(language.Query),
		VariableUsages: b.variableUsages(fb),
		Requires: []plan.Selection{{
			Kind:          plan.SelectionInlineFragment,
			TypeCondition: j.typeName,
			Selections:    append([]plan.Selection{{Kind: plan.SelectionField, Name: typenameField}}, toPlanSelections(j.requires)...),
		}},
		Provides:     provides,
		NullBoundary: j.loc.boundary(),
	}

	var node plan.Node = &plan.FlattenNode{Path: j.loc.path, Node: fetch}
	if len(fb.jumps) > 0 {
		children, err := b.jumpNodes(fb)
		if err != nil {
			return nil, err
		}
		node = &plan.SequenceNode{Nodes: []plan.Node{node, parallel(children)}}
	}
	return guard(j.loc.cond, node), nil
}

// guard wraps node so it only runs when c lets it: in the else clause for
// @skip, in the if clause for @include.
func guard(c *condition, node plan.Node) plan.Node {
	switch {
	case c == nil:
		return node
	case c.skip:
		return &plan.ConditionNode{Condition: c.variable, ElseClause: node}
	}
	return &plan.ConditionNode{Condition: c.variable, IfClause: node}
}

func (b *builder) withJumps(fetch *plan.FetchNode, fb *fetchBuilder) (plan.Node, error) {
	if len(fb.jumps) == 0 {
		return fetch, nil
	}
	children, err := b.jumpNodes(fb)
	if err != nil {
		return nil, err
	}
	return &plan.SequenceNode{Nodes: []plan.Node{fetch, parallel(children)}}, nil
}

func (b *builder) jumpNodes(fb *fetchBuilder) ([]plan.Node, error) {
	out := make([]plan.Node, 0, len(fb.jumps))
	for _, j := range fb.jumps {
		n, err := b.entityNode(j)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parallel(nodes []plan.Node) plan.Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &plan.ParallelNode{Nodes: nodes}
}

// buildSelection copies set into the selection fb.service is asked for,
// diverting fields it cannot resolve into entity jumps.
func (b *builder) buildSelection(fb *fetchBuilder, parent string, set language.SelectionSet, loc location) (language.SelectionSet, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, err
	}
	if loc.keys == nil {
		loc.keys = b.clientFields(set)
	}
	var out language.SelectionSet
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if s.Name == typenameField {
				fb.useDirectives(s.Directives)
				out = append(out, s)
				continue
			}
			if !b.schema.CanResolve(fb.service, parent, s.Name) {
				extra, err := b.addJump(fb, parent, s, loc)
				if err != nil {
					return nil, err
				}
				out = append(out, extra...)
				continue
			}
			ft := b.fieldType(parent, s)
			if ft == nil {
				return nil, planningErrorf(loc.path.Append(responseKey(s)), "cannot query field %q on type %q", s.Name, parent)
			}
			fb.useArguments(s.Arguments)
			fb.useDirectives(s.Directives)
			cp := &language.Field{Alias: s.Alias, Name: s.Name, Arguments: s.Arguments, Directives: s.Directives}
			if len(s.SelectionSet) > 0 {
				child := ft.Name()
				childLoc := loc.field(responseKey(s), ft).guarded(s.Directives)
				childLoc.keys = b.clientFields(selectionSets(loc.keys[responseKey(s)], s)...)
				sub, err := b.buildSelection(fb, child, s.SelectionSet, childLoc)
				if err != nil {
					return nil, err
				}
				if b.isAbstract(child) {
					sub = append(language.SelectionSet{&language.Field{Name: typenameField}}, sub...)
				}
				cp.SelectionSet = dedupe(sub)
			}
			out = append(out, cp)
		case *language.InlineFragment:
			tc := s.TypeCondition
			if tc == "" {
				tc = parent
			}
			fb.useDirectives(s.Directives)
			sub, err := b.buildSelection(fb, tc, s.SelectionSet, loc.guarded(s.Directives))
			if err != nil {
				return nil, err
			}
			out = append(out, &language.InlineFragment{TypeCondition: s.TypeCondition, Directives: s.Directives, SelectionSet: dedupe(sub)})
		case *language.FragmentSpread:
			def := b.fragment(s)
			if def == nil {
				return nil, planningErrorf(loc.path, "unknown fragment %q", s.Name)
			}
			fb.useDirectives(s.Directives)
			sub, err := b.buildSelection(fb, def.TypeCondition, def.SelectionSet, loc.guarded(s.Directives))
			if err != nil {
				return nil, err
			}
			out = append(out, &language.InlineFragment{TypeCondition: def.TypeCondition, Directives: s.Directives, SelectionSet: dedupe(sub)})
		}
	}
	return dedupe(out), nil
}

// addJump records field as resolved by another subgraph and returns the
// selections the current fetch must add so the jump can build its
// representations.
func (b *builder) addJump(fb *fetchBuilder, parent string, field *language.Field, loc location) (language.SelectionSet, error) {
	at := loc.path.Append(responseKey(field))
	def := b.schema.Type(parent)
	if def == nil || def.Kind != language.Object {
		return nil, planningErrorf(at, "field %s.%s is not resolvable by %q and %s is not an object type", parent, field.Name, fb.service, parent)
	}

	var target, key string
	for _, r := range b.schema.Resolvers(parent, field.Name) {
		if keys := b.schema.Keys(parent, r); len(keys) > 0 {
			target, key = r, keys[0]
			break
		}
	}
	if target == "" {
		return nil, planningErrorf(at, "no subgraph can resolve %s.%s as an entity field", parent, field.Name)
	}

	requires, err := parseFieldSet(key)
	if err != nil {
		return nil, planningErrorf(at, "invalid key %q on %s: %v", key, parent, err)
	}
	if req := b.schema.Requires(target, parent, field.Name); req != "" {
		extra, err := parseFieldSet(req)
		if err != nil {
			return nil, planningErrorf(at, "invalid requires %q on %s.%s: %v", req, parent, field.Name, err)
		}
		requires = append(requires, extra...)
	}
	for i, sel := range requires {
		f, ok := sel.(*language.Field)
		if !ok || !b.schema.CanResolve(fb.service, parent, f.Name) {
			return nil, planningErrorf(at, "%q cannot provide %s.%s needed to reach %q", fb.service, parent, fieldName(sel), target)
		}
		if b.collides(f, loc.keys[f.Name]) {
			cp := *f
			cp.Alias = reservedAlias(f.Name, loc.keys)
			requires[i] = &cp
		}
	}

	guarded := loc.guarded(field.Directives)
	jk := fmt.Sprintf("%s|%s|%s|%s", loc.path, parent, target, condKey(guarded.cond))
	j, ok := fb.byKey[jk]
	if !ok {
		j = &jump{loc: guarded, typeName: parent, service: target}
		fb.byKey[jk] = j
		fb.jumps = append(fb.jumps, j)
	}
	j.fields = append(j.fields, field)
	j.requires = dedupe(append(j.requires, requires...))

	return append(language.SelectionSet{&language.Field{Name: typenameField}}, requires...), nil
}

// provides lists the response keys set writes at its location.
func (b *builder) provides(parent string, set language.SelectionSet) ([]plan.ProvidedField, error) {
	var out []plan.ProvidedField
	seen := map[string]bool{}
	var walk func(parent string, set language.SelectionSet) error
	walk = func(parent string, set language.SelectionSet) error {
		for _, sel := range set {
			switch s := sel.(type) {
			case *language.Field:
				key := responseKey(s)
				if seen[key] {
					continue
				}
				seen[key] = true
				nonNull := false
				if s.Name == typenameField {
					nonNull = true
				} else if ft := b.fieldType(parent, s); ft != nil {
					nonNull = ft.NonNull
				}
				out = append(out, plan.ProvidedField{Key: key, NonNull: nonNull})
			case *language.InlineFragment:
				tc := s.TypeCondition
				if tc == "" {
					tc = parent
				}
				if err := walk(tc, s.SelectionSet); err != nil {
					return err
				}
			case *language.FragmentSpread:
				def := b.fragment(s)
				if def == nil {
					return planningErrorf(nil, "unknown fragment %q", s.Name)
				}
				if err := walk(def.TypeCondition, def.SelectionSet); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(parent, set); err != nil {
		return nil, err
	}
	return out, nil
}

// clientFields indexes the fields of sets by response key, looking through
// fragments.
func (b *builder) clientFields(sets ...language.SelectionSet) map[string][]*language.Field {
	out := map[string][]*language.Field{}
	var walk func(set language.SelectionSet)
	walk = func(set language.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *language.Field:
				key := responseKey(s)
				out[key] = append(out[key], s)
			case *language.InlineFragment:
				walk(s.SelectionSet)
			case *language.FragmentSpread:
				if def := b.fragment(s); def != nil {
					walk(def.SelectionSet)
				}
			}
		}
	}
	for _, set := range sets {
		walk(set)
	}
	return out
}

// collides reports whether a key field added for an entity jump would share
// its response key with a different client field.
func (b *builder) collides(added *language.Field, clients []*language.Field) bool {
	if len(clients) == 0 {
		return false
	}
	for _, c := range clients {
		if c.Name != added.Name || len(c.Arguments) > 0 {
			return true
		}
	}
	nested := b.clientFields(selectionSets(clients, nil)...)
	for _, sel := range added.SelectionSet {
		if f, ok := sel.(*language.Field); ok && b.collides(f, nested[responseKey(f)]) {
			return true
		}
	}
	return false
}

// reservedAlias returns an alias for name that no client field at the
// location uses.
func reservedAlias(name string, keys map[string][]*language.Field) string {
	alias := "_key_" + name
	for len(keys[alias]) > 0 {
		alias = "_" + alias
	}
	return alias
}

// selectionSets returns the selection sets of fields, or of fallback alone
// when fields is empty.
func selectionSets(fields []*language.Field, fallback *language.Field) []language.SelectionSet {
	if len(fields) == 0 && fallback != nil {
		return []language.SelectionSet{fallback.SelectionSet}
	}
	out := make([]language.SelectionSet, len(fields))
	for i, f := range fields {
		out[i] = f.SelectionSet
	}
	return out
}

func (b *builder) fieldType(parent string, f *language.Field) *language.Type {
	if f.Definition != nil && f.Definition.Type != nil {
		return f.Definition.Type
	}
	return b.schema.FieldType(parent, f.Name)
}

func (b *builder) isAbstract(typeName string) bool {
	def := b.schema.Type(typeName)
	return def != nil && (def.Kind == language.Interface || def.Kind == language.Union)
}

func (b *builder) fragment(s *language.FragmentSpread) *language.FragmentDefinition {
	if s.Definition != nil {
		return s.Definition
	}
	return b.doc.Fragments.ForName(s.Name)
}

func (b *builder) fetchName(service string) string {
	b.fetches++
	if b.op.Name == "" {
		return ""
	}
	return fmt.Sprintf("%s__%s__%d", b.op.Name, service, b.fetches-1)
}

func (b *builder) variableDefinitions(fb *fetchBuilder) language.VariableDefinitionList {
	var out language.VariableDefinitionList
	for _, v := range b.op.VariableDefinitions {
		if fb.variables[v.Variable] {
			out = append(out, &language.VariableDefinition{Variable: v.Variable, Type: v.Type, DefaultValue: v.DefaultValue})
		}
	}
	return out
}

func (b *builder) variableUsages(fb *fetchBuilder) []string {
	var out []string
	for _, v := range b.op.VariableDefinitions {
		if fb.variables[v.Variable] {
			out = append(out, v.Variable)
		}
	}
	return out
}

func (fb *fetchBuilder) useArguments(args language.ArgumentList) {
	for _, a := range args {
		fb.useValue(a.Value)
	}
}

func (fb *fetchBuilder) useDirectives(ds language.DirectiveList) {
	for _, d := range ds {
		fb.useArguments(d.Arguments)
	}
}

func (fb *fetchBuilder) useValue(v *language.Value) {
	if v == nil {
		return
	}
	if v.Kind == language.Variable {
		fb.variables[v.Raw] = true
		return
	}
	for _, c := range v.Children {
		fb.useValue(c.Value)
	}
}

func conditionOf(ds language.DirectiveList) *condition {
	for _, name := range []string{directiveSkip, directiveInclude} {
		d := ds.ForName(name)
		if d == nil {
			continue
		}
		arg := d.Arguments.ForName(directiveArgumentIf)
		if arg == nil || arg.Value == nil || arg.Value.Kind != language.Variable {
			continue
		}
		return &condition{variable: arg.Value.Raw, skip: name == directiveSkip}
	}
	return nil
}

func condKey(c *condition) string {
	if c == nil {
		return ""
	}
	if c.skip {
		return "!" + c.variable
	}
	return c.variable
}

func responseKey(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func fieldName(sel language.Selection) string {
	if f, ok := sel.(*language.Field); ok {
		return f.Name
	}
	return "..."
}
