package schema

import (
	"strconv"
	"strings"

	language "github.com/hanpama/fedgate/internal/language"
)

// Schema is a loaded supergraph: the client-facing GraphQL schema plus the
// join metadata describing which subgraph resolves each type and field.
// A Schema is immutable after Load and safe for concurrent use.
type Schema struct {
	ast       *language.Schema
	subgraphs []Subgraph
	byEnum    map[string]int // join__Graph enum value -> index in subgraphs
	byName    map[string]int
	types     map[string]*typeInfo
	version   string
}

// Subgraph is a backend service contributing to the supergraph.
type Subgraph struct {
	Name string
	URL  string
}

type typeInfo struct {
	// graphs lists subgraph names declaring the type, in declaration order.
	graphs []string
	// keys maps subgraph name to its resolvable key field sets.
	keys   map[string][]string
	fields map[string]*fieldInfo
}

type fieldInfo struct {
	graphs   []string
	requires map[string]string
}

// AST returns the client-facing schema used for validation.
func (s *Schema) AST() *language.Schema { return s.ast }

// Version identifies the schema generation. Two schemas loaded from the same
// text share a version.
func (s *Schema) Version() string { return s.version }

// Subgraphs returns the subgraphs in declaration order.
func (s *Schema) Subgraphs() []Subgraph {
	out := make([]Subgraph, len(s.subgraphs))
	copy(out, s.subgraphs)
	return out
}

// Subgraph looks up a subgraph by name.
func (s *Schema) Subgraph(name string) (Subgraph, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Subgraph{}, false
	}
	return s.subgraphs[i], true
}

// Type returns the named type definition, or nil.
func (s *Schema) Type(name string) *language.Definition { return s.ast.Types[name] }

// RootType returns the root object type for the operation kind, or nil.
func (s *Schema) RootType(op language.Operation) *language.Definition {
	switch op {
	case language.Query:
		return s.ast.Query
	case language.Mutation:
		return s.ast.Mutation
	case language.Subscription:
		return s.ast.Subscription
	}
	return nil
}

// FieldType returns the declared type of parent.field, or nil when the field
// does not exist. __typename is reported as String!.
func (s *Schema) FieldType(parent, field string) *language.Type {
	if field == typenameField {
		return &language.Type{NamedType: "String", NonNull: true}
	}
	def := s.ast.Types[parent]
	if def == nil {
		return nil
	}
	fd := def.Fields.ForName(field)
	if fd == nil {
		return nil
	}
	return fd.Type
}

// Resolvers returns the subgraphs able to resolve parent.field. A field-level
// @join__field wins; otherwise every subgraph declaring the parent type can
// resolve it. An empty result means the type carries no join metadata (a value
// type resolved by whichever subgraph returned its parent).
func (s *Schema) Resolvers(parent, field string) []string {
	ti := s.types[parent]
	if ti == nil {
		return nil
	}
	if fi := ti.fields[field]; fi != nil && len(fi.graphs) > 0 {
		return fi.graphs
	}
	return ti.graphs
}

// CanResolve reports whether subgraph can resolve parent.field.
func (s *Schema) CanResolve(subgraph, parent, field string) bool {
	if field == typenameField {
		return true
	}
	rs := s.Resolvers(parent, field)
	if len(rs) == 0 {
		return true
	}
	for _, r := range rs {
		if r == subgraph {
			return true
		}
	}
	return false
}

// Keys returns the key field sets subgraph declares for typeName.
func (s *Schema) Keys(typeName, subgraph string) []string {
	ti := s.types[typeName]
	if ti == nil {
		return nil
	}
	return ti.keys[subgraph]
}

// IsEntity reports whether typeName declares a key in any subgraph.
func (s *Schema) IsEntity(typeName string) bool {
	ti := s.types[typeName]
	if ti == nil {
		return false
	}
	for _, ks := range ti.keys {
		if len(ks) > 0 {
			return true
		}
	}
	return false
}

// Requires returns the @join__field(requires:) field set subgraph needs to
// resolve parent.field, or "".
func (s *Schema) Requires(subgraph, parent, field string) string {
	ti := s.types[parent]
	if ti == nil {
		return ""
	}
	fi := ti.fields[field]
	if fi == nil {
		return ""
	}
	return fi.requires[subgraph]
}

func (s *Schema) String() string {
	return "supergraph(" + strconv.Itoa(len(s.subgraphs)) + " subgraphs, version " + s.version + ")"
}

// IsFederationName reports whether a type or directive name belongs to the
// composition machinery (join__, link__, @link) rather than the client API.
func IsFederationName(name string) bool {
	return name == "link" || strings.HasPrefix(name, "join__") || strings.HasPrefix(name, "link__")
}
