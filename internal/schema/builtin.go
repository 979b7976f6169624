package schema

// joinPrelude declares the join spec directives a composed supergraph uses to
// describe which subgraph resolves which type and field. It is appended to
// supergraph documents that do not declare the directives themselves.
const joinPrelude = `
scalar join__FieldSet

directive @join__graph(name: String!, url: String!) on ENUM_VALUE

directive @join__type(
  graph: join__Graph!
  key: join__FieldSet
  extension: Boolean! = false
  resolvable: Boolean! = true
  isInterfaceObject: Boolean! = false
) repeatable on OBJECT | INTERFACE | UNION | ENUM | INPUT_OBJECT | SCALAR

directive @join__field(
  graph: join__Graph
  requires: join__FieldSet
  provides: join__FieldSet
  type: String
  external: Boolean
  override: String
  usedOverridden: Boolean
) repeatable on FIELD_DEFINITION | INPUT_FIELD_DEFINITION

directive @join__implements(graph: join__Graph!, interface: String!) repeatable on OBJECT | INTERFACE

directive @join__unionMember(graph: join__Graph!, member: String!) repeatable on UNION

directive @join__enumValue(graph: join__Graph!) repeatable on ENUM_VALUE
`

const (
	joinGraphEnum       = "join__Graph"
	joinGraphDirective  = "join__graph"
	joinTypeDirective   = "join__type"
	joinFieldDirective  = "join__field"
	typenameField       = "__typename"
	joinTypeDeclaration = "directive @join__type"
)
