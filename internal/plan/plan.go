// Package plan defines the query plan: an immutable tree of fetch and control
// nodes derived once per operation shape.
//
// Node is a closed variant. The concrete kinds are *FetchNode, *SequenceNode,
// *ParallelNode, *FlattenNode and *ConditionNode; consumers switch over them
// exhaustively. Plans are shared read-only between concurrent executions and
// must never be mutated after construction.
package plan

// Node is one step of a query plan.
type Node interface {
	planNode()
}

// QueryPlan is the root of a plan. Root is nil for operations that need no
// subgraph fetch (for instance a document selecting only __typename).
type QueryPlan struct {
	Root Node
}

// FetchNode issues one request to one subgraph. Inside a FlattenNode it is an
// entity fetch: Requires selects the representations sent as the
// $representations variable and the results arrive under _entities.
type FetchNode struct {
	ServiceName    string
	Operation      string
	OperationName  string
	OperationKind  string
	VariableUsages []string
	Requires       []Selection

	// Provides lists the response keys this fetch writes at its path, with
	// their nullability, so failures can null exactly those locations.
	Provides []ProvidedField
	// NullBoundary is the path pattern of the nearest nullable ancestor of
	// the fetch location. When a non-null provided field fails, null is
	// written there instead. An empty boundary means the data root.
	NullBoundary Path
}

// ProvidedField is a response key written by a fetch.
type ProvidedField struct {
	Key     string
	NonNull bool
}

// SequenceNode runs its nodes strictly in order.
type SequenceNode struct {
	Nodes []Node
}

// ParallelNode runs its nodes concurrently and waits for all of them.
type ParallelNode struct {
	Nodes []Node
}

// FlattenNode runs Node against every element addressed by Path.
type FlattenNode struct {
	Path Path
	Node Node
}

// ConditionNode runs IfClause when the Condition variable is set, ElseClause
// otherwise. Either clause may be nil.
type ConditionNode struct {
	Condition  string
	IfClause   Node
	ElseClause Node
}

func (*FetchNode) planNode()     {}
func (*SequenceNode) planNode()  {}
func (*ParallelNode) planNode()  {}
func (*FlattenNode) planNode()   {}
func (*ConditionNode) planNode() {}

// SelectionKind discriminates Selection.
type SelectionKind string

const (
	SelectionField          SelectionKind = "Field"
	SelectionInlineFragment SelectionKind = "InlineFragment"
)

// Selection is a minimal selection tree used to project entity
// representations out of the response.
type Selection struct {
	Kind          SelectionKind
	Name          string
	Alias         string
	TypeCondition string
	Selections    []Selection
}

// ResponseKey is the alias when set, otherwise the field name.
func (s Selection) ResponseKey() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Name
}

// Walk calls fn for node and every descendant, depth first in plan order.
// Walking stops early when fn returns false for a node's subtree.
func Walk(node Node, fn func(Node) bool) {
	if node == nil || !fn(node) {
		return
	}
	switch n := node.(type) {
	case *SequenceNode:
		for _, c := range n.Nodes {
			Walk(c, fn)
		}
	case *ParallelNode:
		for _, c := range n.Nodes {
			Walk(c, fn)
		}
	case *FlattenNode:
		Walk(n.Node, fn)
	case *ConditionNode:
		Walk(n.IfClause, fn)
		Walk(n.ElseClause, fn)
	}
}

// Fetches returns every fetch node of the plan in plan order.
func (p *QueryPlan) Fetches() []*FetchNode {
	var out []*FetchNode
	Walk(p.Root, func(n Node) bool {
		if f, ok := n.(*FetchNode); ok {
			out = append(out, f)
		}
		return true
	})
	return out
}
