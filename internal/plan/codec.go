package plan

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownKind is returned when decoding a node with an unrecognized kind.
var ErrUnknownKind = errors.New("plan: unknown node kind")

const (
	kindFetch     = "Fetch"
	kindSequence  = "Sequence"
	kindParallel  = "Parallel"
	kindFlatten   = "Flatten"
	kindCondition = "Condition"
)

type wireNode struct {
	Kind string `json:"kind"`

	ServiceName    string          `json:"serviceName,omitempty"`
	OperationKind  string          `json:"operationKind,omitempty"`
	OperationName  string          `json:"operationName,omitempty"`
	Operation      string          `json:"operation,omitempty"`
	VariableUsages []string        `json:"variableUsages,omitempty"`
	Requires       []wireSelection `json:"requires,omitempty"`
	Provides       []wireProvided  `json:"provides,omitempty"`
	NullBoundary   []any           `json:"nullBoundary,omitempty"`

	Nodes []*wireNode `json:"nodes,omitempty"`

	Path []any    `json:"path,omitempty"`
	Node *wireNode `json:"node,omitempty"`

	Condition  string    `json:"condition,omitempty"`
	IfClause   *wireNode `json:"ifClause,omitempty"`
	ElseClause *wireNode `json:"elseClause,omitempty"`
}

type wireSelection struct {
	Kind          string          `json:"kind"`
	Name          string          `json:"name,omitempty"`
	Alias         string          `json:"alias,omitempty"`
	TypeCondition string          `json:"typeCondition,omitempty"`
	Selections    []wireSelection `json:"selections,omitempty"`
}

type wireProvided struct {
	Key     string `json:"key"`
	NonNull bool   `json:"nonNull,omitempty"`
}

type wirePlan struct {
	Kind string    `json:"kind"`
	Node *wireNode `json:"node"`
}

// Encode serializes p in the query plan wire format:
// {"kind":"QueryPlan","node":{...}}.
func Encode(p *QueryPlan) ([]byte, error) {
	return json.Marshal(toWirePlan(p))
}

// EncodeIndent is Encode with indentation, for humans.
func EncodeIndent(p *QueryPlan) ([]byte, error) {
	return json.MarshalIndent(toWirePlan(p), "", "  ")
}

// Decode parses the query plan wire format.
func Decode(data []byte) (*QueryPlan, error) {
	var w wirePlan
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("plan: decode: %w", err)
	}
	if w.Kind != "" && w.Kind != "QueryPlan" {
		return nil, fmt.Errorf("%w: %q at root", ErrUnknownKind, w.Kind)
	}
	root, err := fromWire(w.Node)
	if err != nil {
		return nil, err
	}
	return &QueryPlan{Root: root}, nil
}

// Wire returns p as a generic JSON value, suitable for embedding in
// response extensions.
func Wire(p *QueryPlan) (any, error) {
	b, err := Encode(p)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toWirePlan(p *QueryPlan) wirePlan {
	if p == nil {
		return wirePlan{Kind: "QueryPlan"}
	}
	return wirePlan{Kind: "QueryPlan", Node: toWire(p.Root)}
}

func toWire(n Node) *wireNode {
	switch n := n.(type) {
	case nil:
		return nil
	case *FetchNode:
		w := &wireNode{
			Kind:           kindFetch,
			ServiceName:    n.ServiceName,
			OperationKind:  n.OperationKind,
			OperationName:  n.OperationName,
			Operation:      n.Operation,
			VariableUsages: n.VariableUsages,
			Requires:       toWireSelections(n.Requires),
			NullBoundary:   []any(n.NullBoundary),
		}
		for _, p := range n.Provides {
			w.Provides = append(w.Provides, wireProvided{Key: p.Key, NonNull: p.NonNull})
		}
		return w
	case *SequenceNode:
		w := &wireNode{Kind: kindSequence}
		for _, c := range n.Nodes {
			w.Nodes = append(w.Nodes, toWire(c))
		}
		return w
	case *ParallelNode:
		w := &wireNode{Kind: kindParallel}
		for _, c := range n.Nodes {
			w.Nodes = append(w.Nodes, toWire(c))
		}
		return w
	case *FlattenNode:
		return &wireNode{Kind: kindFlatten, Path: []any(n.Path), Node: toWire(n.Node)}
	case *ConditionNode:
		return &wireNode{Kind: kindCondition, Condition: n.Condition, IfClause: toWire(n.IfClause), ElseClause: toWire(n.ElseClause)}
	}
	panic(fmt.Sprintf("plan: unexpected node %T", n))
}

func toWireSelections(sels []Selection) []wireSelection {
	if len(sels) == 0 {
		return nil
	}
	out := make([]wireSelection, len(sels))
	for i, s := range sels {
		out[i] = wireSelection{
			Kind:          string(s.Kind),
			Name:          s.Name,
			Alias:         s.Alias,
			TypeCondition: s.TypeCondition,
			Selections:    toWireSelections(s.Selections),
		}
	}
	return out
}

func fromWire(w *wireNode) (Node, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Kind {
	case kindFetch:
		if w.ServiceName == "" {
			return nil, errors.New("plan: fetch node without serviceName")
		}
		f := &FetchNode{
			ServiceName:    w.ServiceName,
			OperationKind:  w.OperationKind,
			OperationName:  w.OperationName,
			Operation:      w.Operation,
			VariableUsages: w.VariableUsages,
			Requires:       fromWireSelections(w.Requires),
			NullBoundary:   ParsePath(w.NullBoundary),
		}
		if f.OperationKind == "" {
			f.OperationKind = inferOperationKind(f.Operation)
		}
		for _, p := range w.Provides {
			f.Provides = append(f.Provides, ProvidedField{Key: p.Key, NonNull: p.NonNull})
		}
		return f, nil
	case kindSequence, kindParallel:
		nodes := make([]Node, 0, len(w.Nodes))
		for _, c := range w.Nodes {
			n, err := fromWire(c)
			if err != nil {
				return nil, err
			}
			if n != nil {
				nodes = append(nodes, n)
			}
		}
		if w.Kind == kindSequence {
			return &SequenceNode{Nodes: nodes}, nil
		}
		return &ParallelNode{Nodes: nodes}, nil
	case kindFlatten:
		child, err := fromWire(w.Node)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, errors.New("plan: flatten node without child")
		}
		return &FlattenNode{Path: ParsePath(w.Path), Node: child}, nil
	case kindCondition:
		ifc, err := fromWire(w.IfClause)
		if err != nil {
			return nil, err
		}
		elc, err := fromWire(w.ElseClause)
		if err != nil {
			return nil, err
		}
		return &ConditionNode{Condition: w.Condition, IfClause: ifc, ElseClause: elc}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
}

func fromWireSelections(ws []wireSelection) []Selection {
	if len(ws) == 0 {
		return nil
	}
	out := make([]Selection, len(ws))
	for i, w := range ws {
		out[i] = Selection{
			Kind:          SelectionKind(w.Kind),
			Name:          w.Name,
			Alias:         w.Alias,
			TypeCondition: w.TypeCondition,
			Selections:    fromWireSelections(w.Selections),
		}
	}
	return out
}

func inferOperationKind(op string) string {
	s := strings.TrimSpace(op)
	switch {
	case strings.HasPrefix(s, "mutation"):
		return "mutation"
	case strings.HasPrefix(s, "subscription"):
		return "subscription"
	}
	return "query"
}
