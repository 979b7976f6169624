package plan

import (
	"fmt"
	"strings"
)

// Format renders a plan as an indented tree for logs and the plan command.
//
//	QueryPlan {
//	  Sequence {
//	    Fetch(service: "products") { ... }
//	    Flatten(path: "topProducts.@") {
//	      Fetch(service: "reviews") { ... }
//	    }
//	  }
//	}
func Format(p *QueryPlan) string {
	var b strings.Builder
	b.WriteString("QueryPlan {\n")
	if p != nil && p.Root != nil {
		formatNode(&b, p.Root, 1)
	}
	b.WriteString("}")
	return b.String()
}

func formatNode(b *strings.Builder, n Node, depth int) {
	indent := strings.Repeat("  ", depth)
	switch n := n.(type) {
	case *FetchNode:
		fmt.Fprintf(b, "%sFetch(service: %q) {\n", indent, n.ServiceName)
		if len(n.Requires) > 0 {
			fmt.Fprintf(b, "%s  %s =>\n", indent, formatSelections(n.Requires))
		}
		for _, line := range strings.Split(strings.TrimSpace(n.Operation), "\n") {
			fmt.Fprintf(b, "%s  %s\n", indent, line)
		}
		fmt.Fprintf(b, "%s}\n", indent)
	case *SequenceNode:
		fmt.Fprintf(b, "%sSequence {\n", indent)
		for _, c := range n.Nodes {
			formatNode(b, c, depth+1)
		}
		fmt.Fprintf(b, "%s}\n", indent)
	case *ParallelNode:
		fmt.Fprintf(b, "%sParallel {\n", indent)
		for _, c := range n.Nodes {
			formatNode(b, c, depth+1)
		}
		fmt.Fprintf(b, "%s}\n", indent)
	case *FlattenNode:
		fmt.Fprintf(b, "%sFlatten(path: %q) {\n", indent, n.Path.String())
		formatNode(b, n.Node, depth+1)
		fmt.Fprintf(b, "%s}\n", indent)
	case *ConditionNode:
		fmt.Fprintf(b, "%sCondition(if: $%s) {\n", indent, n.Condition)
		if n.IfClause != nil {
			fmt.Fprintf(b, "%s  Then {\n", indent)
			formatNode(b, n.IfClause, depth+2)
			fmt.Fprintf(b, "%s  }\n", indent)
		}
		if n.ElseClause != nil {
			fmt.Fprintf(b, "%s  Else {\n", indent)
			formatNode(b, n.ElseClause, depth+2)
			fmt.Fprintf(b, "%s  }\n", indent)
		}
		fmt.Fprintf(b, "%s}\n", indent)
	}
}

func formatSelections(sels []Selection) string {
	parts := make([]string, 0, len(sels))
	for _, s := range sels {
		var part string
		switch s.Kind {
		case SelectionInlineFragment:
			part = "... on " + s.TypeCondition
		default:
			part = s.Name
			if s.Alias != "" {
				part = s.Alias + ": " + s.Name
			}
		}
		if len(s.Selections) > 0 {
			part += " " + formatSelections(s.Selections)
		}
		parts = append(parts, part)
	}
	return "{ " + strings.Join(parts, " ") + " }"
}
