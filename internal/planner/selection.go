package planner

import (
	"strings"

	language "github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/plan"
)

func printOperation(op *language.OperationDefinition) string {
	return strings.TrimSpace(language.Print(&language.QueryDocument{Operations: language.OperationList{op}}))
}

// parseFieldSet parses a join field set such as "id" or "id org { id }".
func parseFieldSet(fields string) (language.SelectionSet, error) {
	doc, err := language.ParseQuery("{" + fields + "}")
	if err != nil {
		return nil, err
	}
	return doc.Operations[0].SelectionSet, nil
}

// dedupe drops repeated fields with the same response key. Leaf repeats are
// dropped; object repeats without arguments have their selections merged
// into a fresh field. Fragments are kept as they are.
func dedupe(set language.SelectionSet) language.SelectionSet {
	if len(set) < 2 {
		return set
	}
	out := make(language.SelectionSet, 0, len(set))
	index := map[string]int{}
	for _, sel := range set {
		f, ok := sel.(*language.Field)
		if !ok {
			out = append(out, sel)
			continue
		}
		key := responseKey(f)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, f)
			continue
		}
		prev := out[i].(*language.Field)
		if prev.Name != f.Name || len(prev.Arguments) > 0 || len(f.Arguments) > 0 || len(prev.Directives) > 0 || len(f.Directives) > 0 {
			out = append(out, f)
			continue
		}
		if len(prev.SelectionSet) == 0 && len(f.SelectionSet) == 0 {
			continue
		}
		merged := *prev
		merged.SelectionSet = dedupe(append(append(language.SelectionSet(nil), prev.SelectionSet...), f.SelectionSet...))
		out[i] = &merged
	}
	return out
}

func toPlanSelections(set language.SelectionSet) []plan.Selection {
	var out []plan.Selection
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			ps := plan.Selection{Kind: plan.SelectionField, Name: s.Name, Selections: toPlanSelections(s.SelectionSet)}
			if s.Alias != s.Name {
				ps.Alias = s.Alias
			}
			out = append(out, ps)
		case *language.InlineFragment:
			out = append(out, plan.Selection{
				Kind:          plan.SelectionInlineFragment,
				TypeCondition: s.TypeCondition,
				Selections:    toPlanSelections(s.SelectionSet),
			})
		}
	}
	return out
}
