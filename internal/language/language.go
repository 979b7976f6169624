package language

import (
	"bytes"
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates a schema, adding the GraphQL prelude.
func LoadSchema(name, source string) (*Schema, error) {
	s, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// LoadQuery parses source and validates it against schema. The returned
// document has field and object definitions attached by the validator.
func LoadQuery(schema *Schema, source string) (*QueryDocument, ErrorList) {
	return gqlparser.LoadQuery(schema, source)
}

// CoerceVariables checks raw variable values against the variable definitions
// of op, applying declared defaults. The error is a *Error when the input is
// invalid.
func CoerceVariables(schema *Schema, op *OperationDefinition, raw map[string]any) (map[string]any, error) {
	return validator.VariableValues(schema, op, raw)
}

// SelectOperation picks the operation to run: by name, or the only one when
// name is empty.
func SelectOperation(doc *QueryDocument, name string) (*OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0], nil
		}
		return nil, fmt.Errorf("operation name is required when the document has %d operations", len(doc.Operations))
	}
	for _, op := range doc.Operations {
		if op.Name == name {
			return op, nil
		}
	}
	return nil, fmt.Errorf("unknown operation named %q", name)
}

// Print renders doc in canonical form. Whitespace, commas and comments in the
// original text do not survive, so two spellings of the same document print
// identically.
func Print(doc *QueryDocument) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String()
}

// Normalize reduces doc to the selected operation plus the fragments it
// references, printed in canonical form.
func Normalize(doc *QueryDocument, op *OperationDefinition) string {
	used := map[string]bool{}
	var walk func(SelectionSet)
	walk = func(set SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *Field:
				walk(s.SelectionSet)
			case *InlineFragment:
				walk(s.SelectionSet)
			case *FragmentSpread:
				if used[s.Name] {
					continue
				}
				used[s.Name] = true
				if def := doc.Fragments.ForName(s.Name); def != nil {
					walk(def.SelectionSet)
				}
			}
		}
	}
	walk(op.SelectionSet)

	out := &QueryDocument{Operations: OperationList{op}}
	for _, f := range doc.Fragments {
		if used[f.Name] {
			out.Fragments = append(out.Fragments, f)
		}
	}
	return Print(out)
}

// NonNullNamedType returns the type name!.
func NonNullNamedType(name string, pos *Position) *Type { return ast.NonNullNamedType(name, pos) }

// NonNullListType returns the type [elem]!.
func NonNullListType(elem *Type, pos *Position) *Type { return ast.NonNullListType(elem, pos) }
