package introspection

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	language "github.com/hanpama/fedgate/internal/language"
	schema "github.com/hanpama/fedgate/internal/schema"
	"github.com/hanpama/fedgate/internal/schema/schematest"
)

func resolve(t *testing.T, s *schema.Schema, query string, vars map[string]any) map[string]any {
	t.Helper()
	doc, errs := language.LoadQuery(s.AST(), query)
	require.Empty(t, errs)
	op, err := language.SelectOperation(doc, "")
	require.NoError(t, err)
	return Resolve(s, doc, op, vars)
}

func TestQueryTypeName(t *testing.T) {
	got := resolve(t, schematest.MustLoad(t), `{ __schema { queryType { name } mutationType { name } subscriptionType { name } } }`, nil)
	want := map[string]any{"__schema": map[string]any{
		"queryType":        map[string]any{"name": "Query"},
		"mutationType":     map[string]any{"name": "Mutation"},
		"subscriptionType": nil,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestFederationTypesHidden(t *testing.T) {
	got := resolve(t, schematest.MustLoad(t), `{ __schema { types { name } directives { name } } }`, nil)
	sch := got["__schema"].(map[string]any)

	var types []string
	for _, v := range sch["types"].([]any) {
		types = append(types, v.(map[string]any)["name"].(string))
	}
	require.Contains(t, types, "Product")
	require.Contains(t, types, "__Schema")
	for _, name := range types {
		require.False(t, schema.IsFederationName(name), "type %s is visible", name)
	}

	for _, v := range sch["directives"].([]any) {
		name := v.(map[string]any)["name"].(string)
		require.False(t, schema.IsFederationName(name), "directive %s is visible", name)
	}
}

func TestTypeWrappers(t *testing.T) {
	got := resolve(t, schematest.MustLoad(t), `{
		__type(name: "Query") {
			kind
			fields { name type { kind name ofType { kind name ofType { kind name } } } }
		}
	}`, nil)

	typ := got["__type"].(map[string]any)
	require.Equal(t, "OBJECT", typ["kind"])
	var latest any
	for _, f := range typ["fields"].([]any) {
		f := f.(map[string]any)
		require.NotEqual(t, "__schema", f["name"])
		if f["name"] == "latestReviews" {
			latest = f["type"]
		}
	}
	want := map[string]any{
		"kind": "LIST",
		"name": nil,
		"ofType": map[string]any{
			"kind":   "NON_NULL",
			"name":   nil,
			"ofType": map[string]any{"kind": "OBJECT", "name": "Review"},
		},
	}
	if diff := cmp.Diff(want, latest); diff != "" {
		t.Fatalf("type mismatch (-want +got):\n%s", diff)
	}
}

func TestTypeLookup(t *testing.T) {
	s := schematest.MustLoad(t)
	tests := []struct {
		name string
		want any
	}{
		{"Product", map[string]any{"name": "Product", "kind": "OBJECT"}},
		{"Missing", nil},
		{"join__Graph", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolve(t, s, `query($n: String!) { __type(name: $n) { name kind } }`, map[string]any{"n": tt.name})
			if diff := cmp.Diff(map[string]any{"__type": tt.want}, got); diff != "" {
				t.Fatalf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAliasesFragmentsAndDirectives(t *testing.T) {
	got := resolve(t, schematest.MustLoad(t), `
		query($withKind: Boolean!) {
			product: __type(name: "Product") {
				...Names
				kind @include(if: $withKind)
				t: __typename
			}
			me { name }
		}
		fragment Names on __Type { typeName: name }
	`, map[string]any{"withKind": false})
	want := map[string]any{"product": map[string]any{"typeName": "Product", "t": "__Type"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestArgumentsAndDefaults(t *testing.T) {
	got := resolve(t, schematest.MustLoad(t), `{
		__type(name: "Query") { fields { name args { name defaultValue type { kind } } } }
	}`, nil)
	var args any
	for _, f := range got["__type"].(map[string]any)["fields"].([]any) {
		if f.(map[string]any)["name"] == "topProducts" {
			args = f.(map[string]any)["args"]
		}
	}
	want := []any{map[string]any{"name": "first", "defaultValue": "5", "type": map[string]any{"kind": "SCALAR"}}}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestNoIntrospectionFields(t *testing.T) {
	require.Nil(t, resolve(t, schematest.MustLoad(t), `{ me { name } }`, nil))
	require.Nil(t, resolve(t, schematest.MustLoad(t), `mutation { createProduct(upc: "1") { name } }`, nil))
}
