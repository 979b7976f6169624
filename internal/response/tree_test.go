package response_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/response"
)

func TestMergeAtRootRoundTrip(t *testing.T) {
	data := map[string]any{
		"topProducts": []any{
			map[string]any{"upc": "1", "name": "Table"},
			map[string]any{"upc": "2", "name": "Couch"},
		},
		"me": map[string]any{"id": "u1"},
	}
	tree := response.New()
	require.NoError(t, tree.Merge(nil, data))

	if diff := cmp.Diff(any(data), tree.Data()); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestDeepMerge(t *testing.T) {
	tree := response.New()
	require.NoError(t, tree.Merge(nil, map[string]any{
		"product": map[string]any{"upc": "1", "name": "Table", "tags": []any{"a", "b"}},
	}))
	require.NoError(t, tree.Merge(plan.Path{"product"}, map[string]any{
		"reviewCount": 3.0,
		"tags":        []any{"c"},
	}))

	want := map[string]any{
		"product": map[string]any{"upc": "1", "name": "Table", "reviewCount": 3.0, "tags": []any{"c"}},
	}
	if diff := cmp.Diff(any(want), tree.Data()); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeCreatesIntermediateObjects(t *testing.T) {
	tree := response.New()
	require.NoError(t, tree.Merge(plan.Path{"a", "b"}, map[string]any{"c": 1.0}))

	got, ok := tree.Get(plan.Path{"a", "b", "c"})
	require.True(t, ok)
	require.Equal(t, 1.0, got)
}

func TestSetNull(t *testing.T) {
	tree := response.New()
	require.NoError(t, tree.Merge(nil, map[string]any{
		"list": []any{map[string]any{"id": "1"}, map[string]any{"id": "2"}},
		"b":    "kept",
	}))
	tree.SetNull(plan.Path{"list", 1})

	v, ok := tree.Get(plan.Path{"list", 1})
	require.True(t, ok)
	require.Nil(t, v)
	v, _ = tree.Get(plan.Path{"list", 0, "id"})
	require.Equal(t, "1", v)

	err := tree.Merge(plan.Path{"list", 1}, map[string]any{"name": "x"})
	require.ErrorIs(t, err, response.ErrNullAncestor)

	tree.SetNull(nil)
	require.Nil(t, tree.Data())
	require.ErrorIs(t, tree.Merge(nil, map[string]any{"b": 1}), response.ErrNullAncestor)
}

func TestFailRecordsErrorAndNull(t *testing.T) {
	tree := response.New()
	tree.Fail(plan.Path{"topProducts"}, response.Error{Message: "down", Path: plan.Path{"topProducts"}})

	want := map[string]any{"topProducts": nil}
	if diff := cmp.Diff(any(want), tree.Data()); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []response.Error{{Message: "down", Path: plan.Path{"topProducts"}}}, tree.Errors())
}

func TestElements(t *testing.T) {
	tree := response.New()
	require.NoError(t, tree.Merge(nil, map[string]any{
		"topProducts": []any{
			map[string]any{"reviews": []any{map[string]any{"id": "r1"}, nil}},
			nil,
			map[string]any{"reviews": []any{map[string]any{"id": "r2"}}},
		},
	}))

	var paths []string
	for _, e := range tree.Elements(plan.Path{"topProducts", plan.Flatten, "reviews", plan.Flatten}) {
		paths = append(paths, e.Path.String())
	}
	require.Equal(t, []string{"topProducts.0.reviews.0", "topProducts.2.reviews.0"}, paths)
	require.Empty(t, tree.Elements(plan.Path{"missing", plan.Flatten}))
}

func TestRepresentations(t *testing.T) {
	tree := response.New()
	require.NoError(t, tree.Merge(nil, map[string]any{
		"items": []any{
			map[string]any{"__typename": "Product", "upc": "1", "name": "Table"},
			map[string]any{"__typename": "Product", "name": "no key"},
			map[string]any{"__typename": "Book", "isbn": "9"},
		},
	}))
	sels := []plan.Selection{
		{Kind: plan.SelectionInlineFragment, TypeCondition: "Product", Selections: []plan.Selection{
			{Kind: plan.SelectionField, Name: "__typename"},
			{Kind: plan.SelectionField, Name: "upc"},
		}},
	}

	got := tree.Representations(plan.Path{"items", plan.Flatten}, sels)
	want := []response.Element{
		{Path: plan.Path{"items", 0}, Value: map[string]any{"__typename": "Product", "upc": "1"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("representations mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentMerges(t *testing.T) {
	tree := response.New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("f%d", i)
			_ = tree.Merge(nil, map[string]any{key: float64(i)})
			tree.AddError(response.Error{Message: key})
		}(i)
	}
	wg.Wait()

	data := tree.Data().(map[string]any)
	require.Len(t, data, 32)
	require.Len(t, tree.Errors(), 32)
	require.Equal(t, 7.0, data["f7"])
}

func TestElementsImplicitListFanOut(t *testing.T) {
	tree := response.New()
	require.NoError(t, tree.Merge(nil, map[string]any{
		"topProducts": []any{
			map[string]any{"upc": "1", "reviews": []any{map[string]any{"id": "r1"}}},
			map[string]any{"upc": "2"},
		},
	}))

	var paths []string
	for _, e := range tree.Elements(plan.Path{"topProducts"}) {
		paths = append(paths, e.Path.String())
	}
	require.Equal(t, []string{"topProducts.0", "topProducts.1"}, paths)

	paths = nil
	for _, e := range tree.Elements(plan.Path{"topProducts", "reviews"}) {
		paths = append(paths, e.Path.String())
	}
	require.Equal(t, []string{"topProducts.0.reviews.0"}, paths)
}
