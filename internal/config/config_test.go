package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
supergraph: supergraph.graphql
listen: ":8080"
subgraphs:
  products: http://localhost:4001/graphql
request_timeout: 5s
fetch_timeout: 500ms
max_parallel_fetches: 8
forward_headers: [authorization, x-tenant]
otel:
  endpoint: localhost:4317
`))
	require.NoError(t, err)

	want := Default()
	want.Supergraph = "supergraph.graphql"
	want.Listen = ":8080"
	want.Subgraphs = map[string]string{"products": "http://localhost:4001/graphql"}
	want.RequestTimeout = 5 * time.Second
	want.FetchTimeout = 500 * time.Millisecond
	want.MaxParallelFetches = 8
	want.ForwardHeaders = []string{"authorization", "x-tenant"}
	want.OTel.Endpoint = "localhost:4317"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEmptyIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":       "listne: :4000\n",
		"zero cache":        "plan_cache_size: 0\n",
		"negative timeout":  "request_timeout: -1s\n",
		"negative fetches":  "max_parallel_fetches: -2\n",
		"bad level":         "log_level: loud\n",
		"empty metric path": "metrics: {enabled: true, path: \"\"}\n",
		"empty url":         "subgraphs: {products: \"\"}\n",
		"bad duration":      "fetch_timeout: soon\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fedgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plan_cache_size: 64\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 64, cfg.PlanCacheSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
