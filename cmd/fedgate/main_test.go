package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/schema/schematest"
)

func writeSupergraph(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supergraph.graphql")
	require.NoError(t, os.WriteFile(path, []byte(schematest.Supergraph), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"serve", "plan"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestPlanText(t *testing.T) {
	sg := writeSupergraph(t)
	out, err := execute(t, "", "plan", "--supergraph", sg, "--query", "{ topProducts { name reviews { body } } }")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "QueryPlan {"), out)
	assert.Contains(t, out, `Fetch(service: "products")`)
	assert.Contains(t, out, `Flatten(path: "topProducts.@")`)
	assert.Contains(t, out, `Fetch(service: "reviews")`)
}

func TestPlanJSONFromStdin(t *testing.T) {
	sg := writeSupergraph(t)
	out, err := execute(t, "query Me { me { name } }", "plan", "--supergraph", sg, "--json")
	require.NoError(t, err)

	p, err := plan.Decode([]byte(out))
	require.NoError(t, err)
	fetches := p.Fetches()
	require.Len(t, fetches, 1)
	assert.Equal(t, "accounts", fetches[0].ServiceName)
}

func TestPlanErrors(t *testing.T) {
	sg := writeSupergraph(t)
	tests := map[string][]string{
		"missing supergraph flag": {"plan", "--query", "{ me { name } }"},
		"unreadable supergraph":   {"plan", "--supergraph", filepath.Join(t.TempDir(), "nope.graphql"), "--query", "{ me { name } }"},
		"invalid operation":       {"plan", "--supergraph", sg, "--query", "{ nope }"},
		"empty operation":         {"plan", "--supergraph", sg},
		"unknown operation name":  {"plan", "--supergraph", sg, "--query", "query A { me { name } }", "--operation", "B"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, "", args...)
			require.Error(t, err)
		})
	}
}

func TestServeRequiresSupergraph(t *testing.T) {
	_, err := execute(t, "", "serve")
	require.ErrorContains(t, err, "supergraph is required")
}

func TestServeConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fedgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("supergraph: from-file.graphql\nlisten: \":5000\"\nrequest_timeout: 3s\n"), 0o600))

	cmd := newServeCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--listen", ":6000"}))
	opts := &serveOptions{}
	opts.configPath, _ = cmd.Flags().GetString("config")
	opts.listen, _ = cmd.Flags().GetString("listen")

	cfg, err := opts.config(cmd)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Listen)
	assert.Equal(t, "from-file.graphql", cfg.Supergraph)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
}

func TestSubgraphURLs(t *testing.T) {
	s := schematest.MustLoad(t)

	urls, err := subgraphURLs(s, map[string]string{"reviews": "http://localhost:4003/graphql"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"accounts": "http://accounts.local/graphql",
		"products": "http://products.local/graphql",
		"reviews":  "http://localhost:4003/graphql",
	}, urls)

	_, err = subgraphURLs(s, map[string]string{"inventory": "http://localhost:4004/graphql"})
	require.Error(t, err)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "fedgate.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("listen: \"127.0.0.1:0\"\nmetrics: {enabled: true, path: /metrics}\n"), 0o600))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"serve", "--config", cfgPath, "--supergraph", writeSupergraph(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestNewLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	require.NoError(t, level.Info(logger).Log("msg", "hidden"))
	require.NoError(t, level.Warn(logger).Log("msg", "shown"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
