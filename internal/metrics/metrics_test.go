package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/fetch"
)

func subscribed(t *testing.T) *Metrics {
	t.Helper()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	m := NewMetrics(prometheus.NewRegistry())
	t.Cleanup(m.Subscribe())
	return m
}

func TestPlanCacheLookups(t *testing.T) {
	m := subscribed(t)
	ctx := context.Background()

	eventbus.Publish(ctx, events.PlanCacheLookup{})
	eventbus.Publish(ctx, events.PlanCacheLookup{Shared: true})
	eventbus.Publish(ctx, events.PlanCacheLookup{Hit: true})
	eventbus.Publish(ctx, events.PlanCacheLookup{Hit: true})

	require.Equal(t, float64(1), testutil.ToFloat64(m.PlanCacheLookups.WithLabelValues("miss")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PlanCacheLookups.WithLabelValues("shared")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.PlanCacheLookups.WithLabelValues("hit")))
}

func TestPlanBuilds(t *testing.T) {
	m := subscribed(t)
	ctx := context.Background()

	eventbus.Publish(ctx, events.PlanBuilt{Duration: time.Millisecond})
	eventbus.Publish(ctx, events.PlanBuilt{Err: errors.New("unreachable"), Duration: time.Millisecond})

	require.Equal(t, float64(1), testutil.ToFloat64(m.PlanBuilds.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.PlanBuilds.WithLabelValues("error")))
	require.Equal(t, 1, testutil.CollectAndCount(m.PlanBuildDuration))
}

func TestSubgraphFetches(t *testing.T) {
	m := subscribed(t)
	ctx := context.Background()

	eventbus.Publish(ctx, events.SubgraphFetchStart{FetchID: 1, Service: "products"})
	eventbus.Publish(ctx, events.SubgraphFetchStart{FetchID: 2, Service: "reviews", Entity: true})
	require.Equal(t, float64(1), testutil.ToFloat64(m.SubgraphFetchesInFlight.WithLabelValues("products")))

	eventbus.Publish(ctx, events.SubgraphFetchFinish{FetchID: 1, Service: "products", Duration: 3 * time.Millisecond})
	eventbus.Publish(ctx, events.SubgraphFetchFinish{
		FetchID: 2, Service: "reviews", Entity: true,
		Err: &fetch.FetchError{Service: "reviews", Kind: fetch.ServiceUnavailable, Message: "request timed out"},
	})

	require.Equal(t, float64(0), testutil.ToFloat64(m.SubgraphFetchesInFlight.WithLabelValues("products")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.SubgraphFetches.WithLabelValues("products", "false", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.SubgraphFetches.WithLabelValues("reviews", "true", "ServiceUnavailable")))
}

func TestOperations(t *testing.T) {
	m := subscribed(t)
	ctx := context.Background()

	eventbus.Publish(ctx, events.OperationFinish{OperationType: "query"})
	eventbus.Publish(ctx, events.OperationFinish{OperationType: "query", ErrorCount: 2})
	eventbus.Publish(ctx, events.SchemaLoaded{Version: "abc", Subgraphs: 3})
	eventbus.Publish(ctx, events.HTTPFinish{Status: 200})

	require.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues("query", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Operations.WithLabelValues("query", "error")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.SchemaLoads))
	require.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequests.WithLabelValues("200")))
}

func TestUnsubscribe(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	m := NewMetrics(prometheus.NewRegistry())
	unsubscribe := m.Subscribe()
	unsubscribe()

	eventbus.Publish(context.Background(), events.SchemaLoaded{})
	require.Equal(t, float64(0), testutil.ToFloat64(m.SchemaLoads))
}

func TestFetchOutcome(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"ok":        {nil, "ok"},
		"invalid":   {&fetch.FetchError{Kind: fetch.InvalidResponse}, "InvalidResponse"},
		"cancelled": {context.Canceled, "cancelled"},
		"other":     {errors.New("boom"), "error"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, fetchOutcome(tt.err))
		})
	}
}
