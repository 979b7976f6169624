package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/reqctx"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup("", "fedgate")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestOperationSpans(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	unsubscribe := newSubscriber(tp.Tracer("test")).register()
	defer unsubscribe()

	ctx, _ := reqctx.NewContext(context.Background(), nil)
	eventbus.Publish(ctx, events.OperationStart{OperationName: "Top"})
	eventbus.Publish(ctx, events.PlanCacheLookup{})
	eventbus.Publish(ctx, events.PlanBuilt{Duration: time.Millisecond})
	eventbus.Publish(ctx, events.SubgraphFetchStart{FetchID: 7, Service: "products"})
	eventbus.Publish(ctx, events.SubgraphFetchFinish{FetchID: 7, Service: "products", Err: errors.New("connection refused")})
	eventbus.Publish(ctx, events.OperationFinish{OperationName: "Top", OperationType: "query", ErrorCount: 1})

	ended := rec.Ended()
	require.Len(t, ended, 3)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}
	op := byName["graphql.operation"]
	require.NotNil(t, op)
	require.Equal(t, op.SpanContext().SpanID(), byName["subgraph.fetch"].Parent().SpanID())
	require.Equal(t, op.SpanContext().SpanID(), byName["graphql.plan"].Parent().SpanID())
	require.Len(t, byName["subgraph.fetch"].Events(), 1)
}
