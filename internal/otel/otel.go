package otel

import (
	"context"
	"sync"
	"time"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/reqctx"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := newSubscriber(otel.Tracer("fedgate")).register()

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // rid -> trace.Span
	gqlSpans   sync.Map // rid -> trace.Span
	fetchSpans sync.Map // fetch id -> trace.Span
}

func newSubscriber(tracer trace.Tracer) *subscriber {
	return &subscriber{tracer: tracer}
}

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context) context.Context {
	rid := reqctx.ID(ctx)
	if v, ok := s.gqlSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func (s *subscriber) register() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
			)
			s.httpSpans.Store(reqctx.ID(ctx), span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			v, ok := s.httpSpans.LoadAndDelete(reqctx.ID(ctx))
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.OperationStart) {
			_, span := s.tracer.Start(s.parent(ctx), "graphql.operation")
			span.SetAttributes(attribute.String("graphql.operation.name", e.OperationName))
			s.gqlSpans.Store(reqctx.ID(ctx), span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.OperationFinish) {
			v, ok := s.gqlSpans.LoadAndDelete(reqctx.ID(ctx))
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.Int("graphql.error_count", e.ErrorCount),
			)
			if e.ErrorCount > 0 {
				span.SetStatus(codes.Error, "response has errors")
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.PlanCacheLookup) {
			if v, ok := s.gqlSpans.Load(reqctx.ID(ctx)); ok {
				v.(trace.Span).SetAttributes(
					attribute.Bool("fedgate.plan_cache.hit", e.Hit),
					attribute.Bool("fedgate.plan_cache.shared", e.Shared),
				)
			}
		}),

		// Planning is reported after the fact, so its span is back-dated.
		eventbus.Subscribe(func(ctx context.Context, e events.PlanBuilt) {
			end := time.Now()
			_, span := s.tracer.Start(s.parent(ctx), "graphql.plan", trace.WithTimestamp(end.Add(-e.Duration)))
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End(trace.WithTimestamp(end))
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.SubgraphFetchStart) {
			_, span := s.tracer.Start(s.parent(ctx), "subgraph.fetch", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				attribute.String("fedgate.subgraph", e.Service),
				attribute.Bool("fedgate.entity_fetch", e.Entity),
			)
			s.fetchSpans.Store(e.FetchID, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.SubgraphFetchFinish) {
			v, ok := s.fetchSpans.LoadAndDelete(e.FetchID)
			if !ok {
				return
			}
			span := v.(trace.Span)
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
