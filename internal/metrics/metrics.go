// Package metrics exports gateway counters to Prometheus. Collectors are fed
// from the event bus, so the packages that publish events do not depend on
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/fetch"
)

// Metrics holds all Prometheus metrics of the gateway.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	PlanCacheLookups  *prometheus.CounterVec
	PlanBuilds        *prometheus.CounterVec
	PlanBuildDuration prometheus.Histogram
	SchemaLoads       prometheus.Counter

	SubgraphFetches         *prometheus.CounterVec
	SubgraphFetchDuration   *prometheus.HistogramVec
	SubgraphFetchesInFlight *prometheus.GaugeVec

	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedgate_operations_total",
		Help: "Client operations executed, by operation type and whether the response carried errors",
	}, []string{"type", "outcome"})

	operationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fedgate_operation_duration_seconds",
		Help:    "Wall time of client operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	planCacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedgate_plan_cache_lookups_total",
		Help: "Plan cache lookups by result: hit, miss, or shared when a miss joined a build in flight",
	}, []string{"result"})

	planBuilds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedgate_plan_builds_total",
		Help: "Planner invocations by outcome",
	}, []string{"outcome"})

	planBuildDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fedgate_plan_build_duration_seconds",
		Help:    "Time spent planning operations on cache misses",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	schemaLoads := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fedgate_schema_loads_total",
		Help: "Supergraph schemas loaded, including reloads",
	})

	subgraphFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedgate_subgraph_fetches_total",
		Help: "Subgraph fetches by service and outcome",
	}, []string{"service", "entity", "outcome"})

	subgraphFetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fedgate_subgraph_fetch_duration_seconds",
		Help:    "Latency of subgraph fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	subgraphFetchesInFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fedgate_subgraph_fetches_in_flight",
		Help: "Subgraph fetches currently awaiting a response",
	}, []string{"service"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fedgate_http_requests_total",
		Help: "HTTP requests served by status code",
	}, []string{"code"})

	reg.MustRegister(operations, operationDuration, planCacheLookups, planBuilds, planBuildDuration,
		schemaLoads, subgraphFetches, subgraphFetchDuration, subgraphFetchesInFlight, httpRequests)

	return &Metrics{
		Operations:              operations,
		OperationDuration:       operationDuration,
		PlanCacheLookups:        planCacheLookups,
		PlanBuilds:              planBuilds,
		PlanBuildDuration:       planBuildDuration,
		SchemaLoads:             schemaLoads,
		SubgraphFetches:         subgraphFetches,
		SubgraphFetchDuration:   subgraphFetchDuration,
		SubgraphFetchesInFlight: subgraphFetchesInFlight,
		HTTPRequests:            httpRequests,
	}
}

// Subscribe feeds m from the installed event bus until unsubscribe is
// called.
func (m *Metrics) Subscribe() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.OperationFinish) {
			outcome := "ok"
			if e.ErrorCount > 0 {
				outcome = "error"
			}
			m.Operations.WithLabelValues(e.OperationType, outcome).Inc()
			m.OperationDuration.WithLabelValues(e.OperationType).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.PlanCacheLookup) {
			result := "miss"
			switch {
			case e.Hit:
				result = "hit"
			case e.Shared:
				result = "shared"
			}
			m.PlanCacheLookups.WithLabelValues(result).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.PlanBuilt) {
			outcome := "ok"
			if e.Err != nil {
				outcome = "error"
			}
			m.PlanBuilds.WithLabelValues(outcome).Inc()
			m.PlanBuildDuration.Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(context.Context, events.SchemaLoaded) {
			m.SchemaLoads.Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.SubgraphFetchStart) {
			m.SubgraphFetchesInFlight.WithLabelValues(e.Service).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.SubgraphFetchFinish) {
			m.SubgraphFetchesInFlight.WithLabelValues(e.Service).Dec()
			m.SubgraphFetches.WithLabelValues(e.Service, strconv.FormatBool(e.Entity), fetchOutcome(e.Err)).Inc()
			m.SubgraphFetchDuration.WithLabelValues(e.Service).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) {
			m.HTTPRequests.WithLabelValues(strconv.Itoa(e.Status)).Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func fetchOutcome(err error) string {
	var fe *fetch.FetchError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &fe):
		return fe.Kind.String()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}
