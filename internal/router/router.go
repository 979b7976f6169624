// Package router runs client operations against the supergraph.
//
// ExecuteOperation validates an operation, looks its plan up in the plan
// cache (planning it on a miss), executes the plan through the subgraphs and
// shapes the merged data into the response the client asked for. The schema
// can be swapped at runtime with Reload; plans built for the previous schema
// are dropped.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/executor"
	"github.com/hanpama/fedgate/internal/fetch"
	"github.com/hanpama/fedgate/internal/introspection"
	language "github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/plancache"
	"github.com/hanpama/fedgate/internal/planner"
	"github.com/hanpama/fedgate/internal/reqctx"
	"github.com/hanpama/fedgate/internal/response"
	schema "github.com/hanpama/fedgate/internal/schema"
)

// Error extension codes of request-level errors.
const (
	CodeParseFailed      = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
	CodeBadUserInput     = "BAD_USER_INPUT"
	CodeRequestTimeout   = "REQUEST_TIMEOUT"
	CodeRequestCancelled = "REQUEST_CANCELLED"
	CodeInternal         = "INTERNAL_SERVER_ERROR"
)

// ExposeQueryPlan is the request extension asking for the plan to be
// returned under extensions.queryPlan.
const ExposeQueryPlan = "expose_query_plan"

// Planner builds the plan of one operation against one schema.
type Planner interface {
	Plan(ctx context.Context, s *schema.Schema, doc *language.QueryDocument, operationName string) (*plan.QueryPlan, error)
}

// Request is a client GraphQL request.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Response is a client GraphQL response.
type Response struct {
	Data       any              `json:"data"`
	Errors     []response.Error `json:"errors,omitempty"`
	Extensions map[string]any   `json:"extensions,omitempty"`
}

// Router executes operations. It is safe for concurrent use.
type Router struct {
	logger  log.Logger
	planner Planner
	cache   *plancache.Cache
	exec    *executor.Executor
	timeout time.Duration
	schema  atomic.Pointer[schema.Schema]
}

// New creates a Router serving s, sending subgraph requests through fetcher.
func New(s *schema.Schema, fetcher fetch.Fetcher, opts ...Option) (*Router, error) {
	if s == nil {
		return nil, errors.New("router: schema is required")
	}
	if fetcher == nil {
		return nil, errors.New("router: fetcher is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.Planner == nil {
		o.Planner = planner.New()
	}
	cache, err := plancache.New(o.PlanCacheSize)
	if err != nil {
		return nil, fmt.Errorf("router: plan cache: %w", err)
	}
	r := &Router{
		logger:  o.Logger,
		planner: o.Planner,
		cache:   cache,
		exec:    executor.New(fetcher, executor.WithLogger(o.Logger), executor.WithMaxConcurrentFetches(o.MaxConcurrentFetches)),
		timeout: o.RequestTimeout,
	}
	r.schema.Store(s)
	eventbus.Publish(context.Background(), events.SchemaLoaded{Version: s.Version(), Subgraphs: len(s.Subgraphs())})
	return r, nil
}

// Schema returns the schema currently served.
func (r *Router) Schema() *schema.Schema { return r.schema.Load() }

// PlanCache returns the plan cache, for inspection.
func (r *Router) PlanCache() *plancache.Cache { return r.cache }

// Reload switches to s and drops every cached plan. Operations already
// running finish against the schema they started with.
func (r *Router) Reload(s *schema.Schema) {
	prev := r.schema.Swap(s)
	r.cache.Purge()
	eventbus.Publish(context.Background(), events.SchemaLoaded{Version: s.Version(), Subgraphs: len(s.Subgraphs())})
	level.Info(r.logger).Log("msg", "schema reloaded", "version", s.Version(), "previous", prev.Version(), "subgraphs", len(s.Subgraphs()))
}

// ExecuteOperation runs one client operation. It always returns a response;
// failures are reported in its errors.
func (r *Router) ExecuteOperation(ctx context.Context, req *Request) (resp *Response) {
	start := time.Now()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	s := r.schema.Load()
	opName, opType := req.OperationName, ""
	eventbus.Publish(ctx, events.OperationStart{OperationName: opName})
	defer func() {
		eventbus.Publish(ctx, events.OperationFinish{
			OperationName: opName,
			OperationType: opType,
			ErrorCount:    len(resp.Errors),
			Duration:      time.Since(start),
		})
	}()

	doc, gqlErrs := language.LoadQuery(s.AST(), req.Query)
	if len(gqlErrs) > 0 {
		return &Response{Errors: documentErrors(gqlErrs)}
	}
	op, err := language.SelectOperation(doc, req.OperationName)
	if err != nil {
		return errorResponse(err.Error(), CodeValidationFailed)
	}
	opName, opType = op.Name, string(op.Operation)

	vars, err := language.CoerceVariables(s.AST(), op, req.Variables)
	if err != nil {
		var gqlErr *language.Error
		if errors.As(err, &gqlErr) {
			return errorResponse(gqlErr.Message, CodeBadUserInput)
		}
		return errorResponse(err.Error(), CodeBadUserInput)
	}

	key := plancache.Key{
		Operation:     language.Normalize(doc, op),
		OperationName: op.Name,
		Variables:     variableShape(op.VariableDefinitions),
		SchemaVersion: s.Version(),
	}
	p, res, err := r.cache.GetOrBuild(ctx, key, func(ctx context.Context) (*plan.QueryPlan, error) {
		began := time.Now()
		p, err := r.planner.Plan(ctx, s, doc, op.Name)
		eventbus.Publish(ctx, events.PlanBuilt{Err: err, Duration: time.Since(began)})
		if err != nil {
			level.Warn(r.logger).Log("msg", "planning failed", "operation", op.Name, "request_id", reqctx.ID(ctx), "err", err)
		}
		return p, err
	})
	eventbus.Publish(ctx, events.PlanCacheLookup{Hit: res.Hit, Shared: res.Shared})
	if err != nil {
		if ctx.Err() != nil {
			return aborted(ctx.Err())
		}
		return errorResponse(err.Error(), planner.CodePlanningFailed)
	}

	tree, err := r.exec.Execute(ctx, p, vars)
	if err != nil {
		if ctx.Err() != nil {
			return aborted(ctx.Err())
		}
		level.Error(r.logger).Log("msg", "plan execution failed", "operation", op.Name, "err", err)
		return errorResponse("internal error", CodeInternal)
	}

	if meta := introspection.Resolve(s, doc, op, vars); meta != nil {
		// A nulled root drops the introspection fields with it.
		if err := tree.Merge(plan.Path{}, meta); err != nil && !errors.Is(err, response.ErrNullAncestor) {
			level.Warn(r.logger).Log("msg", "cannot merge introspection result", "request_id", reqctx.ID(ctx), "err", err)
		}
	}

	resp = &Response{Errors: tree.Errors()}
	if data := tree.Data(); data != nil {
		var errs []response.Error
		resp.Data, errs = shape(s, doc, op, vars, data)
		resp.Errors = append(resp.Errors, errs...)
	}
	if expose, _ := req.Extensions[ExposeQueryPlan].(bool); expose {
		if wire, err := plan.Wire(p); err == nil {
			resp.Extensions = map[string]any{"queryPlan": wire}
		}
	}
	return resp
}

func errorResponse(message, code string) *Response {
	return &Response{Errors: []response.Error{{Message: message, Extensions: map[string]any{"code": code}}}}
}

func aborted(err error) *Response {
	if errors.Is(err, context.DeadlineExceeded) {
		return errorResponse("request timed out", CodeRequestTimeout)
	}
	return errorResponse("request cancelled", CodeRequestCancelled)
}

// documentErrors converts parse and validation errors. Validation errors
// name the rule they come from; parse errors do not.
func documentErrors(list language.ErrorList) []response.Error {
	out := make([]response.Error, 0, len(list))
	for _, e := range list {
		code := CodeValidationFailed
		if e.Rule == "" {
			code = CodeParseFailed
		}
		ext := map[string]any{"code": code}
		for k, v := range e.Extensions {
			ext[k] = v
		}
		re := response.Error{Message: e.Message, Extensions: ext}
		for _, loc := range e.Locations {
			re.Locations = append(re.Locations, response.Location{Line: loc.Line, Column: loc.Column})
		}
		out = append(out, re)
	}
	return out
}

// variableShape lists declared variables as "$name:Type" pairs.
func variableShape(defs language.VariableDefinitionList) string {
	parts := make([]string, len(defs))
	for i, d := range defs {
		parts[i] = "$" + d.Variable + ":" + d.Type.String()
	}
	return strings.Join(parts, ",")
}
