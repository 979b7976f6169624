package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/events"
	"github.com/hanpama/fedgate/internal/fetch"
	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/reqctx"
	"github.com/hanpama/fedgate/internal/response"
)

// Executor runs query plans. It is safe for concurrent use; every Execute
// call owns its own response tree.
type Executor struct {
	fetcher fetch.Fetcher
	logger  log.Logger
	sem     *semaphore.Weighted
	nextID  atomic.Uint64
}

// New creates an Executor that sends fetches through fetcher.
func New(fetcher fetch.Fetcher, opts ...Option) *Executor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	e := &Executor{fetcher: fetcher, logger: o.Logger}
	if o.MaxConcurrentFetches > 0 {
		e.sem = semaphore.NewWeighted(int64(o.MaxConcurrentFetches))
	}
	return e
}

// Execute runs p with the coerced operation variables. Fetch failures are
// recorded in the returned tree; the error is non-nil only when ctx ended
// before the plan finished.
func (e *Executor) Execute(ctx context.Context, p *plan.QueryPlan, variables map[string]any) (*response.Tree, error) {
	tree := response.New()
	if p == nil || p.Root == nil {
		return tree, nil
	}
	st := &executionState{
		exec:      e,
		tree:      tree,
		variables: variables,
		logger:    log.With(e.logger, "request_id", reqctx.ID(ctx)),
	}
	if err := st.run(ctx, p.Root, plan.Path{}); err != nil {
		return nil, err
	}
	return tree, nil
}

type executionState struct {
	exec      *Executor
	tree      *response.Tree
	variables map[string]any
	logger    log.Logger
}

// run executes node at the path pattern inherited from enclosing flattens.
func (st *executionState) run(ctx context.Context, node plan.Node, at plan.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch n := node.(type) {
	case nil:
		return nil
	case *plan.FetchNode:
		if len(n.Requires) > 0 {
			return st.entityFetch(ctx, n, at)
		}
		return st.rootFetch(ctx, n, at)
	case *plan.SequenceNode:
		for _, child := range n.Nodes {
			if err := st.run(ctx, child, at); err != nil {
				return err
			}
		}
		return nil
	case *plan.ParallelNode:
		var g errgroup.Group
		for _, child := range n.Nodes {
			g.Go(func() error { return st.run(ctx, child, at) })
		}
		return g.Wait()
	case *plan.FlattenNode:
		return st.run(ctx, n.Node, at.Concat(n.Path))
	case *plan.ConditionNode:
		if st.conditionHolds(n.Condition) {
			return st.run(ctx, n.IfClause, at)
		}
		return st.run(ctx, n.ElseClause, at)
	default:
		return fmt.Errorf("executor: unknown plan node %T", node)
	}
}

func (st *executionState) conditionHolds(name string) bool {
	v, ok := st.variables[name]
	if !ok || v == nil {
		return false
	}
	b, isBool := v.(bool)
	return !isBool || b
}

func (st *executionState) rootFetch(ctx context.Context, n *plan.FetchNode, at plan.Path) error {
	resp, err := st.call(ctx, n, st.projectVariables(n), false)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.fetchFailed(n, at, []plan.Path{at}, err)
		return nil
	}

	for _, e := range resp.Errors {
		st.tree.AddError(st.subgraphError(n, e, at.Concat(e.Path)))
	}
	if resp.Data == nil {
		st.nullProvided(n, at)
		return nil
	}
	if err := st.tree.Merge(at, resp.Data); err != nil && !errors.Is(err, response.ErrNullAncestor) {
		level.Warn(st.logger).Log("msg", "cannot merge subgraph data", "service", n.ServiceName, "path", at, "err", err)
	}
	return nil
}

func (st *executionState) entityFetch(ctx context.Context, n *plan.FetchNode, at plan.Path) error {
	elements := st.tree.Representations(at, n.Requires)
	if len(elements) == 0 {
		level.Debug(st.logger).Log("msg", "no representations, skipping fetch", "service", n.ServiceName, "path", at)
		return nil
	}
	reps := make([]any, len(elements))
	paths := make([]plan.Path, len(elements))
	for i, el := range elements {
		reps[i] = el.Value
		paths[i] = el.Path
	}
	vars := st.projectVariables(n)
	if vars == nil {
		vars = make(map[string]any, 1)
	}
	vars["representations"] = reps

	resp, err := st.call(ctx, n, vars, true)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.fetchFailed(n, at, paths, err)
		return nil
	}

	var entities []any
	if resp.Data != nil {
		list, ok := resp.Data["_entities"].([]any)
		if !ok || len(list) != len(elements) {
			st.fetchFailed(n, at, paths, &fetch.FetchError{
				Service: n.ServiceName,
				Kind:    fetch.InvalidResponse,
				Code:    fetch.CodeMalformedResponse,
				Message: fmt.Sprintf("expected %d entities, got %d", len(elements), len(list)),
			})
			return nil
		}
		entities = list
	}

	for _, e := range resp.Errors {
		st.tree.AddError(st.subgraphError(n, e, rebaseEntityPath(e.Path, paths, at)))
	}
	if entities == nil {
		for _, p := range paths {
			st.nullProvided(n, p)
		}
		return nil
	}
	for i, entity := range entities {
		if entity == nil {
			st.nullProvided(n, paths[i])
			continue
		}
		if err := st.tree.Merge(paths[i], entity); err != nil && !errors.Is(err, response.ErrNullAncestor) {
			level.Warn(st.logger).Log("msg", "cannot merge entity", "service", n.ServiceName, "path", paths[i], "err", err)
		}
	}
	return nil
}

// call sends one fetch, bounded by the executor-wide semaphore.
func (st *executionState) call(ctx context.Context, n *plan.FetchNode, vars map[string]any, entity bool) (*fetch.Response, error) {
	if sem := st.exec.sem; sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer sem.Release(1)
	}

	id := st.exec.nextID.Add(1)
	eventbus.Publish(ctx, events.SubgraphFetchStart{FetchID: id, Service: n.ServiceName, Entity: entity})
	start := time.Now()
	resp, err := st.exec.fetcher.Fetch(ctx, n.ServiceName, &fetch.Request{
		Query:         n.Operation,
		OperationName: n.OperationName,
		Variables:     vars,
	})
	if err == nil && resp == nil {
		err = &fetch.FetchError{Service: n.ServiceName, Kind: fetch.InvalidResponse, Code: fetch.CodeMalformedResponse, Message: "empty response"}
	}
	eventbus.Publish(ctx, events.SubgraphFetchFinish{FetchID: id, Service: n.ServiceName, Entity: entity, Err: err, Duration: time.Since(start)})
	if err != nil {
		level.Debug(st.logger).Log("msg", "subgraph fetch failed", "service", n.ServiceName, "err", err)
	}
	return resp, err
}

func (st *executionState) projectVariables(n *plan.FetchNode) map[string]any {
	if len(n.VariableUsages) == 0 {
		return nil
	}
	vars := make(map[string]any, len(n.VariableUsages)+1)
	for _, name := range n.VariableUsages {
		if v, ok := st.variables[name]; ok {
			vars[name] = v
		}
	}
	return vars
}

// fetchFailed records one error for a failed fetch and nulls what it was to
// provide at every element.
func (st *executionState) fetchFailed(n *plan.FetchNode, at plan.Path, elements []plan.Path, err error) {
	fe := asFetchError(n.ServiceName, err)
	path := at
	if len(n.Provides) == 1 {
		path = at.Append(n.Provides[0].Key)
	}
	st.tree.AddError(response.Error{Message: fe.ClientMessage(), Path: path, Extensions: fe.Extensions()})
	for _, el := range elements {
		st.nullProvided(n, el)
	}
}

// nullProvided nulls the keys n provides at the concrete location el. A
// non-null key moves the null up to the node's boundary.
func (st *executionState) nullProvided(n *plan.FetchNode, el plan.Path) {
	for _, pf := range n.Provides {
		if pf.NonNull {
			st.tree.SetNull(concretize(n.NullBoundary, el))
			return
		}
	}
	for _, pf := range n.Provides {
		st.tree.SetNull(el.Append(pf.Key))
	}
}

func (st *executionState) subgraphError(n *plan.FetchNode, e response.Error, path plan.Path) response.Error {
	ext := make(map[string]any, len(e.Extensions)+1)
	for k, v := range e.Extensions {
		ext[k] = v
	}
	if _, ok := ext["service"]; !ok {
		ext["service"] = n.ServiceName
	}
	if len(e.Path) == 0 {
		path = nil
	}
	return response.Error{Message: e.Message, Path: path, Extensions: ext}
}

func asFetchError(service string, err error) *fetch.FetchError {
	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &fetch.FetchError{Service: service, Kind: fetch.ServiceUnavailable, Code: fetch.CodeHTTPError, Message: err.Error(), Err: err}
}

// rebaseEntityPath maps a path under _entities onto the element it names.
// Other paths are reported at the flatten location.
func rebaseEntityPath(p plan.Path, elements []plan.Path, at plan.Path) plan.Path {
	if len(p) >= 2 && p[0] == "_entities" {
		if i, ok := p[1].(int); ok && i >= 0 && i < len(elements) {
			return elements[i].Concat(p[2:])
		}
	}
	return at
}

// concretize fills the flatten segments of pattern with the list indexes
// of el, a concrete path matched by a pattern sharing the same prefix.
// Indexes el picked up by implicit list fan-out are carried over.
func concretize(pattern, el plan.Path) plan.Path {
	out := make(plan.Path, 0, len(pattern))
	j := 0
	for _, seg := range pattern {
		if seg != plan.Flatten {
			if _, isField := seg.(string); isField {
				for j < len(el) {
					if _, isIndex := el[j].(int); !isIndex {
						break
					}
					out = append(out, el[j])
					j++
				}
			}
		}
		if seg == plan.Flatten && j < len(el) {
			out = append(out, el[j])
		} else {
			out = append(out, seg)
		}
		j++
	}
	return out
}
