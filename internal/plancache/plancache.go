// Package plancache memoizes query plans per operation shape.
//
// A Cache is created once per process and shared by every request; its
// contents belong to one schema generation. Lookups that miss are coalesced
// per key so the planner runs once no matter how many requests arrive for the
// same uncached operation. Callers receive plans read-only.
package plancache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/hanpama/fedgate/internal/plan"
)

// DefaultSize is the capacity used when New is given a non-positive size.
const DefaultSize = 512

// Key identifies an operation shape.
type Key struct {
	// Operation is the normalized operation text.
	Operation     string
	OperationName string
	// Variables lists the declared variable names and types, e.g. "$n:Int".
	Variables string
	// SchemaVersion is the version of the schema the plan is built against.
	SchemaVersion string
}

// Hash returns a stable 64-bit digest of k.
func (k Key) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(k.Operation)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.OperationName)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.Variables)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.SchemaVersion)
	return d.Sum64()
}

// BuildFunc computes the plan of a key on a miss.
type BuildFunc func(ctx context.Context) (*plan.QueryPlan, error)

// Result describes how a lookup was served.
type Result struct {
	Hit bool
	// Shared is set when a miss joined a build started by another caller.
	Shared bool
}

// Stats are cumulative lookup counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Builds uint64
}

type entry struct {
	key  Key
	plan *plan.QueryPlan
	err  error
}

// Cache is a bounded LRU of plans with single-flight builds.
type Cache struct {
	// mu orders inserts against Purge; it is never held while building.
	mu         sync.Mutex
	lru        *lru.Cache
	group      singleflight.Group
	generation atomic.Uint64

	hits, misses, builds atomic.Uint64
}

// New creates a Cache holding at most size plans.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// GetOrBuild returns the plan cached for key, running build on a miss.
// Concurrent misses for the same key share one build and observe the same
// plan or the same error. Failures are cached only when they report
// themselves deterministic through a Deterministic() bool method.
func (c *Cache) GetOrBuild(ctx context.Context, key Key, build BuildFunc) (*plan.QueryPlan, Result, error) {
	h := key.Hash()
	if e, ok := c.lookup(h, key); ok {
		c.hits.Add(1)
		return e.plan, Result{Hit: true}, e.err
	}
	c.misses.Add(1)

	gen := c.generation.Load()
	flightKey := strconv.FormatUint(gen, 10) + ":" + strconv.FormatUint(h, 16)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		if e, ok := c.lookup(h, key); ok {
			return e, nil
		}
		c.builds.Add(1)
		// Detached from the first caller so its cancellation does not fail
		// everyone waiting on the same build.
		p, err := build(context.WithoutCancel(ctx))
		e := &entry{key: key, plan: p, err: err}
		if err == nil || isDeterministic(err) {
			c.store(gen, h, e)
		}
		return e, nil
	})

	select {
	case <-ctx.Done():
		return nil, Result{}, ctx.Err()
	case r := <-ch:
		e := r.Val.(*entry)
		return e.plan, Result{Shared: r.Shared}, e.err
	}
}

// Purge drops every plan. In-flight builds started before Purge still
// answer their callers but are not inserted.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.generation.Add(1)
	c.lru.Purge()
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Generation counts purges since creation.
func (c *Cache) Generation() uint64 { return c.generation.Load() }

// Stats returns the lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Builds: c.builds.Load()}
}

func (c *Cache) lookup(h uint64, key Key) (*entry, bool) {
	v, ok := c.lru.Get(h)
	if !ok {
		return nil, false
	}
	e := v.(*entry)
	if e.key != key {
		return nil, false
	}
	return e, true
}

func (c *Cache) store(gen, h uint64, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		return
	}
	c.lru.Add(h, e)
}

func isDeterministic(err error) bool {
	var d interface{ Deterministic() bool }
	return errors.As(err, &d) && d.Deterministic()
}
