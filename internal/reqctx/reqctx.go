// Package reqctx carries the per-request bag threaded from the HTTP layer down
// to subgraph fetches. The router core passes it along without interpreting
// it.
package reqctx

import (
	"context"
	"math/rand/v2"
	"net/http"
)

type key struct{}

// Info is the request context of one client operation.
type Info struct {
	// ID correlates events of one request.
	ID int64
	// Headers are forwarded on every subgraph request.
	Headers http.Header
}

// NewContext returns a copy of parent carrying a fresh Info with a random ID.
// headers is cloned.
func NewContext(parent context.Context, headers http.Header) (context.Context, *Info) {
	info := &Info{ID: rand.Int64(), Headers: headers.Clone()}
	return context.WithValue(parent, key{}, info), info
}

// FromContext extracts the Info stored by NewContext.
func FromContext(ctx context.Context) (*Info, bool) {
	info, ok := ctx.Value(key{}).(*Info)
	return info, ok
}

// ID returns the request ID of ctx, or 0.
func ID(ctx context.Context) int64 {
	if info, ok := FromContext(ctx); ok {
		return info.ID
	}
	return 0
}

// Forward returns a copy of the listed headers of h, keeping only those
// present. Names are matched case-insensitively.
func Forward(h http.Header, names []string) http.Header {
	out := http.Header{}
	for _, n := range names {
		if vs := h.Values(n); len(vs) > 0 {
			out[http.CanonicalHeaderKey(n)] = append([]string(nil), vs...)
		}
	}
	return out
}
