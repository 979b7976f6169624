package fetch

import (
	"fmt"
	"sync"
)

// Registry resolves a subgraph name to the URL requests are sent to.
// Implementations must be safe for concurrent use.
type Registry interface {
	Resolve(service string) (string, error)
}

// StaticRegistry is a Registry backed by an in-memory map.
type StaticRegistry struct {
	mu   sync.RWMutex
	urls map[string]string
}

// NewStaticRegistry copies m, which maps service name to URL.
func NewStaticRegistry(m map[string]string) *StaticRegistry {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &StaticRegistry{urls: cp}
}

func (r *StaticRegistry) Resolve(service string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.urls[service]
	if !ok || u == "" {
		return "", fmt.Errorf("%w %q", ErrUnknownService, service)
	}
	return u, nil
}

// Set replaces the URL of service. Used on schema reload.
func (r *StaticRegistry) Set(service, url string) {
	r.mu.Lock()
	r.urls[service] = url
	r.mu.Unlock()
}

// Replace swaps the whole table.
func (r *StaticRegistry) Replace(m map[string]string) {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	r.mu.Lock()
	r.urls = cp
	r.mu.Unlock()
}
