package fetch

import (
	"context"
	"fmt"
	"sync"
)

// MockHandler answers one mocked subgraph call.
type MockHandler func(ctx context.Context, req *Request) (*Response, error)

// CallRecord captures a single Fetch invocation for assertions.
type CallRecord struct {
	Service string
	Request *Request
}

// MockFetcher implements Fetcher with per-service handlers and records every
// call in invocation order.
type MockFetcher struct {
	mu       sync.Mutex
	handlers map[string]MockHandler
	calls    []CallRecord
}

// NewMockFetcher creates a MockFetcher from handlers keyed by service name.
func NewMockFetcher(handlers map[string]MockHandler) *MockFetcher {
	m := &MockFetcher{handlers: map[string]MockHandler{}}
	for k, v := range handlers {
		m.handlers[k] = v
	}
	return m
}

// Handle replaces the handler of service.
func (m *MockFetcher) Handle(service string, h MockHandler) {
	m.mu.Lock()
	m.handlers[service] = h
	m.mu.Unlock()
}

// Fetch records the call and dispatches to the service handler. Services
// without a handler fail with ServiceUnavailable.
func (m *MockFetcher) Fetch(ctx context.Context, service string, req *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, CallRecord{Service: service, Request: cloneRequest(req)})
	h := m.handlers[service]
	m.mu.Unlock()

	if h == nil {
		return nil, unavailable(service, "no mock handler", fmt.Errorf("%w %q", ErrUnknownService, service))
	}
	return h(ctx, req)
}

// Calls returns a snapshot of recorded calls.
func (m *MockFetcher) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times service was called.
func (m *MockFetcher) CallCount(service string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Service == service {
			n++
		}
	}
	return n
}

// MockData returns a handler answering with a fresh copy of data on every
// call, as if it had been decoded from the wire.
func MockData(data map[string]any) MockHandler {
	return func(context.Context, *Request) (*Response, error) {
		if data == nil {
			return &Response{}, nil
		}
		return &Response{Data: deepCopy(data).(map[string]any)}, nil
	}
}

// MockUnavailable returns a handler failing as if service were down.
func MockUnavailable(service string) MockHandler {
	return func(context.Context, *Request) (*Response, error) {
		return nil, unavailable(service, "connection refused", nil)
	}
}

func cloneRequest(req *Request) *Request {
	if req == nil {
		return nil
	}
	cp := *req
	if req.Variables != nil {
		cp.Variables = make(map[string]any, len(req.Variables))
		for k, v := range req.Variables {
			cp.Variables[k] = v
		}
	}
	return &cp
}

func deepCopy(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopy(e)
		}
		return out
	}
	return v
}
