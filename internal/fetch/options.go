package fetch

import (
	"net/http"
	"time"
)

// HTTPClient is the capability used to send subgraph requests. *http.Client
// satisfies it; the deadline travels in the request context.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures the HTTP fetcher.
//
// Defaults:
//   - Client:           a dedicated *http.Client
//   - Timeout:          10s per fetch
//   - MaxResponseBytes: 32 MiB
//
// Registry must be provided.
type Options struct {
	Registry Registry
	Client   HTTPClient

	Timeout          time.Duration
	MaxResponseBytes int64

	// Headers are sent on every request, before forwarded client headers.
	Headers http.Header
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client:           &http.Client{},
		Timeout:          10 * time.Second,
		MaxResponseBytes: 32 << 20,
	}
}

func WithRegistry(r Registry) Option      { return func(o *Options) { o.Registry = r } }
func WithClient(c HTTPClient) Option      { return func(o *Options) { o.Client = c } }
func WithTimeout(d time.Duration) Option  { return func(o *Options) { o.Timeout = d } }
func WithMaxResponseBytes(n int64) Option { return func(o *Options) { o.MaxResponseBytes = n } }
func WithHeaders(h http.Header) Option    { return func(o *Options) { o.Headers = h.Clone() } }
