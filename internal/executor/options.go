package executor

import (
	"github.com/go-kit/log"
)

// Options configures an Executor.
//
// Defaults:
//   - Logger:               log.NewNopLogger()
//   - MaxConcurrentFetches: unlimited
type Options struct {
	Logger log.Logger
	// MaxConcurrentFetches bounds in-flight subgraph fetches per Executor.
	// Zero or negative means no bound.
	MaxConcurrentFetches int
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{Logger: log.NewNopLogger()}
}

func WithLogger(l log.Logger) Option        { return func(o *Options) { o.Logger = l } }
func WithMaxConcurrentFetches(n int) Option { return func(o *Options) { o.MaxConcurrentFetches = n } }
