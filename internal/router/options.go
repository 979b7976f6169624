package router

import (
	"time"

	"github.com/go-kit/log"
)

// Options configures a Router.
//
// Defaults:
//   - Logger:               log.NewNopLogger()
//   - Planner:              planner.New()
//   - PlanCacheSize:        plancache.DefaultSize
//   - RequestTimeout:       30s
//   - MaxConcurrentFetches: unlimited
type Options struct {
	Logger  log.Logger
	Planner Planner

	PlanCacheSize        int
	MaxConcurrentFetches int

	// RequestTimeout bounds one operation end to end. Zero disables it.
	RequestTimeout time.Duration
}

// Option mutates Options.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:         log.NewNopLogger(),
		RequestTimeout: 30 * time.Second,
	}
}

func WithLogger(l log.Logger) Option            { return func(o *Options) { o.Logger = l } }
func WithPlanner(p Planner) Option              { return func(o *Options) { o.Planner = p } }
func WithPlanCacheSize(n int) Option            { return func(o *Options) { o.PlanCacheSize = n } }
func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }
func WithMaxConcurrentFetches(n int) Option     { return func(o *Options) { o.MaxConcurrentFetches = n } }
