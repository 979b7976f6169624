package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hanpama/fedgate/internal/config"
	"github.com/hanpama/fedgate/internal/eventbus"
	"github.com/hanpama/fedgate/internal/fetch"
	"github.com/hanpama/fedgate/internal/metrics"
	"github.com/hanpama/fedgate/internal/otel"
	"github.com/hanpama/fedgate/internal/router"
	"github.com/hanpama/fedgate/internal/schema"
	"github.com/hanpama/fedgate/internal/server"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	configPath string
	listen     string
	supergraph string
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the supergraph over HTTP",
		Long: `Serve the supergraph at /graphql. Flags override the config file.
SIGHUP reloads the supergraph file and drops cached plans.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr(), cfg.LogLevel))
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.supergraph, "supergraph", "", "composed supergraph SDL file")
	return cmd
}

// config loads the config file, if any, and applies flag overrides.
func (o *serveOptions) config(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = o.listen
	}
	if cmd.Flags().Changed("supergraph") {
		cfg.Supergraph = o.supergraph
	}
	if cfg.Supergraph == "" {
		return nil, errors.New("a supergraph is required: set --supergraph or supergraph in the config file")
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	s, err := loadSupergraph(cfg.Supergraph)
	if err != nil {
		return err
	}
	urls, err := subgraphURLs(s, cfg.Subgraphs)
	if err != nil {
		return err
	}
	registry := fetch.NewStaticRegistry(urls)
	fetcher, err := fetch.NewHTTPFetcher(fetch.WithRegistry(registry), fetch.WithTimeout(cfg.FetchTimeout))
	if err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}

	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		defer metrics.NewMetrics(reg).Subscribe()()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	shutdownTracing, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			level.Warn(logger).Log("msg", "tracing shutdown failed", "err", err)
		}
	}()

	rt, err := router.New(s, fetcher,
		router.WithLogger(logger),
		router.WithPlanCacheSize(cfg.PlanCacheSize),
		router.WithRequestTimeout(cfg.RequestTimeout),
		router.WithMaxConcurrentFetches(cfg.MaxParallelFetches),
	)
	if err != nil {
		return err
	}
	mux.Handle("/graphql", server.New(rt,
		server.WithForwardHeaders(cfg.ForwardHeaders...),
		server.WithCORS(cfg.CORSOrigins...),
		server.WithMaxBodyBytes(cfg.MaxBodyBytes),
	))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := reload(cfg, registry, rt); err != nil {
					level.Error(logger).Log("msg", "reload failed", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "gateway listening", "addr", cfg.Listen, "subgraphs", len(urls), "schema_version", s.Version())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	level.Info(logger).Log("msg", "shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// reload re-reads the supergraph file, repoints the registry and swaps the
// router's schema.
func reload(cfg *config.Config, registry *fetch.StaticRegistry, rt *router.Router) error {
	s, err := loadSupergraph(cfg.Supergraph)
	if err != nil {
		return err
	}
	urls, err := subgraphURLs(s, cfg.Subgraphs)
	if err != nil {
		return err
	}
	registry.Replace(urls)
	rt.Reload(s)
	return nil
}

func loadSupergraph(path string) (*schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read supergraph: %w", err)
	}
	return schema.Load(path, string(data))
}

// subgraphURLs maps every subgraph of s to its URL. overrides take
// precedence over the URLs the supergraph declares.
func subgraphURLs(s *schema.Schema, overrides map[string]string) (map[string]string, error) {
	urls := make(map[string]string)
	for _, sg := range s.Subgraphs() {
		u := sg.URL
		if o, ok := overrides[sg.Name]; ok {
			u = o
		}
		if u == "" {
			return nil, fmt.Errorf("subgraph %q has no url", sg.Name)
		}
		urls[sg.Name] = u
	}
	for name := range overrides {
		if _, ok := urls[name]; !ok {
			return nil, fmt.Errorf("subgraphs.%s: not in the supergraph", name)
		}
	}
	return urls, nil
}
