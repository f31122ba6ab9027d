package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spinje/pflow-sub005/ai"
	"github.com/spinje/pflow-sub005/ai/llm"
	"github.com/spinje/pflow-sub005/capability"
	"github.com/spinje/pflow-sub005/capability/builtin"
	"github.com/spinje/pflow-sub005/config"
	"github.com/spinje/pflow-sub005/events"
	"github.com/spinje/pflow-sub005/executor"
	"github.com/spinje/pflow-sub005/observability/metrics"
	"github.com/spinje/pflow-sub005/observability/tracing"
	"github.com/spinje/pflow-sub005/planner"
	"github.com/spinje/pflow-sub005/store"
)

const defaultConfigFile = "pflow.yaml"

// resolveConfigPath picks the -config value, then $PFLOW_CONFIG, then
// ./pflow.yaml when it exists. An empty result means defaults only.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("PFLOW_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(path))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// app holds the components a command runs against. Close releases them in
// reverse order of creation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *capability.Registry
	workflows store.WorkflowStore
	traces    *store.SQLiteTraceStore
	publisher events.Publisher
	tracer    *tracing.Tracer
	metrics   *metrics.Collector

	provider    ai.Provider
	providerErr error

	watcher *capability.Watcher
	closers []func() error
}

type appOptions struct {
	// watch starts the catalog watcher when the configuration asks for it.
	watch bool
}

func newApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: newLogger(cfg.Log), metrics: metrics.NewCollector()}
	slog.SetDefault(a.logger)
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	a.tracer = tracing.NewTracer(tp.Tracer())
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	if err := a.openPublisher(); err != nil {
		return nil, err
	}

	a.provider, a.providerErr = a.buildProvider(ctx)
	if a.providerErr != nil {
		a.logger.Debug("LLM provider unavailable", "provider", cfg.LLM.Provider, "error", a.providerErr)
	}

	ws, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.workflows = ws
	a.closers = append(a.closers, ws.Close)

	traces, err := store.OpenTraceStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	if traces != nil {
		a.traces = traces
		a.closers = append(a.closers, traces.Close)
	}

	if err := a.loadRegistry(ctx, opts.watch); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openPublisher() error {
	switch a.cfg.Events.Backend {
	case "log":
		a.publisher = events.NewLog(a.logger, slog.LevelDebug)
	case "nats":
		n, err := events.DialNATS(a.cfg.Events.NATSURL, a.cfg.Events.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.publisher = n
		a.closers = append(a.closers, func() error { n.Close(); return nil })
	}
	return nil
}

// buildProvider wraps the configured model client with rate limiting and
// then the response cache, so cache hits skip the limiter.
func (a *app) buildProvider(ctx context.Context) (ai.Provider, error) {
	var (
		p   ai.Provider
		err error
	)
	switch a.cfg.LLM.Provider {
	case "scripted":
		p, err = ai.LoadScript(a.cfg.LLM.Script)
	default:
		p, err = llm.NewClient(llm.ClientConfig{
			APIKey:    a.cfg.LLM.APIKey,
			Model:     a.cfg.LLM.Model,
			BaseURL:   a.cfg.LLM.BaseURL,
			MaxTokens: a.cfg.LLM.MaxTokens,
			Timeout:   a.cfg.LLM.Timeout,
			Logger:    a.logger,
		})
	}
	if err != nil {
		return nil, err
	}
	if a.cfg.LLM.RPS > 0 {
		p = ai.NewRateLimitedProvider(p, a.cfg.LLM.RPS, a.cfg.LLM.Burst)
	}

	switch a.cfg.Cache.Backend {
	case "memory":
		p = ai.NewCachingProvider(p, ai.NewMemoryCache(), a.cfg.Cache.TTL, a.logger)
	case "redis":
		r := a.cfg.Cache.Redis
		client, err := ai.DialRedis(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			return nil, fmt.Errorf("connect redis cache: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		p = ai.NewCachingProvider(p, ai.NewRedisCache(client, a.cfg.Cache.Prefix), a.cfg.Cache.TTL, a.logger)
	}
	return p, nil
}

func (a *app) builtinOptions() builtin.Options {
	return builtin.Options{
		Provider:    a.provider,
		Workflows:   a.workflows,
		Binder:      a.registry,
		MaxDepth:    a.cfg.Executor.MaxDepth,
		ExecOptions: a.execOptions(),
		Logger:      a.logger,
	}
}

func (a *app) loadRegistry(ctx context.Context, watch bool) error {
	var (
		descs []capability.Descriptor
		err   error
	)
	if a.cfg.Catalog.Path != "" {
		descs, err = capability.LoadCatalogFile(a.cfg.Catalog.Path)
	} else {
		descs, err = capability.BuiltinCatalog()
	}
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	a.registry = capability.NewRegistry()
	opts := a.builtinOptions()
	if err := builtin.Load(a.registry, descs, opts); err != nil {
		return err
	}
	n, err := builtin.RegisterWorkflows(ctx, a.registry, opts)
	if err != nil {
		return err
	}
	a.logger.Debug("Catalog loaded", "capabilities", len(descs), "workflows", n)

	if watch && a.cfg.Catalog.Watch && a.cfg.Catalog.Path != "" {
		a.watcher = capability.NewWatcher(a.cfg.Catalog.Path, a.registry, builtin.Factories(opts),
			capability.WithWatchLogger(a.logger))
		if err := a.watcher.Start(); err != nil {
			return err
		}
		a.closers = append(a.closers, a.watcher.Stop)
	}
	return nil
}

func (a *app) execOptions() []executor.Option {
	opts := []executor.Option{
		executor.WithLogger(a.logger),
		executor.WithTracer(a.tracer),
		executor.WithMetrics(a.metrics),
		executor.WithPublisher(a.publisher),
		executor.WithNodeTimeout(a.cfg.Executor.NodeTimeout),
	}
	if a.traces != nil {
		opts = append(opts, executor.WithTraceStore(a.traces))
	}
	return opts
}

func (a *app) planner() (*planner.Planner, error) {
	if a.providerErr != nil {
		return nil, fmt.Errorf("llm provider %s: %w", a.cfg.LLM.Provider, a.providerErr)
	}
	return planner.New(a.provider, a.registry,
		planner.WithLogger(a.logger),
		planner.WithTracer(a.tracer),
		planner.WithMetrics(a.metrics),
		planner.WithPublisher(a.publisher),
		planner.WithStore(a.workflows),
		planner.WithConfig(a.cfg.Planner),
	), nil
}

func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Shutdown incomplete", "error", err)
	}
}
