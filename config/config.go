// Package config loads the pflow application configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig selects and tunes the language model provider.
type LLMConfig struct {
	Provider  string        `json:"provider" yaml:"provider"`
	APIKey    string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model     string        `json:"model" yaml:"model"`
	BaseURL   string        `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxTokens int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	// RPS limits outgoing requests per second. Zero means unlimited.
	RPS   float64 `json:"rps" yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
	// Script is the path of a stage → responses YAML file used by the
	// scripted provider.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db"`
}

// CacheConfig configures the LLM response cache.
type CacheConfig struct {
	Backend string        `json:"backend" yaml:"backend"`
	TTL     time.Duration `json:"ttl" yaml:"ttl"`
	Prefix  string        `json:"prefix" yaml:"prefix"`
	Redis   RedisConfig   `json:"redis" yaml:"redis"`
}

// PlannerConfig bounds the planning pipeline.
type PlannerConfig struct {
	MaxRetries         int           `json:"max_retries" yaml:"max_retries"`
	StageRetries       int           `json:"stage_retries" yaml:"stage_retries"`
	StageTimeout       time.Duration `json:"stage_timeout" yaml:"stage_timeout"`
	DiscoveryThreshold float64       `json:"discovery_threshold" yaml:"discovery_threshold"`
	AutoRepair         bool          `json:"auto_repair" yaml:"auto_repair"`
}

// ExecutorConfig tunes workflow execution.
type ExecutorConfig struct {
	NodeTimeout time.Duration `json:"node_timeout" yaml:"node_timeout"`
	// MaxDepth bounds nested saved-workflow invocation.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
}

// CatalogConfig locates the capability catalog.
type CatalogConfig struct {
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	Watch bool   `json:"watch" yaml:"watch"`
}

// S3Config addresses the S3 workflow store.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Prefix   string `json:"prefix" yaml:"prefix"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// StoreConfig selects the saved workflow store backend.
type StoreConfig struct {
	Backend string   `json:"backend" yaml:"backend"`
	Dir     string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	DSN     string   `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	S3      S3Config `json:"s3" yaml:"s3"`
	// Traces is the SQLite path for execution traces. Empty disables persistence.
	Traces string `json:"traces,omitempty" yaml:"traces,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// EventsConfig selects the lifecycle event sink.
type EventsConfig struct {
	Backend       string `json:"backend" yaml:"backend"`
	NATSURL       string `json:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Config is the complete application configuration.
type Config struct {
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Planner  PlannerConfig  `json:"planner" yaml:"planner"`
	Executor ExecutorConfig `json:"executor" yaml:"executor"`
	Catalog  CatalogConfig  `json:"catalog" yaml:"catalog"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	Events   EventsConfig   `json:"events" yaml:"events"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
			Burst:     1,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
			Prefix:  "pflow:llm:",
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Planner: PlannerConfig{
			MaxRetries:         3,
			StageRetries:       1,
			StageTimeout:       90 * time.Second,
			DiscoveryThreshold: 0.8,
			AutoRepair:         true,
		},
		Executor: ExecutorConfig{MaxDepth: 5},
		Store:    StoreConfig{Backend: "file", Dir: defaultStoreDir()},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "pflow",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Events: EventsConfig{Backend: "log", SubjectPrefix: "pflow"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pflow/workflows"
	}
	return home + "/.pflow/workflows"
}

// LoadFromFile loads a configuration file over the defaults, expands ${VAR}
// references in string values, and applies PFLOW_* environment overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) > 0 {
		expandNode(&doc)
		if err := doc.Decode(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path when non-empty and otherwise returns the defaults with
// environment overrides applied.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" && strings.Contains(n.Value, "$") {
		n.Value = os.ExpandEnv(n.Value)
		return
	}
	for _, c := range n.Content {
		expandNode(c)
	}
}

type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func float(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"PFLOW_LLM_PROVIDER", str(func(c *Config) *string { return &c.LLM.Provider })},
	{"PFLOW_LLM_API_KEY", str(func(c *Config) *string { return &c.LLM.APIKey })},
	{"PFLOW_LLM_MODEL", str(func(c *Config) *string { return &c.LLM.Model })},
	{"PFLOW_LLM_BASE_URL", str(func(c *Config) *string { return &c.LLM.BaseURL })},
	{"PFLOW_LLM_MAX_TOKENS", integer(func(c *Config) *int { return &c.LLM.MaxTokens })},
	{"PFLOW_LLM_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.LLM.Timeout })},
	{"PFLOW_LLM_RPS", float(func(c *Config) *float64 { return &c.LLM.RPS })},
	{"PFLOW_LLM_SCRIPT", str(func(c *Config) *string { return &c.LLM.Script })},
	{"PFLOW_CACHE_BACKEND", str(func(c *Config) *string { return &c.Cache.Backend })},
	{"PFLOW_CACHE_TTL", duration(func(c *Config) *time.Duration { return &c.Cache.TTL })},
	{"PFLOW_REDIS_ADDR", str(func(c *Config) *string { return &c.Cache.Redis.Addr })},
	{"PFLOW_REDIS_PASSWORD", str(func(c *Config) *string { return &c.Cache.Redis.Password })},
	{"PFLOW_PLANNER_MAX_RETRIES", integer(func(c *Config) *int { return &c.Planner.MaxRetries })},
	{"PFLOW_PLANNER_STAGE_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Planner.StageTimeout })},
	{"PFLOW_PLANNER_AUTO_REPAIR", boolean(func(c *Config) *bool { return &c.Planner.AutoRepair })},
	{"PFLOW_EXECUTOR_NODE_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Executor.NodeTimeout })},
	{"PFLOW_CATALOG_PATH", str(func(c *Config) *string { return &c.Catalog.Path })},
	{"PFLOW_CATALOG_WATCH", boolean(func(c *Config) *bool { return &c.Catalog.Watch })},
	{"PFLOW_STORE_BACKEND", str(func(c *Config) *string { return &c.Store.Backend })},
	{"PFLOW_STORE_DIR", str(func(c *Config) *string { return &c.Store.Dir })},
	{"PFLOW_STORE_DSN", str(func(c *Config) *string { return &c.Store.DSN })},
	{"PFLOW_STORE_TRACES", str(func(c *Config) *string { return &c.Store.Traces })},
	{"PFLOW_S3_BUCKET", str(func(c *Config) *string { return &c.Store.S3.Bucket })},
	{"PFLOW_TRACING_ENABLED", boolean(func(c *Config) *bool { return &c.Tracing.Enabled })},
	{"PFLOW_TRACING_ENDPOINT", str(func(c *Config) *string { return &c.Tracing.Endpoint })},
	{"PFLOW_EVENTS_BACKEND", str(func(c *Config) *string { return &c.Events.Backend })},
	{"PFLOW_NATS_URL", str(func(c *Config) *string { return &c.Events.NATSURL })},
	{"PFLOW_METRICS_ADDR", str(func(c *Config) *string { return &c.Metrics.Addr })},
	{"PFLOW_LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"PFLOW_LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
}

// ApplyEnv applies PFLOW_* environment overrides. ANTHROPIC_API_KEY is used
// when no API key is configured.
func (c *Config) ApplyEnv() error {
	for _, b := range envBindings {
		v, ok := os.LookupEnv(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(c, v); err != nil {
			return fmt.Errorf("config: %s: %w", b.name, err)
		}
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return nil
}

var (
	llmProviders   = []string{"anthropic", "scripted"}
	cacheBackends  = []string{"none", "memory", "redis"}
	storeBackends  = []string{"memory", "file", "sqlite", "postgres", "s3"}
	eventsBackends = []string{"none", "log", "nats"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"text", "json"}
)

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(field, v string, allowed []string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", field, v, strings.Join(allowed, ", ")))
	}
	oneOf("llm.provider", c.LLM.Provider, llmProviders)
	oneOf("cache.backend", c.Cache.Backend, cacheBackends)
	oneOf("store.backend", c.Store.Backend, storeBackends)
	oneOf("events.backend", c.Events.Backend, eventsBackends)
	oneOf("log.level", c.Log.Level, logLevels)
	oneOf("log.format", c.Log.Format, logFormats)

	if c.LLM.Provider == "scripted" && c.LLM.Script == "" {
		errs = append(errs, errors.New("llm.script is required for the scripted provider"))
	}
	if c.LLM.RPS < 0 {
		errs = append(errs, errors.New("llm.rps must not be negative"))
	}
	if c.Planner.MaxRetries < 0 || c.Planner.StageRetries < 0 {
		errs = append(errs, errors.New("planner retries must not be negative"))
	}
	if c.Planner.DiscoveryThreshold < 0 || c.Planner.DiscoveryThreshold > 1 {
		errs = append(errs, errors.New("planner.discovery_threshold must be within [0, 1]"))
	}
	if c.Executor.MaxDepth < 1 {
		errs = append(errs, errors.New("executor.max_depth must be at least 1"))
	}
	switch c.Store.Backend {
	case "file":
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file backend"))
		}
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the %s backend", c.Store.Backend))
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			errs = append(errs, errors.New("store.s3.bucket is required for the s3 backend"))
		}
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
	}
	if c.Events.Backend == "nats" && c.Events.NATSURL == "" {
		errs = append(errs, errors.New("events.nats_url is required for the nats backend"))
	}
	return errors.Join(errs...)
}
