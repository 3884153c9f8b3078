package lazycache

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/osmike/lazycache/internal/config"
	"github.com/osmike/lazycache/internal/lib/hooks"
	"github.com/osmike/lazycache/internal/metrics"
)

// SlogHooks returns hooks that log cache events to logger: lookups, resolutions, bypasses and
// removals at debug level, factory failures at warn and hook errors at error.
func SlogHooks(logger *slog.Logger) *Hooks { return hooks.Slog(logger) }

// ChainHooks merges hook sets into one that calls each of them in order.
func ChainHooks(sets ...*Hooks) *Hooks { return hooks.Chain(sets...) }

// Metrics holds the Prometheus collectors of one cache. Pass Metrics.Hooks() to WithHooks.
type Metrics = metrics.Collector

// NewMetrics registers the counters and the in-flight gauge of the cache called name with reg.
func NewMetrics(reg prometheus.Registerer, name string) (*Metrics, error) {
	return metrics.New(reg, name)
}

type (
	// Config is the file-backed cache configuration.
	Config = config.Config

	// PolicyConfig describes one named expiration policy in a Config.
	PolicyConfig = config.PolicyConfig

	// ConfigDuration is a time.Duration read from JSON as "5m" or as nanoseconds.
	ConfigDuration = config.Duration

	// ConfigSource holds the current Config and hands out policies that follow it.
	ConfigSource = config.Source
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig reads and validates a JSON config file. A missing file yields DefaultConfig().
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewConfigSource wraps cfg for concurrent readers. Policies obtained from it see later Store calls.
func NewConfigSource(cfg *Config) *ConfigSource { return config.NewSource(cfg) }

// WatchConfig reloads path into src whenever the file changes, until ctx is done.
// Each applied Config is sent on the returned channel; invalid files are logged and skipped.
func WatchConfig(ctx context.Context, path string, src *ConfigSource, logger *slog.Logger) (<-chan *Config, error) {
	return config.Watch(ctx, path, src, logger)
}

// WithConfig applies the store and failure settings of cfg. Policies are taken from a
// ConfigSource per call site.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		o.capacity = cfg.Capacity
		o.cleanupInterval = time.Duration(cfg.CleanupInterval)
		o.cacheFailures = cfg.CacheFailures
	}
}
