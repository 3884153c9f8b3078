// Package config loads cache settings and named expiration policies from a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/osmike/lazycache/internal/policy"
)

// ErrInvalid is returned for a config file that parses but cannot be used.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration that reads and writes as a Go duration string ("90s", "5m").
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the root configuration structure.
type Config struct {
	// Enabled is the kill switch: false makes every policy resolve to disabled.
	Enabled         bool                    `json:"enabled"`
	Capacity        int                     `json:"capacity"`
	CleanupInterval Duration                `json:"cleanupInterval"`
	CacheFailures   bool                    `json:"cacheFailures"`
	DefaultPolicy   PolicyConfig            `json:"defaultPolicy"`
	Policies        map[string]PolicyConfig `json:"policies"`
}

// PolicyConfig describes one named expiration policy.
type PolicyConfig struct {
	Kind   string   `json:"kind"` // "absolute" (default), "sliding", "never", "disabled"
	TTL    Duration `json:"ttl"`
	Jitter float64  `json:"jitter"` // fraction of ttl, e.g. 0.1 for ±10%
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Enabled:         true,
		Capacity:        1000,
		CleanupInterval: Duration(time.Minute),
		DefaultPolicy: PolicyConfig{
			Kind: policy.Absolute.String(),
			TTL:  Duration(5 * time.Minute),
		},
		Policies: make(map[string]PolicyConfig),
	}
}

// Load reads path on top of the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Policies == nil {
		cfg.Policies = make(map[string]PolicyConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every policy in the config.
func (c *Config) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("%w: capacity %d", ErrInvalid, c.Capacity)
	}
	if _, err := c.DefaultPolicy.Resolve(); err != nil {
		return fmt.Errorf("%w: defaultPolicy: %v", ErrInvalid, err)
	}
	for name, pc := range c.Policies {
		if _, err := pc.Resolve(); err != nil {
			return fmt.Errorf("%w: policy %q: %v", ErrInvalid, name, err)
		}
	}
	return nil
}

// Resolve turns the config entry into a policy.
func (pc PolicyConfig) Resolve() (policy.Policy, error) {
	kind, err := policy.ParseKind(pc.Kind)
	if err != nil {
		return policy.Policy{}, err
	}
	p := policy.Policy{Kind: kind, TTL: time.Duration(pc.TTL)}
	if pc.Jitter < 0 || pc.Jitter >= 1 {
		return policy.Policy{}, fmt.Errorf("jitter %v out of range [0, 1)", pc.Jitter)
	}
	return p, p.Validate()
}

// Named returns the policy config registered as name, falling back to the default.
func (c *Config) Named(name string) PolicyConfig {
	if pc, ok := c.Policies[name]; ok {
		return pc
	}
	return c.DefaultPolicy
}
