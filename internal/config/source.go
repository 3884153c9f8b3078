package config

import (
	"sync/atomic"

	"github.com/osmike/lazycache/internal/policy"
)

// Source holds the current configuration snapshot. Readers never block; Store swaps
// the snapshot atomically, so a reload takes effect on the next policy lookup.
type Source struct {
	cur atomic.Pointer[Config]
}

// NewSource returns a Source serving cfg, or the defaults when cfg is nil.
func NewSource(cfg *Config) *Source {
	if cfg == nil {
		cfg = Default()
	}
	s := &Source{}
	s.cur.Store(cfg)
	return s
}

// Load returns the current snapshot. Callers must not mutate it.
func (s *Source) Load() *Config {
	return s.cur.Load()
}

// Store replaces the current snapshot.
func (s *Source) Store(cfg *Config) {
	s.cur.Store(cfg)
}

// Policy returns a provider that resolves name against whatever snapshot is current
// at insertion time. Unknown names use the default policy; a disabled config or an
// entry that fails to resolve yields the disabled policy.
func (s *Source) Policy(name string) policy.Provider {
	return policy.Func(func() policy.Policy {
		cfg := s.Load()
		if !cfg.Enabled {
			return policy.Off()
		}
		pc := cfg.Named(name)
		p, err := pc.Resolve()
		if err != nil {
			return policy.Off()
		}
		if pc.Jitter > 0 {
			return policy.Jittered(p, pc.Jitter).Policy()
		}
		return p
	})
}
