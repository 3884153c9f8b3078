// Package metrics exposes cache lifecycle events as Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/osmike/lazycache/internal/lib/hooks"
)

// Collector holds the counters for one cache instance.
type Collector struct {
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	Resolutions prometheus.Counter
	Failures    prometheus.Counter
	Bypasses    prometheus.Counter
	Removals    prometheus.Counter
	Evictions   prometheus.Counter
	InFlight    prometheus.Gauge
}

// New creates the counters, labelled with the cache name, and registers them on reg.
// A nil reg skips registration.
func New(reg prometheus.Registerer, cache string) (*Collector, error) {
	labels := prometheus.Labels{"cache": cache}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "lazycache",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	c := &Collector{
		Hits:        counter("hits_total", "Lookups that reused an existing entry."),
		Misses:      counter("misses_total", "Lookups that inserted a new pending entry."),
		Resolutions: counter("resolutions_total", "Factory executions that returned a value."),
		Failures:    counter("failures_total", "Factory executions that returned an error or panicked."),
		Bypasses:    counter("bypasses_total", "Calls served directly because the policy was disabled."),
		Removals:    counter("removals_total", "Explicit removals."),
		Evictions:   counter("evictions_total", "Entries dropped by expiry or capacity."),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "lazycache",
			Name:        "inflight_factories",
			Help:        "Factory executions currently running.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		for _, col := range []prometheus.Collector{
			c.Hits, c.Misses, c.Resolutions, c.Failures, c.Bypasses, c.Removals, c.Evictions, c.InFlight,
		} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Hooks returns a hook set that feeds the collector.
func (c *Collector) Hooks() *hooks.Hooks {
	inc := func(ctr prometheus.Counter) hooks.HookFunc {
		return func(any) error {
			ctr.Inc()
			return nil
		}
	}
	return &hooks.Hooks{
		OnHit:  inc(c.Hits),
		OnMiss: inc(c.Misses),
		OnExecute: func(any) error {
			c.InFlight.Inc()
			return nil
		},
		OnDone: func(any) error {
			c.InFlight.Dec()
			c.Resolutions.Inc()
			return nil
		},
		OnFailure: func(string, error) {
			c.InFlight.Dec()
			c.Failures.Inc()
		},
		OnBypass: inc(c.Bypasses),
		OnRemove: inc(c.Removals),
		OnEvict:  inc(c.Evictions),
	}
}
