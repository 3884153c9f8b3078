// Package lazycache provides a self-populating, concurrent-safe cache with single-flight loading.
//
// # Overview
//
// Callers ask for a value by key and supply a factory that computes it when the key is
// absent. However many goroutines ask for the same missing key at once, the factory runs
// once; everyone else waits for that execution and receives its result. Entries then live
// in the store until their expiration policy retires them or they are removed.
//
// ## Features
//
//   - Single-flight: at most one factory execution per key per entry generation.
//   - Sync and async: GetOrAdd blocks, GetOrAddAsync returns a Future.
//   - Expiration: absolute, sliding, or no expiry per entry; optional TTL jitter.
//   - Kill switch: a disabled policy bypasses the cache and runs the factory every call.
//   - Retry on failure: failed resolutions are not cached unless WithFailureCaching is set.
//   - Typed API: values are checked on the way out; a type mismatch is an error, never a wrong value.
//   - Extensibility: hooks for slog logging (SlogHooks) and Prometheus metrics (NewMetrics).
//   - Configuration: JSON config files with named policies and hot reload (LoadConfig, WatchConfig).
//
// ## Usage Example
//
//	c := lazycache.New(lazycache.WithCapacity(10_000))
//	defer c.Close()
//
//	user, err := lazycache.GetOrAdd(c, UserKey{ID: 42}, func() (*User, error) {
//		return db.LoadUser(42)
//	}, lazycache.Absolute(5*time.Minute))
//
// Construct one Cache at startup and pass it to the code that needs it; tests build
// their own isolated instances.
package lazycache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/osmike/lazycache/internal/core"
	"github.com/osmike/lazycache/internal/lib/errs"
	"github.com/osmike/lazycache/internal/lib/hooks"
	"github.com/osmike/lazycache/internal/lib/keygen"
	"github.com/osmike/lazycache/internal/policy"
	"github.com/osmike/lazycache/internal/store"
)

// Key is implemented by structured cache keys. See Compose for the key format convention.
type Key = keygen.Key

// Policy is a resolved expiration rule. The zero Policy is disabled.
type Policy = policy.Policy

// PolicyProvider produces the policy for one insertion. Policy itself is a PolicyProvider.
type PolicyProvider = policy.Provider

// Store is the backing container a Cache can run on.
type Store = core.Store

// Hooks provides optional hooks for cache events (e.g., on hit, miss, eviction).
type Hooks = hooks.Hooks

var (
	// ErrTypeMismatch is returned when a cached value does not have the type the caller asked for.
	ErrTypeMismatch = errors.New("cached value has a different type")

	// ErrPanic wraps panics raised by factories.
	ErrPanic = core.ErrPanic

	// ErrCorruptEntry is returned when the store holds an entry the cache did not create.
	ErrCorruptEntry = core.ErrCorruptEntry

	// ErrNilKey is returned for nil or empty keys.
	ErrNilKey = keygen.ErrNilKey
)

// Compose builds a key in the "{TypeName}::{f1}:{f2}..." convention. Any ':' or '\'
// inside the type name or a field is backslash-escaped.
func Compose(typeName string, fields ...any) string { return keygen.Compose(typeName, fields...) }

// Absolute returns a policy expiring entries ttl after insertion.
func Absolute(ttl time.Duration) Policy { return policy.NewAbsolute(ttl) }

// Sliding returns a policy expiring entries ttl after their last read.
func Sliding(ttl time.Duration) Policy { return policy.NewSliding(ttl) }

// NoExpiry returns a policy that keeps entries until removed or evicted.
func NoExpiry() Policy { return policy.NoExpiry() }

// Disabled returns the policy that bypasses the cache.
func Disabled() Policy { return policy.Off() }

// Jittered spreads the TTL of base by up to ±fraction on every insertion.
func Jittered(base Policy, fraction float64) PolicyProvider { return policy.Jittered(base, fraction) }

// Cache is a lazily populated cache. It is safe for concurrent use.
type Cache struct {
	handler *core.Handler
	owned   *store.Memory // closed by Close when the cache created it
}

type options struct {
	capacity        int
	cleanupInterval time.Duration
	hooks           []*hooks.Hooks
	cacheFailures   bool
}

// Option configures a Cache.
type Option func(*options)

// WithCapacity bounds the number of entries in the default memory store.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithCleanupInterval sets how often the default memory store purges expired entries.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

// WithHooks adds a hook set. Several sets are chained in the order given.
func WithHooks(h *Hooks) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// WithFailureCaching keeps failed resolutions until their policy expires them instead
// of letting the next caller retry.
func WithFailureCaching(enabled bool) Option {
	return func(o *options) { o.cacheFailures = enabled }
}

// New creates a Cache over an in-memory store.
func New(opts ...Option) *Cache {
	o := collect(opts)
	h := hooks.Chain(o.hooks...)
	mem := store.NewMemory(
		store.WithCapacity(o.capacity),
		store.WithCleanupInterval(o.cleanupInterval),
		store.WithEvictCallback(func(key string, _ any) { h.Run(h.OnEvict, key) }),
	)
	return &Cache{
		handler: core.NewHandler(mem, core.WithHooks(h), core.WithFailureCaching(o.cacheFailures)),
		owned:   mem,
	}
}

// NewWithStore creates a Cache over a caller-provided store. Capacity and cleanup
// options do not apply; the store manages its own eviction.
func NewWithStore(s Store, opts ...Option) *Cache {
	o := collect(opts)
	return &Cache{
		handler: core.NewHandler(s, core.WithHooks(hooks.Chain(o.hooks...)), core.WithFailureCaching(o.cacheFailures)),
	}
}

func collect(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Remove deletes the entry for key. Removing an absent key is not an error.
func (c *Cache) Remove(key any) error {
	return c.handler.Remove(key)
}

// Len reports the number of entries when the cache owns its memory store, and -1 otherwise.
func (c *Cache) Len() int {
	if c.owned == nil {
		return -1
	}
	return c.owned.Len()
}

// Close releases the memory store created by New. It is a no-op for caller-provided stores.
func (c *Cache) Close() error {
	if c.owned == nil {
		return nil
	}
	return c.owned.Close()
}

// GetOrAdd returns the value cached under key, calling factory to produce it on a miss.
//
// Concurrent callers for the same missing key share a single factory execution. Factory
// errors are returned as-is to every caller of that execution. If the entry under key
// holds a value that is not a V, an error wrapping ErrTypeMismatch is returned.
func GetOrAdd[V any](c *Cache, key any, factory func() (V, error), p PolicyProvider) (V, error) {
	raw, err := c.handler.GetOrAdd(key, func() (any, error) {
		return factory()
	}, p)
	if err != nil {
		var zero V
		return zero, err
	}
	return cast[V](key, raw)
}

// GetOrAddAsync is the non-blocking form of GetOrAdd. The returned Future resolves to
// the outcome of the single factory execution shared by all concurrent callers.
func GetOrAddAsync[V any](ctx context.Context, c *Cache, key any, factory func(context.Context) (V, error), p PolicyProvider) *Future[V] {
	f := c.handler.GetOrAddAsync(ctx, key, func(ctx context.Context) (any, error) {
		return factory(ctx)
	}, p)
	return &Future[V]{key: key, inner: f}
}

// Future is a pending result of GetOrAddAsync.
type Future[V any] struct {
	key   any
	inner *core.Future
}

// Done is closed once the result is available.
func (f *Future[V]) Done() <-chan struct{} {
	return f.inner.Done()
}

// Await waits for the result. A cancelled ctx returns ctx.Err() to this caller only;
// the factory keeps running for everyone else.
func (f *Future[V]) Await(ctx context.Context) (V, error) {
	raw, err := f.inner.Await(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	return cast[V](f.key, raw)
}

// cast performs the checked downcast at the API boundary.
func cast[V any](key any, raw any) (V, error) {
	var zero V
	want := reflect.TypeOf((*V)(nil)).Elem()
	if raw == nil && nilable(want) {
		// a factory returning a nil interface stores an untyped nil
		return zero, nil
	}
	v, ok := raw.(V)
	if !ok {
		return zero, errs.NewError(ErrTypeMismatch, map[string]any{
			"key":  fmt.Sprint(key),
			"want": want.String(),
			"got":  fmt.Sprintf("%T", raw),
		})
	}
	return v, nil
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
