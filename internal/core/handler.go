// Package core implements the single-flight lazy cache behind the lazycache package.
//
// # Features
//
//   - Single-flight: concurrent callers for one missing key share one factory execution.
//   - Expiration: every entry carries the policy it was inserted with; the store enforces it.
//   - Sync and async: GetOrAdd blocks the caller, GetOrAddAsync hands back a Future.
//   - Bypass: a disabled (or nil) policy calls the factory directly and leaves the store untouched.
//   - Retry on failure: a failed entry is purged so the next caller runs the factory again,
//     unless failure caching is enabled.
//   - Extensibility: optional hooks for logging and metrics.
//
// # Usage
//
// This package is not intended for direct use. Use the lazycache package for a public,
// typed API.
//
// # Example
//
//	h := core.NewHandler(store.NewMemory())
//	v, err := h.GetOrAdd("user::42", loadUser, policy.NewAbsolute(time.Minute))
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/osmike/lazycache/internal/lib/errs"
	"github.com/osmike/lazycache/internal/lib/hooks"
	"github.com/osmike/lazycache/internal/lib/keygen"
	"github.com/osmike/lazycache/internal/policy"
)

var (
	// ErrPanic is returned if a panic occurs in a factory.
	ErrPanic = errors.New("panic occurred in cache factory")

	// ErrCorruptEntry is returned when the store holds something the handler did not put there.
	ErrCorruptEntry = errors.New("store entry is not a lazy slot")
)

// Store is the backing key-value container the handler depends on.
//
// InsertIfAbsent must be atomic: for a given live key, exactly one caller observes
// inserted == true. Entries expire on their own according to the policy they were
// inserted with.
type Store interface {
	TryGet(key string) (any, bool)
	InsertIfAbsent(key string, value any, p policy.Policy) (actual any, inserted bool, err error)
	Remove(key string)
}

// conditionalRemover is implemented by stores that can remove an entry only if it
// still holds a given value. The handler uses it to purge failed slots without
// racing a fresh entry inserted after a Remove.
type conditionalRemover interface {
	CompareAndRemove(key string, value any) bool
}

// peeker is implemented by stores that can read an entry without recording an access.
type peeker interface {
	Peek(key string) (any, bool)
}

// Handler orchestrates lazy slots over a Store.
type Handler struct {
	store         Store
	hooks         *hooks.Hooks
	cacheFailures bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithHooks installs lifecycle hooks. Nil keeps the empty hook set.
func WithHooks(h *hooks.Hooks) Option {
	return func(hd *Handler) {
		if h != nil {
			hd.hooks = h
		}
	}
}

// WithFailureCaching keeps failed slots in the store until their policy expires them.
// Every caller in that window gets the cached error. The default purges failed slots.
func WithFailureCaching(enabled bool) Option {
	return func(hd *Handler) {
		hd.cacheFailures = enabled
	}
}

// NewHandler returns a Handler backed by store.
func NewHandler(store Store, opts ...Option) *Handler {
	h := &Handler{
		store: store,
		hooks: &hooks.Hooks{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetOrAdd returns the value cached under key, running factory to produce it if the
// key is absent. Concurrent callers for the same missing key block until the single
// factory execution finishes and receive its outcome. Factory errors are returned
// unwrapped.
func (h *Handler) GetOrAdd(key any, factory func() (any, error), p policy.Provider) (any, error) {
	sk, err := keygen.BuildKey(key)
	if err != nil {
		return nil, err
	}
	pol := policy.Resolve(p)
	if !pol.Enabled() {
		h.hooks.Run(h.hooks.OnBypass, sk)
		return newSlot(h.observe(sk, false)).Resolve(h.traced(sk, factory))
	}

	s, err := h.slotFor(sk, pol)
	if err != nil {
		return nil, err
	}
	return s.Resolve(h.traced(sk, factory))
}

// GetOrAddAsync is the asynchronous form of GetOrAdd. It never blocks on the factory:
// the first caller for a missing key starts it on a new goroutine and every caller
// gets a Future for the same outcome.
func (h *Handler) GetOrAddAsync(ctx context.Context, key any, factory func(context.Context) (any, error), p policy.Provider) *Future {
	sk, err := keygen.BuildKey(key)
	if err != nil {
		return &Future{slot: failedSlot(err)}
	}
	pol := policy.Resolve(p)
	if !pol.Enabled() {
		h.hooks.Run(h.hooks.OnBypass, sk)
		return newSlot(h.observe(sk, false)).ResolveAsync(ctx, h.tracedAsync(sk, factory))
	}

	s, err := h.slotFor(sk, pol)
	if err != nil {
		return &Future{slot: failedSlot(err)}
	}
	return s.ResolveAsync(ctx, h.tracedAsync(sk, factory))
}

// Remove deletes the entry for key. Removing an absent key is not an error.
// Callers already waiting on the removed slot still receive its outcome; the next
// lookup starts a new generation.
func (h *Handler) Remove(key any) error {
	sk, err := keygen.BuildKey(key)
	if err != nil {
		return err
	}
	h.store.Remove(sk)
	h.hooks.Run(h.hooks.OnRemove, sk)
	return nil
}

// Lookup returns the slot stored under key without creating one.
//
// When the store implements Peek(key) (any, bool), the read leaves LRU order and sliding
// deadlines untouched. Other stores are read with TryGet, which counts as an access.
func (h *Handler) Lookup(key any) (*Slot, bool, error) {
	sk, err := keygen.BuildKey(key)
	if err != nil {
		return nil, false, err
	}
	var (
		v  any
		ok bool
	)
	if pk, isPeeker := h.store.(peeker); isPeeker {
		v, ok = pk.Peek(sk)
	} else {
		v, ok = h.store.TryGet(sk)
	}
	if !ok {
		return nil, false, nil
	}
	s, err := asSlot(sk, v)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// slotFor returns the live slot for sk, inserting a pending one if there is none.
func (h *Handler) slotFor(sk string, p policy.Policy) (*Slot, error) {
	if v, ok := h.store.TryGet(sk); ok {
		h.hooks.Run(h.hooks.OnHit, sk)
		return asSlot(sk, v)
	}

	fresh := newSlot(h.observe(sk, true))
	actual, inserted, err := h.store.InsertIfAbsent(sk, fresh, p)
	if err != nil {
		return nil, err
	}
	if inserted {
		h.hooks.Run(h.hooks.OnMiss, sk)
	} else {
		h.hooks.Run(h.hooks.OnHit, sk)
	}
	return asSlot(sk, actual)
}

// observe builds the settle callback for a slot stored under sk. Failed slots that
// live in the store are purged unless failure caching is on.
func (h *Handler) observe(sk string, stored bool) func(*Slot, any, error) {
	return func(s *Slot, _ any, err error) {
		if err == nil {
			h.hooks.Run(h.hooks.OnDone, sk)
			return
		}
		h.hooks.Fail(sk, err)
		if stored && !h.cacheFailures {
			h.purge(sk, s)
		}
	}
}

// purge removes s from the store if it is still the entry for sk.
func (h *Handler) purge(sk string, s *Slot) {
	if cr, ok := h.store.(conditionalRemover); ok {
		cr.CompareAndRemove(sk, s)
		return
	}
	// best effort for stores without a conditional remove
	if v, ok := h.store.TryGet(sk); ok && v == any(s) {
		h.store.Remove(sk)
	}
}

func (h *Handler) traced(sk string, factory func() (any, error)) func() (any, error) {
	return func() (any, error) {
		h.hooks.Run(h.hooks.OnExecute, sk)
		return factory()
	}
}

func (h *Handler) tracedAsync(sk string, factory func(context.Context) (any, error)) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		h.hooks.Run(h.hooks.OnExecute, sk)
		return factory(ctx)
	}
}

func asSlot(sk string, v any) (*Slot, error) {
	s, ok := v.(*Slot)
	if !ok || s == nil {
		return nil, errs.NewError(ErrCorruptEntry, map[string]any{
			"key":  sk,
			"type": fmt.Sprintf("%T", v),
		})
	}
	return s, nil
}
