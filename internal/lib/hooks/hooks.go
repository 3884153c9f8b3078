// Package hooks provides lifecycle callbacks for cache instrumentation.
package hooks

import (
	"errors"
	"fmt"
)

// HookFunc is called on lifecycle events with the store key of the entry.
// It may return an error to signal that something went wrong.
type HookFunc func(arg any) error

// HookFuncError is called whenever another hook errors or panics.
// It must never panic itself.
type HookFuncError func(err error)

// HookFuncFailure is called when a factory fails for key.
type HookFuncFailure func(key string, err error)

// Hooks holds the set of lifecycle hooks and an error‐logging hook.
type Hooks struct {
	OnHit     HookFunc        // called when an existing entry is reused
	OnMiss    HookFunc        // called when a new pending entry is inserted
	OnExecute HookFunc        // called before a factory runs
	OnDone    HookFunc        // called after a factory returned successfully
	OnFailure HookFuncFailure // called after a factory returned an error or panicked
	OnBypass  HookFunc        // called when a disabled policy skips the store
	OnRemove  HookFunc        // called after an entry was removed
	OnEvict   HookFunc        // called after the store evicted or expired an entry
	LogError  HookFuncError   // called on any hook error or panic
}

// Run executes the given hook fn with the provided args.
// If fn returns an error *or* panics, Run will recover and forward
// the error to Hooks.LogError (if non‐nil), and will not panic itself.
func (h *Hooks) Run(fn HookFunc, arg any) {
	if h == nil || fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.safeLogError(toError(r))
		}
	}()

	if err := fn(arg); err != nil {
		h.safeLogError(err)
	}
}

// Fail reports a factory failure through OnFailure, shielding the caller from panics.
func (h *Hooks) Fail(key string, err error) {
	if h == nil || h.OnFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.safeLogError(toError(r))
		}
	}()
	h.OnFailure(key, err)
}

// safeLogError calls the LogError hook if set, and recovers if it panics.
func (h *Hooks) safeLogError(err error) {
	if h.LogError == nil {
		return
	}
	defer func() {
		recover() // swallow any panic in LogError
	}()
	h.LogError(err)
}

// Chain merges several hook sets into one that calls each of them in order.
// Nil sets are skipped. Every chained HookFunc runs even when an earlier one errors or
// panics; their errors are returned together via errors.Join.
func Chain(sets ...*Hooks) *Hooks {
	var live []*Hooks
	for _, s := range sets {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return &Hooks{}
	case 1:
		return live[0]
	}

	pick := func(get func(*Hooks) HookFunc) HookFunc {
		var fns []HookFunc
		for _, s := range live {
			if fn := get(s); fn != nil {
				fns = append(fns, fn)
			}
		}
		if len(fns) == 0 {
			return nil
		}
		return func(arg any) error {
			var errs []error
			for _, fn := range fns {
				if err := call(fn, arg); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		}
	}

	out := &Hooks{
		OnHit:     pick(func(h *Hooks) HookFunc { return h.OnHit }),
		OnMiss:    pick(func(h *Hooks) HookFunc { return h.OnMiss }),
		OnExecute: pick(func(h *Hooks) HookFunc { return h.OnExecute }),
		OnDone:    pick(func(h *Hooks) HookFunc { return h.OnDone }),
		OnBypass:  pick(func(h *Hooks) HookFunc { return h.OnBypass }),
		OnRemove:  pick(func(h *Hooks) HookFunc { return h.OnRemove }),
		OnEvict:   pick(func(h *Hooks) HookFunc { return h.OnEvict }),
	}
	for _, s := range live {
		if s.OnFailure != nil {
			prev, next := out.OnFailure, s.OnFailure
			out.OnFailure = func(key string, err error) {
				if prev != nil {
					prev(key, err)
				}
				next(key, err)
			}
		}
		if s.LogError != nil {
			prev, next := out.LogError, s.LogError
			out.LogError = func(err error) {
				if prev != nil {
					prev(err)
				}
				next(err)
			}
		}
	}
	return out
}

// call runs fn, converting a panic into an error.
func call(fn HookFunc, arg any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = toError(r)
		}
	}()
	return fn(arg)
}

// toError converts a recovered panic value into an error.
func toError(r any) error {
	switch v := r.(type) {
	case error:
		return v
	case string:
		return fmt.Errorf("%s", v)
	default:
		return fmt.Errorf("%v", v)
	}
}
