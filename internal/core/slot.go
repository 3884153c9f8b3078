package core

import (
	"context"
	"sync/atomic"

	"github.com/osmike/lazycache/internal/lib/errs"
)

// State is the lifecycle stage of a Slot.
type State int

const (
	// Pending means the factory has not started or has not finished yet.
	Pending State = iota
	// Resolved means the factory returned a value.
	Resolved
	// Failed means the factory returned an error or panicked.
	Failed
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Slot is a deferred, memoized computation.
//
// The first caller to resolve a slot runs the factory; every other caller, sync or
// async, waits on done and observes the same value or error. A slot settles exactly
// once and never runs its factory again.
type Slot struct {
	started atomic.Bool
	done    chan struct{} // closed once val and err are final

	val any
	err error

	// onSettle runs on the resolving goroutine after the factory returned and
	// before waiters are released.
	onSettle func(s *Slot, val any, err error)
}

func newSlot(onSettle func(s *Slot, val any, err error)) *Slot {
	return &Slot{
		done:     make(chan struct{}),
		onSettle: onSettle,
	}
}

// failedSlot returns a slot that is already settled with err.
func failedSlot(err error) *Slot {
	s := newSlot(nil)
	s.started.Store(true)
	s.err = err
	close(s.done)
	return s
}

// claim reports whether the caller won the right to run the factory.
func (s *Slot) claim() bool {
	return s.started.CompareAndSwap(false, true)
}

// run executes fn, converting a panic into an ErrPanic error, and releases waiters.
func (s *Slot) run(fn func() (any, error)) {
	val, err := call(fn)
	if s.onSettle != nil {
		s.onSettle(s, val, err)
	}
	s.val, s.err = val, err
	close(s.done)
}

func call(fn func() (any, error)) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, errs.FromPanic(ErrPanic, r)
		}
	}()
	return fn()
}

// Resolve returns the slot's value, running factory on the calling goroutine if no
// other caller has started it yet, and blocking otherwise.
func (s *Slot) Resolve(factory func() (any, error)) (any, error) {
	if s.claim() {
		s.run(factory)
	} else {
		<-s.done
	}
	return s.val, s.err
}

// ResolveAsync starts factory on a new goroutine if the slot has not been started
// and returns a Future for the slot's outcome. The factory receives ctx stripped of
// cancellation: once started it runs to completion.
func (s *Slot) ResolveAsync(ctx context.Context, factory func(context.Context) (any, error)) *Future {
	if s.claim() {
		detached := context.WithoutCancel(ctx)
		go s.run(func() (any, error) { return factory(detached) })
	}
	return &Future{slot: s}
}

// Peek returns the outcome without blocking. ok is false while the slot is pending.
func (s *Slot) Peek() (val any, err error, ok bool) {
	select {
	case <-s.done:
		return s.val, s.err, true
	default:
		return nil, nil, false
	}
}

// State reports the current lifecycle stage.
func (s *Slot) State() State {
	_, err, ok := s.Peek()
	switch {
	case !ok:
		return Pending
	case err != nil:
		return Failed
	default:
		return Resolved
	}
}

// Future is the handle returned to async callers.
type Future struct {
	slot *Slot
}

// Done is closed when the outcome is available.
func (f *Future) Done() <-chan struct{} {
	return f.slot.done
}

// Await blocks until the outcome is available or ctx is done. Cancelling ctx only
// stops this waiter; the factory keeps running and other waiters are unaffected.
func (f *Future) Await(ctx context.Context) (any, error) {
	if val, err, ok := f.slot.Peek(); ok {
		return val, err
	}
	select {
	case <-f.slot.done:
		return f.slot.val, f.slot.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
