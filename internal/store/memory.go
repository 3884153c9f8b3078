// Package store provides the default in-process backing store for lazycache.
//
// Memory keeps loosely-typed values under string keys. Every entry carries its own
// expiration policy; expired entries are invisible to readers and are purged by a
// background cleanup goroutine. When capacity is exceeded the least recently used
// entry is evicted.
package store

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/osmike/lazycache/internal/lib/errs"
	"github.com/osmike/lazycache/internal/policy"
)

// Default settings for capacity and cleanup.
const (
	DefaultCapacity        = 1000
	DefaultCleanupInterval = time.Minute
)

var (
	// ErrInvalidPolicy is returned when an entry is inserted with a policy the store cannot honor.
	ErrInvalidPolicy = errors.New("store: invalid expiration policy")

	// ErrClosed is returned by inserts after Close.
	ErrClosed = errors.New("store: closed")
)

// Clock provides time operations for the store.
// The default implementation uses time.Now().
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// Memory is a thread-safe LRU store with per-entry expiration.
type Memory struct {
	mu    sync.Mutex
	items map[string]*list.Element // key to list element holding *item
	ll    *list.List               // front is most recently used

	capacity      int
	clock         Clock
	cleanInterval time.Duration
	onEvict       func(key string, value any)

	stopCleanup chan struct{}
	closeOnce   sync.Once
	closed      bool
}

// item is a single store entry.
type item struct {
	key       string
	value     any
	policy    policy.Policy
	expiresAt time.Time // zero means no expiry
}

func (it *item) isExpired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// touch records a read: sliding entries get a fresh deadline.
func (it *item) touch(now time.Time) {
	if it.policy.Kind == policy.Sliding {
		it.expiresAt = now.Add(it.policy.TTL)
	}
}

// Option configures a Memory store.
type Option func(*Memory)

// WithCapacity sets the maximum number of entries. Values <= 0 keep the default.
func WithCapacity(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(m *Memory) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithCleanupInterval sets how often expired entries are purged.
// A negative interval disables the cleanup goroutine; expired entries are then
// only dropped when they are looked up or pushed out by capacity.
func WithCleanupInterval(d time.Duration) Option {
	return func(m *Memory) {
		if d != 0 {
			m.cleanInterval = d
		}
	}
}

// WithEvictCallback registers fn to be called, outside the store lock, for every
// entry dropped because it expired or because capacity was exceeded.
func WithEvictCallback(fn func(key string, value any)) Option {
	return func(m *Memory) {
		m.onEvict = fn
	}
}

// NewMemory creates a Memory store and starts its cleanup goroutine.
// Call Close to stop it.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		items:         make(map[string]*list.Element),
		ll:            list.New(),
		capacity:      DefaultCapacity,
		clock:         realClock{},
		cleanInterval: DefaultCleanupInterval,
		stopCleanup:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cleanInterval > 0 {
		go m.startCleanup(m.cleanInterval)
	}
	return m
}

// TryGet returns the live value stored under key.
//
// A hit moves the entry to the front of the LRU list and renews sliding expiration.
func (m *Memory) TryGet(key string) (any, bool) {
	m.mu.Lock()
	elem, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	it := elem.Value.(*item)
	now := m.clock.Now()
	if it.isExpired(now) {
		m.removeElement(elem)
		m.mu.Unlock()
		m.evicted(it)
		return nil, false
	}
	it.touch(now)
	m.ll.MoveToFront(elem)
	m.mu.Unlock()
	return it.value, true
}

// Peek returns the live value stored under key without touching it: the LRU order,
// sliding deadlines and expired entries are left as they are.
func (m *Memory) Peek(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	it := elem.Value.(*item)
	if it.isExpired(m.clock.Now()) {
		return nil, false
	}
	return it.value, true
}

// InsertIfAbsent stores value under key unless a live entry already exists.
//
// It returns the entry that is in the store after the call and whether it is the one
// just inserted. The check and the insertion happen under one lock, so two callers can
// never both observe inserted == true for the same live key.
func (m *Memory) InsertIfAbsent(key string, value any, p policy.Policy) (any, bool, error) {
	if err := p.Validate(); err != nil || !p.Enabled() {
		return nil, false, errs.NewError(ErrInvalidPolicy, map[string]any{
			"key":    key,
			"policy": p,
		})
	}

	var dropped []*item
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false, errs.NewError(ErrClosed, map[string]any{"key": key})
	}
	now := m.clock.Now()
	if elem, ok := m.items[key]; ok {
		it := elem.Value.(*item)
		if !it.isExpired(now) {
			it.touch(now)
			m.ll.MoveToFront(elem)
			m.mu.Unlock()
			return it.value, false, nil
		}
		m.removeElement(elem)
		dropped = append(dropped, it)
	}

	it := &item{key: key, value: value, policy: p}
	if p.Kind != policy.Never {
		it.expiresAt = now.Add(p.TTL)
	}
	m.items[key] = m.ll.PushFront(it)

	// evict least recently used if over capacity
	for m.ll.Len() > m.capacity {
		tail := m.ll.Back()
		dropped = append(dropped, tail.Value.(*item))
		m.removeElement(tail)
	}
	m.mu.Unlock()

	for _, d := range dropped {
		m.evicted(d)
	}
	return value, true, nil
}

// Remove deletes the entry for key, if present.
func (m *Memory) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

// CompareAndRemove deletes the entry for key only if it still holds value.
// value must be comparable; the handler stores pointers.
func (m *Memory) CompareAndRemove(key string, value any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.items[key]
	if !ok || elem.Value.(*item).value != value {
		return false
	}
	m.removeElement(elem)
	return true
}

// Len returns the number of entries, including expired ones not yet purged.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

// Close stops the cleanup goroutine and rejects further inserts. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stopCleanup)
	})
	return nil
}

// removeElement unlinks elem. Callers hold m.mu.
func (m *Memory) removeElement(elem *list.Element) {
	m.ll.Remove(elem)
	delete(m.items, elem.Value.(*item).key)
}

func (m *Memory) evicted(it *item) {
	if m.onEvict != nil {
		m.onEvict(it.key, it.value)
	}
}

// startCleanup launches a ticker that triggers cleanupExpired at the given interval.
func (m *Memory) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanupExpired()
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes all entries whose deadline has passed.
func (m *Memory) cleanupExpired() {
	now := m.clock.Now()
	var expired []*item
	m.mu.Lock()
	for elem := m.ll.Front(); elem != nil; {
		next := elem.Next()
		if it := elem.Value.(*item); it.isExpired(now) {
			m.removeElement(elem)
			expired = append(expired, it)
		}
		elem = next
	}
	m.mu.Unlock()

	for _, it := range expired {
		m.evicted(it)
	}
}
