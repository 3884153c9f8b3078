package lazycache_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmike/lazycache"
)

type user struct {
	ID   int
	Name string
}

type userKey struct {
	Tenant string
	ID     int
}

func (k userKey) GenerateKey() string { return lazycache.Compose("userKey", k.Tenant, k.ID) }

func newCache(t *testing.T, opts ...lazycache.Option) *lazycache.Cache {
	t.Helper()
	c := lazycache.New(opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSingleFlightTyped(t *testing.T) {
	c := newCache(t)
	var mu sync.Mutex
	calls := 0

	load := func() (*user, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(100 * time.Millisecond)
		return &user{ID: 4, Name: "ada"}, nil
	}

	const n = 64
	var wg sync.WaitGroup
	results := make([]*user, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = lazycache.GetOrAdd(c, userKey{"acme", 4}, load, lazycache.Absolute(time.Second))
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i], "goroutine %d", i)
		assert.Same(t, results[0], results[i], "goroutine %d", i)
	}
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestAsyncParityTyped(t *testing.T) {
	c := newCache(t)
	var calls atomic.Int32
	load := func(ctx context.Context) (*user, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &user{ID: 7}, nil
	}

	const n = 64
	futures := make([]*lazycache.Future[*user], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i] = lazycache.GetOrAddAsync(context.Background(), c, "user::7", load, lazycache.Sliding(time.Second))
		}(i)
	}
	wg.Wait()

	first, err := futures[0].Await(context.Background())
	require.NoError(t, err)
	for _, f := range futures[1:] {
		u, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.Same(t, first, u)
	}
	assert.Equal(t, int32(1), calls.Load())

	// a sync caller sees the value the async factory produced
	u, err := lazycache.GetOrAdd(c, "user::7", func() (*user, error) { return nil, errors.New("unused") }, lazycache.Sliding(time.Second))
	require.NoError(t, err)
	assert.Same(t, first, u)
}

func TestResultsExpireAfterTTL(t *testing.T) {
	c := newCache(t)
	calls := 0
	fn := func() (int, error) {
		calls++
		return 8, nil
	}

	for i := 0; i < 2; i++ {
		v, err := lazycache.GetOrAdd(c, 7, fn, lazycache.Absolute(50*time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, 8, v)
	}
	assert.Equal(t, 1, calls, "calls before expiry")

	time.Sleep(60 * time.Millisecond)

	_, err := lazycache.GetOrAdd(c, 7, fn, lazycache.Absolute(50*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "calls after expiry")
}

func TestCacheCapacityLimitAndEviction(t *testing.T) {
	var evicted atomic.Int32
	c := newCache(t, lazycache.WithCapacity(2), lazycache.WithHooks(&lazycache.Hooks{
		OnEvict: func(any) error { evicted.Add(1); return nil },
	}))
	calls := 0
	get := func(k int) {
		_, err := lazycache.GetOrAdd(c, k, func() (int, error) {
			calls++
			return k, nil
		}, lazycache.NoExpiry())
		require.NoError(t, err)
	}

	get(1) // call #1
	get(2) // call #2
	get(1) // hit, 2 is now least recently used
	get(3) // call #3, evicts 2
	get(2) // call #4

	assert.Equal(t, 4, calls)
	assert.Equal(t, int32(2), evicted.Load())
	assert.Equal(t, 2, c.Len())
}

func TestTypeMismatchFailsLoudly(t *testing.T) {
	c := newCache(t)
	_, err := lazycache.GetOrAdd(c, "k", func() (string, error) { return "text", nil }, lazycache.NoExpiry())
	require.NoError(t, err)

	n, err := lazycache.GetOrAdd(c, "k", func() (int, error) { return 1, nil }, lazycache.NoExpiry())
	require.ErrorIs(t, err, lazycache.ErrTypeMismatch)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "want: int")
	assert.Contains(t, err.Error(), "got: string")

	_, err = lazycache.GetOrAddAsync(context.Background(), c, "k", func(context.Context) (int, error) { return 1, nil }, lazycache.NoExpiry()).
		Await(context.Background())
	require.ErrorIs(t, err, lazycache.ErrTypeMismatch)
}

func TestKeysOfDifferentTypesDoNotShareEntries(t *testing.T) {
	c := newCache(t)
	p := lazycache.NoExpiry()

	n, err := lazycache.GetOrAdd(c, 42, func() (int, error) { return 42, nil }, p)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	s, err := lazycache.GetOrAdd(c, "42", func() (string, error) { return "forty-two", nil }, p)
	require.NoError(t, err)
	assert.Equal(t, "forty-two", s)

	b, err := lazycache.GetOrAdd(c, true, func() (bool, error) { return true, nil }, p)
	require.NoError(t, err)
	assert.True(t, b)

	s, err = lazycache.GetOrAdd(c, "b:true", func() (string, error) { return "text", nil }, p)
	require.NoError(t, err)
	assert.Equal(t, "text", s)

	assert.Equal(t, 4, c.Len())
}

func TestNilValues(t *testing.T) {
	c := newCache(t)

	r, err := lazycache.GetOrAdd(c, "reader", func() (io.Reader, error) { return nil, nil }, lazycache.NoExpiry())
	require.NoError(t, err)
	assert.Nil(t, r)

	// a nil stored under an interface type is not an int
	_, err = lazycache.GetOrAdd(c, "reader", func() (int, error) { return 1, nil }, lazycache.NoExpiry())
	require.ErrorIs(t, err, lazycache.ErrTypeMismatch)

	u, err := lazycache.GetOrAdd(c, "user", func() (*user, error) { return nil, nil }, lazycache.NoExpiry())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestFactoryErrorIsNotWrapped(t *testing.T) {
	c := newCache(t)
	boom := errors.New("boom")
	calls := 0
	fn := func() (int, error) {
		calls++
		if calls == 1 {
			return 0, boom
		}
		return 2, nil
	}

	_, err := lazycache.GetOrAdd(c, "k", fn, lazycache.NoExpiry())
	require.Same(t, boom, err)
	v, err := lazycache.GetOrAdd(c, "k", fn, lazycache.NoExpiry())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestFailureCachingOption(t *testing.T) {
	c := newCache(t, lazycache.WithFailureCaching(true))
	boom := errors.New("boom")
	_, err := lazycache.GetOrAdd(c, "k", func() (int, error) { return 0, boom }, lazycache.Absolute(time.Minute))
	require.Same(t, boom, err)
	_, err = lazycache.GetOrAdd(c, "k", func() (int, error) { return 1, nil }, lazycache.Absolute(time.Minute))
	require.Same(t, boom, err)
}

func TestDisabledAndRemove(t *testing.T) {
	c := newCache(t)
	calls := 0
	fn := func() (int, error) { calls++; return calls, nil }

	_, _ = lazycache.GetOrAdd(c, "k", fn, lazycache.Disabled())
	_, _ = lazycache.GetOrAdd(c, "k", fn, lazycache.Disabled())
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, c.Len())

	_, _ = lazycache.GetOrAdd(c, "k", fn, lazycache.Jittered(lazycache.Absolute(time.Minute), 0.2))
	require.NoError(t, c.Remove("k"))
	v, err := lazycache.GetOrAdd(c, "k", fn, lazycache.Absolute(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestAwaitHonorsCallerContext(t *testing.T) {
	c := newCache(t)
	release := make(chan struct{})
	f := lazycache.GetOrAddAsync(context.Background(), c, "slow", func(context.Context) (string, error) {
		<-release
		return "done", nil
	}, lazycache.NoExpiry())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-f.Done()
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

// mapStore is a minimal external store.
type mapStore struct {
	mu sync.Mutex
	m  map[string]any
}

func (s *mapStore) TryGet(k string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	return v, ok
}

func (s *mapStore) InsertIfAbsent(k string, v any, _ lazycache.Policy) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[k]; ok {
		return cur, false, nil
	}
	s.m[k] = v
	return v, true, nil
}

func (s *mapStore) Remove(k string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, k)
}

func TestNewWithStore(t *testing.T) {
	ms := &mapStore{m: map[string]any{}}
	c := lazycache.NewWithStore(ms)
	defer c.Close()

	v, err := lazycache.GetOrAdd(c, userKey{"acme", 1}, func() (string, error) { return "one", nil }, lazycache.NoExpiry())
	require.NoError(t, err)
	assert.Equal(t, "one", v)
	_, ok := ms.TryGet("k:userKey::acme:1")
	assert.True(t, ok)
	assert.Equal(t, -1, c.Len())
}
