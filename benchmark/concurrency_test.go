package benchmark

import (
	"context"
	"testing"

	"github.com/osmike/lazycache"
)

func BenchmarkCachedParallel(b *testing.B) {
	const delay = 10
	c := lazycache.New()
	defer c.Close()

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			// All goroutines use the same key to exercise single-flight under high concurrency
			_, err := cachedSlow(c, delay)
			if err != nil {
				b.Fatalf("err: %v", err)
			}
		}
	})
}

func BenchmarkCachedParallelAsync(b *testing.B) {
	const delay = 10
	c := lazycache.New()
	defer c.Close()
	factory := func(context.Context) (string, error) { return slowFunc(delay) }

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_, err := lazycache.GetOrAddAsync(ctx, c, delay, factory, ttl).Await(ctx)
			if err != nil {
				b.Fatalf("err: %v", err)
			}
		}
	})
}
