package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/osmike/lazycache"
)

type pageKey struct {
	URL string
}

func (k pageKey) GenerateKey() string { return lazycache.Compose("pageKey", k.URL) }

func fetch(url string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build request for %s: %w", url, err)
		}
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to GET %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("unexpected HTTP status: %d %s", resp.StatusCode, resp.Status)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read response body: %w", err)
		}
		return string(body), nil
	}
}

func main() {
	url := flag.String("url", "https://example.com/", "page to fetch")
	ttl := flag.Duration("ttl", time.Minute, "how long a fetched page stays cached; 0 disables caching")
	callers := flag.Int("callers", 5, "concurrent callers")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cache := lazycache.New(lazycache.WithHooks(lazycache.SlogHooks(logger)))
	defer cache.Close()

	var p lazycache.PolicyProvider = lazycache.Jittered(lazycache.Absolute(*ttl), 0.1)
	if *ttl <= 0 {
		p = lazycache.Disabled()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := pageKey{URL: *url}
	for round := 1; round <= 2; round++ {
		fmt.Printf("[%v] Round %d: %d concurrent requests for %s...\n", time.Now().Truncate(time.Second), round, *callers, *url)
		futures := make([]*lazycache.Future[string], *callers)
		for i := range futures {
			futures[i] = lazycache.GetOrAddAsync(ctx, cache, key, fetch(*url), p)
		}
		for i, f := range futures {
			data, err := f.Await(ctx)
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Printf("[%v] caller %d received %d bytes\n", time.Now().Truncate(time.Second), i, len(data))
		}
	}
}
