package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/osmike/lazycache"
)

type reportKey struct {
	Year  int
	Month time.Month
}

func (k reportKey) GenerateKey() string {
	return lazycache.Compose("reportKey", k.Year, int(k.Month))
}

func main() {
	cfgPath := flag.String("config", "lazycache.json", "path to the cache config file")
	workers := flag.Int("workers", 20, "concurrent callers per round")
	watch := flag.Bool("watch", false, "keep running and reload the config on change")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := lazycache.LoadConfig(*cfgPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	src := lazycache.NewConfigSource(cfg)

	reg := prometheus.NewRegistry()
	col, err := lazycache.NewMetrics(reg, "example")
	if err != nil {
		logger.Error("register metrics", "err", err)
		os.Exit(1)
	}

	cache := lazycache.New(
		lazycache.WithConfig(cfg),
		lazycache.WithHooks(lazycache.SlogHooks(logger)),
		lazycache.WithHooks(col.Hooks()),
	)
	defer cache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reports := src.Policy("reports")
	key := reportKey{Year: 2024, Month: time.March}

	round := func() {
		start := time.Now()
		var wg sync.WaitGroup
		for i := 0; i < *workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := lazycache.GetOrAdd(cache, key, buildReport, reports); err != nil {
					logger.Error("get report", "err", err)
				}
			}()
		}
		wg.Wait()
		fmt.Printf("[%v] %d callers served in %s (hits=%.0f misses=%.0f bypasses=%.0f)\n",
			time.Now().Truncate(time.Second), *workers, time.Since(start).Round(time.Millisecond),
			counter(col.Hits), counter(col.Misses), counter(col.Bypasses))
	}

	round()
	round()

	f := lazycache.GetOrAddAsync(ctx, cache, "exchange-rate::EUR", fetchRate, src.Policy("rates"))
	rate, err := f.Await(ctx)
	if err != nil {
		logger.Error("fetch rate", "err", err)
	} else {
		fmt.Printf("[%v] EUR rate %.4f\n", time.Now().Truncate(time.Second), rate)
	}

	if !*watch {
		return
	}
	applied, err := lazycache.WatchConfig(ctx, *cfgPath, src, logger)
	if err != nil {
		logger.Error("watch config", "err", err)
		os.Exit(1)
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-applied:
			round()
		case <-ticker.C:
			round()
		}
	}
}

func counter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func buildReport() (string, error) {
	time.Sleep(500 * time.Millisecond)
	return "monthly report", nil
}

func fetchRate(context.Context) (float64, error) {
	time.Sleep(200 * time.Millisecond)
	return 1.0842, nil
}
