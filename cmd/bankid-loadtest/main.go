package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goBankID "github.com/MrEthical07/goBankID"
	"github.com/MrEthical07/goBankID/bankidtest"
	"github.com/MrEthical07/goBankID/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	flag.IntVar(&cfg.Orders, "orders", cfg.Orders, "orders per phase")
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "number of concurrent workers")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address; if empty, miniredis is used")
	flag.StringVar(&cfg.Prefix, "prefix", cfg.Prefix, "QR seed key prefix")
	flag.DurationVar(&cfg.Refresh, "refresh", cfg.Refresh, "collect refresh interval")
	flag.IntVar(&cfg.Pending, "pending", cfg.Pending, "pending collect results before completion")
	flag.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "print client metrics after the run")
	flag.Parse()

	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx := context.Background()

	var (
		cleanup func()
		rdb     redis.UniversalClient
	)
	if cfg.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{mr.Addr()},
		})
		cleanup = func() {
			_ = rdb.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{cfg.RedisAddr},
		})
		cleanup = func() { _ = rdb.Close() }
		fmt.Printf("using redis at %s\n", cfg.RedisAddr)
	}
	defer cleanup()

	authority := bankidtest.NewServer()
	defer authority.Close()

	script := make([]bankidtest.Step, 0, cfg.Pending+1)
	for i := 0; i < cfg.Pending; i++ {
		script = append(script, bankidtest.Pending)
	}
	authority.SetScript(append(script, bankidtest.Complete)...)

	clientCfg := goBankID.DefaultConfig()
	clientCfg.Client.BaseURL = authority.URL()
	clientCfg.Client.RefreshInterval = cfg.Refresh
	clientCfg.QR.RedisPrefix = cfg.Prefix
	clientCfg.Metrics.Enabled = true
	clientCfg.Metrics.EnableLatencyHistograms = true

	issuer, err := goBankID.New().
		WithConfig(clientCfg).
		WithHTTPClient(authority.Client()).
		WithRedis(rdb).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build issuing client: %v\n", err)
		os.Exit(1)
	}
	defer issuer.Close()

	// The display generator shares only Redis with the issuer.
	display := goBankID.NewQRGenerator(goBankID.NewRedisQRCache(rdb, cfg.Prefix), clientCfg.QR)

	flowStats := runFlowPhase(ctx, issuer, cfg.Orders, cfg.Concurrency)
	qrStats := runQRPhase(ctx, issuer, display, cfg.Orders, cfg.Concurrency)

	fmt.Println("---- results ----")
	printStats("auth+collect", flowStats)
	printStats("qr", qrStats)

	if cfg.Metrics {
		fmt.Println("---- metrics ----")
		fmt.Print(prometheus.NewPrometheusExporter(issuer).Render())
	}
}

// runFlowPhase runs complete authenticate-and-collect flows.
func runFlowPhase(ctx context.Context, client *goBankID.Client, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, func(i int) error {
		_, err := client.AuthenticateAndCollect(ctx, goBankID.AuthRequest{
			EndUserIP: fmt.Sprintf("198.51.100.%d", i%250+1),
		})
		return err
	})
}

// runQRPhase issues orders on client and renders their first code through a
// separate generator.
func runQRPhase(ctx context.Context, client *goBankID.Client, display *goBankID.QRGenerator, ops, concurrency int) phaseStats {
	refs := make([]string, ops)
	for i := range refs {
		order, err := client.Authenticate(ctx, goBankID.AuthRequest{EndUserIP: "198.51.100.1"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "authenticate failed: %v\n", err)
			os.Exit(1)
		}
		refs[i] = order.OrderRef
	}

	stats := runPhase(ops, concurrency, func(i int) error {
		seq, err := display.NextQR(ctx, refs[i], goBankID.QROptions{MaxCycles: 1})
		if err != nil {
			return err
		}
		for range seq {
			return nil
		}
		return goBankID.ErrQRCacheMiss
	})

	for _, ref := range refs {
		_ = client.Cancel(ctx, ref)
	}
	return stats
}

func runPhase(ops, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
