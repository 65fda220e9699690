// Command argus-loadgen floods a mapper with synthetic white-noise metric
// batches. It is an operator tool for sizing cache capacity and for watching
// hit ratios converge under a controlled tag population.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lfelipe/argus/internal/mapper"
)

type options struct {
	target      string
	rate        int
	batchSize   int
	cardinality int
	concurrency int
	duration    time.Duration
	timeout     time.Duration
}

type counters struct {
	batches  atomic.Int64
	metrics  atomic.Int64
	mapped   atomic.Int64
	failures atomic.Int64
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "argus-loadgen",
		Short:         "Generate synthetic mapping traffic against a mapper",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.target, "target", "http://localhost:8081", "mapper base URL")
	flags.IntVar(&opts.rate, "rate", 10, "batches per second")
	flags.IntVar(&opts.batchSize, "batch-size", 100, "metrics per batch")
	flags.IntVar(&opts.cardinality, "cardinality", 100, "distinct values per generated tag key")
	flags.IntVar(&opts.concurrency, "concurrency", 4, "maximum in-flight batches")
	flags.DurationVar(&opts.duration, "duration", 0, "how long to run (0 = until interrupted)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")

	if err := root.Execute(); err != nil {
		slog.Error("loadgen failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	if opts.rate < 1 || opts.batchSize < 1 || opts.cardinality < 1 || opts.concurrency < 1 {
		return fmt.Errorf("rate, batch-size, cardinality and concurrency must be positive")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	client := &http.Client{Timeout: opts.timeout}
	stats := &counters{}
	start := time.Now()

	fmt.Printf("sending %d batches/s of %d metrics to %s (ctrl-c to stop)\n",
		opts.rate, opts.batchSize, opts.target)

	ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
	defer ticker.Stop()

	// The semaphore bounds in-flight requests; when the mapper falls behind,
	// ticks are dropped rather than queued so the offered rate stays honest.
	sem := make(chan struct{}, opts.concurrency)
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			select {
			case sem <- struct{}{}:
			default:
				stats.failures.Add(1)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				sendBatch(ctx, client, opts, stats)
			}()
		}
	}
	wg.Wait()

	elapsed := time.Since(start)
	batches := stats.batches.Load()
	fmt.Printf("sent %d batches (%d metrics, %d mapped, %d failures) in %s — %.1f batches/s\n",
		batches, stats.metrics.Load(), stats.mapped.Load(), stats.failures.Load(),
		elapsed.Round(time.Millisecond), float64(batches)/elapsed.Seconds())
	return nil
}

func sendBatch(ctx context.Context, client *http.Client, opts *options, stats *counters) {
	batch := randomBatch(opts.batchSize, opts.cardinality)

	payload, err := json.Marshal(batch)
	if err != nil {
		stats.failures.Add(1)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.target+"/map", bytes.NewReader(payload))
	if err != nil {
		stats.failures.Add(1)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		stats.failures.Add(1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("mapper rejected batch", slog.Int("status", resp.StatusCode))
		stats.failures.Add(1)
		return
	}

	var assignments []mapper.Assignment
	if err := json.NewDecoder(resp.Body).Decode(&assignments); err != nil {
		stats.failures.Add(1)
		return
	}

	stats.batches.Add(1)
	stats.metrics.Add(int64(len(batch.Metrics)))
	for _, a := range assignments {
		if len(a.DetectorUUIDs) > 0 {
			stats.mapped.Add(1)
		}
	}
}

// randomBatch fabricates white-noise metric tag-sets. Values are drawn from
// a population of the given cardinality per key, so cache hit ratios are
// steerable: cardinality far above the cache capacity forces misses.
func randomBatch(batchSize, cardinality int) mapper.MapRequest {
	metrics := make([]mapper.MetricTags, batchSize)
	for i := range metrics {
		metrics[i] = mapper.MetricTags{Tags: map[string]string{
			"app":    fmt.Sprintf("app-%d", rand.IntN(cardinality)),
			"env":    []string{"prod", "staging", "dev"}[rand.IntN(3)],
			"region": fmt.Sprintf("region-%d", rand.IntN(min(cardinality, 8))),
			"host":   fmt.Sprintf("host-%d", rand.IntN(cardinality*4)),
		}}
	}
	return mapper.MapRequest{Metrics: metrics}
}
