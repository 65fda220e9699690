// Package database provides the PostgreSQL connection pool factory and the
// sidecar monitor that exports pool statistics.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lfelipe/argus/internal/config"
	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/validation"
)

// NewPostgresPool builds and verifies a connection pool. The caller owns
// the lifecycle and must Close it on shutdown.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	validation.AssertNotNil(cfg, "cfg")

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// MaxConns keeps the service from starving the database; MinConns keeps
	// a few connections warm for request latency.
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	initCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(initCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pingWithRetry(ctx, pool, cfg); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// pingWithRetry verifies connectivity, retrying with a fixed backoff while
// the database finishes coming up alongside the service.
func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, cfg *config.DatabaseConfig) error {
	attempts := cfg.PingMaxRetries
	if attempts < 1 {
		// Hand-built configs (tests) may leave the retry knobs zeroed.
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		lastErr = pool.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(cfg.PingBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("failed to ping database: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("failed to ping database after %d attempts: %w", attempts, lastErr)
}

// RunPoolMonitor exports the pool's statistics until ctx is cancelled.
// pgx reports cumulative totals, so the monitor tracks its last sample and
// feeds the Prometheus counters by delta.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		lastAcquireCount    int64
		lastAcquireDuration time.Duration
		lastEmptyAcquire    int64
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()

			observability.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
			observability.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
			observability.DBPoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
			observability.DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))

			observability.DBPoolAcquireCount.Add(float64(stat.AcquireCount() - lastAcquireCount))
			lastAcquireCount = stat.AcquireCount()

			observability.DBPoolAcquireDuration.Add((stat.AcquireDuration() - lastAcquireDuration).Seconds())
			lastAcquireDuration = stat.AcquireDuration()

			observability.DBPoolWaitCount.Add(float64(stat.EmptyAcquireCount() - lastEmptyAcquire))
			lastEmptyAcquire = stat.EmptyAcquireCount()
		}
	}
}
