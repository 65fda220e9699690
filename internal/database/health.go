package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthChecker reports PostgreSQL connectivity to the observability server.
type HealthChecker struct {
	pool *pgxpool.Pool
}

// NewHealthChecker wraps the given pool as a readiness check.
func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{pool: pool}
}

// Name identifies the dependency in readiness reports.
func (h *HealthChecker) Name() string {
	return "postgres"
}

// Check pings the database within the probe's deadline.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.pool == nil {
		return errors.New("database connection is nil")
	}
	return h.pool.Ping(ctx)
}
