package events

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// HealthChecker reports Redis connectivity to the observability server.
type HealthChecker struct {
	client *redis.Client
}

// NewHealthChecker wraps the given client as a readiness check.
func NewHealthChecker(client *redis.Client) *HealthChecker {
	return &HealthChecker{client: client}
}

// Name identifies the dependency in readiness reports.
func (h *HealthChecker) Name() string {
	return "redis"
}

// Check pings Redis within the probe's deadline.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return errors.New("redis client is nil")
	}
	return h.client.Ping(ctx).Err()
}
