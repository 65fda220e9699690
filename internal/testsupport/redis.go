package testsupport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	redisctr "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/lfelipe/argus/internal/config"
	"github.com/lfelipe/argus/internal/events"
)

// RedisContainer holds references to the ephemeral Redis instance.
type RedisContainer struct {
	Container testcontainers.Container
	// Client is connected through the application's own factory, so tests
	// exercise the production connection path.
	Client *redis.Client
}

// Terminate cleans up the container and closes the client.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	c.Client.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer spins up a Redis 7-alpine container.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	redisContainer, err := redisctr.Run(ctx,
		"redis:7-alpine",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := redisContainer.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	// Parse host:port from endpoint (e.g., "localhost:54321")
	host, port, _ := strings.Cut(endpoint, ":")

	testCfg := &config.RedisConfig{
		Host:           host,
		Port:           port,
		Password:       "",
		DB:             0,
		PingMaxRetries: 5,
		PingBackoff:    2 * time.Second,
	}
	client, err := events.NewRedisClient(ctx, testCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{
		Container: redisContainer,
		Client:    client,
	}, nil
}
