package config

import (
	"fmt"
	"time"
)

// MapperConfig configures the mapper service: its HTTP API, the in-memory
// detector-mapping cache, and the client used to resolve cache misses
// against the model service.
type MapperConfig struct {
	Port              string        `envconfig:"PORT" default:"8081"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	// MaxBatchSize caps the number of metrics accepted in a single mapping
	// request. Larger batches are rejected, not truncated.
	MaxBatchSize int `envconfig:"MAX_BATCH_SIZE" default:"1000" validate:"min=1"`

	// CacheCapacity bounds the number of live entries in the mapping cache.
	CacheCapacity int `envconfig:"CACHE_CAPACITY" default:"100000" validate:"min=1"`

	// CacheTTL is the expire-after-write window for mapping cache entries.
	// An entry not re-written within this window behaves as a miss.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"120m" validate:"gt=0"`

	// ResolverURL is the base URL of the model service used for cache-miss
	// resolution and refresher polling.
	ResolverURL string `envconfig:"RESOLVER_URL" default:"http://localhost:8080"`

	// ResolverTimeout bounds a single resolution call. The mapper never
	// retries resolution; retry policy belongs to the calling pipeline.
	ResolverTimeout time.Duration `envconfig:"RESOLVER_TIMEOUT" default:"5s" validate:"gt=0"`
}

// Validate performs validation on the MapperConfig.
func (c *MapperConfig) Validate() error {
	if err := validatePort(c.Port, "mapper"); err != nil {
		return err
	}

	if err := validateHost(c.Host, "mapper"); err != nil {
		return err
	}

	if _, err := parseAndValidateURL(c.ResolverURL, []string{"http", "https"}); err != nil {
		return fmt.Errorf("invalid resolver URL: %w", err)
	}

	return nil
}
