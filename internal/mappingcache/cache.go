// Package mappingcache implements the mapper's hot-path store: a bounded,
// TTL-bounded, concurrently-accessed cache from encoded metric tag-sets to
// encoded detector-id lists, together with the invalidation passes that
// keep it consistent as mappings are disabled or changed upstream.
package mappingcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maypok86/otter"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/validation"
)

// Config bounds the cache. Capacity is a hard cap on live entries (S3-FIFO
// eviction beyond it) and TTL is the expire-after-write window that bounds
// staleness even when no invalidation event ever mentions an entry.
type Config struct {
	Capacity int
	TTL      time.Duration
}

// Service is the cache surface the rest of the mapper composes against:
// lookup support, the two invalidation passes, and the live entry count.
// This interface allows for dependency injection and mocking in tests.
type Service interface {
	// Get returns the decoded detector list cached under key. The boolean
	// reports presence; a cached empty list is a hit, distinct from a miss.
	Get(key string) ([]detector.Detector, bool)

	// Put stores the detector list under key, replacing any previous value.
	Put(key string, detectors []detector.Detector)

	// RemoveDisabledDetectors narrows cached lists, dropping every detector
	// the batch disables. Returns the number of entries rewritten.
	RemoveDisabledDetectors(batch []detector.Mapping) int

	// InvalidateChangedMappings evicts every entry whose tags match any
	// mapping in the batch. Returns the number of entries evicted.
	InvalidateChangedMappings(batch []detector.Mapping) int

	// Size reports the current live entry count.
	Size() int
}

// Compile-time check that *Cache satisfies Service.
var _ Service = (*Cache)(nil)

// Cache stores encoded tag-set keys against encoded detector-id values.
// Reads and writes are safe under unbounded concurrent callers with no
// global lock serializing the hot path. The cache holds no persisted state;
// after a restart it repopulates from the resolution service on demand.
type Cache struct {
	logger *slog.Logger
	store  otter.Cache[string, string]
}

// New builds a Cache owned by the caller. The zero-value Config is not
// usable; capacity and TTL come validated from the mapper configuration.
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	validation.AssertNotNil(logger, "logger")

	store, err := otter.MustBuilder[string, string](cfg.Capacity).
		WithTTL(cfg.TTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build cache store: %w", err)
	}

	return &Cache{
		logger: logger,
		store:  store,
	}, nil
}

// Get returns the decoded detector list cached under key. The boolean
// reports presence: a cached empty list is a hit, distinct from a miss.
// A stored value that fails to decode is evicted so the next lookup
// re-resolves, and this call reports a miss. Get never fails; decode
// problems surface only as a warning log and counters.
func (c *Cache) Get(key string) ([]detector.Detector, bool) {
	value, found := c.store.Get(key)
	if !found {
		observability.MapperCacheMisses.Inc()
		return nil, false
	}

	detectors, err := DecodeDetectorIDs(value)
	if err != nil {
		c.logger.Warn("evicting corrupt cache entry",
			"key", key,
			"error", err)
		c.store.Delete(key)
		observability.MapperCacheCorrupt.Inc()
		observability.MapperCacheMisses.Inc()
		return nil, false
	}

	observability.MapperCacheHits.Inc()
	return detectors, true
}

// Put encodes and stores the detector list under key, unconditionally
// replacing any previous value and restarting the entry's TTL window.
// Concurrent writers for the same key race last-writer-wins; the pipeline
// resolves a given tag-set through a single logical resolution at a time,
// so the race is accepted.
func (c *Cache) Put(key string, detectors []detector.Detector) {
	c.store.Set(key, EncodeDetectorIDs(detectors))
	observability.MapperCacheEntries.Set(float64(c.store.Size()))
}

// Size reports the current live entry count.
func (c *Cache) Size() int {
	return c.store.Size()
}

// Close stops the store's background eviction goroutines.
func (c *Cache) Close() {
	c.store.Close()
}

// RunMetricsCollector keeps the live-entry gauge aligned with the store
// until ctx is cancelled. Put updates the gauge on the spot, but TTL expiry
// and capacity eviction happen off the write path, so the gauge drifts
// without this loop.
func (c *Cache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.MapperCacheEntries.Set(float64(c.store.Size()))
		}
	}
}
