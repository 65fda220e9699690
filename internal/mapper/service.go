// Package mapper implements the data plane: batch resolution of metric
// tag-sets to the detectors that should observe them, backed by the
// in-memory mapping cache and, on misses, by the model service.
package mapper

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/mappingcache"
	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/validation"
)

// Resolver answers cache misses against the model service.
// This interface allows for dependency injection and mocking in tests.
type Resolver interface {
	FindMatching(ctx context.Context, tags map[string]string) ([]detector.Mapping, error)
}

// Result pairs one submitted tag-set with the detectors that apply to it.
type Result struct {
	Tags      map[string]string
	Detectors []detector.Detector
}

// Service composes the lookup path: an encoded-key cache read, and on a
// miss a single resolution call whose answer is cached for the next reader.
type Service struct {
	cache    mappingcache.Service
	resolver Resolver
	logger   *slog.Logger
}

// NewService builds the lookup service. Panics on nil dependencies.
func NewService(cache mappingcache.Service, resolver Resolver, logger *slog.Logger) *Service {
	// Interfaces are checked explicitly; AssertNotNil only takes pointers.
	if cache == nil {
		panic("mapper: cache cannot be nil")
	}
	if resolver == nil {
		panic("mapper: resolver cannot be nil")
	}
	validation.AssertNotNil(logger, "logger")

	return &Service{
		cache:    cache,
		resolver: resolver,
		logger:   logger,
	}
}

// MapBatch resolves each tag-set in the batch independently. A resolution
// failure yields an empty detector list for that item only; the failure is
// never cached, so the next lookup for the same tag-set resolves again.
// The worst case of any internal error is a miss, not a wrong assignment.
func (s *Service) MapBatch(ctx context.Context, batch []map[string]string) []Result {
	results := make([]Result, 0, len(batch))

	for _, tags := range batch {
		results = append(results, s.lookup(ctx, tags))
	}

	return results
}

// lookup resolves a single tag-set. A cached empty list counts as a hit:
// "this tag-set maps to nothing" is an answer, not an absence.
func (s *Service) lookup(ctx context.Context, tags map[string]string) Result {
	key := mappingcache.EncodeKey(tags)

	if detectors, ok := s.cache.Get(key); ok {
		return Result{Tags: tags, Detectors: detectors}
	}

	mappings, err := s.resolver.FindMatching(ctx, tags)
	if err != nil {
		observability.MapperResolutionFailures.Inc()
		s.logger.Warn("tag-set resolution failed",
			"key", key,
			"error", err)
		return Result{Tags: tags}
	}

	detectors := detectorsOf(mappings)
	s.cache.Put(key, detectors)

	return Result{Tags: tags, Detectors: detectors}
}

// detectorsOf extracts each mapping's detector, keeping the first occurrence
// per UUID. An empty result is cached like any other.
func detectorsOf(mappings []detector.Mapping) []detector.Detector {
	detectors := make([]detector.Detector, 0, len(mappings))
	seen := make(map[uuid.UUID]struct{}, len(mappings))

	for _, m := range mappings {
		if _, dup := seen[m.Detector.UUID]; dup {
			continue
		}
		seen[m.Detector.UUID] = struct{}{}
		detectors = append(detectors, m.Detector)
	}

	return detectors
}
