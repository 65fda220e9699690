package detector

import (
	"log/slog"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lfelipe/argus/internal/validation"
)

// matcherKey identifies one compiled expression. The update timestamp is
// part of the key so that edited mappings recompile instead of serving the
// stale flattening until eviction.
type matcherKey struct {
	detector  uuid.UUID
	updatedAt int64
}

// Matcher evaluates metric tag-sets against mapping expressions. Flattened
// expressions are memoized in a 2Q LRU because the search path re-evaluates
// the same mappings on every request; cached condition maps are never
// mutated after insertion.
type Matcher struct {
	logger *slog.Logger
	flat   *lru.TwoQueueCache[matcherKey, map[string]string]
}

// NewMatcher builds a matcher whose compiled-expression cache holds up to
// size entries.
func NewMatcher(size int, logger *slog.Logger) (*Matcher, error) {
	validation.AssertNotNil(logger, "logger")

	cache, err := lru.New2Q[matcherKey, map[string]string](size)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		logger: logger,
		flat:   cache,
	}, nil
}

// Match scans the mappings and returns those the tag-set satisfies, in scan
// order. Mappings that are not effective (their own flag or their detector's
// flag cleared) are skipped; invalid expressions are logged and skipped
// without failing the scan.
func (m *Matcher) Match(mappings []Mapping, tags map[string]string) []Mapping {
	matched := make([]Mapping, 0)

	for _, mapping := range mappings {
		if !mapping.Enabled || !mapping.Detector.Enabled {
			continue
		}

		conditions, err := m.conditions(mapping)
		if err != nil {
			m.logger.Warn("skipping mapping with invalid expression",
				"detector_uuid", mapping.Detector.UUID,
				"error", err)
			continue
		}

		if MatchesTags(conditions, tags) {
			matched = append(matched, mapping)
		}
	}
	return matched
}

// conditions returns the memoized flattening of the mapping's expression,
// compiling it on first sight.
func (m *Matcher) conditions(mapping Mapping) (map[string]string, error) {
	key := matcherKey{
		detector:  mapping.Detector.UUID,
		updatedAt: mapping.UpdatedAt.UnixNano(),
	}
	if cached, ok := m.flat.Get(key); ok {
		return cached, nil
	}

	conditions, err := mapping.Expression.Flatten()
	if err != nil {
		return nil, err
	}
	m.flat.Add(key, conditions)
	return conditions, nil
}

// CompiledExpressions reports how many flattened expressions are currently
// memoized. Exposed for the metrics collector.
func (m *Matcher) CompiledExpressions() int {
	return m.flat.Len()
}
