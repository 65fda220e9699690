package mappingcache

import (
	"github.com/google/uuid"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/observability"
)

// entry is one (key, value) pair captured by a scan snapshot.
type entry struct {
	key   string
	value string
}

// snapshot captures the live entry set without blocking concurrent readers
// or writers. Invalidation scans work over this view and batch-apply their
// mutations afterwards; they never mutate the store mid-scan.
func (c *Cache) snapshot() []entry {
	entries := make([]entry, 0, c.store.Size())
	c.store.Range(func(key string, value string) bool {
		entries = append(entries, entry{key: key, value: value})
		return true
	})
	return entries
}

// RemoveDisabledDetectors prunes the batch's detector ids out of every
// cached value that references them. Entries are rewritten in place, never
// evicted: a value that loses its last detector stays present as an empty
// list, meaning "resolved, currently maps to zero active detectors", which
// spares the next lookup a round-trip to the resolution service. The scan
// is O(live entries x batch size); disablement batches are small, so a
// reverse index is not worth its bookkeeping. Re-running with the same
// batch changes nothing. Returns the number of entries rewritten.
func (c *Cache) RemoveDisabledDetectors(batch []detector.Mapping) int {
	if len(batch) == 0 {
		return 0
	}

	disabled := make(map[uuid.UUID]struct{}, len(batch))
	for _, m := range batch {
		disabled[m.Detector.UUID] = struct{}{}
	}

	var corrupt []string
	var staged []entry
	for _, e := range c.snapshot() {
		detectors, err := DecodeDetectorIDs(e.value)
		if err != nil {
			c.logger.Warn("evicting corrupt cache entry found during invalidation scan",
				"key", e.key,
				"error", err)
			corrupt = append(corrupt, e.key)
			continue
		}

		kept := make([]detector.Detector, 0, len(detectors))
		for _, d := range detectors {
			if _, hit := disabled[d.UUID]; hit {
				continue
			}
			kept = append(kept, d)
		}
		if len(kept) == len(detectors) {
			continue
		}
		staged = append(staged, entry{key: e.key, value: EncodeDetectorIDs(kept)})
	}

	for _, key := range corrupt {
		c.store.Delete(key)
		observability.MapperCacheCorrupt.Inc()
	}
	for _, e := range staged {
		c.store.Set(e.key, e.value)
		observability.MapperInvalidationPruned.Inc()
	}
	observability.MapperCacheEntries.Set(float64(c.store.Size()))

	return len(staged)
}

// InvalidateChangedMappings evicts every entry whose tag-set satisfies the
// expression of any mapping in the batch. Eviction is deliberate where the
// disablement pass merely prunes: a created or changed mapping can both add
// and remove applicability in ways the cache cannot infer locally, so the
// affected tag-sets must re-resolve from scratch. A mapping whose
// expression cannot be flattened is logged and skipped without aborting
// the rest of the batch. Idempotent; returns the number of entries evicted
// by expression match.
func (c *Cache) InvalidateChangedMappings(batch []detector.Mapping) int {
	if len(batch) == 0 {
		return 0
	}

	conditionSets := make([]map[string]string, 0, len(batch))
	for _, m := range batch {
		conditions, err := m.Expression.Flatten()
		if err != nil {
			c.logger.Warn("skipping mapping with invalid expression during invalidation",
				"detector_uuid", m.Detector.UUID,
				"error", err)
			observability.MapperInvalidationSkipped.Inc()
			continue
		}
		conditionSets = append(conditionSets, conditions)
	}
	if len(conditionSets) == 0 {
		return 0
	}

	var corrupt []string
	var matched []string
	for _, e := range c.snapshot() {
		tags, err := DecodeKey(e.key)
		if err != nil {
			c.logger.Warn("evicting unparsable cache key found during invalidation scan",
				"key", e.key,
				"error", err)
			corrupt = append(corrupt, e.key)
			continue
		}

		for _, conditions := range conditionSets {
			if detector.MatchesTags(conditions, tags) {
				matched = append(matched, e.key)
				break
			}
		}
	}

	for _, key := range corrupt {
		c.store.Delete(key)
		observability.MapperCacheCorrupt.Inc()
	}
	for _, key := range matched {
		c.store.Delete(key)
		observability.MapperInvalidationEvicted.Inc()
	}
	observability.MapperCacheEntries.Set(float64(c.store.Size()))

	return len(matched)
}
