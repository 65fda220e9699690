package mappingcache

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lfelipe/argus/internal/detector"
)

var (
	// ErrMalformedKey reports a cache key that does not follow the
	// "k:v,k:v" grammar. Keys are produced internally, so this always
	// means a bug or corruption, never bad user input.
	ErrMalformedKey = errors.New("malformed cache key")

	// ErrMalformedValue reports a cache value holding something other
	// than comma-joined detector UUIDs.
	ErrMalformedValue = errors.New("malformed cache value")
)

// Tag-sets and detector lists are stored as flat strings rather than
// structured values to keep the per-entry footprint small at the scale the
// mapper runs at (millions of live entries).
const (
	pairSeparator     = ","
	keyValueSeparator = ":"
	idSeparator       = ","
)

// EncodeKey renders a tag-set as its canonical cache key: "k:v" pairs
// sorted by tag key and joined with commas, so the same tag-set always
// produces the same key. The empty tag-set encodes to the empty string.
// Tag keys and values must not contain the delimiters; the encoding does
// not escape them, and upstream metric pipelines enforce the vocabulary.
func EncodeKey(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(pairSeparator)
		}
		sb.WriteString(k)
		sb.WriteString(keyValueSeparator)
		sb.WriteString(tags[k])
	}
	return sb.String()
}

// DecodeKey recovers the tag-set a cache key was encoded from. Each comma
// fragment splits on its first colon, so tag values containing colons
// survive the round-trip. A fragment with no colon fails with
// ErrMalformedKey.
func DecodeKey(key string) (map[string]string, error) {
	if key == "" {
		return map[string]string{}, nil
	}

	fragments := strings.Split(key, pairSeparator)
	tags := make(map[string]string, len(fragments))
	for _, fragment := range fragments {
		k, v, ok := strings.Cut(fragment, keyValueSeparator)
		if !ok {
			return nil, fmt.Errorf("%w: fragment %q has no %q", ErrMalformedKey, fragment, keyValueSeparator)
		}
		tags[k] = v
	}
	return tags, nil
}

// EncodeDetectorIDs renders a detector list as comma-joined UUIDs,
// de-duplicated by identifier in first-occurrence order. The enabled flag
// is deliberately not encoded. An empty list encodes to the empty string,
// which is a legitimate cached value ("maps to zero active detectors").
func EncodeDetectorIDs(detectors []detector.Detector) string {
	if len(detectors) == 0 {
		return ""
	}

	seen := make(map[uuid.UUID]struct{}, len(detectors))
	ids := make([]string, 0, len(detectors))
	for _, d := range detectors {
		if _, dup := seen[d.UUID]; dup {
			continue
		}
		seen[d.UUID] = struct{}{}
		ids = append(ids, d.UUID.String())
	}
	return strings.Join(ids, idSeparator)
}

// DecodeDetectorIDs parses an encoded detector list. The encoding does not
// carry the enabled flag, so decoded detectors report Enabled true and
// consumers must treat the flag as unknown. Any fragment that is not a
// UUID fails the whole value with ErrMalformedValue.
func DecodeDetectorIDs(value string) ([]detector.Detector, error) {
	if value == "" {
		return []detector.Detector{}, nil
	}

	fragments := strings.Split(value, idSeparator)
	detectors := make([]detector.Detector, 0, len(fragments))
	for _, fragment := range fragments {
		id, err := uuid.Parse(fragment)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a detector uuid", ErrMalformedValue, fragment)
		}
		detectors = append(detectors, detector.Detector{UUID: id, Enabled: true})
	}
	return detectors, nil
}
