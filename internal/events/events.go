// Package events carries mapping-invalidation notifications from the model
// service to running mappers over Redis Pub/Sub. Delivery is best-effort:
// mappers also poll the model service on a schedule, so a missed event only
// delays convergence until the next poll.
package events

import (
	"github.com/lfelipe/argus/internal/detector"
)

// Channel is the Pub/Sub channel invalidation events are broadcast on.
const Channel = "argus:mappings:events"

// Type tells the mapper which invalidation pass a batch belongs to.
type Type string

const (
	// TypeDetectorsDisabled batches mappings whose detector or mapping
	// was switched off; the mapper prunes those detector ids in place.
	TypeDetectorsDisabled Type = "detectors_disabled"

	// TypeMappingsChanged batches created or updated mappings; the mapper
	// evicts every cached tag-set their expressions match.
	TypeMappingsChanged Type = "mappings_changed"
)

// Event is the payload published on Channel.
type Event struct {
	Type     Type               `json:"type"`
	Mappings []detector.Mapping `json:"mappings"`
}
