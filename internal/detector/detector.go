// Package detector holds the domain model shared by the model service and
// the mapper: anomaly detectors, the mappings that attach them to metric
// tag-sets, and the conjunctive tag-expression evaluator.
package detector

import (
	"time"

	"github.com/google/uuid"
)

// Detector identifies a single anomaly detector. Identity is the UUID alone:
// two detectors are equal iff their UUIDs are equal, regardless of the
// enabled flag. This matters during invalidation, where membership checks
// run against decoded cache values that do not preserve the flag.
type Detector struct {
	UUID      uuid.UUID `json:"uuid"`
	Type      string    `json:"type,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Equal reports identity equality. Only the UUID participates.
func (d Detector) Equal(other Detector) bool {
	return d.UUID == other.UUID
}

// Mapping associates a detector with a boolean tag expression: the detector
// applies to every metric whose tags satisfy the expression. Mappings are
// authored in the model service; the mapper only ever reads them. Enabled
// is the mapping's own flag; a mapping is effective only when both it and
// its detector are enabled.
type Mapping struct {
	ID         int64      `json:"id,omitempty"`
	Detector   Detector   `json:"detector"`
	Expression Expression `json:"expression"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"createdAt,omitzero"`
	UpdatedAt  time.Time  `json:"updatedAt,omitzero"`
}
