package mapper

import (
	"fmt"

	"github.com/google/uuid"
)

// MapRequest defines the payload for POST /map: one entry per metric whose
// tag-set should be resolved to detectors.
type MapRequest struct {
	Metrics []MetricTags `json:"metrics"`
}

// MetricTags carries one metric's tag-set.
type MetricTags struct {
	Tags map[string]string `json:"tags"`
}

// Assignment is one element of the POST /map response, in the same order as
// the submitted metrics.
type Assignment struct {
	Tags          map[string]string `json:"tags"`
	DetectorUUIDs []uuid.UUID       `json:"detectorUuids"`
}

// Validate checks the structural rules for a mapping request. maxBatchSize
// comes from configuration; oversized batches are rejected whole, never
// truncated, so a pipeline cannot silently lose the tail of a batch.
func (r *MapRequest) Validate(maxBatchSize int) *ErrorResponse {
	if len(r.Metrics) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Request must contain at least one metric",
		}
	}
	if len(r.Metrics) > maxBatchSize {
		return &ErrorResponse{
			Code:    "ERR_BATCH_TOO_LARGE",
			Message: fmt.Sprintf("Batch of %d metrics exceeds the limit of %d", len(r.Metrics), maxBatchSize),
		}
	}
	return nil
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`
}
