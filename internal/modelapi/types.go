package modelapi

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/lfelipe/argus/internal/detector"
)

// detectorTypeRegex ensures detector types are URL-safe slugs (lowercase,
// numbers, hyphens). Compiled once at package initialization.
var detectorTypeRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// -----------------------------------------------------------------------------
// Reusable Validation Logic
// -----------------------------------------------------------------------------

// validateDetectorType enforces the format and length rules for the detector
// type slug (e.g. "constant-detector", "cusum-detector").
func validateDetectorType(detectorType string) *ErrorResponse {
	if detectorType == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Type is required",
		}
	}
	if len(detectorType) > 100 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Type must be at most 100 characters",
		}
	}
	if !detectorTypeRegex.MatchString(detectorType) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Type must contain only lowercase letters, numbers, and hyphens (slug format)",
		}
	}
	return nil
}

// validateCreatedBy enforces rules for the creator identifier.
func validateCreatedBy(createdBy string) *ErrorResponse {
	if createdBy == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "CreatedBy is required",
		}
	}
	if len(createdBy) > 255 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "CreatedBy must be at most 255 characters",
		}
	}
	return nil
}

// CreateDetectorRequest defines the payload for registering a new detector.
// The detector UUID is server-generated and returned in the response.
type CreateDetectorRequest struct {
	// Type is the detector algorithm slug. Required, matches '^[a-z0-9-]+$'.
	Type string `json:"type"`

	// CreatedBy identifies the owner. Required.
	CreatedBy string `json:"createdBy"`

	// Enabled defaults to false if omitted; a detector only participates
	// in resolution once it is both enabled and mapped.
	Enabled bool `json:"enabled"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *CreateDetectorRequest) Sanitize() {
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.CreatedBy = strings.TrimSpace(r.CreatedBy)
}

// Validate checks if the request data adheres to business rules.
// It returns a structured *ErrorResponse if validation fails, or nil if valid.
func (r *CreateDetectorRequest) Validate() *ErrorResponse {
	if err := validateDetectorType(r.Type); err != nil {
		return err
	}
	return validateCreatedBy(r.CreatedBy)
}

// CreateMappingRequest defines the payload for attaching a detector to a tag
// expression. A malformed detectorUuid fails JSON decoding before validation
// runs; a missing one arrives as the zero UUID.
type CreateMappingRequest struct {
	// DetectorUUID names the detector the mapping belongs to. Required;
	// each detector carries at most one mapping.
	DetectorUUID uuid.UUID `json:"detectorUuid"`

	// Expression is the conjunctive tag expression the mapping matches
	// metrics with. It must flatten to a consistent key-value set.
	Expression detector.Expression `json:"expression"`

	// Enabled defaults to false if omitted.
	Enabled bool `json:"enabled"`
}

// Validate checks if the request data adheres to business rules. The
// expression check runs the same flattening the evaluator uses, so anything
// accepted here is evaluable later.
func (r *CreateMappingRequest) Validate() *ErrorResponse {
	if r.DetectorUUID == uuid.Nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "DetectorUuid is required",
		}
	}

	if _, err := r.Expression.Flatten(); err != nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: fmt.Sprintf("Expression is not evaluable: %v", err),
		}
	}
	return nil
}

// SearchRequest defines the payload of the tag-set resolution endpoint. An
// empty tag-set is valid and matches no mapping.
type SearchRequest struct {
	Tags map[string]string `json:"tags"`
}

// mappingsResponse is the envelope shared by the search and updated-since
// endpoints. The resolver client decodes exactly this shape.
type mappingsResponse struct {
	Mappings []detector.Mapping `json:"mappings"`
}

// detectorsResponse is the envelope of the detector updated-since endpoint.
type detectorsResponse struct {
	Detectors []*detector.Detector `json:"detectors"`
}

// PaginatedResponse is a standard wrapper for list endpoints to support offset pagination.
type PaginatedResponse struct {
	// Data holds the list of resources.
	Data interface{} `json:"data"`

	// Pagination contains the paging metadata.
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`
}
