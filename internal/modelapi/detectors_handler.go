package modelapi

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/events"
	"github.com/lfelipe/argus/internal/logger"
	"github.com/lfelipe/argus/internal/store"
)

// handleCreateDetector processes the POST /api/v1/detectors request.
//
// Responsibilities:
// 1. Decodes the JSON payload into the CreateDetectorRequest DTO.
// 2. Sanitizes and Validates the input using the DTO's business logic.
// 3. Assigns the server-generated UUID and persists the detector.
// 4. Returns the created resource with a 201 Created status.
//
// No invalidation event fires here: a brand-new detector has no mapping,
// so no cached tag-set can reference it yet.
func (a *API) handleCreateDetector(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateDetectorRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	d := &detector.Detector{
		UUID:      uuid.New(),
		Type:      req.Type,
		Enabled:   req.Enabled,
		CreatedBy: req.CreatedBy,
	}

	if err := a.detectors.CreateDetector(r.Context(), d); err != nil {
		log.Error("failed to create detector in db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create detector",
		})
		return
	}

	a.flushSearchCache()

	log.Info("detector created",
		slog.String("detector_uuid", d.UUID.String()),
		slog.String("type", d.Type))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, d)
}

// handleGetDetector processes the GET /api/v1/detectors/{uuid} request.
// Any identifier that resolves to no detector, malformed ones included,
// yields 404.
func (a *API) handleGetDetector(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	raw := chi.URLParam(r, "uuid")
	id, err := uuid.Parse(raw)
	if err != nil {
		renderDetectorNotFound(w, r, raw)
		return
	}

	d, err := a.detectors.GetDetector(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderDetectorNotFound(w, r, raw)
			return
		}
		log.Error("failed to get detector from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to get detector",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, d)
}

// handleListDetectors processes the GET /api/v1/detectors request.
//
// Responsibilities:
// 1. Parses and sanitizes pagination parameters (page, page_size).
// 2. Applies the optional createdBy ownership filter.
// 3. Calls the Repository to fetch data and total count.
// 4. Calculates pagination metadata and returns the PaginatedResponse.
func (a *API) handleListDetectors(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	pageSize, err := parseOptionalInt(r, "page_size", 10)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	// Silently clamp out-of-bounds values instead of erroring.
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100 // Hard limit to prevent large queries
	}

	createdBy := strings.TrimSpace(r.URL.Query().Get("createdBy"))
	offset := (page - 1) * pageSize

	detectors, totalItems, err := a.detectors.ListDetectors(r.Context(), createdBy, pageSize, offset)
	if err != nil {
		log.Error("failed to list detectors from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list detectors",
		})
		return
	}

	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: detectors,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleToggleDetector processes the POST /api/v1/detectors/{uuid}/toggle
// request. Flipping the flag bumps updated_at, making the change visible to
// pollers; when the detector has a mapping, an invalidation event also goes
// out immediately. Disabling publishes a detector-disablement (mappers prune
// the UUID from cached values); re-enabling publishes a mapping change
// (matching entries must re-resolve to pick the detector back up).
func (a *API) handleToggleDetector(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	raw := chi.URLParam(r, "uuid")
	id, err := uuid.Parse(raw)
	if err != nil {
		renderDetectorNotFound(w, r, raw)
		return
	}

	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "parameter 'enabled' must be true or false",
		})
		return
	}

	d, err := a.detectors.SetDetectorEnabled(r.Context(), id, enabled)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderDetectorNotFound(w, r, raw)
			return
		}
		log.Error("failed to toggle detector in db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to toggle detector",
		})
		return
	}

	a.flushSearchCache()
	a.notifyToggle(r, log, d, enabled)

	log.Info("detector toggled",
		slog.String("detector_uuid", d.UUID.String()),
		slog.Bool("enabled", enabled))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, d)
}

// notifyToggle publishes the invalidation event for a toggled detector. An
// unmapped detector publishes nothing: no cached tag-set can reference it.
func (a *API) notifyToggle(r *http.Request, log *slog.Logger, d *detector.Detector, enabled bool) {
	m, err := a.mappings.GetMappingByDetector(r.Context(), d.UUID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// The refresher poll converges the mappers anyway.
			log.Warn("failed to load mapping for invalidation event",
				slog.String("detector_uuid", d.UUID.String()),
				slog.String("error", err.Error()))
		}
		return
	}

	// Carry the post-toggle flags in the payload.
	m.Detector = *d

	eventType := events.TypeMappingsChanged
	if !enabled {
		eventType = events.TypeDetectorsDisabled
	}
	a.publishAsync(log, events.Event{Type: eventType, Mappings: []detector.Mapping{*m}})
}

// handleDeleteDetector processes the DELETE /api/v1/detectors/{uuid}
// request. The detector's mapping is removed by the same statement (FK
// cascade), so the mapping is captured first for the disablement event.
func (a *API) handleDeleteDetector(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	raw := chi.URLParam(r, "uuid")
	id, err := uuid.Parse(raw)
	if err != nil {
		renderDetectorNotFound(w, r, raw)
		return
	}

	var mapping *detector.Mapping
	if m, err := a.mappings.GetMappingByDetector(r.Context(), id); err == nil {
		mapping = m
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Warn("failed to load mapping for invalidation event",
			slog.String("detector_uuid", id.String()),
			slog.String("error", err.Error()))
	}

	if err := a.detectors.DeleteDetector(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderDetectorNotFound(w, r, raw)
			return
		}
		log.Error("failed to delete detector from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to delete detector",
		})
		return
	}

	a.flushSearchCache()

	// A deleted detector must disappear from cached values the same way a
	// disabled one does.
	if mapping != nil {
		a.publishAsync(log, events.Event{
			Type:     events.TypeDetectorsDisabled,
			Mappings: []detector.Mapping{*mapping},
		})
	}

	log.Info("detector deleted", slog.String("detector_uuid", id.String()))
	render.NoContent(w, r)
}

// handleListUpdatedDetectors processes the GET /api/v1/detectors/updated
// request, the detector-level counterpart of the mapping poll endpoint.
func (a *API) handleListUpdatedDetectors(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	interval, errResp := parseIntervalSecs(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	detectors, err := a.detectors.ListDetectorsUpdatedSince(r.Context(), time.Now().Add(-interval))
	if err != nil {
		log.Error("failed to list updated detectors from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list updated detectors",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, detectorsResponse{Detectors: detectors})
}

// --- Private Helpers ---

// renderDetectorNotFound writes the uniform 404 for detector lookups. The
// raw identifier is echoed so operators can spot typos in their requests.
func renderDetectorNotFound(w http.ResponseWriter, r *http.Request, raw string) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_NOT_FOUND",
		Message: fmt.Sprintf("Detector %q not found", raw),
	})
}

// parseOptionalInt extracts an integer from the query string.
// If the parameter is missing, it returns the defaultValue.
// It only returns an error if the parameter is present but malformed.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// parseIntervalSecs reads the required intervalSecs query parameter shared
// by the updated-since endpoints.
func parseIntervalSecs(r *http.Request) (time.Duration, *ErrorResponse) {
	raw := r.URL.Query().Get("intervalSecs")
	if raw == "" {
		return 0, &ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "parameter 'intervalSecs' is required",
		}
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return 0, &ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "parameter 'intervalSecs' must be a positive integer",
		}
	}
	return time.Duration(secs) * time.Second, nil
}
