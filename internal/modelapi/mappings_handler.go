package modelapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/events"
	"github.com/lfelipe/argus/internal/logger"
	"github.com/lfelipe/argus/internal/mappingcache"
	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/store"
)

// handleCreateMapping processes the POST /api/v1/mappings request.
//
// Responsibilities:
// 1. Decodes and validates the CreateMappingRequest DTO (the expression is
//    validated by the same flattening the evaluator uses).
// 2. Loads the target detector; the response and the event embed it.
// 3. Persists the mapping, mapping conflicts to 409.
// 4. Flushes the search cache and publishes a mapping-change event.
// 5. Returns the created resource with a 201 Created status.
func (a *API) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateMappingRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	d, err := a.detectors.GetDetector(r.Context(), req.DetectorUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderDetectorNotFound(w, r, req.DetectorUUID.String())
			return
		}
		log.Error("failed to get detector from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create mapping",
		})
		return
	}

	m := &detector.Mapping{
		Detector:   *d,
		Expression: req.Expression,
		Enabled:    req.Enabled,
	}

	if err := a.mappings.CreateMapping(r.Context(), m); err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: fmt.Sprintf("Detector %s already has a mapping", d.UUID),
			})
		case errors.Is(err, store.ErrNotFound):
			// The detector was deleted between the lookup and the insert.
			renderDetectorNotFound(w, r, req.DetectorUUID.String())
		default:
			log.Error("failed to create mapping in db", slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INTERNAL",
				Message: "Failed to create mapping",
			})
		}
		return
	}

	a.flushSearchCache()
	a.publishAsync(log, events.Event{
		Type:     events.TypeMappingsChanged,
		Mappings: []detector.Mapping{*m},
	})

	log.Info("mapping created",
		slog.String("detector_uuid", d.UUID.String()),
		slog.Int64("mapping_id", m.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, m)
}

// handleDeleteMapping processes the DELETE /api/v1/mappings/{detectorUuid}
// request. The mapping is read before deletion: the change event needs its
// expression so mappers can evict the entries it used to match.
func (a *API) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	raw := chi.URLParam(r, "detectorUuid")
	id, err := uuid.Parse(raw)
	if err != nil {
		renderMappingNotFound(w, r, raw)
		return
	}

	m, err := a.mappings.GetMappingByDetector(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderMappingNotFound(w, r, raw)
			return
		}
		log.Error("failed to get mapping from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to delete mapping",
		})
		return
	}

	if err := a.mappings.DeleteMappingByDetector(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			renderMappingNotFound(w, r, raw)
			return
		}
		log.Error("failed to delete mapping from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to delete mapping",
		})
		return
	}

	a.flushSearchCache()
	a.publishAsync(log, events.Event{
		Type:     events.TypeMappingsChanged,
		Mappings: []detector.Mapping{*m},
	})

	log.Info("mapping deleted", slog.String("detector_uuid", id.String()))
	render.NoContent(w, r)
}

// handleListUpdatedMappings processes the GET /api/v1/mappings/updated
// request, the endpoint every mapper's refresher polls. "Updated" covers
// edits to the mapping row or to its detector, so detector toggles surface
// here too.
func (a *API) handleListUpdatedMappings(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	interval, errResp := parseIntervalSecs(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	mappings, err := a.mappings.ListMappingsUpdatedSince(r.Context(), time.Now().Add(-interval))
	if err != nil {
		log.Error("failed to list updated mappings from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list updated mappings",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mappingsResponse{Mappings: derefMappings(mappings)})
}

// handleSearchMappings processes the POST /api/v1/mappings/search request,
// the resolution endpoint the mappers call on cache misses.
//
// Responsibilities:
// 1. Decodes the searched tag-set.
// 2. Answers from the response cache when the canonical tag key is present
//    (cached empty answers count as hits).
// 3. Otherwise scans the effective mappings through the matcher, caches the
//    answer, and returns it.
func (a *API) handleSearchMappings(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req SearchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	key := mappingcache.EncodeKey(req.Tags)
	if item := a.searchCache.Get(key); item != nil {
		observability.ModelSearchCacheHits.Inc()
		render.Status(r, http.StatusOK)
		render.JSON(w, r, mappingsResponse{Mappings: item.Value()})
		return
	}
	observability.ModelSearchCacheMisses.Inc()

	enabled, err := a.mappings.ListEnabledMappings(r.Context())
	if err != nil {
		log.Error("failed to list enabled mappings from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to search mappings",
		})
		return
	}

	matched := a.matcher.Match(derefMappings(enabled), req.Tags)
	a.searchCache.Set(key, matched, ttlcache.DefaultTTL)

	log.Debug("search evaluated",
		slog.Int("tags", len(req.Tags)),
		slog.Int("matches", len(matched)))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mappingsResponse{Mappings: matched})
}

// renderMappingNotFound writes the uniform 404 for mapping lookups, which
// key on the owning detector.
func renderMappingNotFound(w http.ResponseWriter, r *http.Request, raw string) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_NOT_FOUND",
		Message: fmt.Sprintf("Mapping for detector %q not found", raw),
	})
}

// derefMappings flattens the store's pointer rows into the wire shape. The
// result is never nil, so empty answers render as "[]".
func derefMappings(in []*detector.Mapping) []detector.Mapping {
	out := make([]detector.Mapping, len(in))
	for i, m := range in {
		out[i] = *m
	}
	return out
}
