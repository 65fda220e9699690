package mapper

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/lfelipe/argus/internal/logger"
	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/validation"
)

// API exposes the mapping service over HTTP.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	service *Service

	// maxBatchSize caps the metrics accepted per request.
	maxBatchSize int
}

// NewAPI wires the mapper router. Panics if service is nil or maxBatchSize
// is not positive; the limit arrives validated from configuration.
func NewAPI(service *Service, maxBatchSize int) *API {
	validation.AssertNotNil(service, "service")
	if maxBatchSize < 1 {
		panic("mapper: maxBatchSize must be positive")
	}

	api := &API{
		Router:       chi.NewRouter(),
		service:      service,
		maxBatchSize: maxBatchSize,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and the mapping
// endpoint. Liveness and readiness are not served here; they belong to the
// observability server so probe traffic never competes with the hot path.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(observability.RequestLogger)
	a.Router.Use(observability.HTTPMetrics(observability.MapperReqDuration, observability.MapperReqTotal))
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Post("/map", a.handleMapBatch)
}

// handleMapBatch processes the POST /map request.
//
// Responsibilities:
// 1. Decodes the JSON payload into the MapRequest DTO.
// 2. Validates batch shape and size.
// 3. Hands the tag-sets to the service for cache-first resolution.
// 4. Returns one assignment per metric, in submission order.
//
// Per-metric resolution failures never fail the request; the affected
// metrics come back with empty detector lists.
func (a *API) handleMapBatch(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req MapRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if errResp := req.Validate(a.maxBatchSize); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	batch := make([]map[string]string, len(req.Metrics))
	for i, m := range req.Metrics {
		batch[i] = m.Tags
	}

	results := a.service.MapBatch(r.Context(), batch)

	resp := make([]Assignment, len(results))
	for i, res := range results {
		uuids := make([]uuid.UUID, 0, len(res.Detectors))
		for _, d := range res.Detectors {
			uuids = append(uuids, d.UUID)
		}
		resp[i] = Assignment{Tags: res.Tags, DetectorUUIDs: uuids}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}
