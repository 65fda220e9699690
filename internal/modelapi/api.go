// Package modelapi implements the control-plane REST API: detector and
// mapping CRUD, the tag-set resolution endpoint the mappers miss into, and
// the publication of invalidation events toward running mappers.
//
// Liveness and readiness probes are not served here; they live on the
// dedicated observability server.
package modelapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/jellydator/ttlcache/v3"

	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/events"
	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/store"
	"github.com/lfelipe/argus/internal/validation"
)

// publishTimeout bounds the detached event publish that follows a mutation.
const publishTimeout = 5 * time.Second

// matcherCacheSize bounds the matcher's memoized flattened expressions.
const matcherCacheSize = 1024

// Publisher sends invalidation events to running mappers.
type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// API holds the dependencies and the router of the model service.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// detectors and mappings are the persistence layer. Interface types
	// allow mocking in unit tests.
	detectors store.DetectorRepository
	mappings  store.MappingRepository

	// publisher broadcasts invalidation events after mutations.
	publisher Publisher

	// matcher evaluates stored mappings against searched tag-sets.
	matcher *detector.Matcher

	// searchCache holds recent search answers keyed by canonical tag key.
	// Hits must not extend entry lifetimes: the TTL is an absolute bound.
	searchCache *ttlcache.Cache[string, []detector.Mapping]
}

// NewAPI wires the model API. The logger feeds the matcher's expression
// diagnostics; request handling logs through the per-request logger.
//
// searchCacheTTL is the absolute staleness bound of cached search answers.
// Flush-on-mutation is the primary freshness mechanism; the TTL covers a
// flush that never ran (e.g. a crash between commit and flush).
//
// Panics if any dependency is nil or the TTL is not positive; the TTL
// arrives validated from configuration.
func NewAPI(detectors store.DetectorRepository, mappings store.MappingRepository, publisher Publisher, searchCacheTTL time.Duration, logger *slog.Logger) *API {
	// Interfaces are checked explicitly; AssertNotNil only takes pointers.
	if detectors == nil {
		panic("modelapi: detector repository cannot be nil")
	}
	if mappings == nil {
		panic("modelapi: mapping repository cannot be nil")
	}
	if publisher == nil {
		panic("modelapi: publisher cannot be nil")
	}
	if searchCacheTTL <= 0 {
		panic("modelapi: searchCacheTTL must be positive")
	}
	validation.AssertNotNil(logger, "logger")

	matcher, err := detector.NewMatcher(matcherCacheSize, logger)
	if err != nil {
		panic("modelapi: " + err.Error())
	}

	searchCache := ttlcache.New[string, []detector.Mapping](
		ttlcache.WithTTL[string, []detector.Mapping](searchCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, []detector.Mapping](),
	)
	go searchCache.Start()

	api := &API{
		Router:      chi.NewRouter(),
		detectors:   detectors,
		mappings:    mappings,
		publisher:   publisher,
		matcher:     matcher,
		searchCache: searchCache,
	}

	api.configureRoutes()
	return api
}

// Close stops the search cache's expiration janitor.
func (a *API) Close() {
	a.searchCache.Stop()
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Logs request method, path, status, and duration.
	a.Router.Use(observability.RequestLogger)
	// Metrics: per-route latency and request counters.
	a.Router.Use(observability.HTTPMetrics(observability.ModelAPIReqDuration, observability.ModelAPIReqTotal))
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Route("/detectors", func(r chi.Router) {
			r.Post("/", a.handleCreateDetector)
			r.Get("/", a.handleListDetectors)
			r.Get("/updated", a.handleListUpdatedDetectors)

			r.Route("/{uuid}", func(r chi.Router) {
				r.Get("/", a.handleGetDetector)
				r.Post("/toggle", a.handleToggleDetector)
				r.Delete("/", a.handleDeleteDetector)
			})
		})

		r.Route("/mappings", func(r chi.Router) {
			r.Post("/", a.handleCreateMapping)
			r.Get("/updated", a.handleListUpdatedMappings)
			r.Post("/search", a.handleSearchMappings)
			r.Delete("/{detectorUuid}", a.handleDeleteMapping)
		})
	})
}

// flushSearchCache drops every cached search answer. Called on every
// detector or mapping mutation; answers are keyed by tag-set, not by
// mapping, so targeted invalidation is not possible.
func (a *API) flushSearchCache() {
	a.searchCache.DeleteAll()
}

// publishAsync fires the invalidation event on a detached context so the
// HTTP response does not wait on Redis. Failures are logged and dropped:
// the mappers' refresher poll is the consistency backstop, so a lost event
// delays convergence without breaking it.
func (a *API) publishAsync(log *slog.Logger, event events.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := a.publisher.Publish(ctx, event); err != nil {
			log.Warn("failed to publish invalidation event",
				slog.String("type", string(event.Type)),
				slog.String("error", err.Error()))
		}
	}()
}
