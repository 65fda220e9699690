// Package refresher implements the background worker that keeps a mapper's
// mapping cache consistent with the model service: a periodic poll for
// recently updated detector mappings, plus the application of pub/sub
// invalidation events between polls.
//
// Events usually arrive first, but delivery is best-effort; the poll is
// the convergence guarantee when an event is lost or a mapper was down
// when it fired.
package refresher

import (
	"context"
	"log/slog"
	"time"

	"github.com/lfelipe/argus/internal/config"
	"github.com/lfelipe/argus/internal/detector"
	"github.com/lfelipe/argus/internal/events"
	"github.com/lfelipe/argus/internal/mappingcache"
	"github.com/lfelipe/argus/internal/observability"
)

// Source lists recently updated mappings. Implemented by the resolver
// client; faked in tests.
type Source interface {
	ListUpdatedSince(ctx context.Context, lookback time.Duration) ([]detector.Mapping, error)
}

// Service orchestrates cache invalidation for one mapper process.
type Service struct {
	logger *slog.Logger
	cfg    config.RefresherConfig
	source Source
	cache  mappingcache.Service
}

// New creates a refresher. The configuration arrives validated; in
// particular Lookback exceeds Interval so consecutive poll windows overlap.
func New(logger *slog.Logger, cfg config.RefresherConfig, source Source, cache mappingcache.Service) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if source == nil {
		panic("refresher: source cannot be nil")
	}
	if cache == nil {
		panic("refresher: cache cannot be nil")
	}

	return &Service{
		logger: logger,
		cfg:    cfg,
		source: source,
		cache:  cache,
	}
}

// Run starts the poll loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting refresher",
		slog.String("interval", s.cfg.Interval.String()),
		slog.String("lookback", s.cfg.Lookback.String()),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Run once immediately on startup
	if err := s.refresh(ctx); err != nil {
		s.logger.Error("initial refresh failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresher stopping...")
			return nil
		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				// We log the error but don't stop the worker.
				// Retry on next tick.
				s.logger.Error("refresh cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// refresh performs a single cycle: poll, partition, apply.
func (s *Service) refresh(ctx context.Context) error {
	start := time.Now()

	mappings, err := s.source.ListUpdatedSince(ctx, s.cfg.Lookback)
	if err != nil {
		observability.RefresherCyclesTotal.WithLabelValues("fail").Inc()
		return err
	}

	// A mapping is effective only when its own flag and its detector's
	// flag are both set. Each detector owns at most one mapping, so an
	// ineffective mapping means its detector currently reaches no tag-set
	// at all: prune that detector out of cached values. An effective
	// mapping that changed recently instead evicts the entries its
	// expression matches, so the next lookup re-resolves them.
	var disabled, changed []detector.Mapping
	for _, m := range mappings {
		if m.Enabled && m.Detector.Enabled {
			changed = append(changed, m)
		} else {
			disabled = append(disabled, m)
		}
	}

	var pruned, evicted int
	if len(disabled) > 0 {
		pruned = s.cache.RemoveDisabledDetectors(disabled)
	}
	if len(changed) > 0 {
		evicted = s.cache.InvalidateChangedMappings(changed)
	}

	observability.RefresherCyclesTotal.WithLabelValues("success").Inc()
	observability.RefresherLastSuccess.SetToCurrentTime()

	if len(mappings) > 0 {
		s.logger.Info("refresh cycle completed",
			slog.Int("updated_mappings", len(mappings)),
			slog.Int("pruned_entries", pruned),
			slog.Int("evicted_entries", evicted),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return nil
}

// ApplyEvent applies one pub/sub invalidation event to the cache. The
// publisher already partitioned by type, so the event type selects the
// pass directly. Unknown types are logged and dropped; the next poll
// covers whatever they carried.
func (s *Service) ApplyEvent(event events.Event) {
	switch event.Type {
	case events.TypeDetectorsDisabled:
		pruned := s.cache.RemoveDisabledDetectors(event.Mappings)
		s.logger.Debug("applied detector disablement event",
			slog.Int("mappings", len(event.Mappings)),
			slog.Int("pruned_entries", pruned),
		)
	case events.TypeMappingsChanged:
		evicted := s.cache.InvalidateChangedMappings(event.Mappings)
		s.logger.Debug("applied mapping change event",
			slog.Int("mappings", len(event.Mappings)),
			slog.Int("evicted_entries", evicted),
		)
	default:
		s.logger.Warn("ignoring invalidation event of unknown type",
			slog.String("type", string(event.Type)))
	}
}
