// Command argus-mapper is the data-plane binary. It serves the batch
// mapping endpoint backed by the in-process mapping cache, resolves misses
// against the model service, and keeps the cache consistent through the
// refresher poll and pub/sub invalidation events.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Embeds the IANA timezone database so time.LoadLocation works inside
	// containers without /usr/share/zoneinfo.
	_ "time/tzdata"

	// Sets GOMEMLIMIT from the cgroup memory limit so the GC collects
	// before the container OOM killer fires. The mapping cache makes this
	// binary the memory-heavy one.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/spf13/cobra"

	"github.com/lfelipe/argus/internal/config"
	"github.com/lfelipe/argus/internal/events"
	"github.com/lfelipe/argus/internal/logger"
	"github.com/lfelipe/argus/internal/mapper"
	"github.com/lfelipe/argus/internal/mappingcache"
	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/refresher"
	"github.com/lfelipe/argus/internal/resolver"
)

// cacheMetricsInterval paces the live-entry gauge realignment. Put updates
// the gauge on the spot, but TTL expiry and capacity eviction happen off
// the write path, so the gauge drifts without the collector loop.
const cacheMetricsInterval = 15 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "argus-mapper",
		Short: "Argus mapper service (data plane)",
		// Errors are logged below with slog instead of cobra's printer.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the mapper HTTP API",
		RunE:  runServe,
	})

	if err := root.Execute(); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	redisClient, err := events.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	cache, err := mappingcache.New(mappingcache.Config{
		Capacity: cfg.Mapper.CacheCapacity,
		TTL:      cfg.Mapper.CacheTTL,
	}, log)
	if err != nil {
		return fmt.Errorf("mapping cache: %w", err)
	}
	defer cache.Close()
	go cache.RunMetricsCollector(ctx, cacheMetricsInterval)

	res, err := resolver.New(resolver.Config{
		BaseURL: cfg.Mapper.ResolverURL,
		Timeout: cfg.Mapper.ResolverTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}

	obs := observability.NewServer(log, &cfg.Observability,
		events.NewHealthChecker(redisClient),
	)
	obs.Start()

	// The refresher is constructed even when its poll loop is disabled:
	// pub/sub events are applied through it either way.
	ref := refresher.New(log, cfg.Refresher, res, cache)
	if cfg.Refresher.Enabled {
		go func() {
			if err := ref.Run(ctx); err != nil {
				log.Error("refresher stopped", slog.String("error", err.Error()))
			}
		}()
	} else {
		log.Warn("refresher poll disabled; cache consistency rides on events and TTL alone")
	}

	// A dead subscription is not fatal: the refresher poll converges the
	// cache when events stop arriving.
	sub := events.NewSubscriber(redisClient, log)
	go func() {
		if err := sub.Run(ctx, ref.ApplyEvent); err != nil {
			log.Error("event subscriber stopped", slog.String("error", err.Error()))
		}
	}()

	api := mapper.NewAPI(mapper.NewService(cache, res, log), cfg.Mapper.MaxBatchSize)

	addr := net.JoinHostPort(cfg.Mapper.Host, cfg.Mapper.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router,
		ReadTimeout:       cfg.Mapper.ReadTimeout,
		WriteTimeout:      cfg.Mapper.WriteTimeout,
		ReadHeaderTimeout: cfg.Mapper.ReadHeaderTimeout,
		IdleTimeout:       cfg.Mapper.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("mapper API started",
			slog.String("addr", addr),
			slog.Int("cache_capacity", cfg.Mapper.CacheCapacity),
			slog.String("version", cfg.App.Version),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop()
	}

	log.Info("shutting down", slog.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn("observability shutdown failed", slog.String("error", err.Error()))
	}
	log.Info("mapper API stopped")
	return nil
}
