// Command argus-model is the control-plane binary. It serves the detector
// and mapping CRUD API, the mapping search endpoint, and the updated-since
// feeds that mapper refreshers poll.
//
// Subcommands:
//
//	serve    — run the HTTP API and the observability server
//	migrate  — apply pending database migrations and exit
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
	// before the container OOM killer fires.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/lfelipe/argus/internal/config"
	"github.com/lfelipe/argus/internal/database"
	"github.com/lfelipe/argus/internal/events"
	"github.com/lfelipe/argus/internal/logger"
	"github.com/lfelipe/argus/internal/modelapi"
	"github.com/lfelipe/argus/internal/observability"
	"github.com/lfelipe/argus/internal/store"
	"github.com/lfelipe/argus/migrations"
)

// poolMonitorInterval paces the pgx pool statistics export.
const poolMonitorInterval = 15 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "argus-model",
		Short: "Argus model service (control plane)",
		// Errors are logged below with slog instead of cobra's printer.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the model HTTP API",
		RunE:  runServe,
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

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	go database.RunPoolMonitor(ctx, pool, poolMonitorInterval)

	redisClient, err := events.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	obs := observability.NewServer(log, &cfg.Observability,
		database.NewHealthChecker(pool),
		events.NewHealthChecker(redisClient),
	)
	obs.Start()

	api := modelapi.NewAPI(
		store.NewDetectorStore(pool),
		store.NewMappingStore(pool),
		events.NewPublisher(redisClient, log),
		cfg.Model.SearchCacheTTL,
		log,
	)
	defer api.Close()

	addr := net.JoinHostPort(cfg.Model.Host, cfg.Model.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Router,
		ReadTimeout:       cfg.Model.ReadTimeout,
		WriteTimeout:      cfg.Model.WriteTimeout,
		ReadHeaderTimeout: cfg.Model.ReadHeaderTimeout,
		IdleTimeout:       cfg.Model.IdleTimeout,
		MaxHeaderBytes:    cfg.Model.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("model API started",
			slog.String("addr", addr),
			slog.Bool("tls", cfg.Model.TLSEnabled),
			slog.String("version", cfg.App.Version),
		)
		var err error
		if cfg.Model.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Model.TLSCert, cfg.Model.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
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
	log.Info("model API stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	log.Info("running migrations")

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate needs a *sql.DB; pgx's stdlib adapter keeps the whole
	// project on one driver. A one-shot run needs no pooling.
	connCfg, err := pgx.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, _ := m.Version()
	log.Info("migrations complete", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}
