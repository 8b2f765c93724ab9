// Skyplot polls OpenSky for the aircraft inside a configured region and
// serves the projected, gap-filled table to map renderers over REST and
// WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unklstewy/skyplot/internal/api"
	"github.com/unklstewy/skyplot/internal/buffer"
	"github.com/unklstewy/skyplot/internal/db"
	"github.com/unklstewy/skyplot/internal/ingest"
	"github.com/unklstewy/skyplot/internal/observability"
	"github.com/unklstewy/skyplot/pkg/config"
	"github.com/unklstewy/skyplot/pkg/logger"
	"github.com/unklstewy/skyplot/pkg/opensky"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "Path to configuration file (.toml or .json)")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Parse()

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "skyplot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	runID := uuid.NewString()
	log = log.With(logger.String("run_id", runID))

	log.Info("Starting skyplot",
		logger.String("config", configPath),
		logger.Float64("lamin", cfg.Region.LatMin),
		logger.Float64("lomin", cfg.Region.LonMin),
		logger.Float64("lamax", cfg.Region.LatMax),
		logger.Float64("lomax", cfg.Region.LonMax),
		logger.Duration("interval", cfg.Ingest.Interval()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	metrics, err := observability.NewCycleCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	client := opensky.NewClient(opensky.Config{
		BaseURL:     cfg.OpenSky.BaseURL,
		Username:    cfg.OpenSky.Username,
		Password:    cfg.OpenSky.Password,
		Timeout:     cfg.OpenSky.Timeout(),
		MinInterval: cfg.OpenSky.MinInterval(),
	}, log)
	defer client.Close()
	log.Info("OpenSky client ready", logger.String("client", client.String()))

	recorders := ingest.MultiRecorder{ingest.NewLogRecorder(log), metrics}

	var (
		events   api.EventLister
		database *db.DB
	)
	if cfg.Database.Enabled {
		database, err = db.ConnectWithRetry(ctx, cfg.Database, 5, 2*time.Second, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer database.Close()

		if err := database.InitSchema(ctx); err != nil {
			return fmt.Errorf("database schema: %w", err)
		}

		repo := db.NewCycleEventRepository(database)
		recorders = append(recorders, repo)
		events = repo

		if cfg.Database.RetentionHours > 0 {
			go cleanupLoop(ctx, database, time.Duration(cfg.Database.RetentionHours)*time.Hour, log)
		}
	}

	buf := buffer.New()
	svc, err := ingest.NewService(client, buf, ingest.NewTickerScheduler(), recorders, ingest.Config{
		Box:      cfg.Region,
		Interval: cfg.Ingest.Interval(),
		IconURL:  cfg.Ingest.IconURL,
		RunID:    runID,
	}, log)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Buffer:         buf,
		Ingest:         svc,
		Events:         events,
		Metrics:        metrics,
		Database:       database,
		Region:         cfg.Region,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ingestDone := make(chan error, 1)
	go func() {
		ingestDone <- svc.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", logger.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", logger.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	router.Stream().Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server forced to shutdown", logger.Error(err))
	}

	select {
	case err := <-ingestDone:
		if err != nil {
			log.Error("Ingestion stopped with error", logger.Error(err))
		}
	case <-shutdownCtx.Done():
		log.Warn("Timed out waiting for the in-flight cycle")
	}

	status := svc.Status()
	log.Info("Skyplot stopped",
		logger.Uint64("attempts", status.Attempts),
		logger.Uint64("successes", status.Successes),
	)
	return nil
}

// cleanupLoop prunes old cycle events once an hour.
func cleanupLoop(ctx context.Context, database *db.DB, maxAge time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		deleted, err := database.CleanupOldEvents(ctx, maxAge)
		if err != nil {
			log.Warn("Cycle event cleanup failed", logger.Error(err))
		} else if deleted > 0 {
			log.Info("Pruned cycle events", logger.Int64("deleted", deleted))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
