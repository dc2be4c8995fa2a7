package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/MikeSquared-Agency/Tailgate/internal/analytics"
	"github.com/MikeSquared-Agency/Tailgate/internal/api"
	"github.com/MikeSquared-Agency/Tailgate/internal/challenges"
	"github.com/MikeSquared-Agency/Tailgate/internal/config"
	"github.com/MikeSquared-Agency/Tailgate/internal/hermes"
	"github.com/MikeSquared-Agency/Tailgate/internal/metrics"
	"github.com/MikeSquared-Agency/Tailgate/internal/notify"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
	"github.com/MikeSquared-Agency/Tailgate/internal/sweeper"
	"github.com/MikeSquared-Agency/Tailgate/internal/tails"
	"github.com/MikeSquared-Agency/Tailgate/internal/tracing"
)

func main() {
	app := &cli.App{
		Name:  "tailgate",
		Usage: "tail-the-slip challenge service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to config file",
				EnvVars: []string{"TAILGATE_CONFIG"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the API and metrics servers",
				Action: serve,
			},
			{
				Name:   "close-expired",
				Usage:  "close every open bet whose tail window has ended",
				Action: closeExpired,
			},
			{
				Name:  "rerank",
				Usage: "recompute ranks for one challenge from stored points",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "challenge", Usage: "challenge id", Required: true},
				},
				Action: rerank,
			},
			{
				Name:  "snapshot",
				Usage: "write the current analytics figures to the cache table",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "challenge", Usage: "limit to one challenge id"},
				},
				Action: snapshot,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("tailgate failed", "error", err)
		os.Exit(1)
	}
}

// app holds the wired services shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	hermes     hermes.Client
	metrics    *metrics.Metrics
	recorder   *tails.Recorder
	notifier   *notify.Notifier
	challenges *challenges.Service
	analytics  *analytics.Aggregator
	tracing    tracing.Shutdown
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func setup(ctx context.Context, c *cli.Context, withEvents bool) (*app, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	// Tracing, installed before the services resolve their tracers
	a.tracing, err = tracing.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	// Database
	if cfg.Database.URL == "" {
		logger.Warn("no database url configured, using in-memory store")
		a.store = store.NewMemoryStore()
	} else {
		db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			_ = a.tracing(ctx)
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if cfg.Database.EnsureSchema {
			if err := db.EnsureSchema(ctx); err != nil {
				db.Close()
				_ = a.tracing(ctx)
				return nil, err
			}
		}
		a.store = db
		logger.Info("connected to database")
	}

	// Hermes (optional)
	if withEvents && cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			a.hermes = hc
			logger.Info("connected to hermes")
		}
	}

	a.metrics = metrics.New(prometheus.DefaultRegisterer)
	a.recorder = tails.NewRecorder(a.store, a.hermes, a.metrics, logger)
	a.notifier = notify.NewNotifier(a.store, a.hermes, logger)
	a.challenges = challenges.NewService(a.store, a.recorder, a.notifier, a.hermes, a.metrics, cfg.Tails, logger)
	a.analytics = analytics.NewAggregator(a.store, cfg.Analytics.TopN, logger)
	return a, nil
}

func (a *app) close() {
	if a.hermes != nil {
		a.hermes.Close()
	}
	_ = a.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracing(ctx); err != nil {
		a.logger.Warn("tracing shutdown failed", "error", err)
	}
}

func serve(c *cli.Context) error {
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	a, err := setup(ctx, c, true)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if a.cfg.Sweeper.Enabled {
		var snap sweeper.Snapshotter
		if a.cfg.Sweeper.SnapshotAnalytics {
			snap = a.analytics
		}
		sw := sweeper.New(a.challenges, snap, a.cfg.SweepInterval(), logger)
		sw.Start(ctx)
		defer sw.Stop()
		logger.Info("sweeper started", "interval", a.cfg.SweepInterval())
	}

	// API server
	router := api.NewRouter(api.Deps{
		Store:      a.store,
		Challenges: a.challenges,
		Recorder:   a.recorder,
		Analytics:  a.analytics,
		Notifier:   a.notifier,
		Metrics:    a.metrics,
		Config:     a.cfg,
		Logger:     logger,
	})
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(a.store),
	}

	go func() {
		logger.Info("API server starting", "port", a.cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", a.cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
	return nil
}

func closeExpired(c *cli.Context) error {
	a, err := setup(c.Context, c, false)
	if err != nil {
		return err
	}
	defer a.close()

	closed, err := a.challenges.CloseExpiredBets(c.Context)
	if err != nil {
		return err
	}
	a.logger.Info("close-expired finished", "closed", len(closed))
	return nil
}

func rerank(c *cli.Context) error {
	id, err := uuid.Parse(c.String("challenge"))
	if err != nil {
		return fmt.Errorf("invalid challenge id: %w", err)
	}
	a, err := setup(c.Context, c, false)
	if err != nil {
		return err
	}
	defer a.close()

	ch, err := a.store.GetChallenge(c.Context, id)
	if err != nil {
		return err
	}
	if ch == nil {
		return challenges.ErrChallengeNotFound
	}
	standings, err := a.recorder.RecalculateRanks(c.Context, id)
	if err != nil {
		return err
	}
	a.logger.Info("rerank finished", "challenge_id", id, "participants", len(standings))
	return nil
}

func snapshot(c *cli.Context) error {
	var challengeID *uuid.UUID
	if raw := c.String("challenge"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid challenge id: %w", err)
		}
		challengeID = &id
	}
	a, err := setup(c.Context, c, false)
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.analytics.Snapshot(c.Context, challengeID)
	if err != nil {
		return err
	}
	a.logger.Info("snapshot finished", "metrics", len(entries))
	return nil
}
