// Hivewatcher - Podping Event Sink for Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/hivewatcher

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/hivewatcher/internal/cache"
	"github.com/tomtom215/hivewatcher/internal/config"
	"github.com/tomtom215/hivewatcher/internal/logging"
	"github.com/tomtom215/hivewatcher/internal/outbox"
	"github.com/tomtom215/hivewatcher/internal/pipeline"
	"github.com/tomtom215/hivewatcher/internal/source"
	"github.com/tomtom215/hivewatcher/internal/streampool"
	"github.com/tomtom215/hivewatcher/internal/supervisor"
	"github.com/tomtom215/hivewatcher/internal/supervisor/services"
	"github.com/tomtom215/hivewatcher/internal/tracking"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Str("data_dir", cfg.Storage.DataDir).
		Bool("tracking", cfg.Tracking.Active()).
		Bool("import", cfg.Tracking.Secret != "").
		Msg("Starting hive-watcher")

	startedAt := time.Now()

	supers := tracking.NewSuperProperties(tracking.AppInfo{
		Environment: cfg.App.Environment,
		Name:        cfg.App.Name,
		Version:     cfg.App.Version,
		GitBranch:   cfg.App.GitBranch,
		GitSHA:      cfg.App.GitSHA,
	})
	router := tracking.NewRouter(newSink(cfg), supers, tracking.RouterOptions{
		ImportEnabled: cfg.Tracking.Secret != "",
		MaxAge:        cfg.Tracking.MaxAge,
	})

	pool, err := streampool.New(streampool.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize stream pool")
	}

	deps := pipeline.Deps{Pool: pool, Router: router}
	if cfg.Pipeline.DedupTTL > 0 {
		deps.Dedup = cache.NewDedup(cfg.Pipeline.DedupCapacity, cfg.Pipeline.DedupTTL)
	}

	var store *outbox.Store
	if cfg.Outbox.Enabled {
		store, err = outbox.Open(outbox.Config{
			Path:          cfg.Outbox.Path,
			EntryTTL:      cfg.Outbox.EntryTTL,
			MaxAttempts:   cfg.Outbox.MaxAttempts,
			RetryInterval: cfg.Outbox.RetryInterval,
			BatchSize:     cfg.Outbox.BatchSize,
		})
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Outbox.Path).Msg("Failed to open outbox")
		}
		deps.Outbox = store
		logging.Info().Str("path", cfg.Outbox.Path).Msg("Outbox enabled")
	}

	natsURL := cfg.NATS.URL
	var embedded *source.EmbeddedServer
	if cfg.NATS.EmbeddedServer {
		embedded, err = source.NewEmbeddedServer(source.ServerConfig{
			Port:     cfg.NATS.Port,
			StoreDir: cfg.NATS.StoreDir,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	startOpts := source.StartOptions{
		StartAtBlock:    cfg.Source.StartBlock,
		LookbackMonths:  cfg.Source.Months,
		LookbackHours:   cfg.Source.Hours,
		LookbackMinutes: cfg.Source.Minutes,
	}
	// Resolved once: the subscriber replays from here on every restart and
	// the source must admit the same range.
	start := startOpts.Resolve(time.Now())

	sub, err := source.NewNATSSubscriber(source.SubscriberConfig{
		URL:              natsURL,
		DurableName:      cfg.NATS.DurableName,
		QueueGroup:       cfg.NATS.QueueGroup,
		SubscribersCount: cfg.NATS.SubscribersCount,
		AckWaitTimeout:   cfg.NATS.AckWaitTimeout,
		CloseTimeout:     cfg.NATS.CloseTimeout,
	}, start, logging.NewWatermillLogger())
	if err != nil {
		logging.Fatal().Err(err).Str("url", natsURL).Msg("Failed to create podping subscriber")
	}
	src := source.New(sub, source.Config{Topic: cfg.Source.Topic, Start: start})
	logging.Info().Str("topic", cfg.Source.Topic).Str("start", start.String()).Msg("Podping source configured")

	p, err := pipeline.New(pipeline.Config{
		MaxInFlight:   cfg.Pipeline.MaxInFlight,
		IdleThreshold: cfg.Storage.IdleThreshold,
		EvictInterval: cfg.Storage.EvictInterval,
	}, deps)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create pipeline")
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})

	if store != nil {
		tree.AddStorageService(outbox.NewRetrier(store, router))
	}
	tree.AddIngestService(services.NewPipelineService(p, src, cfg.Pipeline.ShutdownTimeout))

	if cfg.Server.Enabled {
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           services.NewStatusRouter(statusFunc(cfg, startedAt, pool, store)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		tree.AddAPIService(services.NewStatusService(srv, cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", cfg.Server.Addr).Msg("Status server enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	// The pipeline service already shut the pipeline down when the tree
	// stopped; this covers the case where it never ran.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Pipeline shutdown reported errors")
	}
	if err := sub.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing podping subscriber")
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing outbox")
		}
	}
	if embedded != nil {
		if err := embedded.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
		}
	}

	logging.Info().Dur("uptime", time.Since(startedAt)).Msg("hive-watcher stopped")
}

func newSink(cfg *config.Config) tracking.Sink {
	if !cfg.Tracking.Active() {
		logging.Warn().Msg("Analytics delivery disabled (MP_TOKEN not set); events are only written to disk")
		return tracking.NopSink{}
	}
	return tracking.NewMixpanelClient(tracking.MixpanelConfig{
		Token:             cfg.Tracking.Token,
		Secret:            cfg.Tracking.Secret,
		BaseURL:           cfg.Tracking.APIURL,
		BatchSize:         cfg.Tracking.BatchSize,
		Timeout:           cfg.Tracking.Timeout,
		RequestsPerSecond: cfg.Tracking.RequestsPerSecond,
		Burst:             cfg.Tracking.Burst,
		MaxRetries:        cfg.Tracking.MaxRetries,
	})
}

func statusFunc(cfg *config.Config, startedAt time.Time, pool *streampool.Pool, store *outbox.Store) services.StatusFunc {
	return func(r *http.Request) services.Status {
		st := services.Status{
			Status:      "ok",
			Version:     cfg.App.Version,
			Uptime:      time.Since(startedAt).Round(time.Second).String(),
			OpenStreams: pool.Len(),
			StreamKeys:  pool.Keys(),
		}
		if store != nil {
			if n, err := store.Count(r.Context()); err == nil {
				st.Outbox = n
			}
		}
		return st
	}
}
