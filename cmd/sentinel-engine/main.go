package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelstack/sentinel-engine/internal/api"
	"github.com/sentinelstack/sentinel-engine/internal/archive"
	"github.com/sentinelstack/sentinel-engine/internal/bus"
	"github.com/sentinelstack/sentinel-engine/internal/cache"
	"github.com/sentinelstack/sentinel-engine/internal/config"
	"github.com/sentinelstack/sentinel-engine/internal/detector"
	"github.com/sentinelstack/sentinel-engine/internal/engine"
	"github.com/sentinelstack/sentinel-engine/internal/metrics"
	"github.com/sentinelstack/sentinel-engine/internal/orchestrator"
	"github.com/sentinelstack/sentinel-engine/internal/providers"
	"github.com/sentinelstack/sentinel-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting sentinel-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	proj, err := detector.LoadProjection(cfg.Detector.ProjectionPath)
	if err != nil {
		logger.Error("failed to load projection artifact",
			slog.String("path", cfg.Detector.ProjectionPath), slog.Any("error", err))
		os.Exit(1)
	}
	mode, err := detector.ParseScoreMode(cfg.Pipeline.ScoreMode)
	if err != nil {
		logger.Error("invalid score mode", slog.Any("error", err))
		os.Exit(1)
	}
	det := detector.New(proj, mode)

	var (
		lease engine.Lease
		sinks []engine.ReportSink
	)
	if cfg.Cache.Enabled {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Password:     cfg.Cache.Password,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			lease = cache.NewDiagnosisLease(logger, provider, cfg.Cache.LeaseTTL)
			sinks = append(sinks, cache.NewReportCache(provider, cfg.Cache.ReportTTL))
			defer provider.Close()
		}
	}

	var reports api.ReportReader
	if cfg.Archive.Path != "" {
		store, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			logger.Error("failed to open report archive", slog.String("path", cfg.Archive.Path), slog.Any("error", err))
			os.Exit(1)
		}
		defer store.Close()
		sinks = append(sinks, store)
		reports = store
	}

	diagProviders := make([]orchestrator.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := providers.NewHTTP(providers.Options{
			Label:     pc.Label,
			BaseURL:   pc.BaseURL,
			Path:      pc.Path,
			AuthToken: pc.AuthToken,
			Timeout:   pc.Timeout,
		})
		if err != nil {
			logger.Error("failed to configure provider", slog.Any("error", err))
			os.Exit(1)
		}
		diagProviders = append(diagProviders, p)
	}
	dispatcher := orchestrator.New(logger, diagProviders, cfg.Diagnosis.GlobalTimeout)

	publisher := bus.NewPublisher(logger, cfg.Events.BufferSize)
	defer publisher.Close()

	var kafkaSink *bus.KafkaSink
	if cfg.Kafka.Enabled {
		kafkaSink = bus.NewKafkaSink(logger, publisher, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaSink.Close()
	}

	pipeline, err := engine.NewPipeline(logger, det, publisher, dispatcher, engine.Config{
		WindowCapacity: cfg.Pipeline.WindowCapacity,
		Decimation:     cfg.Pipeline.Decimation,
		Trigger: engine.TriggerConfig{
			ConsecutiveThreshold: cfg.Pipeline.ConsecutiveThreshold,
			MinInterval:          cfg.Pipeline.MinTriggerInterval,
		},
		Alpha: cfg.Pipeline.Alpha,
	}, sinks, lease)
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	handlers := api.NewHandlers(logger, pipeline, reports, publisher)
	server, err := api.NewServer(cfg.Server, logger, handlers)
	if err != nil {
		logger.Error("failed to create http server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline.Start(ctx)
	defer pipeline.Stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging.
	time.Sleep(100 * time.Millisecond)
	logger.Info("sentinel-engine stopped")
}
