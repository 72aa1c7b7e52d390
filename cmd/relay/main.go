package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-relay/internal/adapter/exptech"
	"github.com/couchcryptid/quake-relay/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/quake-relay/internal/adapter/kafka"
	"github.com/couchcryptid/quake-relay/internal/adapter/ws"
	"github.com/couchcryptid/quake-relay/internal/config"
	"github.com/couchcryptid/quake-relay/internal/observability"
	"github.com/couchcryptid/quake-relay/internal/pipeline"
	"github.com/couchcryptid/quake-relay/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	store := state.NewStore(cfg.MonitoredAreas)
	client := exptech.NewClient(cfg, logger, metrics)
	stations := exptech.NewStationCache(client, cfg.StationTTL, clock, logger, metrics)
	hub := ws.NewHub(store, logger, metrics)

	// Change publishing is feature-flagged via KAFKA_BROKERS.
	var publisher pipeline.ChangePublisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger, metrics)
		publisher = writer
		logger.Info("kafka change publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka change publishing disabled")
	}

	p := pipeline.New(client, stations, store, hub, publisher, clock, pipeline.Settings{
		Interval:       cfg.PollInterval,
		HeartbeatTicks: cfg.HeartbeatTicks,
	}, logger, metrics)

	opsSrv := httpadapter.NewServer(cfg.HTTPAddr, p, logger)
	streamSrv := httpadapter.NewStreamServer(cfg.WSAddr, hub, logger)

	// Bind both listeners before the loop starts so a taken port is fatal.
	for _, srv := range []*httpadapter.Server{streamSrv, opsSrv} {
		if err := srv.Listen(); err != nil {
			logger.Error("failed to bind listener", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, srv := range []*httpadapter.Server{streamSrv, opsSrv} {
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", "addr", srv.Addr(), "error", err)
				stop()
			}
		}()
	}

	logger.Info("relay started",
		"stream_addr", streamSrv.Addr(),
		"http_addr", opsSrv.Addr(),
		"areas", store.Len(),
	)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := p.Run(ctx); err != nil {
			logger.Error("poll loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		logger.Warn("poll loop did not stop before shutdown deadline")
	}

	hub.Close()
	if err := streamSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("stream server shutdown error", "error", err)
	}
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
