package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foundrymidi/bridge/internal/api"
	"github.com/foundrymidi/bridge/internal/catalog"
	"github.com/foundrymidi/bridge/internal/config"
	"github.com/foundrymidi/bridge/internal/dispatch"
	"github.com/foundrymidi/bridge/internal/mapping"
	"github.com/foundrymidi/bridge/internal/midi"
	"github.com/foundrymidi/bridge/internal/monitor"
	"github.com/foundrymidi/bridge/internal/observability"
	"github.com/foundrymidi/bridge/model"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if code := runDaemon(configPath(cmd)); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

func runDaemon(configPath string) int {
	// Step 1: Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 2: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "midi-rest-bridge", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	var metricsServer *http.Server
	if cfg.Observability.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Observability.Metrics.Addr, logger)
	}

	// Step 3: Open the MIDI driver.
	opener, err := midi.NewRTOpener()
	if err != nil {
		logger.Error("midi driver initialization failed", zap.Error(err))
		return 1
	}
	defer opener.Close()

	// Step 4: Build the gateway and coordinator.
	apiCfg := model.APIConfig{
		BaseURL:  cfg.API.BaseURL,
		APIKey:   cfg.API.Key,
		ClientID: cfg.API.ClientID,
		Timeout:  cfg.API.Timeout,
	}
	gateway := api.NewGateway(apiCfg, logger, api.WithGatewayMetrics(metrics))

	coordinator := dispatch.New(dispatch.Options{
		Log:            logger,
		Metrics:        metrics,
		Opener:         opener,
		Gateway:        gateway,
		Store:          mapping.NewStore(),
		MappingsPath:   cfg.MappingsFile,
		PollInterval:   cfg.MIDI.PollInterval,
		DebounceWindow: cfg.MIDI.DebounceWindow,
		EventBuffer:    cfg.MIDI.EventBuffer,
	})

	// Step 5: Load persisted mappings.
	if err := coordinator.LoadMappings(); err != nil {
		logger.Error("mapping file load failed", zap.Error(err))
		return 1
	}

	// Step 6: Probe the API when credentials are configured.
	if apiCfg.BaseURL != "" && apiCfg.APIKey != "" {
		go coordinator.Probe()
	}

	// Step 7: Connect the configured MIDI device. Failure is not fatal; the
	// device may not be plugged in yet and a monitor client can retry.
	if cfg.MIDI.Device != "" {
		if err := coordinator.ConnectDevice(cfg.MIDI.Device); err != nil {
			logger.Warn("midi device connect failed",
				zap.String("device", cfg.MIDI.Device),
				zap.Error(err),
			)
		}
	}

	// Step 8: Build the endpoint catalog.
	var cat *catalog.Catalog
	if cfg.Catalog.Source == "openapi" {
		cat, err = catalog.FromOpenAPI(ctx, cfg.Catalog.SpecFile)
		if err != nil {
			logger.Error("endpoint catalog load failed", zap.Error(err))
			return 1
		}
		logger.Info("endpoint catalog loaded",
			zap.String("spec", cfg.Catalog.SpecFile),
			zap.Int("endpoints", cat.Len()),
		)
	}

	// Step 9: Start the monitor server.
	errCh := make(chan error, 1)
	var monitorServer *monitor.Server
	if cfg.Monitor.Enabled {
		monitorServer = monitor.NewServer(monitor.Options{
			Log:         logger,
			Coordinator: coordinator,
			Gateway:     gateway,
			Catalog:     cat,
			Addr:        cfg.Monitor.Addr,
		})
		monitorServer.Start(errCh)
	}

	logger.Info("bridge started",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("device", coordinator.ConnectedDevice()),
		zap.String("api", cfg.API.BaseURL),
	)

	// Wait for a shutdown signal or a monitor server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("monitor server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if monitorServer != nil {
		if err := monitorServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("monitor shutdown error", zap.Error(err))
		}
	}

	// Stop the listener and drain in-flight dispatches.
	coordinator.Stop()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

func startMetricsServer(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", observability.HandleHealth())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}
