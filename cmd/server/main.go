package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/skypro1111/udp-quote-service/internal/catalog"
	"github.com/skypro1111/udp-quote-service/internal/config"
	"github.com/skypro1111/udp-quote-service/internal/logging"
	"github.com/skypro1111/udp-quote-service/internal/metrics"
	"github.com/skypro1111/udp-quote-service/internal/monitor"
	"github.com/skypro1111/udp-quote-service/internal/server"
	"github.com/skypro1111/udp-quote-service/internal/session"
	"github.com/skypro1111/udp-quote-service/internal/tracing"
	"github.com/skypro1111/udp-quote-service/internal/worker"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "server <ipv4|ipv6> <port>",
		Short: "Serve movie quotes over UDP",
		Long: `Listens for item selections on a UDP port and streams the chosen
item's quotes back to each client, pacing them at a fixed interval.
The number of clients being served is printed periodically.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, args[0], args[1])
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(configPath, ipVersion, port string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyArgs(ipVersion, port); err != nil {
		return err
	}

	logger := logging.New(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", server.ServiceName),
		slog.String("version", server.ServiceVersion),
		slog.String("config_path", configPath),
	)

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("ip_version", cfg.Server.IPVersion),
		slog.Int("port", cfg.Server.Port),
		slog.Int("max_concurrent_sessions", cfg.Server.MaxConcurrentSessions),
		slog.Duration("pacing_interval", cfg.Session.GetPacingInterval()),
		slog.Duration("report_interval", cfg.Reporter.GetInterval()),
		slog.Int("catalog_items", cat.Len()),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	var tracerProvider trace.TracerProvider
	if cfg.Tracing.Enabled {
		tp, err := tracing.New(cfg.Tracing, server.ServiceName, server.ServiceVersion)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error flushing spans", slog.String("error", err.Error()))
			}
		}()

		otel.SetTracerProvider(tp)
		tracerProvider = tp
		logger.Info("Tracing enabled",
			slog.String("output", cfg.Tracing.Output),
			slog.Float64("sample_ratio", cfg.Tracing.SampleRatio),
		)
	}

	manager := session.NewManager(logger, appMetrics)
	handler := session.NewHandler(cat, manager, session.HandlerConfig{
		PacingInterval: cfg.Session.GetPacingInterval(),
		TracerProvider: tracerProvider,
	}, logger, appMetrics)

	pool := worker.NewPool(cfg.Server.MaxConcurrentSessions, logger)
	pool.OnBacklogChange = appMetrics.SetBacklogDepth

	udpServer := server.NewUDPServer(&cfg.Server, logger, handler, pool, appMetrics, manager.Snapshot)
	if err := udpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start UDP server: %w", err)
	}

	hub := monitor.NewHub(logger)
	reporter := monitor.NewReporter(manager, cfg.Reporter.GetInterval(), os.Stdout, logger, hub)
	go reporter.Run(ctx)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, manager, udpServer, cat, hub, appMetrics, prometheus.DefaultGatherer)
		if err := httpServer.Start(); err != nil {
			udpServer.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.Addr().String()),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	cancel()

	var shutdownErr error
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
			shutdownErr = err
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
		shutdownErr = err
	}

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("selections_accepted", stats.SelectionsAccepted),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("sessions_started", manager.TotalStarted()),
	)

	logger.Info("Service stopped")
	return shutdownErr
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}
