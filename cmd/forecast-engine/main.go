package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-forecast/internal/api"
	"github.com/miradorstack/mirador-forecast/internal/cache"
	"github.com/miradorstack/mirador-forecast/internal/config"
	"github.com/miradorstack/mirador-forecast/internal/metrics"
	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/services"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

var (
	configPath string
	outputPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forecast-engine",
		Short: "Per-entity energy demand forecasting",
		Long: `Simulates daily demand and temperature for a set of entities, fits one
model per entity and forecasts demand with uncertainty bounds.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd executes a single forecasting run and prints a summary.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forecast batch and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)

			provider := newCacheProvider(cfg.Cache, logger)
			defer provider.Close()

			settings, err := services.SettingsFromConfig(cfg)
			if err != nil {
				return err
			}
			service := services.NewForecastService(logger, settings, nil, provider)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := service.Run(ctx)
			if err != nil {
				return fmt.Errorf("forecast run aborted: %w", err)
			}

			if outputPath != "" {
				if err := writeReport(outputPath, report); err != nil {
					return err
				}
				logger.Info("report written", slog.String("path", outputPath))
			}
			return writeSummary(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the full report as JSON to this file")
	return cmd
}

// serveCmd reruns the batch on an interval and exposes health and metrics.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run forecasts on a schedule with gRPC health and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
			logger.Info("starting mirador-forecast", slog.String("address", cfg.Server.Address))

			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}

			provider := newCacheProvider(cfg.Cache, logger)
			defer provider.Close()

			settings, err := services.SettingsFromConfig(cfg)
			if err != nil {
				return err
			}
			service := services.NewForecastService(logger, settings, nil, provider)

			server, err := api.NewServer(cfg.Server)
			if err != nil {
				return fmt.Errorf("failed to create gRPC server: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

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
					logger.Error("gRPC server exited", slog.Any("error", serveErr))
					stop()
				}
			}()

			runSchedule(ctx, logger, service, server, settings.Seed, cfg.Server.RunInterval)
			logger.Info("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
			defer cancel()
			server.Shutdown(shutdownCtx)

			if metricsServer != nil {
				if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Warn("metrics server shutdown", slog.Any("error", err))
				}
			}
			logger.Info("mirador-forecast stopped")
			return nil
		},
	}
}

type runner interface {
	RunSeed(ctx context.Context, seed uint64) (models.Report, error)
}

type healthSetter interface {
	SetServing(serving bool)
}

// runSchedule runs immediately and then every interval until ctx is done. Each
// run advances the seed by one so consecutive reports are distinct draws.
func runSchedule(ctx context.Context, logger *slog.Logger, svc runner, health healthSetter, baseSeed uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for run := uint64(0); ; run++ {
		seed := baseSeed + run
		report, err := svc.RunSeed(ctx, seed)
		switch {
		case err != nil:
			logger.Error("scheduled run aborted", slog.Uint64("seed", seed), slog.Any("error", err))
			health.SetServing(false)
		case ctx.Err() == nil:
			logger.Info("scheduled run finished",
				slog.Uint64("seed", seed),
				slog.String("run_id", report.RunID),
				slog.Int("failed", len(report.Failures)),
			)
			health.SetServing(true)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// newCacheProvider picks Redis, the in-process cache or none. An unreachable
// Redis degrades to no caching.
func newCacheProvider(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	if cfg.Addr == cache.MemoryAddr {
		return cache.NewMemoryProvider()
	}
	provider, err := cache.NewRedisProvider(cache.RedisConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
		Prefix:       cfg.KeyPrefix,
	})
	if err != nil {
		logger.Warn("redis cache unavailable", slog.Any("error", err))
		return cache.NoopProvider{}
	}
	return provider
}
