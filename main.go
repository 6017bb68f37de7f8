package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"bikeprice/config"
	"bikeprice/db"
	qhttp "bikeprice/http"
	"bikeprice/logging"
	"bikeprice/ml"
	"bikeprice/monitoring"
	"bikeprice/predictor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the prediction form and JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	root := &cobra.Command{
		Use:          "bikeprice",
		Short:        "Used-bike price prediction service",
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config.yaml or $"+config.ConfigPathEnvVar+")")
	root.AddCommand(serveCmd)
	return root
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	var (
		history qhttp.HistoryReader
		records predictor.HistoryStore
	)
	if cfg.Database.Enabled {
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer store.Close()
		history, records = store, store
		logger.Info("database initialized", zap.String("path", cfg.Database.Path))
	}

	heuristics := ml.DefaultHeuristics()
	if cfg.Model.HeuristicsPath != "" {
		heuristics, err = ml.LoadHeuristics(cfg.Model.HeuristicsPath)
		if err != nil {
			return fmt.Errorf("load heuristics: %w", err)
		}
	}

	hub := monitoring.NewWebSocketHub(logger, cfg.Server.CORSOrigins)
	pred := predictor.New(predictor.Options{
		ModelPath:  cfg.Model.Path,
		Heuristics: heuristics,
		Store:      records,
		Publisher:  hub,
		Logger:     logger,
		CacheSize:  cfg.Cache.Size,
		CacheTTL:   cfg.Cache.TTL,
	})
	// a missing model is reported by /health; the server still starts
	_ = pred.Reload()

	server := qhttp.NewServer(serverConfig(cfg.Server), qhttp.Dependencies{
		Predictor: pred,
		History:   history,
		Hub:       hub,
		Logger:    logger,
	})

	sup := suture.New("bikeprice", suture.Spec{
		EventHook: supervisorEventHook(logger),
		Timeout:   cfg.Server.ShutdownTimeout,
	})
	sup.Add(hub)
	sup.Add(server)
	if cfg.Model.Watch {
		if err := os.MkdirAll(filepath.Dir(cfg.Model.Path), 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
		sup.Add(predictor.NewWatcher(pred, logger))
	}

	logger.Info("bikeprice starting",
		zap.Int("port", cfg.Server.Port),
		zap.String("model", cfg.Model.Path),
		zap.Bool("watch", cfg.Model.Watch))

	err = sup.Serve(ctx)
	if ctx.Err() != nil {
		logger.Info("shutdown complete")
		return nil
	}
	return err
}

func serverConfig(c config.ServerConfig) qhttp.ServerConfig {
	return qhttp.ServerConfig{
		Port:            c.Port,
		Timeout:         c.Timeout,
		ShutdownTimeout: c.ShutdownTimeout,
		MaxBodyBytes:    c.MaxBodyBytes,
		AllowedOrigins:  c.CORSOrigins,
		RateLimit:       c.RateLimit,
		RateLimitWindow: c.RateLimitWindow,
		Locale:          c.Locale,
		Currency:        c.Currency,
	}
}

func supervisorEventHook(logger *zap.Logger) suture.EventHook {
	sl := logger.Named("supervisor")
	return func(e suture.Event) {
		sl.Warn(e.String(), zap.Any("event", e.Map()))
	}
}
