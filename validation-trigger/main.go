package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/gx-hosting/internal/platform/env"
	"github.com/animus-labs/gx-hosting/internal/platform/httpserver"
	"github.com/animus-labs/gx-hosting/internal/platform/metrics"
	"github.com/animus-labs/gx-hosting/internal/platform/objectstore"
	"github.com/animus-labs/gx-hosting/internal/platform/sqldb"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("VALIDATION_HTTP_ADDR", ":8081")
	shutdownTimeout, err := env.Duration("VALIDATION_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	contextRoot := env.String("VALIDATION_CONTEXT_ROOT", ".")

	bucket, err := env.Required("GREAT_EXPECTATIONS_BUCKET_NAME")
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	configPath, err := env.Required("GREAT_EXPECTATIONS_CONFIG_PATH")
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	store, err := objectstore.NewMinioStore(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}

	sqlCfg, err := sqldb.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid datasource config", "error", err)
		os.Exit(2)
	}

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTP(reg, "validation-trigger")
	runs := metrics.NewOutcomes(reg, "validation_checkpoint_runs_total", "Checkpoint runs by result.")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("validation-trigger"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"validation-trigger",
			httpserver.ReadinessCheck{
				Name: "bucket",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return store.CheckBucket(checkCtx, bucket)
				},
			},
		),
	)
	mux.Handle("/metrics", metrics.Handler(reg))

	api := newTriggerAPI(logger, store, objectstore.Ref{Bucket: bucket, Key: configPath}, contextRoot, sqlCfg, runs)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "validation-trigger",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	logger.Info("validation trigger configured", "config", api.configRef.String(), "context_root", contextRoot)
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "validation-trigger", mux, httpMetrics)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
