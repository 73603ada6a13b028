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
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("DOCS_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("DOCS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	bucket := env.String("DOCS_BUCKET_NAME", "pydata-demo")
	prefix := env.String("DOCS_PREFIX", "default_data_docs_site")

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

	reg := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTP(reg, "docs-site")
	fetches := metrics.NewOutcomes(reg, "docs_site_fetch_total", "Documentation asset fetches by outcome.")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz("docs-site"))
	mux.HandleFunc(
		"GET /readyz",
		httpserver.ReadyzWithChecks(
			"docs-site",
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
	mux.Handle("GET /metrics", metrics.Handler(reg))

	api := newDocsAPI(logger, store, bucket, prefix, fetches)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "docs-site",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	logger.Info("serving data docs", "bucket", bucket, "prefix", prefix, "endpoint", storeCfg.Endpoint)
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "docs-site", mux, httpMetrics)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
