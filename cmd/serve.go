package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/devpulse/internal/adapters/http/api"
	app "github.com/okian/devpulse/internal/app"
	"github.com/okian/devpulse/pkg/logger"
	"github.com/okian/devpulse/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background refresh sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Root context with cancel on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	log := logger.Get()

	svc := app.New(cfg, app.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop(context.Background())

	go startServiceMetricsUpdater(ctx, svc)

	mux := http.NewServeMux()
	api.NewServer(svc, cfg.MaxLeaderboardLimit).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "server stopped")
	return nil
}

// startServiceMetricsUpdater periodically refreshes service gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	// GetStats already refreshes queue and cache gauges
	stats := svc.GetStats()

	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
}
