package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sagarc03/splice"
	"github.com/sagarc03/splice/config"
	splicehttp "github.com/sagarc03/splice/http"
	"github.com/sagarc03/splice/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the splice HTTP server.

On start the server finalizes every upload whose chunks are all present
(finalize.resume_on_start), then periodically removes uploads that stopped
receiving chunks longer than cleanup.max_age ago.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 5708, "HTTP server port")
	serveCmd.Flags().String("finalize-mode", "", "deferred or inline (default: deferred)")
	serveCmd.Flags().Int("workers", 0, "concurrent background finalizations (default: 4)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromContext(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var observer splice.Observer
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		m := metrics.New()
		observer = m
		metricsHandler = m.Handler()
	}

	service, cleanup, err := newService(ctx, cfg, false, observer)
	if err != nil {
		return err
	}
	defer cleanup()

	handler := splicehttp.NewHandler(&splicehttp.HandlerConfig{
		MaxChunkSize: cfg.Server.MaxChunkSize,
		CORS:         cfg.CORS,
		Metrics:      metricsHandler,
	}, service)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 20 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		slog.Info("starting server", "addr", addr, "finalize", cfg.Finalize.Mode, "storage", cfg.Storage.Backend)
		err := server.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		if err := service.Close(shutdownCtx); err != nil {
			slog.Warn("finalize work abandoned at shutdown", "err", err)
		}
		return nil
	})

	if cfg.Finalize.ResumeOnStart {
		eg.Go(func() error {
			if _, err := service.Resume(ctx); err != nil && ctx.Err() == nil {
				slog.Error("resume failed", "err", err)
			}
			return nil
		})
	}

	if cfg.Cleanup.Interval > 0 {
		eg.Go(func() error {
			runSweeper(ctx, service, cfg.Cleanup)
			return nil
		})
	}

	return eg.Wait()
}

// runSweeper removes abandoned uploads every interval until ctx ends.
func runSweeper(ctx context.Context, service *splice.SpliceService, cfg config.CleanupConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := service.Sweep(ctx, cfg.MaxAge)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("sweep failed", "err", err)
				}
				continue
			}
			if swept > 0 {
				slog.Info("swept abandoned uploads", "count", swept)
			}
		}
	}
}
