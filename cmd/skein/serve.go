package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/FranksOps/skein/internal/metrics"
	"github.com/FranksOps/skein/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP search service",
		RunE:  runServe,
	}
	cmd.Flags().String("server.addr", ":8080", "listen address")
	cmd.Flags().String("metrics.addr", "", "serve /metrics on a separate address")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var ms *metrics.Server
	if cfg.Metrics.Addr != "" {
		ms, err = metrics.Start(cfg.Metrics.Addr, logger)
		if err != nil {
			_ = a.close(context.Background())
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("metrics listening", "addr", ms.Addr())
	}

	handler := server.New(server.Config{
		Defaults:      a.defaults,
		ServeMetrics:  ms == nil,
		OpenResponses: a.store.Len,
	}, a.dispatcher, logger.With("component", "server"))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("server listen error", "err", serveErr)
	}
	stop()

	// open responses get a final answer before connections are closed
	drained := a.store.Drain(cfg.DrainGrace)
	logger.Info("draining open responses", "count", drained, "grace", cfg.DrainGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	if err := a.close(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", "err", err)
	}
	if ms != nil {
		if err := ms.Stop(shutdownCtx); err != nil {
			logger.Error("metrics shutdown error", "err", err)
		}
	}
	logger.Info("server shutdown complete")
	return serveErr
}
