package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/FranksOps/skein/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the search tool over the Model Context Protocol on stdin and stdout",
		RunE:  runMCP,
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
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

	srv := mcp.New(mcp.Config{Defaults: a.defaults}, a.dispatcher, logger.With("component", "mcp"))
	logger.Info("mcp server ready on stdio")
	serveErr := srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	if errors.Is(serveErr, context.Canceled) {
		serveErr = nil
	}

	a.store.Drain(cfg.DrainGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.close(shutdownCtx); err != nil {
		logger.Error("pipeline shutdown error", "err", err)
	}
	logger.Info("mcp server stopped")
	return serveErr
}
