package main

import (
	"io"
	"log/slog"

	"github.com/FranksOps/skein/internal/config"
	"github.com/FranksOps/skein/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "skein",
		Short:         "Scatter-gather search and content extraction",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("env-file", ".env", "dotenv file loaded before the environment is read")
	pf.String("log.level", "info", "log level (debug, info, warn, error)")
	pf.String("log.format", "json", "log format (json, text)")
	pf.String("storage.backend", "none", "crawl record backend (none, sqlite, postgres, json, csv, bolt)")
	pf.String("storage.dsn", "", "backend connection string or file path")

	root.AddCommand(newServeCmd(), newSearchCmd(), newMCPCmd(), newReportCmd())
	return root
}

// setup loads the configuration for cmd and builds the process logger.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, io.Closer, error) {
	file, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(config.Options{File: file, EnvFile: envFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}
