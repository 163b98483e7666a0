package main

import (
	"time"

	"github.com/FranksOps/skein/internal/report"
	"github.com/FranksOps/skein/internal/storage"
	"github.com/FranksOps/skein/internal/storage/backends"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize stored crawl records",
		RunE:  runReport,
	}
	f := cmd.Flags()
	f.String("format", "text", "report format (text, json, html)")
	f.String("response-id", "", "only records of this response")
	f.String("status", "", "only records with this status (handled, failed)")
	f.Duration("since", 0, "only records newer than this, e.g. 24h")
	f.Int("limit", 0, "maximum number of records to read (0 reads all)")
	return cmd
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, _, closer, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	backend, err := backends.Open(ctx, cfg.Storage.Backend, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer backend.Close()

	filter, format := reportFilter(cmd, time.Now())
	records, err := backend.Query(ctx, filter)
	if err != nil {
		return err
	}
	return report.Write(cmd.OutOrStdout(), format, report.GenerateSummary(records))
}

func reportFilter(cmd *cobra.Command, now time.Time) (storage.Filter, string) {
	f := cmd.Flags()
	var filter storage.Filter
	filter.ResponseID, _ = f.GetString("response-id")
	filter.Status, _ = f.GetString("status")
	filter.Limit, _ = f.GetInt("limit")
	if d, _ := f.GetDuration("since"); d > 0 {
		since := now.Add(-d)
		filter.Since = &since
	}
	format, _ := f.GetString("format")
	return filter, format
}
