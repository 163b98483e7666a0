package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"strings"
	"syscall"

	"github.com/FranksOps/skein/internal/extract"
	"github.com/FranksOps/skein/internal/pipeline"
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query or url>",
		Short: "Run one request and print the results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	f := cmd.Flags()
	f.Int("max-results", 0, "number of results to fetch (0 uses the configured default)")
	f.String("format", "", "output formats, e.g. text,markdown")
	f.Duration("timeout", 0, "overall request timeout (0 uses the configured default)")
	f.String("tool", "", "scraping tool (raw-http, browser-playwright)")
	f.String("transformer", "", "HTML transformer (none, readableText, trafilatura)")
	f.String("country", "", "results country code")
	f.String("language", "", "results language code")
	f.Bool("debug", false, "include timeline measures")
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
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
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = a.close(closeCtx)
	}()

	req, err := searchRequest(cmd, a.defaults, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out, err := a.dispatcher.Handle(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func searchRequest(cmd *cobra.Command, defaults pipeline.Request, query string) (pipeline.Request, error) {
	f := cmd.Flags()
	req := defaults
	req.Query = query

	if n, _ := f.GetInt("max-results"); n > 0 {
		req.MaxResults = n
	}
	if d, _ := f.GetDuration("timeout"); d > 0 {
		req.Timeout = d
	}
	if s, _ := f.GetString("format"); s != "" {
		formats, err := extract.ParseFormats(s)
		if err != nil {
			return pipeline.Request{}, err
		}
		req.Extract.OutputFormats = formats
	}
	if s, _ := f.GetString("tool"); s != "" {
		req.Crawler.ScrapingTool = pipeline.ScrapingTool(s)
	}
	if s, _ := f.GetString("transformer"); s != "" {
		req.Extract.HTMLTransformer = extract.Transformer(s)
	}
	if s, _ := f.GetString("country"); s != "" {
		req.Search.CountryCode = s
	}
	if s, _ := f.GetString("language"); s != "" {
		req.Search.LanguageCode = s
	}
	req.Debug, _ = f.GetBool("debug")
	return req, nil
}
