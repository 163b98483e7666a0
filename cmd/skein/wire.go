package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FranksOps/skein/internal/aggregate"
	"github.com/FranksOps/skein/internal/config"
	"github.com/FranksOps/skein/internal/extract"
	"github.com/FranksOps/skein/internal/fingerprint"
	"github.com/FranksOps/skein/internal/pipeline"
	"github.com/FranksOps/skein/internal/scraper"
	"github.com/FranksOps/skein/internal/serp"
	"github.com/FranksOps/skein/internal/storage"
	"github.com/FranksOps/skein/internal/storage/backends"
	"github.com/FranksOps/skein/internal/worker"
	"github.com/FranksOps/skein/pkg/proxy"
	"github.com/FranksOps/skein/pkg/ratelimit"
	"github.com/FranksOps/skein/pkg/useragent"
)

// app is the composition root shared by serve and search.
type app struct {
	store      *aggregate.Store
	backend    storage.Backend
	dispatcher *pipeline.Dispatcher
	defaults   pipeline.Request
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	defaults, err := requestDefaults(cfg.Request)
	if err != nil {
		return nil, err
	}

	pc, err := pipelineConfig(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := backends.Open(ctx, cfg.Storage.Backend, cfg.Storage.DSN)
	if err != nil {
		if pc.SearchEngine != nil {
			pc.SearchEngine.Close()
		}
		return nil, err
	}

	store := aggregate.NewStore(logger.With("component", "aggregate"))
	d, err := pipeline.New(pc, store, backend, logger.With("component", "pipeline"))
	if err != nil {
		backend.Close()
		return nil, err
	}
	return &app{store: store, backend: backend, dispatcher: d, defaults: defaults}, nil
}

// close releases the dispatcher and then the backend the workers write to.
func (a *app) close(ctx context.Context) error {
	err := a.dispatcher.Close(ctx)
	if cerr := a.backend.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func requestDefaults(rc config.RequestConfig) (pipeline.Request, error) {
	req := pipeline.DefaultRequest()
	req.MaxResults = rc.MaxResults
	req.Timeout = rc.Timeout
	req.Crawler.ScrapingTool = pipeline.ScrapingTool(rc.ScrapingTool)
	req.Crawler.MaxRequestRetries = rc.MaxRetries
	req.Crawler.DynamicContentWait = rc.DynamicWait

	formats, err := extract.ParseFormats(rc.OutputFormats)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("request.output_formats: %w", err)
	}
	if len(formats) > 0 {
		req.Extract.OutputFormats = formats
	}
	return req, nil
}

func pipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	profile, err := fingerprint.ParseProfile(cfg.Fetch.Fingerprint)
	if err != nil {
		return pipeline.Config{}, err
	}

	proxies, err := loadProxies("content", cfg.Fetch.ProxiesFile, cfg.Fetch)
	if err != nil {
		return pipeline.Config{}, err
	}
	searchProxies, err := loadProxies("search", cfg.Search.ProxiesFile, cfg.Fetch)
	if err != nil {
		return pipeline.Config{}, err
	}

	var agents *useragent.Pool
	if cfg.Fetch.UserAgentsFile != "" {
		agents, err = useragent.Load(cfg.Fetch.UserAgentsFile)
		if err != nil {
			return pipeline.Config{}, err
		}
	}

	limiter := ratelimit.NewLimiter(cfg.Fetch.RPS, cfg.Fetch.Jitter)
	fetch := scraper.FetchConfig{
		Timeout:      cfg.Fetch.Timeout,
		UseCookieJar: cfg.Fetch.UseCookieJar,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		ProxyPool:    proxies,
		UAPool:       agents,
		Fingerprint:  profile,
		Limiter:      limiter,
	}

	// Search pages go through their own pool so a blocked search proxy
	// never takes content fetches down with it.
	var searchEngine scraper.Engine
	if searchProxies != nil {
		sf := fetch
		sf.ProxyPool = searchProxies
		searchEngine, err = scraper.NewFetcher(sf)
		if err != nil {
			return pipeline.Config{}, fmt.Errorf("search engine: %w", err)
		}
	}

	return pipeline.Config{
		Worker: worker.Config{
			Concurrency:   cfg.Worker.Concurrency,
			QueueSize:     cfg.Worker.QueueSize,
			RetryBackoff:  cfg.Worker.RetryBackoff,
			RespectRobots: cfg.Fetch.RespectRobots,
		},
		Fetch: fetch,
		Browser: scraper.BrowserConfig{
			ExecPath:  cfg.Fetch.ChromePath,
			ProxyPool: proxies,
			UAPool:    agents,
			Limiter:   limiter,
		},
		Google: serp.GoogleConfig{
			BaseURL:      cfg.Search.BaseURL,
			CountryCode:  cfg.Search.CountryCode,
			LanguageCode: cfg.Search.LanguageCode,
		},
		ResultsPerPage: cfg.Search.ResultsPerPage,
		SearchEngine:   searchEngine,
	}, nil
}

// loadProxies returns nil when no file is configured.
func loadProxies(name, path string, fc config.FetchConfig) (*proxy.Pool, error) {
	if path == "" {
		return nil, nil
	}
	pool := proxy.NewPool(proxy.Config{Name: name, MaxStrikes: fc.ProxyStrikes, Cooldown: fc.ProxyCooldown})
	if err := pool.LoadFile(path); err != nil {
		return nil, fmt.Errorf("load %s proxies: %w", name, err)
	}
	return pool, nil
}
