// Package pipeline accepts search requests, resolves them into content
// sub-tasks and gathers the results through the aggregate store.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/skein/internal/aggregate"
	"github.com/FranksOps/skein/internal/scraper"
	"github.com/FranksOps/skein/internal/serp"
	"github.com/FranksOps/skein/internal/storage"
	"github.com/FranksOps/skein/internal/task"
	"github.com/FranksOps/skein/internal/worker"
	"github.com/google/uuid"
)

// ErrNoResults rejects a search whose listing yielded nothing to fetch.
var ErrNoResults = errors.New("no results found for the query")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// Config wires a Dispatcher.
type Config struct {
	// Worker is the base configuration of every content queue. MaxRetries is
	// taken from each request.
	Worker worker.Config
	// Fetch and Browser are the base engine configurations. Dynamic waits
	// are taken from each request; request timeouts bound each task.
	Fetch   scraper.FetchConfig
	Browser scraper.BrowserConfig
	// Google configures the listing source. Country and language codes of a
	// request override the ones set here.
	Google         serp.GoogleConfig
	ResultsPerPage int
	Classifier     serp.Classifier

	// SearchEngine fetches listing pages. Nil creates an HTTP engine from
	// Fetch.
	SearchEngine scraper.Engine
	// Source overrides the listing source, mostly for tests.
	Source func(SearchSettings) serp.PageSource
	// NewEngine overrides how content engines are created, mostly for tests.
	NewEngine func(CrawlerSettings) (scraper.Engine, error)
}

// Dispatcher is the entry point of the search pipeline. It owns one worker
// queue per distinct CrawlerSettings and reports through a shared
// aggregate.Store.
type Dispatcher struct {
	cfg     Config
	store   *aggregate.Store
	backend storage.Backend
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	queues map[string]*worker.Queue
}

// New creates a Dispatcher reporting into store and saving records to
// backend.
func New(cfg Config, store *aggregate.Store, backend storage.Backend, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = serp.ResultsPerPage
	}
	if cfg.SearchEngine == nil && cfg.Source == nil {
		engine, err := scraper.NewFetcher(cfg.Fetch)
		if err != nil {
			return nil, fmt.Errorf("create search engine: %w", err)
		}
		cfg.SearchEngine = engine
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		store:   store,
		backend: backend,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string]*worker.Queue),
	}, nil
}

// Handle runs req to completion and returns the rank ordered outputs.
// Canceling ctx stops the wait but not the response, which still ends at its
// own deadline.
func (d *Dispatcher) Handle(ctx context.Context, req Request) ([]aggregate.Output, error) {
	p, err := d.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Submit validates req, opens its response and starts resolving it in the
// background.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (*aggregate.Pending, error) {
	received := time.Now()
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	q, err := d.queue(req.Crawler)
	if err != nil {
		return nil, err
	}

	responseID := uuid.NewString()
	p, err := d.store.Open(responseID, req.Timeout)
	if err != nil {
		return nil, fmt.Errorf("open response: %w", err)
	}

	timeline := task.NewTimeline()
	timeline.AddAt(task.EventRequestReceived, received)

	d.logger.Info("request accepted",
		"response_id", responseID,
		"query", req.Query,
		"max_results", req.MaxResults,
		"timeout", req.Timeout,
		"scraping_tool", req.Crawler.ScrapingTool,
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatch(responseID, req, q, timeline)
	}()
	return p, nil
}

func (d *Dispatcher) dispatch(responseID string, req Request, q *worker.Queue, timeline *task.Timeline) {
	ctx, cancel := context.WithTimeout(d.ctx, req.Timeout)
	defer cancel()

	var tasks []*task.Task
	if target, ok := task.InterpretAsURL(req.Query); ok {
		tasks = []*task.Task{task.New(target, responseID, req.Query, nil, req.Extract, timeline)}
	} else {
		timeline.Add(task.EventSearchStart)
		results, err := d.paginator(req.Search).Collect(ctx, req.Query, req.MaxResults)
		timeline.Add(task.EventSearchDone)
		if err != nil {
			d.logger.Warn("search failed", "response_id", responseID, "query", req.Query, "err", err)
			d.store.Cancel(responseID, fmt.Errorf("search failed: %w", err))
			return
		}
		if len(results) == 0 {
			d.store.Cancel(responseID, ErrNoResults)
			return
		}
		tasks = task.FromResults(results, responseID, req.Query, req.Extract, timeline)
	}

	// every entry exists before any worker can report on it
	registered := tasks[:0]
	for _, t := range tasks {
		t.Debug = req.Debug
		t.Timeout = req.Crawler.RequestTimeout
		if d.store.Register(t) {
			registered = append(registered, t)
		}
	}
	for _, t := range registered {
		if err := q.Enqueue(ctx, t); err != nil {
			d.logger.Warn("enqueue failed", "response_id", responseID, "task_id", t.ID, "err", err)
			d.store.Fail(responseID, t.ID, aggregate.Output{
				Crawl: aggregate.Crawl{HTTPStatusCode: 500, HTTPStatusMessage: err.Error()},
			})
		}
	}
	d.logger.Debug("sub-tasks dispatched", "response_id", responseID, "count", len(registered))
}

func (d *Dispatcher) paginator(s SearchSettings) *serp.Paginator {
	var source serp.PageSource
	if d.cfg.Source != nil {
		source = d.cfg.Source(s)
	} else {
		g := d.cfg.Google
		if s.CountryCode != "" {
			g.CountryCode = s.CountryCode
		}
		if s.LanguageCode != "" {
			g.LanguageCode = s.LanguageCode
		}
		source = serp.NewGoogleScrape(d.cfg.SearchEngine, g)
	}
	return serp.NewPaginator(source, serp.PaginatorConfig{
		PerPage:    d.cfg.ResultsPerPage,
		Classifier: d.cfg.Classifier,
	}, d.logger)
}

// QueueKey is the canonical serialization of s used to share worker queues.
// RequestTimeout is left out; it travels with each task instead.
func QueueKey(s CrawlerSettings) string {
	s.RequestTimeout = 0
	b, _ := json.Marshal(s)
	return string(b)
}

func (d *Dispatcher) queue(s CrawlerSettings) (*worker.Queue, error) {
	key := QueueKey(s)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	if q, ok := d.queues[key]; ok {
		d.mu.Unlock()
		return q, nil
	}
	d.mu.Unlock()

	// built without d.mu; a concurrent build for the same key may win
	engine, err := d.newEngine(s)
	if err != nil {
		return nil, fmt.Errorf("create %s engine: %w", s.ScrapingTool, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		_ = engine.Close()
		return nil, ErrClosed
	}
	if q, ok := d.queues[key]; ok {
		_ = engine.Close()
		return q, nil
	}

	wc := d.cfg.Worker
	wc.MaxRetries = s.MaxRequestRetries
	q := worker.New(wc, engine, d.store, d.backend, d.logger.With("queue", key))
	d.queues[key] = q

	d.logger.Info("worker queue created", "key", key, "engine", engine.Name())
	return q, nil
}

func (d *Dispatcher) newEngine(s CrawlerSettings) (scraper.Engine, error) {
	if d.cfg.NewEngine != nil {
		return d.cfg.NewEngine(s)
	}
	if s.ScrapingTool == ToolBrowser {
		bc := d.cfg.Browser
		bc.DynamicWait = s.DynamicContentWait
		return scraper.NewBrowser(bc), nil
	}
	return scraper.NewFetcher(d.cfg.Fetch)
}

// Queues returns the number of live worker queues.
func (d *Dispatcher) Queues() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Close stops accepting requests, lets running dispatches and worker queues
// wind down within ctx, then releases the engines.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	queues := make([]*worker.Queue, 0, len(d.queues))
	for _, q := range d.queues {
		queues = append(queues, q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}

	var errs []error
	for _, q := range queues {
		if err := q.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.cancel()
	if d.cfg.SearchEngine != nil {
		if err := d.cfg.SearchEngine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
