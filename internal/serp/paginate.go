package serp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/FranksOps/skein/internal/metrics"
)

// ResultsPerPage is the nominal number of organic results on one listing page.
const ResultsPerPage = 10

// State is carried from one listing page to the next during a single search.
type State struct {
	Collected   []Result
	CurrentPage int
	PageBudget  int
	Suggested   bool
}

// NewState returns the initial pagination state for a search aiming at target
// results. The budget carries one extra page to make up for short pages.
func NewState(target, perPage int) State {
	if perPage <= 0 {
		perPage = ResultsPerPage
	}
	return State{PageBudget: (target+perPage-1)/perPage + 1}
}

// Step is the outcome of folding one page into a State.
type Step struct {
	// Results is the final ranked list. Only set when Continue is false.
	Results    []Result
	Continue   bool
	NextOffset int
	State      State
}

// Advance merges a parsed page into state and decides whether another page is
// needed. It is pure; all I/O lives in Paginator.
func Advance(state State, page *Page, target, perPage int) Step {
	if perPage <= 0 {
		perPage = ResultsPerPage
	}

	next := state
	merged := make([]Result, 0, len(state.Collected)+len(page.Results))
	merged = append(merged, state.Collected...)
	merged = append(merged, page.Results...)
	next.Collected = Dedup(merged)
	if state.CurrentPage == 0 && page.Suggested {
		next.Suggested = true
	}

	more := len(next.Collected) < target &&
		state.CurrentPage+1 < state.PageBudget &&
		page.RawCount > 0
	if more {
		next.CurrentPage = state.CurrentPage + 1
		return Step{Continue: true, NextOffset: next.CurrentPage * perPage, State: next}
	}
	return Step{Results: finish(next, target), State: next}
}

func finish(state State, target int) []Result {
	results := state.Collected
	if len(results) > target {
		results = results[:target]
	}
	out := make([]Result, len(results))
	for i, r := range results {
		r.Rank = i + 1
		if state.Suggested {
			r.Type = ResultSuggested
		} else if r.Type == "" {
			r.Type = ResultOrganic
		}
		out[i] = r
	}
	return out
}

// PageSource retrieves the raw body of one listing page.
type PageSource interface {
	FetchPage(ctx context.Context, query string, offset, perPage int) ([]byte, error)
}

// PaginatorConfig tunes a Paginator.
type PaginatorConfig struct {
	PerPage    int
	Classifier Classifier
}

// Paginator drives a PageSource until enough results are collected, the page
// budget is spent, or the source runs dry.
type Paginator struct {
	source PageSource
	cfg    PaginatorConfig
	logger *slog.Logger
}

// NewPaginator creates a Paginator reading pages from source.
func NewPaginator(source PageSource, cfg PaginatorConfig, logger *slog.Logger) *Paginator {
	if cfg.PerPage <= 0 {
		cfg.PerPage = ResultsPerPage
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NoResultsBanner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{source: source, cfg: cfg, logger: logger}
}

// NextPage fetches and folds the page that state points at.
func (p *Paginator) NextPage(ctx context.Context, query string, state State, target int) (Step, error) {
	offset := state.CurrentPage * p.cfg.PerPage
	body, err := p.source.FetchPage(ctx, query, offset, p.cfg.PerPage)
	if err != nil {
		metrics.SERPPages.WithLabelValues("error").Inc()
		return Step{}, fmt.Errorf("fetch results page %d: %w", state.CurrentPage, err)
	}

	page, err := ParsePage(body, p.cfg.Classifier)
	if err != nil {
		metrics.SERPPages.WithLabelValues("error").Inc()
		return Step{}, err
	}

	outcome := "ok"
	if page.RawCount == 0 {
		outcome = "exhausted"
	}
	metrics.SERPPages.WithLabelValues(outcome).Inc()

	p.logger.Debug("results page parsed",
		"query", query,
		"page", state.CurrentPage,
		"offset", offset,
		"raw", page.RawCount,
		"valid", len(page.Results),
		"suggested", page.Suggested,
	)
	return Advance(state, page, target, p.cfg.PerPage), nil
}

// Collect runs the pagination loop to completion and returns up to target
// ranked results. A failure on a later page keeps what earlier pages gave.
func (p *Paginator) Collect(ctx context.Context, query string, target int) ([]Result, error) {
	state := NewState(target, p.cfg.PerPage)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step, err := p.NextPage(ctx, query, state, target)
		if err != nil {
			if state.CurrentPage == 0 || len(state.Collected) == 0 {
				return nil, err
			}
			p.logger.Warn("results page failed, keeping earlier pages", "query", query, "page", state.CurrentPage, "err", err)
			return finish(state, target), nil
		}
		if !step.Continue {
			return step.Results, nil
		}
		state = step.State
	}
}
