package serp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/FranksOps/skein/internal/scraper"
)

// DefaultGoogleURL is the Google web search endpoint.
const DefaultGoogleURL = "https://www.google.com/search"

// GoogleConfig configures GoogleScrape.
type GoogleConfig struct {
	// BaseURL overrides the search endpoint, mostly for tests.
	BaseURL      string
	CountryCode  string
	LanguageCode string
}

// GoogleScrape is a PageSource that scrapes Google result pages through an
// anti-detection aware fetch engine.
type GoogleScrape struct {
	engine scraper.Engine
	cfg    GoogleConfig
}

// NewGoogleScrape creates a GoogleScrape fetching pages with engine.
func NewGoogleScrape(engine scraper.Engine, cfg GoogleConfig) *GoogleScrape {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGoogleURL
	}
	return &GoogleScrape{engine: engine, cfg: cfg}
}

// PageURL builds the listing URL for one page of query.
func (g *GoogleScrape) PageURL(query string, offset, perPage int) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("num", strconv.Itoa(perPage))
	if offset > 0 {
		v.Set("start", strconv.Itoa(offset))
	}
	if g.cfg.CountryCode != "" {
		v.Set("gl", g.cfg.CountryCode)
	}
	if g.cfg.LanguageCode != "" {
		v.Set("hl", g.cfg.LanguageCode)
	}
	return g.cfg.BaseURL + "?" + v.Encode()
}

// FetchPage implements PageSource.
func (g *GoogleScrape) FetchPage(ctx context.Context, query string, offset, perPage int) ([]byte, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset cannot be negative: %d", offset)
	}
	resp, err := g.engine.Fetch(ctx, g.PageURL(query, offset, perPage))
	if err != nil {
		return nil, err
	}
	if resp.Challenge != "" {
		return nil, fmt.Errorf("results page blocked by %s", resp.Challenge)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("results page returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
