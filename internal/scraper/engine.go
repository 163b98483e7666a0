package scraper

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Engine names.
const (
	EngineHTTP    = "http"
	EngineBrowser = "browser"
)

// Engine retrieves a single page.
type Engine interface {
	Name() string
	// Fetch returns an error only when no HTTP response was obtained at all.
	// Error statuses and bot challenges come back as a Response.
	Fetch(ctx context.Context, targetURL string) (*Response, error)
	Close() error
}

// Response is the outcome of a single page fetch.
type Response struct {
	ID         string
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Truncated  bool
	Duration   time.Duration
	// Challenge names the bot protection that served this response, if any.
	Challenge string
	FetchedAt time.Time
	Engine    string
}

// ContentType returns the media type of the response without parameters.
func (r *Response) ContentType() string {
	ct := r.Headers.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
