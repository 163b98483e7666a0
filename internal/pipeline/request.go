package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/skein/internal/extract"
)

// ScrapingTool selects the engine that fetches result pages.
type ScrapingTool string

const (
	ToolRawHTTP ScrapingTool = "raw-http"
	// ToolBrowser keeps the historical name; pages are rendered by headless
	// Chrome.
	ToolBrowser ScrapingTool = "browser-playwright"
)

// Request limits.
const (
	DefaultMaxResults  = 3
	MaxResultsCap      = 100
	DefaultTimeout     = 40 * time.Second
	MinTimeout         = time.Second
	MaxTimeout         = 300 * time.Second
	DefaultMaxRetries  = 1
	DefaultDynamicWait = 10 * time.Second
)

// InputError is a request the caller has to fix. Transports report it as a
// client error.
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func inputErrorf(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// IsInputError reports whether err is, or wraps, an *InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// CrawlerSettings configure the content fetch workers. Requests with equal
// CrawlerSettings share a worker queue.
type CrawlerSettings struct {
	ScrapingTool       ScrapingTool  `json:"scrapingTool"`
	MaxRequestRetries  int           `json:"maxRequestRetries"`
	RequestTimeout     time.Duration `json:"requestTimeout"`
	DynamicContentWait time.Duration `json:"dynamicContentWait"`
}

// SearchSettings localize the results listing.
type SearchSettings struct {
	CountryCode  string `json:"countryCode"`
	LanguageCode string `json:"languageCode"`
}

// Request is one search-and-fetch call.
type Request struct {
	// Query is a search query, or a URL to fetch directly.
	Query      string
	MaxResults int
	Timeout    time.Duration
	Debug      bool
	Crawler    CrawlerSettings
	Search     SearchSettings
	Extract    extract.Settings
}

// DefaultRequest returns a Request with every setting at its default.
func DefaultRequest() Request {
	return Request{
		MaxResults: DefaultMaxResults,
		Timeout:    DefaultTimeout,
		Crawler: CrawlerSettings{
			ScrapingTool:       ToolRawHTTP,
			MaxRequestRetries:  DefaultMaxRetries,
			DynamicContentWait: DefaultDynamicWait,
		},
		Extract: extract.DefaultSettings(),
	}
}

// Normalize validates r in place, clamping values that have a safe fallback.
// Every error it returns is an *InputError.
func (r *Request) Normalize() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return inputErrorf(`The "query" parameter must be provided and non-empty`)
	}

	if r.MaxResults <= 0 {
		return inputErrorf(`The "maxResults" parameter must be greater than 0`)
	}
	if r.MaxResults > MaxResultsCap {
		r.MaxResults = MaxResultsCap
	}

	if r.Timeout < MinTimeout || r.Timeout > MaxTimeout {
		return inputErrorf(`The "requestTimeoutSecs" parameter must be between %d and %d`,
			int(MinTimeout.Seconds()), int(MaxTimeout.Seconds()))
	}
	r.Crawler.RequestTimeout = r.Timeout

	switch r.Crawler.ScrapingTool {
	case "":
		r.Crawler.ScrapingTool = ToolRawHTTP
	case ToolRawHTTP, ToolBrowser:
	default:
		return inputErrorf(`The "scrapingTool" parameter must be one of %s, %s`, ToolRawHTTP, ToolBrowser)
	}

	if r.Crawler.MaxRequestRetries < 0 {
		return inputErrorf(`The "maxRequestRetries" parameter must be 0 or greater`)
	}

	if r.Crawler.DynamicContentWait < 0 {
		return inputErrorf(`The "dynamicContentWaitSecs" parameter must be 0 or greater`)
	}
	if half := r.Timeout / 2; r.Crawler.DynamicContentWait >= half {
		r.Crawler.DynamicContentWait = half
	}
	// the raw HTTP engine never waits, keep it out of the queue key
	if r.Crawler.ScrapingTool == ToolRawHTTP {
		r.Crawler.DynamicContentWait = 0
	}

	if len(r.Extract.OutputFormats) == 0 {
		return inputErrorf(`The "outputFormats" parameter must list at least one of text, markdown, html`)
	}
	for _, f := range r.Extract.OutputFormats {
		if !extract.ValidFormat(f) {
			return inputErrorf(`The "outputFormats" parameter contains unknown format %q, expected text, markdown, html`, string(f))
		}
	}
	if r.Extract.HTMLTransformer == "" {
		r.Extract.HTMLTransformer = extract.TransformerNone
	}
	if !extract.ValidTransformer(r.Extract.HTMLTransformer) {
		return inputErrorf(`The "htmlTransformer" parameter must be one of none, readableText, trafilatura`)
	}
	if r.Extract.ReadableTextCharThreshold < 0 {
		return inputErrorf(`The "readableTextCharThreshold" parameter must be 0 or greater`)
	}
	if r.Extract.MaxHTMLChars <= 0 {
		r.Extract.MaxHTMLChars = extract.DefaultMaxHTMLChars
	}

	return nil
}
