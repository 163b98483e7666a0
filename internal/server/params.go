package server

import (
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/skein/internal/extract"
	"github.com/FranksOps/skein/internal/pipeline"
)

var knownParams = []string{
	"query",
	"maxResults",
	"requestTimeoutSecs",
	"outputFormats",
	"htmlTransformer",
	"readableTextCharThreshold",
	"removeElementsCssSelector",
	"removeCookieWarnings",
	"maxRequestRetries",
	"dynamicContentWaitSecs",
	"scrapingTool",
	"countryCode",
	"languageCode",
	"debugMode",
}

// ParseRequest overlays the query parameters in v on defaults. The result is
// not normalized yet.
func ParseRequest(v url.Values, defaults pipeline.Request) (pipeline.Request, error) {
	var unknown []string
	for k := range v {
		if !slices.Contains(knownParams, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return pipeline.Request{}, &pipeline.InputError{
			Message: "Unknown parameters: " + strings.Join(unknown, ", "),
		}
	}

	req := defaults
	req.Extract.OutputFormats = slices.Clone(defaults.Extract.OutputFormats)
	p := parser{v: v}

	req.Query = v.Get("query")
	p.int("maxResults", &req.MaxResults)
	p.seconds("requestTimeoutSecs", &req.Timeout)
	p.int("maxRequestRetries", &req.Crawler.MaxRequestRetries)
	p.seconds("dynamicContentWaitSecs", &req.Crawler.DynamicContentWait)
	p.bool("debugMode", &req.Debug)
	p.bool("removeCookieWarnings", &req.Extract.RemoveCookieWarnings)
	p.int("readableTextCharThreshold", &req.Extract.ReadableTextCharThreshold)

	if v.Has("scrapingTool") {
		req.Crawler.ScrapingTool = pipeline.ScrapingTool(v.Get("scrapingTool"))
	}
	if v.Has("htmlTransformer") {
		req.Extract.HTMLTransformer = extract.Transformer(v.Get("htmlTransformer"))
	}
	if v.Has("removeElementsCssSelector") {
		req.Extract.RemoveElementsSelector = v.Get("removeElementsCssSelector")
	}
	if v.Has("countryCode") {
		req.Search.CountryCode = strings.ToLower(v.Get("countryCode"))
	}
	if v.Has("languageCode") {
		req.Search.LanguageCode = strings.ToLower(v.Get("languageCode"))
	}
	if v.Has("outputFormats") && p.err == nil {
		formats, err := extract.ParseFormats(v.Get("outputFormats"))
		if err != nil {
			p.err = &pipeline.InputError{Message: `The "outputFormats" parameter is invalid: ` + err.Error()}
		}
		req.Extract.OutputFormats = formats
	}

	if p.err != nil {
		return pipeline.Request{}, p.err
	}
	return req, nil
}

// parser keeps the first conversion error.
type parser struct {
	v   url.Values
	err error
}

func (p *parser) raw(name string) (string, bool) {
	if p.err != nil || !p.v.Has(name) {
		return "", false
	}
	return strings.TrimSpace(p.v.Get(name)), true
}

func (p *parser) int(name string, dst *int) {
	s, ok := p.raw(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.err = &pipeline.InputError{Message: `The "` + name + `" parameter must be an integer`}
		return
	}
	*dst = n
}

func (p *parser) seconds(name string, dst *time.Duration) {
	s, ok := p.raw(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = &pipeline.InputError{Message: `The "` + name + `" parameter must be a number of seconds`}
		return
	}
	*dst = time.Duration(f * float64(time.Second))
}

func (p *parser) bool(name string, dst *bool) {
	s, ok := p.raw(name)
	if !ok {
		return
	}
	if s == "" {
		*dst = true
		return
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		p.err = &pipeline.InputError{Message: `The "` + name + `" parameter must be true or false`}
		return
	}
	*dst = b
}
