package serp

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// organicSelectors match the containers of organic results across several
// generations of the Google results markup.
var organicSelectors = []string{
	".hlcw0c",                      // top result with site links
	".g.Ww4FFb",                    // general results
	".MjjYud .g",                   // catch all, one main + one nested result from the same site
	".g .tF2Cxc>.yuRUbf",           // 2021
	`.g [data-header-feature="0"]`, // 2022
	".g .rc",                       // legacy
}

const descriptionSelector = ".VwiC3b, [data-sncf], .IsZvec, .st"

// Page is one parsed listing page.
type Page struct {
	// Results holds valid, page-local deduplicated candidates.
	Results []Result
	// RawCount is the number of candidate containers found before validation.
	// Zero means the source has nothing more to offer.
	RawCount int
	// Suggested reports whether the classifier flagged the page as answering
	// a substituted query rather than the one asked.
	Suggested bool
}

// Classifier decides whether a results page answers a query suggested by
// the search engine instead of the original one.
type Classifier interface {
	Suggested(doc *goquery.Document) bool
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(doc *goquery.Document) bool

func (f ClassifierFunc) Suggested(doc *goquery.Document) bool { return f(doc) }

// NoResultsBanner flags pages showing the "no results found for ..., showing
// results for ..." banner above the listing.
var NoResultsBanner = ClassifierFunc(func(doc *goquery.Document) bool {
	return doc.Find("div#topstuff > div.fSp71d").Children().Length() > 0
})

// ParsePage extracts listing entries from a results page body. A nil
// classifier falls back to NoResultsBanner.
func ParsePage(body []byte, classifier Classifier) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}
	if classifier == nil {
		classifier = NoResultsBanner
	}

	page := &Page{Suggested: classifier.Suggested(doc)}
	kind := ResultOrganic
	if page.Suggested {
		kind = ResultSuggested
	}

	var candidates []Result
	doc.Find(strings.Join(organicSelectors, ", ")).Each(func(_ int, s *goquery.Selection) {
		page.RawCount++
		s.Find("div.action-menu").Remove()

		href, _ := s.Find("a").First().Attr("href")
		candidates = append(candidates, Result{
			Title:       strings.TrimSpace(s.Find("h3").First().Text()),
			URL:         strings.TrimSpace(href),
			Description: strings.TrimSpace(s.Find(descriptionSelector).First().Text()),
			Type:        kind,
		})
	})

	for _, c := range candidates {
		if Valid(c) {
			page.Results = append(page.Results, c)
		}
	}
	page.Results = Dedup(page.Results)
	return page, nil
}

// Valid reports whether a candidate can become a fetch task: it needs a title
// and an absolute http(s) URL that is not one of the search engine's own
// redirect or query pages.
func Valid(r Result) bool {
	if r.Title == "" || r.URL == "" {
		return false
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" {
		return false
	}
	return !isEngineRedirect(u)
}

func isEngineRedirect(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if !strings.HasPrefix(host, "google.") && !strings.Contains(host, ".google.") {
		return false
	}
	return u.Path == "/url" || u.Path == "/search" || strings.HasPrefix(u.Path, "/search/")
}
