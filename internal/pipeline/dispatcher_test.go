package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/skein/internal/aggregate"
	"github.com/FranksOps/skein/internal/fingerprint"
	"github.com/FranksOps/skein/internal/scraper"
	"github.com/FranksOps/skein/internal/serp"
	"github.com/FranksOps/skein/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// searchSite serves a Google-like listing at /search and content pages under
// /page/. The listing for "partial" points its second entry at a 404.
type searchSite struct {
	*httptest.Server
	searches atomic.Int32
}

func newSearchSite(t *testing.T) *searchSite {
	t.Helper()
	s := &searchSite{}
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		s.searches.Add(1)
		q := r.URL.Query().Get("q")
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))

		var b strings.Builder
		b.WriteString(`<html><body><div id="topstuff"><div class="fSp71d"></div></div><div id="search">`)
		switch q {
		case "nothing":
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
			return
		default:
			for i := start + 1; i <= start+5; i++ {
				path := fmt.Sprintf("/page/%d", i)
				if q == "partial" && i == 2 {
					path = "/missing"
				}
				fmt.Fprintf(&b, `<div class="g Ww4FFb"><a href="%s%s"><h3>Result %d</h3></a><div class="VwiC3b">about %d</div></div>`,
					s.URL, path, i, i)
			}
		}
		b.WriteString(`</div></body></html>`)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(b.String()))
	})
	mux.HandleFunc("/page/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<html lang="en"><head><title>Page %s</title></head><body><p>Body of %s</p></body></html>`,
			r.URL.Path, r.URL.Path)
	})
	mux.HandleFunc("/missing", http.NotFound)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newTestDispatcher(t *testing.T, s *searchSite) (*Dispatcher, *aggregate.Store) {
	t.Helper()
	store := aggregate.NewStore(nil)
	d, err := New(Config{
		Worker: worker.Config{Concurrency: 2, RetryBackoff: time.Millisecond},
		Fetch:  scraper.FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo},
		Google: serpConfig(s.URL),
	}, store, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d, store
}

func request(query string, maxResults int) Request {
	req := DefaultRequest()
	req.Query = query
	req.MaxResults = maxResults
	req.Timeout = 10 * time.Second
	req.Crawler.MaxRequestRetries = 0
	return req
}

func TestHandle_Search(t *testing.T) {
	s := newSearchSite(t)
	d, store := newTestDispatcher(t, s)

	out, err := d.Handle(context.Background(), request("golang", 3))
	require.NoError(t, err)
	require.Len(t, out, 3)

	for i, o := range out {
		require.NotNil(t, o.Rank)
		assert.Equal(t, i+1, *o.Rank)
		assert.Equal(t, aggregate.StatusHandled, o.Crawl.RequestStatus)
		assert.Equal(t, fmt.Sprintf("%s/page/%d", s.URL, i+1), o.Metadata.URL)
		require.NotNil(t, o.Text)
		assert.Contains(t, *o.Text, fmt.Sprintf("Body of /page/%d", i+1))
	}
	assert.EqualValues(t, 1, s.searches.Load())
	assert.Zero(t, store.Len())
}

func TestHandle_Pagination(t *testing.T) {
	s := newSearchSite(t)
	d, _ := newTestDispatcher(t, s)

	out, err := d.Handle(context.Background(), request("golang", 7))
	require.NoError(t, err)
	require.Len(t, out, 7)
	assert.Equal(t, 7, *out[6].Rank)
}

func TestHandle_PartialSuccess(t *testing.T) {
	s := newSearchSite(t)
	d, _ := newTestDispatcher(t, s)

	out, err := d.Handle(context.Background(), request("partial", 3))
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, aggregate.StatusHandled, out[0].Crawl.RequestStatus)
	assert.Equal(t, aggregate.StatusFailed, out[1].Crawl.RequestStatus)
	assert.Equal(t, 500, out[1].Crawl.HTTPStatusCode)
	assert.Equal(t, "404 - Not Found", out[1].Crawl.HTTPStatusMessage)
	assert.Equal(t, aggregate.StatusHandled, out[2].Crawl.RequestStatus)
}

func TestHandle_DirectURL(t *testing.T) {
	s := newSearchSite(t)
	d, _ := newTestDispatcher(t, s)

	out, err := d.Handle(context.Background(), request(s.URL+"/page/direct", 3))
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Nil(t, out[0].Rank)
	assert.Equal(t, aggregate.StatusHandled, out[0].Crawl.RequestStatus)
	assert.Equal(t, "Page /page/direct", out[0].Metadata.Title)
	assert.Zero(t, s.searches.Load())
}

func TestHandle_DirectURLFails(t *testing.T) {
	s := newSearchSite(t)
	d, _ := newTestDispatcher(t, s)

	_, err := d.Handle(context.Background(), request(s.URL+"/missing", 3))
	require.ErrorIs(t, err, aggregate.ErrAllFailed)
}

func TestHandle_NoResults(t *testing.T) {
	s := newSearchSite(t)
	d, store := newTestDispatcher(t, s)

	_, err := d.Handle(context.Background(), request("nothing", 3))
	require.ErrorIs(t, err, ErrNoResults)
	assert.Zero(t, store.Len())
}

func TestHandle_SearchFails(t *testing.T) {
	s := newSearchSite(t)
	d, _ := newTestDispatcher(t, s)

	_, err := d.Handle(context.Background(), request("broken", 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search failed")
	assert.Contains(t, err.Error(), "502")
}

func TestHandle_InvalidRequest(t *testing.T) {
	s := newSearchSite(t)
	d, store := newTestDispatcher(t, s)

	_, err := d.Handle(context.Background(), request("", 3))
	require.Error(t, err)
	assert.True(t, IsInputError(err))
	assert.Zero(t, store.Len())
	assert.Zero(t, d.Queues())
}

func TestQueuesSharedBySettings(t *testing.T) {
	s := newSearchSite(t)
	d, _ := newTestDispatcher(t, s)

	_, err := d.Handle(context.Background(), request("golang", 1))
	require.NoError(t, err)
	_, err = d.Handle(context.Background(), request("partial", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Queues())

	req := request("golang", 1)
	req.Crawler.MaxRequestRetries = 2
	_, err = d.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Queues())
}

func TestSubmitAfterClose(t *testing.T) {
	s := newSearchSite(t)
	d, _ := newTestDispatcher(t, s)
	require.NoError(t, d.Close(context.Background()))

	_, err := d.Submit(context.Background(), request("golang", 1))
	require.ErrorIs(t, err, ErrClosed)
}

func TestEngineFailureRejectsRequest(t *testing.T) {
	s := newSearchSite(t)
	d, err := New(Config{
		Fetch:  scraper.FetchConfig{Fingerprint: fingerprint.ProfileGo},
		Google: serpConfig(s.URL),
		NewEngine: func(CrawlerSettings) (scraper.Engine, error) {
			return nil, fmt.Errorf("no engine")
		},
	}, aggregate.NewStore(nil), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	_, err = d.Submit(context.Background(), request("golang", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no engine")
}

// countingEngine counts content fetches made through it.
type countingEngine struct {
	scraper.Engine
	fetches atomic.Int32
}

func (c *countingEngine) Fetch(ctx context.Context, targetURL string) (*scraper.Response, error) {
	c.fetches.Add(1)
	return c.Engine.Fetch(ctx, targetURL)
}

func newCountingEngine(t *testing.T) *countingEngine {
	t.Helper()
	f, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo})
	require.NoError(t, err)
	return &countingEngine{Engine: f}
}

// drainingSource shuts every open response down right after the listing is
// fetched, before its tasks are registered.
type drainingSource struct {
	serp.PageSource
	store *aggregate.Store
}

func (d drainingSource) FetchPage(ctx context.Context, query string, offset, perPage int) ([]byte, error) {
	page, err := d.PageSource.FetchPage(ctx, query, offset, perPage)
	d.store.Drain(0)
	return page, err
}

func TestQueuesIgnoreRequestTimeout(t *testing.T) {
	s := newSearchSite(t)
	var built atomic.Int32
	d, err := New(Config{
		Fetch:  scraper.FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo},
		Google: serpConfig(s.URL),
		NewEngine: func(CrawlerSettings) (scraper.Engine, error) {
			built.Add(1)
			return newCountingEngine(t), nil
		},
	}, aggregate.NewStore(nil), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	for _, timeout := range []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second} {
		req := request("golang", 1)
		req.Timeout = timeout
		_, err := d.Handle(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, d.Queues())
	assert.EqualValues(t, 1, built.Load())
}

func TestDispatchSkipsUnregisteredTasks(t *testing.T) {
	s := newSearchSite(t)
	store := aggregate.NewStore(nil)
	search, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo})
	require.NoError(t, err)
	t.Cleanup(func() { _ = search.Close() })
	engine := newCountingEngine(t)

	d, err := New(Config{
		Source: func(SearchSettings) serp.PageSource {
			return drainingSource{PageSource: serp.NewGoogleScrape(search, serpConfig(s.URL)), store: store}
		},
		NewEngine: func(CrawlerSettings) (scraper.Engine, error) { return engine, nil },
	}, store, nil, nil)
	require.NoError(t, err)

	_, err = d.Handle(context.Background(), request("golang", 3))
	require.ErrorIs(t, err, aggregate.ErrDrained)

	require.NoError(t, d.Close(context.Background()))
	assert.EqualValues(t, 1, s.searches.Load())
	assert.Zero(t, engine.fetches.Load())
}

func serpConfig(base string) serp.GoogleConfig {
	return serp.GoogleConfig{BaseURL: base + "/search"}
}
