package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/skein/internal/bypass"
	"github.com/FranksOps/skein/internal/fingerprint"
	"github.com/FranksOps/skein/internal/metrics"
	"github.com/FranksOps/skein/pkg/httpclient"
	"github.com/FranksOps/skein/pkg/proxy"
	"github.com/FranksOps/skein/pkg/ratelimit"
	"github.com/FranksOps/skein/pkg/useragent"
	"github.com/google/uuid"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// FetchConfig configures the HTTP engine.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	MaxBodyBytes int64
	ProxyPool    *proxy.Pool
	UAPool       *useragent.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.Limiter
	Detectors    []bypass.Detector
}

// Fetcher is the plain HTTP engine. It rotates proxies and User-Agents, mimics
// browser TLS fingerprints and flags bot protection challenges.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

var _ Engine = (*Fetcher)(nil)

// NewFetcher initializes a new Fetcher with the given configuration.
// A single client is held across requests so cookie jars (if configured)
// persist for the lifetime of the Fetcher.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	cfg.UAPool = cfg.UAPool.Only(agentFamilies(cfg.Fingerprint)...)
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}

	// The proxy is chosen per request and carried in the request context,
	// so one transport serves every proxy and keeps its connection pool.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(fingerprint.Config{Profile: cfg.Fingerprint, Proxy: proxyFunc})
	if err != nil {
		return nil, fmt.Errorf("setup transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// Name implements Engine.
func (f *Fetcher) Name() string { return EngineHTTP }

// Fetch executes a GET request to targetURL.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if f.config.Limiter != nil {
		if err := f.config.Limiter.Wait(ctx, req.URL.Hostname()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
	}
	if activeProxy != nil {
		req = req.WithContext(context.WithValue(req.Context(), proxyKey, activeProxy))
	}

	req.Header.Set("User-Agent", f.config.UAPool.Next())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req.Context(), req)
	if err != nil {
		f.reportProxy(activeProxy, proxy.Failed)
		return nil, fmt.Errorf("request failed: %w", err)
	}

	body, truncated, err := f.client.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	result := &Response{
		ID:         uuid.NewString(),
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
		Truncated:  truncated,
		Duration:   time.Since(start),
		FetchedAt:  time.Now().UTC(),
		Engine:     EngineHTTP,
	}
	result.Challenge = bypass.Analyze(bypass.Signal{
		StatusCode: result.StatusCode,
		Headers:    result.Headers,
		Body:       result.Body,
	}, f.config.Detectors)

	if result.Challenge != "" {
		f.reportProxy(activeProxy, proxy.Blocked)
	} else {
		f.reportProxy(activeProxy, proxy.OK)
	}

	metrics.RecordFetch(EngineHTTP, resp.Request.URL.Hostname(), result.StatusCode, result.Challenge, result.Duration, len(result.Body))
	return result, nil
}

// agentFamilies maps a TLS profile to the User-Agents that would plausibly
// send it. Profiles without a browser behind them accept any agent.
func agentFamilies(p fingerprint.Profile) []useragent.Family {
	switch p {
	case fingerprint.ProfileChrome:
		return []useragent.Family{useragent.Chrome, useragent.Edge}
	case fingerprint.ProfileFirefox:
		return []useragent.Family{useragent.Firefox}
	case fingerprint.ProfileSafari:
		return []useragent.Family{useragent.Safari}
	default:
		return nil
	}
}

// reportProxy feeds the fetch outcome back into the pool that supplied u.
func (f *Fetcher) reportProxy(u *url.URL, outcome proxy.Outcome) {
	if u == nil {
		return
	}
	_ = f.config.ProxyPool.Report(u, outcome)
	if outcome != proxy.OK {
		metrics.ProxyFailures.WithLabelValues(f.config.ProxyPool.Name(), outcome.String()).Inc()
	}
}

// Close releases idle connections held by the transport.
func (f *Fetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
