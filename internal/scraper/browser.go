package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/FranksOps/skein/internal/bypass"
	"github.com/FranksOps/skein/internal/metrics"
	"github.com/FranksOps/skein/pkg/proxy"
	"github.com/FranksOps/skein/pkg/ratelimit"
	"github.com/FranksOps/skein/pkg/useragent"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

// BrowserConfig configures the headless Chrome engine.
type BrowserConfig struct {
	// ExecPath points at the Chrome binary. Empty lets chromedp look it up.
	ExecPath string
	Timeout  time.Duration
	// DynamicWait is how long to let scripts settle after the body is ready.
	DynamicWait time.Duration
	// Proxy, when set, is passed to Chrome as --proxy-server. Chrome takes a
	// single proxy per process, so the pool is consulted once at startup.
	ProxyPool *proxy.Pool
	UAPool    *useragent.Pool
	Limiter   *ratelimit.Limiter
	Detectors []bypass.Detector
}

// Browser renders pages in headless Chrome through chromedp. One Chrome
// process is shared and every Fetch opens its own tab.
type Browser struct {
	cfg         BrowserConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

var _ Engine = (*Browser)(nil)

// NewBrowser prepares a Chrome allocator. Chrome itself starts lazily on the
// first Fetch.
func NewBrowser(cfg BrowserConfig) *Browser {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Detectors == nil {
		cfg.Detectors = bypass.DefaultDetectors()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Headless,
		chromedp.UserAgent(cfg.UAPool.Random()),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.ProxyPool != nil {
		if u := cfg.ProxyPool.Next(); u != nil {
			opts = append(opts, chromedp.ProxyServer(u.Scheme+"://"+u.Host))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{cfg: cfg, allocCtx: allocCtx, allocCancel: allocCancel}
}

// Name implements Engine.
func (b *Browser) Name() string { return EngineBrowser }

// Fetch navigates a fresh tab to targetURL and returns the rendered DOM.
func (b *Browser) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	if b.cfg.Limiter != nil {
		u, err := url.Parse(targetURL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		if err := b.cfg.Limiter.Wait(ctx, u.Hostname()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()

	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.cfg.Timeout)
	defer cancelTimeout()

	// The tab lives under the allocator, not the caller, so caller
	// cancellation has to be forwarded by hand.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var (
		mu      sync.Mutex
		status  int64
		headers = http.Header{}
	)
	chromedp.ListenTarget(tabCtx, func(ev any) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		// the last document response wins so redirects report the final page
		status = e.Response.Status
		headers = http.Header{}
		for k, v := range e.Response.Headers {
			headers.Set(k, fmt.Sprint(v))
		}
		if headers.Get("Content-Type") == "" && e.Response.MimeType != "" {
			headers.Set("Content-Type", e.Response.MimeType)
		}
	})

	var html, finalURL string
	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if b.cfg.DynamicWait > 0 {
		actions = append(actions, chromedp.Sleep(b.cfg.DynamicWait))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("browser fetch: %w", ctx.Err())
		}
		return nil, fmt.Errorf("browser fetch: %w", err)
	}

	mu.Lock()
	res := &Response{
		ID:         uuid.NewString(),
		URL:        targetURL,
		FinalURL:   finalURL,
		StatusCode: int(status),
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		FetchedAt:  time.Now().UTC(),
		Engine:     EngineBrowser,
	}
	mu.Unlock()

	// file:// and data: pages never produce a network response
	if res.StatusCode == 0 {
		res.StatusCode = http.StatusOK
		res.Headers.Set("Content-Type", "text/html")
	}
	res.Challenge = bypass.Analyze(bypass.Signal{
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
		Body:       res.Body,
	}, b.cfg.Detectors)

	host := ""
	if u, err := url.Parse(res.FinalURL); err == nil {
		host = u.Hostname()
	}
	metrics.RecordFetch(EngineBrowser, host, res.StatusCode, res.Challenge, res.Duration, len(res.Body))
	return res, nil
}

// Close shuts the Chrome process down.
func (b *Browser) Close() error {
	b.allocCancel()
	return nil
}
