package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRobotsTTL is how long a host's robots.txt is trusted.
	DefaultRobotsTTL = time.Hour
	// robotsRetry is how long an unreachable robots.txt counts as allow-all
	// before it is tried again.
	robotsRetry = time.Minute
)

// RobotsPolicy answers whether a URL may be fetched according to its
// host's robots.txt. Files are fetched through the page engine, once per
// host per TTL, with concurrent lookups for the same host sharing a fetch.
type RobotsPolicy struct {
	engine Engine
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	flight singleflight.Group
	mu     sync.RWMutex
	hosts  map[string]robotsEntry
}

type robotsEntry struct {
	data    *robotstxt.RobotsData // nil allows everything
	expires time.Time
}

// NewRobotsPolicy returns a policy fetching through engine. A zero ttl
// means DefaultRobotsTTL.
func NewRobotsPolicy(engine Engine, ttl time.Duration, logger *slog.Logger) *RobotsPolicy {
	if ttl <= 0 {
		ttl = DefaultRobotsTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsPolicy{
		engine: engine,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		hosts:  make(map[string]robotsEntry),
	}
}

// Allowed reports whether userAgent may fetch target. A robots.txt that
// cannot be retrieved allows everything; a 5xx answer disallows everything.
func (p *RobotsPolicy) Allowed(ctx context.Context, target, userAgent string) (bool, error) {
	u, err := url.Parse(target)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}
	if u.Host == "" {
		return false, fmt.Errorf("invalid url %q: missing host", target)
	}

	data := p.lookup(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true, nil
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, userAgent), nil
}

func (p *RobotsPolicy) lookup(ctx context.Context, origin string) *robotstxt.RobotsData {
	if data, ok := p.cached(origin); ok {
		return data
	}

	v, _, _ := p.flight.Do(origin, func() (any, error) {
		// a flight that just landed may have filled the entry
		if data, ok := p.cached(origin); ok {
			return data, nil
		}
		e := p.fetch(ctx, origin)
		p.mu.Lock()
		p.hosts[origin] = e
		p.mu.Unlock()
		return e.data, nil
	})
	return v.(*robotstxt.RobotsData)
}

func (p *RobotsPolicy) cached(origin string) (*robotstxt.RobotsData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.hosts[origin]
	if !ok || !p.now().Before(e.expires) {
		return nil, false
	}
	return e.data, true
}

func (p *RobotsPolicy) fetch(ctx context.Context, origin string) robotsEntry {
	resp, err := p.engine.Fetch(ctx, origin+"/robots.txt")
	if err != nil {
		p.logger.Debug("robots.txt unreachable, allowing", "origin", origin, "err", err)
		return robotsEntry{expires: p.now().Add(robotsRetry)}
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		p.logger.Debug("robots.txt unparsable, allowing", "origin", origin, "err", err)
		return robotsEntry{expires: p.now().Add(robotsRetry)}
	}
	return robotsEntry{data: data, expires: p.now().Add(p.ttl)}
}
