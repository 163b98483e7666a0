// Package proxy rotates outbound requests over a list of proxies and benches
// the ones that keep failing or getting challenged.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	ErrNilProxy     = errors.New("proxy: url cannot be nil")
	ErrUnknownProxy = errors.New("proxy: not found in pool")
)

// Outcome is what happened to a request sent through a proxy.
type Outcome int

const (
	// OK means the target answered, whatever the status code.
	OK Outcome = iota
	// Failed means the request never got an answer.
	Failed
	// Blocked means the target answered with a bot challenge. The exit IP is
	// burned for that target, so the proxy is benched right away.
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Failed:
		return "failed"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Config defines settings for a Pool.
type Config struct {
	// Name identifies the pool in stats, e.g. "search" or "content".
	Name string
	// MaxStrikes is how many net failures bench a proxy (0 = default 3).
	MaxStrikes int
	// Cooldown is how long a benched proxy sits out (0 = default 5m).
	Cooldown time.Duration
}

type entry struct {
	url          *url.URL
	successes    int
	failures     int
	blocked      int
	strikes      int
	benchedUntil time.Time
	lastUsed     time.Time
}

func (e *entry) benched(now time.Time) bool {
	return now.Before(e.benchedUntil)
}

// Pool hands out proxies round-robin, skipping benched ones. It is safe for
// concurrent use.
type Pool struct {
	name       string
	maxStrikes int
	cooldown   time.Duration
	now        func() time.Time

	mu      sync.Mutex
	entries []*entry
	byKey   map[string]*entry
	cursor  int
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxStrikes <= 0 {
		cfg.MaxStrikes = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		name:       cfg.Name,
		maxStrikes: cfg.MaxStrikes,
		cooldown:   cfg.Cooldown,
		now:        time.Now,
		byKey:      make(map[string]*entry),
	}
}

// Name returns the configured pool name.
func (p *Pool) Name() string { return p.name }

// Parse normalizes one proxy address. A missing scheme means http.
func Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("parse proxy %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse proxy %q: missing host", raw)
	}
	return u, nil
}

// LoadFile adds the proxies listed in path, one per line. Blank lines and
// lines starting with '#' are skipped.
func (p *Pool) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy list: %w", err)
	}
	defer file.Close()

	var raws []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read proxy list: %w", err)
	}
	return p.Add(raws...)
}

// Add parses and appends proxies, ignoring ones already present. Nothing is
// added if any address is invalid.
func (p *Pool) Add(raws ...string) error {
	parsed := make([]*url.URL, 0, len(raws))
	for _, raw := range raws {
		u, err := Parse(raw)
		if err != nil {
			return err
		}
		parsed = append(parsed, u)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range parsed {
		key := u.String()
		if _, ok := p.byKey[key]; ok {
			continue
		}
		e := &entry{url: u}
		p.entries = append(p.entries, e)
		p.byKey[key] = e
	}
	return nil
}

// Next returns the next proxy that is not benched, or nil when the pool is
// empty or everything is cooling down.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for range p.entries {
		e := p.entries[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.entries)

		if e.benched(now) {
			continue
		}
		if !e.benchedUntil.IsZero() {
			// back from the bench with a clean slate
			e.benchedUntil = time.Time{}
			e.strikes = 0
		}
		e.lastUsed = now
		return e.url
	}
	return nil
}

// Report records the outcome of a request made through u.
func (p *Pool) Report(u *url.URL, o Outcome) error {
	if u == nil {
		return ErrNilProxy
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byKey[u.String()]
	if !ok {
		return ErrUnknownProxy
	}

	switch o {
	case OK:
		e.successes++
		if e.strikes > 0 {
			e.strikes--
		}
	case Failed:
		e.failures++
		e.strikes++
	case Blocked:
		e.blocked++
		e.strikes = p.maxStrikes
	}
	if e.strikes >= p.maxStrikes {
		e.benchedUntil = p.now().Add(p.cooldown)
	}
	return nil
}

// Len returns the number of proxies in the pool, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Available returns the number of proxies Next could currently return.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := 0
	for _, e := range p.entries {
		if !e.benched(now) {
			n++
		}
	}
	return n
}

// Stat is a point-in-time view of one proxy's health.
type Stat struct {
	URL       string
	Successes int
	Failures  int
	Blocked   int
	Benched   bool
	LastUsed  time.Time
}

// Stats returns every proxy's counters with credentials redacted.
func (p *Pool) Stats() []Stat {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := make([]Stat, 0, len(p.entries))
	for _, e := range p.entries {
		stats = append(stats, Stat{
			URL:       e.url.Redacted(),
			Successes: e.successes,
			Failures:  e.failures,
			Blocked:   e.blocked,
			Benched:   e.benched(now),
			LastUsed:  e.lastUsed,
		})
	}
	return stats
}
