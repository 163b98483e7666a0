// Package useragent rotates User-Agent strings and keeps them consistent
// with the TLS fingerprint a request is sent with.
package useragent

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// Family is the browser a User-Agent claims to be.
type Family string

const (
	Chrome  Family = "chrome"
	Edge    Family = "edge"
	Firefox Family = "firefox"
	Safari  Family = "safari"
	Other   Family = "other"
)

// Classify reads the browser family from ua. Order matters: Edge also
// claims Chrome, and Chrome also claims Safari.
func Classify(ua string) Family {
	switch {
	case strings.Contains(ua, "Edg/"):
		return Edge
	case strings.Contains(ua, "Firefox/"):
		return Firefox
	case strings.Contains(ua, "Chrome/"):
		return Chrome
	case strings.Contains(ua, "Safari/") && strings.Contains(ua, "Version/"):
		return Safari
	default:
		return Other
	}
}

// Defaults are current desktop browser User-Agents.
var Defaults = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:141.0) Gecko/20100101 Firefox/141.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:141.0) Gecko/20100101 Firefox/141.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36 Edg/139.0.0.0",
}

// Pool hands out User-Agents. It is safe for concurrent use.
type Pool struct {
	agents []string
	next   atomic.Uint64
}

// NewPool copies agents into a pool. An empty list means Defaults.
func NewPool(agents []string) *Pool {
	if len(agents) == 0 {
		agents = Defaults
	}
	return &Pool{agents: slices.Clone(agents)}
}

// Next rotates through the pool in order.
func (p *Pool) Next() string {
	if len(p.agents) == 0 {
		return ""
	}
	i := p.next.Add(1) - 1
	return p.agents[i%uint64(len(p.agents))]
}

// Random picks uniformly using crypto/rand, falling back to Next if the
// random source fails.
func (p *Pool) Random() string {
	if len(p.agents) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.agents))))
	if err != nil {
		return p.Next()
	}
	return p.agents[n.Int64()]
}

// Only returns a pool of the agents belonging to one of families. When
// nothing matches, p itself is returned so callers always have agents.
func (p *Pool) Only(families ...Family) *Pool {
	if len(families) == 0 {
		return p
	}
	var kept []string
	for _, ua := range p.agents {
		if slices.Contains(families, Classify(ua)) {
			kept = append(kept, ua)
		}
	}
	if len(kept) == 0 {
		return p
	}
	return &Pool{agents: kept}
}

func (p *Pool) All() []string { return slices.Clone(p.agents) }

func (p *Pool) Len() int { return len(p.agents) }

// Load reads one User-Agent per line from path, skipping blanks and
// # comments. A file without entries yields Defaults.
func Load(path string) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open user agent file: %w", err)
	}
	defer f.Close()

	var agents []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			agents = append(agents, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read user agent file %s: %w", path, err)
	}
	return NewPool(agents), nil
}
