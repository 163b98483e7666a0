package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// DefaultMaxRedirects is used when Config.MaxRedirects is zero.
const DefaultMaxRedirects = 10

var (
	// ErrNilContext is returned by Do when called without a context.
	ErrNilContext = errors.New("httpclient: context cannot be nil")
	// ErrTooManyRedirects wraps the failure once MaxRedirects hops were followed.
	ErrTooManyRedirects = errors.New("httpclient: too many redirects")
)

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout time.Duration
	// MaxRedirects caps followed redirects. Zero means DefaultMaxRedirects,
	// a negative value disables following redirects.
	MaxRedirects int
	UseCookieJar bool
	// MaxBodyBytes caps how much of a body ReadBody keeps. Zero means no cap.
	MaxBodyBytes int64
	// Provide a custom Transport, e.g. for proxies or uTLS fingerprinting
	Transport http.RoundTripper
}

// Client wraps a standard http.Client to provide configurable timeouts,
// redirect policies, body limits and cookie management.
type Client struct {
	*http.Client
	maxBody int64
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = DefaultMaxRedirects
	}

	c := &http.Client{
		Timeout: cfg.Timeout,
	}

	if cfg.MaxRedirects > 0 {
		limit := cfg.MaxRedirects
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, limit)
			}
			return nil
		}
	} else {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.Jar = jar
	}

	if cfg.Transport != nil {
		c.Transport = cfg.Transport
	}

	return &Client{Client: c, maxBody: cfg.MaxBodyBytes}, nil
}

// Do executes an HTTP request. The provided context.Context controls the
// request cancellation independent of the client timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	resp, err := c.Client.Do(req.Clone(ctx))
	if err != nil {
		return nil, fmt.Errorf("do %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}

// ReadBody drains and closes resp.Body, keeping at most MaxBodyBytes. The
// boolean reports whether the body was cut short.
func (c *Client) ReadBody(resp *http.Response) ([]byte, bool, error) {
	defer resp.Body.Close()

	if c.maxBody <= 0 {
		body, err := io.ReadAll(resp.Body)
		return body, false, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return body, false, err
	}
	if int64(len(body)) > c.maxBody {
		return body[:c.maxBody], true, nil
	}
	return body, false, nil
}
