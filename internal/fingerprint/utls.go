// Package fingerprint builds HTTP transports whose TLS handshake looks like a
// mainstream browser instead of the Go standard library.
package fingerprint

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

// ErrUnknownProfile is returned for profile names that are not recognized.
var ErrUnknownProfile = errors.New("unknown fingerprint profile")

// Profiles lists every supported profile.
func Profiles() []Profile {
	return []Profile{ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom}
}

// ParseProfile resolves a case-insensitive profile name. Empty means Chrome.
func ParseProfile(name string) (Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProfileChrome, nil
	}
	for _, p := range Profiles() {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProfile, name)
}

// Config describes the transport to build.
type Config struct {
	Profile Profile
	// Proxy picks the proxy per request. Nil means no proxy.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Only meant for tests
	// against self-signed servers.
	InsecureSkipVerify bool
}

func helloID(p Profile) (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedNoALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("%w: %q", ErrUnknownProfile, p)
	}
}

// Transport returns an http.Transport that performs its TLS handshakes with
// the configured profile. ProfileGo yields a plain clone of the default
// transport.
//
// The browser hellos offer only http/1.1 in ALPN, since http.Transport cannot
// speak HTTP/2 over a connection dialed through DialTLSContext.
func Transport(cfg Config) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = cfg.Proxy

	if cfg.Profile == ProfileGo {
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return transport, nil
	}

	id, err := helloID(cfg.Profile)
	if err != nil {
		return nil, err
	}

	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		tlsCfg := &utls.Config{ServerName: host, InsecureSkipVerify: cfg.InsecureSkipVerify}
		uConn, err := client(tcpConn, tlsCfg, cfg.Profile, id)
		if err != nil {
			_ = tcpConn.Close()
			return nil, err
		}

		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("utls handshake failed: %w", err)
		}
		return uConn, nil
	}

	return transport, nil
}

// client wraps conn in a uTLS client for id. Fixed browser hellos are
// rebuilt per connection with their ALPN narrowed to http/1.1.
func client(conn net.Conn, tlsCfg *utls.Config, p Profile, id utls.ClientHelloID) (*utls.UConn, error) {
	if p == ProfileRandom {
		return utls.UClient(conn, tlsCfg, id), nil
	}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, fmt.Errorf("load %s hello: %w", p, err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, tlsCfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("apply %s hello: %w", p, err)
	}
	return uConn, nil
}
