package fingerprint

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTransport_Profiles(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Proto", r.Proto)
		w.WriteHeader(http.StatusOK)
	}))
	ts.EnableHTTP2 = true
	ts.StartTLS()
	defer ts.Close()

	for _, p := range Profiles() {
		t.Run(string(p), func(t *testing.T) {
			tr, err := Transport(Config{Profile: p, InsecureSkipVerify: true})
			if err != nil {
				t.Fatalf("unexpected error creating transport for %s: %v", p, err)
			}
			defer tr.CloseIdleConnections()

			client := &http.Client{Transport: tr}
			resp, err := client.Get(ts.URL)
			if err != nil {
				t.Fatalf("request failed for profile %s: %v", p, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 OK, got %d for profile %s", resp.StatusCode, p)
			}
			if p != ProfileGo && resp.Header.Get("X-Proto") != "HTTP/1.1" {
				t.Errorf("expected HTTP/1.1 over the uTLS connection, got %s", resp.Header.Get("X-Proto"))
			}
		})
	}
}

func TestTransport_Proxy(t *testing.T) {
	tr, err := Transport(Config{Profile: ProfileChrome, Proxy: http.ProxyFromEnvironment})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Proxy == nil {
		t.Error("expected proxy func to be set")
	}
	if tr.DialTLSContext == nil {
		t.Error("expected uTLS dialer")
	}
}

func TestTransport_UnknownProfile(t *testing.T) {
	_, err := Transport(Config{Profile: "unknown_browser"})
	if !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestParseProfile(t *testing.T) {
	tests := map[string]Profile{
		"":         ProfileChrome,
		"Chrome":   ProfileChrome,
		" firefox": ProfileFirefox,
		"GO":       ProfileGo,
		"random":   ProfileRandom,
	}
	for in, want := range tests {
		got, err := ParseProfile(in)
		if err != nil {
			t.Errorf("ParseProfile(%q): unexpected error %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseProfile(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseProfile("netscape"); !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("expected ErrUnknownProfile, got %v", err)
	}
}
