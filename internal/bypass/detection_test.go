package bypass

import (
	"testing"
)

func TestDetectCloudflare(t *testing.T) {
	// Not blocked
	s := Signal{
		StatusCode: 200,
		Headers:    map[string][]string{"Server": {"nginx"}},
		Body:       []byte("OK"),
	}
	if detected, _ := detectCloudflare(s); detected {
		t.Errorf("expected not detected")
	}

	s = Signal{
		StatusCode: 403,
		Headers:    map[string][]string{"Server": {"cloudflare"}},
		Body:       []byte("Access Denied"),
	}
	if detected, src := detectCloudflare(s); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by header")
	}

	s = Signal{
		StatusCode: 503,
		Headers:    map[string][]string{},
		Body:       []byte("<html>... cf-turnstile ...</html>"),
	}
	if detected, src := detectCloudflare(s); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by body")
	}
}

func TestDetectAkamai(t *testing.T) {
	s := Signal{
		StatusCode: 403,
		Headers:    map[string][]string{"Server": {"AkamaiGHost"}},
	}
	if detected, src := detectAkamai(s); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by header")
	}

	s = Signal{
		StatusCode: 403,
		Headers:    map[string][]string{},
		Body:       []byte("Access Denied... Reference #123.456"),
	}
	if detected, src := detectAkamai(s); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by body")
	}
}

func TestDetectDataDome(t *testing.T) {
	s := Signal{
		StatusCode: 403,
		Headers:    map[string][]string{"x-datadome": {"protected"}},
	}
	if detected, src := detectDataDome(s); !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection by case-insensitive header")
	}
}

func TestDetectPerimeterX(t *testing.T) {
	s := Signal{
		StatusCode: 403,
		Body:       []byte(`<div id="px-captcha"></div>`),
	}
	if detected, src := detectPerimeterX(s); !detected || src != "PerimeterX" {
		t.Errorf("expected PerimeterX detection by body")
	}
}

func TestDetectGoogleSorry(t *testing.T) {
	s := Signal{
		StatusCode: 429,
		Body:       []byte("Our systems have detected unusual traffic from your computer network."),
	}
	if detected, src := detectGoogleSorry(s); !detected || src != "GoogleSorry" {
		t.Errorf("expected GoogleSorry detection")
	}

	s.StatusCode = 200
	if detected, _ := detectGoogleSorry(s); detected {
		t.Errorf("expected a 200 page not to be treated as the sorry page")
	}
}

func TestAnalyze(t *testing.T) {
	s := Signal{
		StatusCode: 403,
		Headers:    map[string][]string{"Server": {"cloudflare"}},
	}
	if src := Analyze(s, DefaultDetectors()); src != "Cloudflare" {
		t.Errorf("expected Cloudflare, got %q", src)
	}

	s = Signal{StatusCode: 200, Body: []byte("<html>fine</html>")}
	if src := Analyze(s, DefaultDetectors()); src != "" {
		t.Errorf("expected no detection, got %q", src)
	}
}
