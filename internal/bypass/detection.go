package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Signal is the part of an HTTP response the detectors look at.
type Signal struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// Detector examines a response to determine if a bot protection mechanism
// blocked or challenged the request.
type Detector func(s Signal) (detected bool, source string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
		detectGoogleSorry,
	}
}

// Analyze runs the signal through detectors and returns the name of the first
// protection that triggered, or an empty string.
func Analyze(s Signal, detectors []Detector) string {
	for _, d := range detectors {
		if detected, source := d(s); detected {
			return source
		}
	}
	return ""
}

func getHeader(headers map[string][]string, key string) string {
	if vals, ok := headers[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	lowerKey := strings.ToLower(key)
	for k, vals := range headers {
		if strings.ToLower(k) == lowerKey && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(s Signal) (bool, string) {
	if s.StatusCode != http.StatusForbidden && s.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	server := strings.ToLower(getHeader(s.Headers, "Server"))
	if strings.Contains(server, "cloudflare") {
		return true, "Cloudflare"
	}
	if bytes.Contains(s.Body, []byte("cf-browser-verification")) ||
		bytes.Contains(s.Body, []byte("cloudflare-nginx")) ||
		bytes.Contains(s.Body, []byte("cf-turnstile")) ||
		bytes.Contains(s.Body, []byte("Attention Required! | Cloudflare")) {
		return true, "Cloudflare"
	}
	return false, ""
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(s Signal) (bool, string) {
	if s.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(getHeader(s.Headers, "Server")), "akamai") {
		return true, "Akamai"
	}
	// generic "Reference #" block page
	if bytes.Contains(s.Body, []byte("Reference #")) && bytes.Contains(s.Body, []byte("Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

// detectDataDome looks for DataDome challenge/block signatures.
func detectDataDome(s Signal) (bool, string) {
	if s.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if strings.Contains(strings.ToLower(getHeader(s.Headers, "Server")), "datadome") {
		return true, "DataDome"
	}
	if getHeader(s.Headers, "X-DataDome") != "" || getHeader(s.Headers, "X-DataDome-Response") != "" {
		return true, "DataDome"
	}
	if bytes.Contains(s.Body, []byte("geo.captcha-delivery.com")) || bytes.Contains(s.Body, []byte("datadome")) {
		return true, "DataDome"
	}
	return false, ""
}

// detectPerimeterX looks for PerimeterX (HUMAN) signatures.
func detectPerimeterX(s Signal) (bool, string) {
	if s.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if getHeader(s.Headers, "X-Px-Captcha") != "" {
		return true, "PerimeterX"
	}
	if bytes.Contains(s.Body, []byte("client.perimeterx.net")) ||
		bytes.Contains(s.Body, []byte("px-captcha")) ||
		bytes.Contains(s.Body, []byte("_pxBlock")) {
		return true, "PerimeterX"
	}
	return false, ""
}

// detectGoogleSorry catches the "unusual traffic" interstitial Google serves
// to scrapers in place of a results page.
func detectGoogleSorry(s Signal) (bool, string) {
	if s.StatusCode != http.StatusTooManyRequests && s.StatusCode != http.StatusForbidden && s.StatusCode != http.StatusServiceUnavailable {
		return false, ""
	}
	if bytes.Contains(s.Body, []byte("Our systems have detected unusual traffic")) ||
		bytes.Contains(s.Body, []byte("/sorry/index")) {
		return true, "GoogleSorry"
	}
	return false, ""
}
