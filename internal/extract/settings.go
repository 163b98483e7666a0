package extract

import (
	"fmt"
	"slices"
	"strings"
)

// Format is an output representation of a page's content.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Transformer selects how the page body is reduced before rendering.
type Transformer string

const (
	TransformerNone         Transformer = "none"
	TransformerReadableText Transformer = "readableText"
	TransformerTrafilatura  Transformer = "trafilatura"
)

// DefaultRemoveSelector strips page chrome that is never part of the content.
const DefaultRemoveSelector = `nav, footer, script, style, noscript, svg, img[src^="data:"], [role="alert"], [role="banner"], [role="dialog"], [role="alertdialog"], [aria-modal="true"]`

// CookieWarningSelector matches the common cookie consent banners.
const CookieWarningSelector = `#onetrust-banner-sdk, #onetrust-consent-sdk, #CybotCookiebotDialog, #cookie-banner, #cookie-consent, .cookie-banner, .cookie-consent, .cc-window, [id*="cookie-notice"], [class*="cookie-notice"]`

// DefaultMaxHTMLChars is the processed HTML size above which text is rendered
// flat instead of block by block.
const DefaultMaxHTMLChars = 1_500_000

// Settings configures content extraction for one page.
type Settings struct {
	OutputFormats             []Format    `json:"outputFormats"`
	HTMLTransformer           Transformer `json:"htmlTransformer"`
	RemoveElementsSelector    string      `json:"removeElementsCssSelector"`
	RemoveCookieWarnings      bool        `json:"removeCookieWarnings"`
	ReadableTextCharThreshold int         `json:"readableTextCharThreshold"`
	MaxHTMLChars              int         `json:"maxHtmlCharsToProcess"`
}

// DefaultSettings returns text-only extraction without transformation.
func DefaultSettings() Settings {
	return Settings{
		OutputFormats:             []Format{FormatText},
		HTMLTransformer:           TransformerNone,
		RemoveElementsSelector:    DefaultRemoveSelector,
		RemoveCookieWarnings:      true,
		ReadableTextCharThreshold: 100,
		MaxHTMLChars:              DefaultMaxHTMLChars,
	}
}

// Wants reports whether f is among the requested output formats.
func (s Settings) Wants(f Format) bool {
	return slices.Contains(s.OutputFormats, f)
}

// ParseFormats parses a comma separated format list such as "text,markdown".
func ParseFormats(raw string) ([]Format, error) {
	var out []Format
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f := Format(part)
		if !ValidFormat(f) {
			return nil, fmt.Errorf("unknown output format %q, expected one of text, markdown, html", part)
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

// ValidFormat reports whether f names a known output format.
func ValidFormat(f Format) bool {
	switch f {
	case FormatText, FormatMarkdown, FormatHTML:
		return true
	}
	return false
}

// ValidTransformer reports whether t names a known transformer.
func ValidTransformer(t Transformer) bool {
	switch t {
	case TransformerNone, TransformerReadableText, TransformerTrafilatura:
		return true
	}
	return false
}

func (s Settings) removeSelector() string {
	parts := make([]string, 0, 2)
	if s.RemoveElementsSelector != "" {
		parts = append(parts, s.RemoveElementsSelector)
	}
	if s.RemoveCookieWarnings {
		parts = append(parts, CookieWarningSelector)
	}
	return strings.Join(parts, ", ")
}
