package serp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixtureEntry struct {
	title, url, desc string
}

func resultsPage(banner bool, entries ...fixtureEntry) []byte {
	var b strings.Builder
	b.WriteString("<html><body>")
	if banner {
		b.WriteString(`<div id="topstuff"><div class="fSp71d"><span>Showing results for something else</span></div></div>`)
	} else {
		b.WriteString(`<div id="topstuff"><div class="fSp71d"></div></div>`)
	}
	b.WriteString(`<div id="search">`)
	for _, e := range entries {
		fmt.Fprintf(&b, `<div class="g Ww4FFb"><a href="%s"><h3>%s</h3></a><div class="action-menu"><a href="https://google.com/menu">menu</a></div><div class="VwiC3b">%s</div></div>`,
			e.url, e.title, e.desc)
	}
	b.WriteString("</div></body></html>")
	return []byte(b.String())
}

func TestParsePage(t *testing.T) {
	body := resultsPage(false,
		fixtureEntry{"First", "https://first.example.com/a", "about first"},
		fixtureEntry{"", "https://notitle.example.com/", "dropped"},
		fixtureEntry{"Redirect", "https://www.google.com/url?q=https://x.com", "dropped"},
		fixtureEntry{"Relative", "/search?q=more", "dropped"},
		fixtureEntry{"First", "https://first.example.com/a", "duplicate"},
		fixtureEntry{"Second", "http://second.example.com/", "about second"},
	)

	page, err := ParsePage(body, nil)
	require.NoError(t, err)

	assert.Equal(t, 6, page.RawCount)
	assert.False(t, page.Suggested)
	require.Len(t, page.Results, 2)
	assert.Equal(t, Result{
		Title:       "First",
		URL:         "https://first.example.com/a",
		Description: "about first",
		Type:        ResultOrganic,
	}, page.Results[0])
	assert.Equal(t, "Second", page.Results[1].Title)
}

func TestParsePage_Empty(t *testing.T) {
	page, err := ParsePage([]byte("<html><body><p>nothing here</p></body></html>"), nil)
	require.NoError(t, err)
	assert.Zero(t, page.RawCount)
	assert.Empty(t, page.Results)
}

func TestParsePage_SuggestedBanner(t *testing.T) {
	page, err := ParsePage(resultsPage(true, fixtureEntry{"Hit", "https://hit.example.com/", ""}), nil)
	require.NoError(t, err)
	assert.True(t, page.Suggested)
	require.Len(t, page.Results, 1)
	assert.Equal(t, ResultSuggested, page.Results[0].Type)
}

func TestParsePage_CustomClassifier(t *testing.T) {
	always := ClassifierFunc(func(*goquery.Document) bool { return true })
	page, err := ParsePage(resultsPage(false, fixtureEntry{"Hit", "https://hit.example.com/", ""}), always)
	require.NoError(t, err)
	assert.True(t, page.Suggested)
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		r    Result
		want bool
	}{
		{"ok", Result{Title: "t", URL: "https://example.com/x"}, true},
		{"no title", Result{URL: "https://example.com/"}, false},
		{"no url", Result{Title: "t"}, false},
		{"ftp", Result{Title: "t", URL: "ftp://example.com/"}, false},
		{"relative", Result{Title: "t", URL: "/path"}, false},
		{"google redirect", Result{Title: "t", URL: "https://www.google.com/url?q=x"}, false},
		{"google search", Result{Title: "t", URL: "https://google.com/search?q=x"}, false},
		{"google other", Result{Title: "t", URL: "https://support.google.com/websearch"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.r))
		})
	}
}
