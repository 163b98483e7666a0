package extract

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/markusmobius/go-trafilatura"
)

// UnparsableMessage is reported for responses whose content type is not a
// markup or text document.
const UnparsableMessage = "Couldn't parse the content"

// Metadata is the descriptive information read from a page's head.
type Metadata struct {
	Title        string
	Description  string
	Author       string
	LanguageCode string
}

// Content is the extraction result. Only the formats requested in Settings
// are filled in.
type Content struct {
	Metadata Metadata
	Text     string
	Markdown string
	HTML     string
}

// Extractor turns raw page markup into the requested output formats.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// ValidContentType reports whether a response with the given Content-Type can
// be extracted. An empty type is accepted and left to the HTML parser.
func ValidContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	for _, t := range []string{"text", "html", "xml"} {
		if strings.Contains(ct, t) {
			return true
		}
	}
	return false
}

// Extract reads metadata from body, strips unwanted elements, applies the
// configured transformer and renders every requested format.
func (e *Extractor) Extract(body []byte, pageURL string, s Settings) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	meta := Metadata{
		Title:        strings.TrimSpace(doc.Find("title").First().Text()),
		Description:  strings.TrimSpace(doc.Find("meta[name=description]").First().AttrOr("content", "")),
		Author:       strings.TrimSpace(doc.Find("meta[name=author]").First().AttrOr("content", "")),
		LanguageCode: strings.TrimSpace(doc.Find("html").First().AttrOr("lang", "")),
	}

	bodySel := doc.Find("body").First()
	if sel := s.removeSelector(); sel != "" {
		bodySel.Find(sel).Remove()
	}
	bodyHTML, err := bodySel.Html()
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	simplified := fmt.Sprintf("<html><head><title>%s</title></head><body>%s</body></html>",
		template.HTMLEscapeString(meta.Title), strings.TrimSpace(bodyHTML))

	processed := simplified
	switch s.HTMLTransformer {
	case TransformerReadableText:
		if out, err := e.readable(simplified, pageURL, s.ReadableTextCharThreshold); err != nil {
			e.logger.Warn("readable text extraction failed, using simplified html", "url", pageURL, "err", err)
		} else {
			processed = out
		}
	case TransformerTrafilatura:
		if out, tm, err := e.trafilatura(simplified, pageURL); err != nil {
			e.logger.Warn("trafilatura extraction failed, using simplified html", "url", pageURL, "err", err)
		} else {
			processed = out
			meta = fillMetadata(meta, tm)
		}
	}

	content := &Content{Metadata: meta}
	if s.Wants(FormatText) {
		if s.MaxHTMLChars > 0 && len(processed) > s.MaxHTMLChars {
			e.logger.Debug("html too large for block rendering, using plain text", "url", pageURL, "size", len(processed), "max", s.MaxHTMLChars)
			content.Text = plainText(processed)
		} else {
			content.Text = HTMLToText(processed)
		}
	}
	if s.Wants(FormatMarkdown) {
		md, err := htmltomarkdown.ConvertString(processed)
		if err != nil {
			return nil, fmt.Errorf("convert to markdown: %w", err)
		}
		content.Markdown = strings.TrimSpace(md)
	}
	if s.Wants(FormatHTML) {
		content.HTML = processed
	}
	return content, nil
}

// plainText concatenates every text node with whitespace collapsed. It is the
// cheap render for documents too large to walk block by block.
func plainText(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func (e *Extractor) readable(src, pageURL string, threshold int) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	parser := readability.NewParser()
	if threshold > 0 {
		parser.CharThresholds = threshold
	}
	article, err := parser.Parse(strings.NewReader(src), u)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", errors.New("no readable content")
	}

	var b strings.Builder
	b.WriteString("<html><body>")
	if article.Title != "" {
		b.WriteString("<h1>")
		b.WriteString(template.HTMLEscapeString(article.Title))
		b.WriteString("</h1>")
	}
	b.WriteString(article.Content)
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (e *Extractor) trafilatura(src, pageURL string) (string, trafilatura.Metadata, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", trafilatura.Metadata{}, fmt.Errorf("parse url: %w", err)
	}

	result, err := trafilatura.Extract(strings.NewReader(src), trafilatura.Options{OriginalURL: u})
	if err != nil {
		return "", trafilatura.Metadata{}, err
	}
	if result == nil || result.ContentNode == nil {
		return "", trafilatura.Metadata{}, errors.New("no main content found")
	}

	out, err := renderNode(result.ContentNode)
	if err != nil {
		return "", trafilatura.Metadata{}, fmt.Errorf("render content: %w", err)
	}
	return "<html><body>" + out + "</body></html>", result.Metadata, nil
}

func fillMetadata(m Metadata, tm trafilatura.Metadata) Metadata {
	if m.Title == "" {
		m.Title = tm.Title
	}
	if m.Description == "" {
		m.Description = tm.Description
	}
	if m.Author == "" {
		m.Author = tm.Author
	}
	if m.LanguageCode == "" {
		m.LanguageCode = tm.Language
	}
	return m
}
