package aggregate

import (
	"time"

	"github.com/FranksOps/skein/internal/serp"
	"github.com/FranksOps/skein/internal/task"
)

// Status is the crawl state of one sub-task.
type Status string

const (
	StatusPending Status = "pending"
	StatusHandled Status = "handled"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further status change is possible.
func (s Status) Terminal() bool {
	return s == StatusHandled || s == StatusFailed
}

// Output is one element of a finalized response.
type Output struct {
	Rank       *int             `json:"rank"`
	ResultType *serp.ResultType `json:"resultType"`
	Metadata   Metadata         `json:"metadata"`
	Crawl      Crawl            `json:"crawl"`
	Text       *string          `json:"text,omitempty"`
	Markdown   *string          `json:"markdown,omitempty"`
	HTML       *string          `json:"html,omitempty"`
}

// Metadata describes the fetched page.
type Metadata struct {
	URL          string `json:"url"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Author       string `json:"author,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// Crawl describes how the page fetch went.
type Crawl struct {
	RequestStatus     Status     `json:"requestStatus"`
	HTTPStatusCode    int        `json:"httpStatusCode,omitempty"`
	HTTPStatusMessage string     `json:"httpStatusMessage,omitempty"`
	LoadedAt          *time.Time `json:"loadedAt,omitempty"`
	Debug             *Debug     `json:"debug,omitempty"`
}

// Debug carries latency diagnostics when debug mode is on.
type Debug struct {
	TimeMeasures []task.Measure `json:"timeMeasures"`
}

// Seed returns the initial output of a task before anything was fetched.
func Seed(t *task.Task) Output {
	out := Output{
		Metadata: Metadata{URL: t.URL},
		Crawl:    Crawl{RequestStatus: StatusPending},
	}
	if t.Result != nil {
		rank := t.Result.Rank
		kind := t.Result.Type
		out.Rank = &rank
		out.ResultType = &kind
		out.Metadata.Title = t.Result.Title
		out.Metadata.Description = t.Result.Description
	}
	return out
}

// merge overwrites fields of dst with the set fields of src. The request
// status is never taken from src.
func merge(dst *Output, src Output) {
	if src.Rank != nil {
		dst.Rank = src.Rank
	}
	if src.ResultType != nil {
		dst.ResultType = src.ResultType
	}

	m := src.Metadata
	if m.URL != "" {
		dst.Metadata.URL = m.URL
	}
	if m.Title != "" {
		dst.Metadata.Title = m.Title
	}
	if m.Description != "" {
		dst.Metadata.Description = m.Description
	}
	if m.Author != "" {
		dst.Metadata.Author = m.Author
	}
	if m.LanguageCode != "" {
		dst.Metadata.LanguageCode = m.LanguageCode
	}

	c := src.Crawl
	if c.HTTPStatusCode != 0 {
		dst.Crawl.HTTPStatusCode = c.HTTPStatusCode
	}
	if c.HTTPStatusMessage != "" {
		dst.Crawl.HTTPStatusMessage = c.HTTPStatusMessage
	}
	if c.LoadedAt != nil {
		dst.Crawl.LoadedAt = c.LoadedAt
	}
	if c.Debug != nil {
		dst.Crawl.Debug = c.Debug
	}

	if src.Text != nil {
		dst.Text = src.Text
	}
	if src.Markdown != nil {
		dst.Markdown = src.Markdown
	}
	if src.HTML != nil {
		dst.HTML = src.HTML
	}
}
