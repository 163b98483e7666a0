// Package task builds the content fetch units a response fans out into.
package task

import (
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/skein/internal/extract"
	"github.com/FranksOps/skein/internal/serp"
	"github.com/google/uuid"
)

// Task is one page fetch and extraction belonging to a response.
type Task struct {
	ID         string
	URL        string
	ResponseID string
	Query      string
	// Result is the listing entry the task came from. Nil for direct URLs.
	Result   *serp.Result
	Settings extract.Settings
	Timeline *Timeline
	// Debug asks for the timeline to be attached to the output.
	Debug bool
	// Timeout bounds each fetch attempt. Zero leaves it to the engine.
	Timeout time.Duration
}

// New creates a task for targetURL under responseID with a fresh random id.
func New(targetURL, responseID, query string, result *serp.Result, settings extract.Settings, timeline *Timeline) *Task {
	if timeline == nil {
		timeline = NewTimeline()
	}
	return &Task{
		ID:         uuid.NewString(),
		URL:        targetURL,
		ResponseID: responseID,
		Query:      query,
		Result:     result,
		Settings:   settings,
		Timeline:   timeline,
	}
}

// FromResults creates one task per listing entry, each with its own copy of
// the search timeline so far.
func FromResults(results []serp.Result, responseID, query string, settings extract.Settings, timeline *Timeline) []*Task {
	tasks := make([]*Task, 0, len(results))
	for i := range results {
		r := results[i]
		tasks = append(tasks, New(r.URL, responseID, query, &r, settings, timeline.Clone()))
	}
	return tasks
}

// Rank returns the listing rank of the task, or zero for direct URL tasks.
func (t *Task) Rank() int {
	if t.Result == nil {
		return 0
	}
	return t.Result.Rank
}

const maxDecodeRounds = 3

// InterpretAsURL reports whether query is itself an http(s) URL, undoing up
// to three rounds of percent-encoding. The returned URL always has a path.
func InterpretAsURL(query string) (string, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", false
	}
	for round := 0; ; round++ {
		if u, ok := parseHTTPURL(q); ok {
			return u, true
		}
		if round == maxDecodeRounds {
			return "", false
		}
		decoded, err := url.PathUnescape(q)
		if err != nil || decoded == q {
			return "", false
		}
		q = decoded
	}
}

func parseHTTPURL(s string) (string, bool) {
	if strings.ContainsAny(s, " \t\n") {
		return "", false
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), true
}
