// Package storage persists the outcome of every content sub-task so runs can
// be audited and summarized later.
package storage

import (
	"context"
	"slices"
	"time"

	"github.com/FranksOps/skein/internal/task"
)

// Record is the stored outcome of one sub-task.
type Record struct {
	ID            string         `json:"id"`
	ResponseID    string         `json:"responseId"`
	Query         string         `json:"query"`
	URL           string         `json:"url"`
	Rank          int            `json:"rank,omitempty"`
	Status        string         `json:"status"`
	StatusCode    int            `json:"statusCode,omitempty"`
	StatusMessage string         `json:"statusMessage,omitempty"`
	Title         string         `json:"title,omitempty"`
	Engine        string         `json:"engine,omitempty"`
	Challenge     string         `json:"challenge,omitempty"` // e.g. "Cloudflare", "GoogleSorry"
	Duration      time.Duration  `json:"duration"`
	Measures      []task.Measure `json:"measures,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	Error         string         `json:"error,omitempty"` // non-empty if the sub-task failed
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	ResponseID string
	URL        string
	Status     string
	Since      *time.Time
	Limit      int
	Offset     int
}

// Backend defines the interface for storing and querying records.
// Query returns the newest records first.
type Backend interface {
	Save(ctx context.Context, record *Record) error
	Query(ctx context.Context, filter Filter) ([]*Record, error)
	Close() error
}

// Match reports whether r passes the non-paging parts of f.
func (f Filter) Match(r *Record) bool {
	if f.ResponseID != "" && r.ResponseID != f.ResponseID {
		return false
	}
	if f.URL != "" && r.URL != f.URL {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Apply orders matching records newest first and cuts the requested page.
// Backends without a query engine use it to evaluate a Filter in memory.
func (f Filter) Apply(records []*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b *Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*Record{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}

// Discard is a Backend that keeps nothing.
var Discard Backend = discard{}

type discard struct{}

func (discard) Save(context.Context, *Record) error              { return nil }
func (discard) Query(context.Context, Filter) ([]*Record, error) { return []*Record{}, nil }
func (discard) Close() error                                     { return nil }
