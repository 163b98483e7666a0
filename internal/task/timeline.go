package task

import (
	"slices"
	"sync"
	"time"
)

// Timeline event names.
const (
	EventRequestReceived = "request-received"
	EventSearchStart     = "before-search"
	EventSearchDone      = "search-done"
	EventQueued          = "queued"
	EventFetchStart      = "fetch-start"
	EventFetchDone       = "fetch-done"
	EventExtractDone     = "extract-done"
	EventFailed          = "failed"
)

// Measure is one timeline event, relative to the first event of its timeline.
type Measure struct {
	Event string `json:"event"`
	// TimeMs is milliseconds since the first event.
	TimeMs int64 `json:"timeMs"`
}

type event struct {
	name string
	at   time.Time
}

// Timeline records latency diagnostics for a task. It is safe for concurrent
// use.
type Timeline struct {
	mu     sync.Mutex
	events []event
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

// Add records name at the current time.
func (t *Timeline) Add(name string) {
	t.AddAt(name, time.Now())
}

// AddAt records name at a given time.
func (t *Timeline) AddAt(name string, at time.Time) {
	t.mu.Lock()
	t.events = append(t.events, event{name: name, at: at})
	t.mu.Unlock()
}

// Clone returns an independent copy.
func (t *Timeline) Clone() *Timeline {
	if t == nil {
		return NewTimeline()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Timeline{events: slices.Clone(t.events)}
}

// Relative returns the events as offsets from the first one, in time order.
func (t *Timeline) Relative() []Measure {
	t.mu.Lock()
	events := slices.Clone(t.events)
	t.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	slices.SortStableFunc(events, func(a, b event) int { return a.at.Compare(b.at) })

	first := events[0].at
	out := make([]Measure, len(events))
	for i, e := range events {
		out[i] = Measure{Event: e.name, TimeMs: e.at.Sub(first).Milliseconds()}
	}
	return out
}
