// Package aggregate tracks in-flight responses and gathers their sub-task
// results into one rank ordered answer.
package aggregate

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/FranksOps/skein/internal/metrics"
	"github.com/FranksOps/skein/internal/task"
)

var (
	// ErrTimeout rejects a response whose deadline passed before any
	// sub-task succeeded.
	ErrTimeout = errors.New(TimeoutMessage)
	// ErrAllFailed rejects a response whose sub-tasks all failed.
	ErrAllFailed = errors.New("all requests failed, no result was handled")
	// ErrDrained rejects a response cut short by a shutdown.
	ErrDrained = errors.New("process is shutting down, please retry your request")
	// ErrCanceled rejects a response canceled by its owner.
	ErrCanceled = errors.New("response canceled")
	// ErrExists is returned by Open for a response id already in use.
	ErrExists = errors.New("response already open")
)

// Messages written into force-failed entries.
const (
	TimeoutMessage = "Timed out."
	DrainMessage   = "The server had to shut down before the page was processed. Please, retry your request."
)

// Outcome labels for finalized responses.
const (
	OutcomeResolved = "resolved"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeDrained  = "drained"
	OutcomeCanceled = "canceled"
)

type entry struct {
	status Status
	out    Output
}

type record struct {
	id       string
	entries  map[string]*entry
	order    []string
	opened   time.Time
	deadline time.Time
	timer    *time.Timer
	drainBy  time.Time
	pending  *Pending
}

// Pending is the caller's handle on an open response. It settles exactly
// once.
type Pending struct {
	id      string
	done    chan struct{}
	outputs []Output
	err     error
	outcome string
}

// ID returns the response id.
func (p *Pending) ID() string { return p.id }

// Done is closed once the response is finalized.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the response is finalized or ctx is done. Canceling ctx
// does not cancel the response; its own deadline still applies.
func (p *Pending) Wait(ctx context.Context) ([]Output, error) {
	select {
	case <-p.done:
		return p.outputs, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Outcome returns the finalization outcome, or "" while still open.
func (p *Pending) Outcome() string {
	select {
	case <-p.done:
		return p.outcome
	default:
		return ""
	}
}

// Store is the table of open responses. Records exist between Open and
// finalization; every operation on an unknown response or task is logged and
// dropped.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
	logger  *slog.Logger
}

// NewStore creates an empty Store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		records: make(map[string]*record),
		logger:  logger,
	}
}

// Open starts tracking responseID and arms its deadline.
func (s *Store) Open(responseID string, deadline time.Duration) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[responseID]; ok {
		return nil, ErrExists
	}

	now := time.Now()
	rec := &record{
		id:       responseID,
		entries:  make(map[string]*entry),
		opened:   now,
		deadline: now.Add(deadline),
		pending:  &Pending{id: responseID, done: make(chan struct{})},
	}
	rec.timer = time.AfterFunc(deadline, func() {
		s.expire(rec, ErrTimeout, TimeoutMessage, OutcomeTimeout)
	})
	s.records[responseID] = rec
	metrics.OpenResponses.Inc()

	s.logger.Debug("response opened", "response_id", responseID, "deadline", deadline)
	return rec.pending, nil
}

// Register adds t as a pending entry of its response. It must be called
// before t is handed to a worker.
func (s *Store) Register(t *task.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[t.ResponseID]
	if !ok {
		s.logger.Warn("register on closed response dropped", "response_id", t.ResponseID, "task_id", t.ID)
		return false
	}
	if _, ok := rec.entries[t.ID]; ok {
		s.logger.Warn("duplicate task registration dropped", "response_id", t.ResponseID, "task_id", t.ID)
		return false
	}

	rec.entries[t.ID] = &entry{status: StatusPending, out: Seed(t)}
	rec.order = append(rec.order, t.ID)
	return true
}

// Update merges partial progress into a pending entry without changing its
// status. Terminal entries only accept new debug diagnostics.
func (s *Store) Update(responseID, taskID string, partial Output) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(responseID, taskID, "update")
	if e == nil {
		return false
	}
	if e.status.Terminal() {
		if partial.Crawl.Debug != nil {
			e.out.Crawl.Debug = partial.Crawl.Debug
		}
		return true
	}
	merge(&e.out, partial)
	return true
}

// Complete marks an entry handled and finalizes the response once every
// entry is terminal.
func (s *Store) Complete(responseID, taskID string, payload Output) bool {
	return s.settle(responseID, taskID, StatusHandled, payload)
}

// Fail marks an entry failed and finalizes the response once every entry is
// terminal.
func (s *Store) Fail(responseID, taskID string, payload Output) bool {
	return s.settle(responseID, taskID, StatusFailed, payload)
}

func (s *Store) settle(responseID, taskID string, status Status, payload Output) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(responseID, taskID, string(status))
	if e == nil {
		return false
	}
	if e.status.Terminal() {
		s.logger.Warn("entry already settled", "response_id", responseID, "task_id", taskID, "status", e.status, "dropped", status)
		return false
	}

	e.status = status
	merge(&e.out, payload)
	e.out.Crawl.RequestStatus = status
	metrics.SubtasksTotal.WithLabelValues(string(status)).Inc()

	rec := s.records[responseID]
	for _, id := range rec.order {
		if !rec.entries[id].status.Terminal() {
			return true
		}
	}

	if rec.handled() == 0 {
		s.finalize(rec, ErrAllFailed, OutcomeFailed)
	} else if rec.handled() == len(rec.entries) {
		s.finalize(rec, nil, OutcomeResolved)
	} else {
		s.finalize(rec, nil, OutcomePartial)
	}
	return true
}

// Cancel rejects an open response with cause, force failing its pending
// entries. A nil cause means ErrCanceled.
func (s *Store) Cancel(responseID string, cause error) bool {
	if cause == nil {
		cause = ErrCanceled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[responseID]
	if !ok {
		s.logger.Debug("cancel on closed response dropped", "response_id", responseID)
		return false
	}
	rec.forceFail(cause.Error())
	s.finalize(rec, cause, OutcomeCanceled)
	return true
}

// Drain brings every open response to an end within grace: each runs the
// timeout path with ErrDrained once grace elapses, unless its own deadline
// or an earlier drain comes first. A non-positive grace drains
// synchronously. It returns the number of responses affected and is safe to
// call repeatedly; a later call with a shorter grace pulls the end forward.
func (s *Store) Drain(grace time.Duration) int {
	s.mu.Lock()
	var now []*record
	n := 0
	end := time.Now().Add(grace)
	for _, rec := range s.records {
		if grace > 0 {
			if !rec.deadline.After(end) {
				continue
			}
			if !rec.drainBy.IsZero() && !rec.drainBy.After(end) {
				continue
			}
		}
		rec.drainBy = end
		rec.timer.Stop()
		n++
		if grace <= 0 {
			now = append(now, rec)
			continue
		}
		rec.timer = time.AfterFunc(grace, func() {
			s.expire(rec, ErrDrained, DrainMessage, OutcomeDrained)
		})
	}
	s.mu.Unlock()

	for _, rec := range now {
		s.expire(rec, ErrDrained, DrainMessage, OutcomeDrained)
	}
	if n > 0 {
		s.logger.Info("draining open responses", "count", n, "grace", grace)
	}
	return n
}

// Len returns the number of open responses.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Settled returns how many entries of an open response are terminal, and -1
// once the response is no longer open.
func (s *Store) Settled(responseID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[responseID]
	if !ok {
		return -1
	}
	n := 0
	for _, e := range rec.entries {
		if e.status.Terminal() {
			n++
		}
	}
	return n
}

// expire is the timeout path shared by the deadline timer and Drain.
func (s *Store) expire(rec *record, cause error, message, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[rec.id] != rec {
		return
	}
	rec.forceFail(message)
	if rec.handled() > 0 {
		s.logger.Info("response deadline reached, returning partial results", "response_id", rec.id, "handled", rec.handled(), "total", len(rec.entries))
		s.finalize(rec, nil, OutcomePartial)
		return
	}
	s.finalize(rec, cause, outcome)
}

// finalize is the single exit of a record. Callers hold s.mu.
func (s *Store) finalize(rec *record, err error, outcome string) {
	delete(s.records, rec.id)
	rec.timer.Stop()
	metrics.OpenResponses.Dec()

	p := rec.pending
	if err == nil {
		p.outputs = rec.sorted()
	}
	p.err = err
	p.outcome = outcome
	close(p.done)

	elapsed := time.Since(rec.opened)
	metrics.RecordResponse(outcome, elapsed)
	s.logger.Info("response finalized",
		"response_id", rec.id,
		"outcome", outcome,
		"entries", len(rec.entries),
		"handled", rec.handled(),
		"elapsed", elapsed,
	)
}

func (s *Store) lookup(responseID, taskID, op string) *entry {
	rec, ok := s.records[responseID]
	if !ok {
		s.logger.Debug("late operation on closed response dropped", "op", op, "response_id", responseID, "task_id", taskID)
		return nil
	}
	e, ok := rec.entries[taskID]
	if !ok {
		s.logger.Warn("operation on unknown task dropped", "op", op, "response_id", responseID, "task_id", taskID)
		return nil
	}
	return e
}

func (r *record) handled() int {
	n := 0
	for _, e := range r.entries {
		if e.status == StatusHandled {
			n++
		}
	}
	return n
}

func (r *record) forceFail(message string) {
	for _, id := range r.order {
		e := r.entries[id]
		if e.status != StatusPending {
			continue
		}
		empty := ""
		e.status = StatusFailed
		e.out.Crawl.RequestStatus = StatusFailed
		e.out.Crawl.HTTPStatusCode = 500
		e.out.Crawl.HTTPStatusMessage = message
		e.out.Metadata.Title = ""
		e.out.Text = &empty
		metrics.SubtasksTotal.WithLabelValues(string(StatusFailed)).Inc()
	}
}

// sorted returns the outputs in rank order, unranked entries last, ties in
// registration order.
func (r *record) sorted() []Output {
	out := make([]Output, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].out)
	}
	slices.SortStableFunc(out, func(a, b Output) int {
		return rankKey(a) - rankKey(b)
	})
	return out
}

func rankKey(o Output) int {
	if o.Rank == nil || *o.Rank <= 0 {
		return math.MaxInt32
	}
	return *o.Rank
}
