// Package worker runs content sub-tasks on a bounded pool of goroutines and
// reports each outcome back to the response it belongs to.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/skein/internal/aggregate"
	"github.com/FranksOps/skein/internal/extract"
	"github.com/FranksOps/skein/internal/scraper"
	"github.com/FranksOps/skein/internal/storage"
	"github.com/FranksOps/skein/internal/task"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("worker queue closed")

// Reporter receives sub-task outcomes. *aggregate.Store implements it.
type Reporter interface {
	Update(responseID, taskID string, partial aggregate.Output) bool
	Complete(responseID, taskID string, payload aggregate.Output) bool
	Fail(responseID, taskID string, payload aggregate.Output) bool
}

// Config tunes a Queue.
type Config struct {
	// Concurrency is the number of worker goroutines (0 = default 5).
	Concurrency int
	// QueueSize bounds the pending task buffer (0 = default 1000).
	QueueSize int
	// MaxRetries is how many times a failed fetch is retried.
	MaxRetries int
	// RetryBackoff is the pause before each retry (0 = default 500ms).
	RetryBackoff time.Duration
	// RespectRobots specifies whether to check robots.txt before fetching.
	RespectRobots bool
	// RobotsTTL is how long a host's robots.txt is cached (0 = one hour).
	RobotsTTL time.Duration
	// UserAgent is the User-Agent string to use when checking robots.txt.
	UserAgent string
}

// Queue feeds tasks to a pool of workers sharing one fetch engine.
type Queue struct {
	cfg       Config
	engine    scraper.Engine
	robots    *scraper.RobotsPolicy
	extractor *extract.Extractor
	reporter  Reporter
	backend   storage.Backend
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan *task.Task

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New starts a Queue. A nil backend stores nothing.
func New(cfg Config, engine scraper.Engine, reporter Reporter, backend storage.Backend, logger *slog.Logger) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*" // default generic user-agent for robots.txt
	}
	if backend == nil {
		backend = storage.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:       cfg,
		engine:    engine,
		extractor: extract.New(logger),
		reporter:  reporter,
		backend:   backend,
		logger:    logger,
		jobs:      make(chan *task.Task, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.RespectRobots {
		q.robots = scraper.NewRobotsPolicy(engine, cfg.RobotsTTL, logger)
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for t := range q.jobs {
				q.process(gCtx, t)
			}
			return nil
		})
	}
	q.group = g
	return q
}

// Enqueue hands t to the pool, blocking while the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, t *task.Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	t.Timeline.Add(task.EventQueued)
	select {
	case q.jobs <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// Pending returns the number of buffered tasks not yet picked up.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Close stops accepting tasks and waits for the buffered ones to finish. If
// ctx ends first, in-flight fetches are canceled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = q.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		q.cancel()
		<-done
	}
	q.cancel()
	return q.engine.Close()
}
