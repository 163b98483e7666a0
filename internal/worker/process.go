package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/FranksOps/skein/internal/aggregate"
	"github.com/FranksOps/skein/internal/extract"
	"github.com/FranksOps/skein/internal/scraper"
	"github.com/FranksOps/skein/internal/storage"
	"github.com/FranksOps/skein/internal/task"
)

// RobotsMessage is reported for pages disallowed by robots.txt.
const RobotsMessage = "Blocked by robots.txt"

// failure is a sub-task outcome that ends in the failed state. code is what
// the response reports; upstream keeps the target's own status for storage.
type failure struct {
	code      int
	upstream  int
	message   string
	challenge string
	retry     bool
}

func (f *failure) Error() string {
	return fmt.Sprintf("%d %s", f.code, f.message)
}

func (q *Queue) process(ctx context.Context, t *task.Task) {
	start := time.Now()
	log := q.logger.With("response_id", t.ResponseID, "task_id", t.ID, "url", t.URL)

	if q.robots != nil {
		allowed, err := q.robots.Allowed(ctx, t.URL, q.cfg.UserAgent)
		if err != nil {
			log.Warn("error checking robots.txt", "err", err)
		} else if !allowed {
			log.Debug("url blocked by robots.txt")
			q.fail(t, nil, &failure{code: http.StatusInternalServerError, message: RobotsMessage}, start)
			return
		}
	}

	resp, err := q.fetch(ctx, t, log)
	if err != nil {
		var f *failure
		if !errors.As(err, &f) {
			f = &failure{code: http.StatusInternalServerError, message: err.Error()}
		}
		q.fail(t, resp, f, start)
		return
	}

	loadedAt := resp.FetchedAt
	q.reporter.Update(t.ResponseID, t.ID, aggregate.Output{
		Crawl: aggregate.Crawl{
			HTTPStatusCode:    resp.StatusCode,
			HTTPStatusMessage: http.StatusText(resp.StatusCode),
			LoadedAt:          &loadedAt,
		},
	})

	if !extract.ValidContentType(resp.ContentType()) {
		log.Debug("unsupported content type", "content_type", resp.ContentType())
		// the one failure that reports the upstream status as is
		q.fail(t, resp, &failure{code: resp.StatusCode, upstream: resp.StatusCode, message: extract.UnparsableMessage}, start)
		return
	}

	content, err := q.extractor.Extract(resp.Body, t.URL, t.Settings)
	if err != nil {
		log.Warn("extraction failed", "err", err)
		q.fail(t, resp, &failure{code: http.StatusInternalServerError, upstream: resp.StatusCode, message: extract.UnparsableMessage}, start)
		return
	}
	t.Timeline.Add(task.EventExtractDone)

	out := aggregate.Output{
		Metadata: aggregate.Metadata{
			URL:          t.URL,
			Title:        content.Metadata.Title,
			Description:  content.Metadata.Description,
			Author:       content.Metadata.Author,
			LanguageCode: content.Metadata.LanguageCode,
		},
		Crawl: aggregate.Crawl{
			HTTPStatusCode:    resp.StatusCode,
			HTTPStatusMessage: http.StatusText(resp.StatusCode),
			LoadedAt:          &loadedAt,
			Debug:             debug(t),
		},
	}
	if t.Settings.Wants(extract.FormatText) {
		out.Text = &content.Text
	}
	if t.Settings.Wants(extract.FormatMarkdown) {
		out.Markdown = &content.Markdown
	}
	if t.Settings.Wants(extract.FormatHTML) {
		out.HTML = &content.HTML
	}

	q.reporter.Complete(t.ResponseID, t.ID, out)
	log.Debug("sub-task handled", "status", resp.StatusCode, "elapsed", time.Since(start))
	q.saveRecord(&storage.Record{
		Status:        string(aggregate.StatusHandled),
		StatusCode:    resp.StatusCode,
		StatusMessage: http.StatusText(resp.StatusCode),
		Title:         out.Metadata.Title,
		Challenge:     resp.Challenge,
	}, t, start)
}

// fetch downloads t.URL, retrying transport errors, bot challenges and
// server errors up to MaxRetries times. The last response is returned along
// with the failure when every attempt failed.
func (q *Queue) fetch(ctx context.Context, t *task.Task, log *slog.Logger) (*scraper.Response, error) {
	var (
		last    *scraper.Response
		lastErr error
	)
	for attempt := 0; attempt <= q.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(q.cfg.RetryBackoff):
			}
			log.Debug("retrying fetch", "attempt", attempt, "err", lastErr)
		}

		t.Timeline.Add(task.EventFetchStart)
		resp, err := q.attempt(ctx, t)
		t.Timeline.Add(task.EventFetchDone)

		f := classify(resp, err)
		if f == nil {
			return resp, nil
		}
		last, lastErr = resp, f
		if !f.retry || ctx.Err() != nil {
			break
		}
	}
	return last, lastErr
}

func (q *Queue) attempt(ctx context.Context, t *task.Task) (*scraper.Response, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return q.engine.Fetch(ctx, t.URL)
}

func classify(resp *scraper.Response, err error) *failure {
	switch {
	case err != nil:
		return &failure{code: http.StatusInternalServerError, message: err.Error(), retry: true}
	case resp.Challenge != "":
		return &failure{
			code:      http.StatusInternalServerError,
			upstream:  resp.StatusCode,
			message:   "Blocked by " + resp.Challenge,
			challenge: resp.Challenge,
			retry:     true,
		}
	case !resp.OK():
		return &failure{
			code:     http.StatusInternalServerError,
			upstream: resp.StatusCode,
			message:  fmt.Sprintf("%d - %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			retry:    resp.StatusCode >= http.StatusInternalServerError,
		}
	}
	return nil
}

func (q *Queue) fail(t *task.Task, resp *scraper.Response, f *failure, start time.Time) {
	t.Timeline.Add(task.EventFailed)
	q.reporter.Fail(t.ResponseID, t.ID, aggregate.Output{
		Crawl: aggregate.Crawl{
			HTTPStatusCode:    f.code,
			HTTPStatusMessage: f.message,
			Debug:             debug(t),
		},
	})
	q.logger.Debug("sub-task failed", "response_id", t.ResponseID, "task_id", t.ID, "url", t.URL, "status", f.code, "reason", f.message)

	title := ""
	if t.Result != nil {
		title = t.Result.Title
	}
	challenge := f.challenge
	if challenge == "" && resp != nil {
		challenge = resp.Challenge
	}
	code := f.upstream
	if code == 0 {
		code = f.code
	}
	q.saveRecord(&storage.Record{
		Status:        string(aggregate.StatusFailed),
		StatusCode:    code,
		StatusMessage: f.message,
		Title:         title,
		Challenge:     challenge,
		Error:         f.message,
	}, t, start)
}

func (q *Queue) saveRecord(rec *storage.Record, t *task.Task, start time.Time) {
	rec.ID = t.ID
	rec.ResponseID = t.ResponseID
	rec.Query = t.Query
	rec.URL = t.URL
	rec.Rank = t.Rank()
	rec.Engine = q.engine.Name()
	rec.Duration = time.Since(start)
	rec.Measures = t.Timeline.Relative()
	rec.CreatedAt = time.Now().UTC()

	// the worker context may already be canceled during shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.backend.Save(ctx, rec); err != nil {
		q.logger.Error("failed to save record", "task_id", t.ID, "url", t.URL, "err", err)
	}
}

func debug(t *task.Task) *aggregate.Debug {
	if !t.Debug {
		return nil
	}
	return &aggregate.Debug{TimeMeasures: t.Timeline.Relative()}
}
