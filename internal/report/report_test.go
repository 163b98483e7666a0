package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/skein/internal/storage"
	"github.com/FranksOps/skein/internal/task"
)

func TestGenerateSummary(t *testing.T) {
	now := time.Now()

	records := []*storage.Record{
		{
			ResponseID: "r1",
			Status:     "handled",
			StatusCode: 200,
			Engine:     "http",
			Duration:   100 * time.Millisecond,
			Measures: []task.Measure{
				{Event: task.EventRequestReceived, TimeMs: 0},
				{Event: task.EventFetchDone, TimeMs: 300},
			},
			CreatedAt: now,
		},
		{
			ResponseID: "r1",
			Status:     "failed",
			StatusCode: 403,
			Engine:     "http",
			Challenge:  "Cloudflare",
			Duration:   300 * time.Millisecond,
			Measures: []task.Measure{
				{Event: task.EventRequestReceived, TimeMs: 0},
				{Event: task.EventFetchDone, TimeMs: 500},
			},
			CreatedAt: now.Add(1 * time.Second),
		},
		{
			ResponseID: "r2",
			Status:     "failed",
			StatusCode: 500,
			Engine:     "browser",
			Duration:   200 * time.Millisecond,
			CreatedAt:  now.Add(2 * time.Second),
			Error:      "Timed out.",
		},
	}

	summary := GenerateSummary(records)

	if summary.TotalRecords != 3 {
		t.Errorf("expected 3 records, got %d", summary.TotalRecords)
	}
	if summary.Responses != 2 {
		t.Errorf("expected 2 responses, got %d", summary.Responses)
	}
	if summary.Handled != 1 || summary.Failed != 2 {
		t.Errorf("expected 1 handled and 2 failed, got %d and %d", summary.Handled, summary.Failed)
	}
	if summary.Challenges["Cloudflare"] != 1 {
		t.Errorf("expected 1 Cloudflare challenge, got %d", summary.Challenges["Cloudflare"])
	}
	if summary.StatusCodes[403] != 1 {
		t.Errorf("expected 1 403 Forbidden, got %d", summary.StatusCodes[403])
	}
	if summary.Engines["http"] != 2 {
		t.Errorf("expected 2 http records, got %d", summary.Engines["http"])
	}
	if summary.AvgDuration != 200*time.Millisecond {
		t.Errorf("expected 200ms average duration, got %v", summary.AvgDuration)
	}
	if summary.Span != 2*time.Second {
		t.Errorf("expected 2s span, got %v", summary.Span)
	}

	if len(summary.Events) != 2 {
		t.Fatalf("expected 2 timeline events, got %d", len(summary.Events))
	}
	if summary.Events[0].Event != task.EventRequestReceived {
		t.Errorf("expected %s first, got %s", task.EventRequestReceived, summary.Events[0].Event)
	}
	if summary.Events[1].AvgMs != 400 || summary.Events[1].Count != 2 {
		t.Errorf("expected fetch-done avg 400ms over 2, got %v over %d", summary.Events[1].AvgMs, summary.Events[1].Count)
	}
}

func TestGenerateSummary_Empty(t *testing.T) {
	summary := GenerateSummary(nil)
	if summary.TotalRecords != 0 || summary.AvgDuration != 0 {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, Summary{TotalRecords: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"totalRecords": 5`) {
		t.Errorf("expected JSON to contain totalRecords: 5, got %s", buf.String())
	}
}

func TestWriteText(t *testing.T) {
	summary := Summary{
		TotalRecords: 5,
		Handled:      4,
		Failed:       1,
		StatusCodes: map[int]int{
			200: 4,
			500: 1,
		},
		Events: []EventAverage{{Event: "fetch-done", AvgMs: 120, Count: 5}},
	}
	var buf bytes.Buffer
	if err := WriteText(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Sub-tasks:     5 (4 handled, 1 failed)") {
		t.Errorf("expected sub-task line, got:\n%s", out)
	}
	if !strings.Contains(out, "200: 4") {
		t.Errorf("expected text to contain 200: 4")
	}
	if !strings.Contains(out, "fetch-done") {
		t.Errorf("expected text to contain the fetch-done event")
	}
}

func TestWriteHTML(t *testing.T) {
	summary := Summary{
		TotalRecords: 10,
		Failed:       2,
		Challenges: map[string]int{
			"DataDome": 2,
		},
	}
	var buf bytes.Buffer
	if err := WriteHTML(&buf, summary); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<title>Skein Run Report</title>") {
		t.Errorf("expected HTML title")
	}
	if !strings.Contains(out, "DataDome") {
		t.Errorf("expected HTML to contain DataDome")
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, "pdf", Summary{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
