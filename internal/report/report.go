// Package report summarizes stored crawl records for performance evaluation.
package report

import (
	"cmp"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"slices"
	texttemplate "text/template"
	"time"

	"github.com/FranksOps/skein/internal/aggregate"
	"github.com/FranksOps/skein/internal/storage"
)

// EventAverage is the mean offset of one timeline event from the start of
// its request.
type EventAverage struct {
	Event string  `json:"event"`
	AvgMs float64 `json:"avgMs"`
	Count int     `json:"count"`
}

// Summary contains aggregated metrics about a set of sub-task records.
type Summary struct {
	TotalRecords int            `json:"totalRecords"`
	Responses    int            `json:"responses"`
	Handled      int            `json:"handled"`
	Failed       int            `json:"failed"`
	StatusCodes  map[int]int    `json:"statusCodes"`
	Challenges   map[string]int `json:"challenges"`
	Engines      map[string]int `json:"engines"`
	AvgDuration  time.Duration  `json:"avgDuration"`
	Events       []EventAverage `json:"events"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      time.Time      `json:"endTime"`
	Span         time.Duration  `json:"span"`
}

// GenerateSummary processes records into summary metrics.
func GenerateSummary(records []*storage.Record) Summary {
	s := Summary{
		StatusCodes: make(map[int]int),
		Challenges:  make(map[string]int),
		Engines:     make(map[string]int),
	}
	if len(records) == 0 {
		return s
	}

	s.StartTime = records[0].CreatedAt
	s.EndTime = records[0].CreatedAt

	responses := make(map[string]struct{})
	type acc struct {
		sum   int64
		count int
	}
	events := make(map[string]*acc)
	var total time.Duration

	for _, r := range records {
		s.TotalRecords++
		responses[r.ResponseID] = struct{}{}

		switch r.Status {
		case string(aggregate.StatusHandled):
			s.Handled++
		case string(aggregate.StatusFailed):
			s.Failed++
		}
		if r.StatusCode > 0 {
			s.StatusCodes[r.StatusCode]++
		}
		if r.Challenge != "" {
			s.Challenges[r.Challenge]++
		}
		if r.Engine != "" {
			s.Engines[r.Engine]++
		}
		total += r.Duration

		for _, m := range r.Measures {
			a, ok := events[m.Event]
			if !ok {
				a = &acc{}
				events[m.Event] = a
			}
			a.sum += m.TimeMs
			a.count++
		}

		if r.CreatedAt.Before(s.StartTime) {
			s.StartTime = r.CreatedAt
		}
		if r.CreatedAt.After(s.EndTime) {
			s.EndTime = r.CreatedAt
		}
	}

	s.Responses = len(responses)
	s.AvgDuration = total / time.Duration(s.TotalRecords)
	s.Span = s.EndTime.Sub(s.StartTime)

	for name, a := range events {
		s.Events = append(s.Events, EventAverage{
			Event: name,
			AvgMs: float64(a.sum) / float64(a.count),
			Count: a.count,
		})
	}
	slices.SortFunc(s.Events, func(a, b EventAverage) int {
		if c := cmp.Compare(a.AvgMs, b.AvgMs); c != 0 {
			return c
		}
		return cmp.Compare(a.Event, b.Event)
	})
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}

const textTmpl = `Skein Run Summary
-----------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Span:          {{.Span}}
Responses:     {{.Responses}}
Sub-tasks:     {{.TotalRecords}} ({{.Handled}} handled, {{.Failed}} failed)
Avg Duration:  {{.AvgDuration}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Challenges:
{{- range $src, $count := .Challenges}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}

Timeline (avg ms from request start):
{{- range .Events}}
  {{printf "%-18s" .Event}} {{printf "%8.1f" .AvgMs}} ({{.Count}})
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := texttemplate.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Skein Run Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Skein Run Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Span}})</p>

  <div class="stat-card">
    <div>Responses</div>
    <div class="stat-val">{{.Responses}}</div>
  </div>
  <div class="stat-card">
    <div>Handled</div>
    <div class="stat-val" style="color: green;">{{.Handled}}</div>
  </div>
  <div class="stat-card">
    <div>Failed</div>
    <div class="stat-val" style="color: {{if gt .Failed 0}}red{{else}}green{{end}};">{{.Failed}}</div>
  </div>
  <div class="stat-card">
    <div>Avg Duration</div>
    <div class="stat-val">{{.AvgDuration}}</div>
  </div>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Challenges</h3>
  <table>
    <tr><th>Source</th><th>Count</th></tr>
    {{- range $src, $count := .Challenges}}
    <tr><td>{{$src}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Timeline</h3>
  <table>
    <tr><th>Event</th><th>Avg ms</th><th>Samples</th></tr>
    {{- range .Events}}
    <tr><td>{{.Event}}</td><td>{{printf "%.1f" .AvgMs}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="3">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

// Write renders summary in format, one of text, json or html.
func Write(w io.Writer, format string, summary Summary) error {
	switch format {
	case "", "text":
		return WriteText(w, summary)
	case "json":
		return WriteJSON(w, summary)
	case "html":
		return WriteHTML(w, summary)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}
