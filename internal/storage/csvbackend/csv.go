package csvbackend

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/skein/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// headers defines the CSV column order
var headers = []string{
	"id",
	"response_id",
	"query",
	"url",
	"rank",
	"status",
	"status_code",
	"status_message",
	"title",
	"engine",
	"challenge",
	"duration_ms",
	"measures_json",
	"created_at",
	"error",
}

// New creates a new CSV-backed storage.Backend. The header row is written
// when the file is new.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

func (b *csvBackend) Save(ctx context.Context, r *storage.Record) error {
	measures, err := json.Marshal(r.Measures)
	if err != nil {
		return fmt.Errorf("encode measures: %w", err)
	}

	row := []string{
		r.ID,
		r.ResponseID,
		r.Query,
		r.URL,
		strconv.Itoa(r.Rank),
		r.Status,
		strconv.Itoa(r.StatusCode),
		r.StatusMessage,
		r.Title,
		r.Engine,
		r.Challenge,
		strconv.FormatInt(r.Duration.Milliseconds(), 10),
		string(measures),
		r.CreatedAt.Format(time.RFC3339Nano),
		r.Error,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Ensure we're at the end of the file for appending (just in case)
	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek csv file: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write record %s: %w", r.ID, err)
	}
	w.Flush()

	if err := w.Error(); err != nil {
		return fmt.Errorf("flush record %s: %w", r.ID, err)
	}

	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind csv file: %w", err)
	}
	defer func() {
		// Restore pointer to end for writing
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []*storage.Record{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var (
		all   []*storage.Record
		index = map[string]int{}
	)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if len(row) != len(headers) {
			continue // skip malformed rows
		}

		rec := parseRow(row)
		if i, ok := index[rec.ID]; ok {
			all[i] = rec
			continue
		}
		index[rec.ID] = len(all)
		all = append(all, rec)
	}

	return filter.Apply(all), nil
}

func parseRow(row []string) *storage.Record {
	rank, _ := strconv.Atoi(row[4])
	statusCode, _ := strconv.Atoi(row[6])
	durationMs, _ := strconv.ParseInt(row[11], 10, 64)
	createdAt, _ := time.Parse(time.RFC3339Nano, row[13])

	rec := &storage.Record{
		ID:            row[0],
		ResponseID:    row[1],
		Query:         row[2],
		URL:           row[3],
		Rank:          rank,
		Status:        row[5],
		StatusCode:    statusCode,
		StatusMessage: row[7],
		Title:         row[8],
		Engine:        row[9],
		Challenge:     row[10],
		Duration:      time.Duration(durationMs) * time.Millisecond,
		CreatedAt:     createdAt,
		Error:         row[14],
	}
	// a broken measures cell only loses the timeline
	_ = json.Unmarshal([]byte(row[12]), &rec.Measures)
	return rec
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
