// Package jsonbackend stores records as newline-delimited JSON in a single
// append-only file. Saving a record again appends a new line that shadows
// the old one on read.
package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/FranksOps/skein/internal/storage"
)

var _ storage.Backend = (*Backend)(nil)

type Backend struct {
	path string

	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

// New opens path for appending, creating it and its directory as needed.
func New(path string) (*Backend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ndjson file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &Backend{path: path, f: f, w: w, enc: json.NewEncoder(w)}, nil
}

// Save appends r and flushes it so concurrent readers see complete lines.
func (b *Backend) Save(ctx context.Context, r *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f == nil {
		return os.ErrClosed
	}
	if err := b.enc.Encode(r); err != nil {
		return fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	if err := b.w.Flush(); err != nil {
		return fmt.Errorf("append record %s: %w", r.ID, err)
	}
	return nil
}

// Query decodes the file from the start on its own handle. The latest line
// for an id wins. A torn record at the end of the file, left by a crash mid
// write, is ignored.
func (b *Backend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	b.mu.Lock()
	closed := b.f == nil
	b.mu.Unlock()
	if closed {
		return nil, os.ErrClosed
	}

	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("open ndjson file: %w", err)
	}
	defer f.Close()

	latest, order, err := decodeAll(ctx, f)
	if err != nil {
		return nil, err
	}

	records := make([]*storage.Record, 0, len(order))
	for _, id := range order {
		records = append(records, latest[id])
	}
	return filter.Apply(records), nil
}

func decodeAll(ctx context.Context, r io.Reader) (map[string]*storage.Record, []string, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	latest := map[string]*storage.Record{}
	var order []string

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rec := new(storage.Record)
		err := dec.Decode(rec)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("decode record at offset %d: %w", dec.InputOffset(), err)
		}
		if _, seen := latest[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		latest[rec.ID] = rec
	}
	return latest, order, nil
}

// Close flushes pending output and closes the file. Calling it twice is a no-op.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f == nil {
		return nil
	}
	err := errors.Join(b.w.Flush(), b.f.Close())
	b.f = nil
	return err
}
