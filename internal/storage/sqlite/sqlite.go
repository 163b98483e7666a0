package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/skein/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_records (
	id TEXT PRIMARY KEY,
	response_id TEXT NOT NULL,
	query TEXT NOT NULL,
	url TEXT NOT NULL,
	result_rank INTEGER NOT NULL,
	status TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	status_message TEXT,
	title TEXT,
	engine TEXT,
	challenge TEXT,
	duration_ms INTEGER NOT NULL,
	measures TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS crawl_records_response_idx ON crawl_records (response_id);
CREATE INDEX IF NOT EXISTS crawl_records_created_idx ON crawl_records (created_at);
`

const columns = `id, response_id, query, url, result_rank, status, status_code, status_message, title, engine, challenge, duration_ms, measures, created_at, error`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, r *storage.Record) error {
	measures, err := json.Marshal(r.Measures)
	if err != nil {
		return fmt.Errorf("encode measures: %w", err)
	}

	query := `INSERT OR REPLACE INTO crawl_records (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = b.db.ExecContext(ctx, query,
		r.ID,
		r.ResponseID,
		r.Query,
		r.URL,
		r.Rank,
		r.Status,
		r.StatusCode,
		r.StatusMessage,
		r.Title,
		r.Engine,
		r.Challenge,
		r.Duration.Milliseconds(),
		string(measures),
		r.CreatedAt.UTC(),
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT ` + columns + ` FROM crawl_records WHERE 1=1`
	args := []any{}

	if filter.ResponseID != "" {
		query += ` AND response_id = ?`
		args = append(args, filter.ResponseID)
	}
	if filter.URL != "" {
		query += ` AND url = ?`
		args = append(args, filter.URL)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY created_at DESC`

	// SQLite only accepts OFFSET after LIMIT; -1 means no limit.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []*storage.Record
	for rows.Next() {
		var (
			r          storage.Record
			message    sql.NullString
			title      sql.NullString
			engine     sql.NullString
			challenge  sql.NullString
			errText    sql.NullString
			measures   string
			durationMs int64
		)

		err := rows.Scan(
			&r.ID, &r.ResponseID, &r.Query, &r.URL, &r.Rank, &r.Status, &r.StatusCode,
			&message, &title, &engine, &challenge, &durationMs, &measures, &r.CreatedAt, &errText,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		r.StatusMessage = message.String
		r.Title = title.String
		r.Engine = engine.String
		r.Challenge = challenge.String
		r.Error = errText.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal([]byte(measures), &r.Measures); err != nil {
			return nil, fmt.Errorf("decode measures of %s: %w", r.ID, err)
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
