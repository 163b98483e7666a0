package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FranksOps/skein/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
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
	status_message TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	engine TEXT NOT NULL DEFAULT '',
	challenge TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	measures JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS crawl_records_response_idx ON crawl_records (response_id);
CREATE INDEX IF NOT EXISTS crawl_records_created_idx ON crawl_records (created_at DESC);
`

const columns = `id, response_id, query, url, result_rank, status, status_code, status_message, title, engine, challenge, duration_ms, measures, created_at, error`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, r *storage.Record) error {
	measures, err := json.Marshal(r.Measures)
	if err != nil {
		return fmt.Errorf("encode measures: %w", err)
	}

	query := `
	INSERT INTO crawl_records (` + columns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		status_code = EXCLUDED.status_code,
		status_message = EXCLUDED.status_message,
		title = EXCLUDED.title,
		duration_ms = EXCLUDED.duration_ms,
		measures = EXCLUDED.measures,
		error = EXCLUDED.error
	`

	_, err = b.pool.Exec(ctx, query,
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
		measures,
		r.CreatedAt,
		r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", r.ID, err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	query := `SELECT ` + columns + ` FROM crawl_records WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.ResponseID != "" {
		query += fmt.Sprintf(` AND response_id = $%d`, paramCount)
		args = append(args, filter.ResponseID)
		paramCount++
	}
	if filter.URL != "" {
		query += fmt.Sprintf(` AND url = $%d`, paramCount)
		args = append(args, filter.URL)
		paramCount++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, paramCount)
		args = append(args, filter.Status)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var results []*storage.Record
	for rows.Next() {
		var (
			r          storage.Record
			measures   []byte
			durationMs int64
		)

		err := rows.Scan(
			&r.ID, &r.ResponseID, &r.Query, &r.URL, &r.Rank, &r.Status, &r.StatusCode,
			&r.StatusMessage, &r.Title, &r.Engine, &r.Challenge, &durationMs, &measures, &r.CreatedAt, &r.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		r.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal(measures, &r.Measures); err != nil {
			return nil, fmt.Errorf("decode measures of %s: %w", r.ID, err)
		}

		results = append(results, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
