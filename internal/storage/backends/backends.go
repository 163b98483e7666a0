// Package backends opens a storage.Backend by name.
package backends

import (
	"context"
	"fmt"

	"github.com/FranksOps/skein/internal/storage"
	"github.com/FranksOps/skein/internal/storage/boltbackend"
	"github.com/FranksOps/skein/internal/storage/csvbackend"
	"github.com/FranksOps/skein/internal/storage/jsonbackend"
	"github.com/FranksOps/skein/internal/storage/postgres"
	"github.com/FranksOps/skein/internal/storage/sqlite"
)

// Backend names accepted by Open.
const (
	None     = "none"
	SQLite   = "sqlite"
	Postgres = "postgres"
	JSON     = "json"
	CSV      = "csv"
	Bolt     = "bolt"
)

// Open returns the backend called name. For file and database backends dsn is
// the file path or connection string. An empty name means None.
func Open(ctx context.Context, name, dsn string) (storage.Backend, error) {
	switch name {
	case "", None:
		return storage.Discard, nil
	case SQLite, Postgres, JSON, CSV, Bolt:
		if dsn == "" {
			return nil, fmt.Errorf("storage backend %q needs a dsn", name)
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", name)
	}

	switch name {
	case SQLite:
		return sqlite.New(dsn)
	case Postgres:
		return postgres.New(ctx, dsn)
	case JSON:
		b, err := jsonbackend.New(dsn)
		if err != nil {
			return nil, err
		}
		return b, nil
	case CSV:
		return csvbackend.New(dsn)
	default:
		return boltbackend.New(dsn)
	}
}
