package boltbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/FranksOps/skein/internal/storage"
	bolt "go.etcd.io/bbolt"
)

// ensure boltBackend implements storage.Backend
var _ storage.Backend = (*boltBackend)(nil)

var bucketName = []byte("crawl_records")

type boltBackend struct {
	db *bolt.DB
}

// New opens (or creates) a BoltDB file at path and returns a storage.Backend
// keeping one JSON document per record id.
func New(path string) (storage.Backend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for bolt file: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt file: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &boltBackend{db: db}, nil
}

func (b *boltBackend) Save(ctx context.Context, r *storage.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.ID, err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(r.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put record %s: %w", r.ID, err)
	}
	return nil
}

func (b *boltBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	var all []*storage.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var r storage.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode record %s: %w", k, err)
			}
			all = append(all, &r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	return filter.Apply(all), nil
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}
