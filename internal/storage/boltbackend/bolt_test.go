package boltbackend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/skein/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "skein.db")
	b, err := New(path)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, b.Save(ctx, &storage.Record{ID: "a", ResponseID: "r1", URL: "https://a.com/", Status: "handled", CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, b.Save(ctx, &storage.Record{ID: "b", ResponseID: "r1", URL: "https://b.com/", Status: "failed", StatusCode: 404, CreatedAt: now}))
	require.NoError(t, b.Save(ctx, &storage.Record{ID: "c", ResponseID: "r2", URL: "https://a.com/", Status: "handled", Duration: 2 * time.Second, CreatedAt: now.Add(-2 * time.Minute)}))

	all, err := b.Query(ctx, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "c", all[2].ID)
	assert.Equal(t, 2*time.Second, all[2].Duration)

	failed, err := b.Query(ctx, storage.Filter{ResponseID: "r1", Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 404, failed[0].StatusCode)

	// Same id overwrites
	require.NoError(t, b.Save(ctx, &storage.Record{ID: "b", ResponseID: "r1", URL: "https://b.com/", Status: "handled", CreatedAt: now}))
	page, err := b.Query(ctx, storage.Filter{URL: "https://b.com/", Limit: 5})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "handled", page[0].Status)

	require.NoError(t, b.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()
	all, err = reopened.Query(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
