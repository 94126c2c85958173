package overlay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalridge/cruxe/internal/store"
)

type fakeTombstones struct {
	byRef map[string][]string
}

func (f *fakeTombstones) ListTombstones(ctx context.Context, projectID, ref string) ([]string, error) {
	return f.byRef[ref], nil
}

func newTestFilesIndex(t *testing.T) *store.LayeredIndex {
	t.Helper()
	li, err := store.NewLayeredIndex(filepath.Join(t.TempDir(), "files"), store.IndexKindFiles)
	require.NoError(t, err)
	t.Cleanup(func() { _ = li.Close() })
	return li
}

func TestReader_BaseOnlyResultsTaggedBase(t *testing.T) {
	li := newTestFilesIndex(t)
	ctx := context.Background()

	w, err := li.BeginBaseStaging("sync-1")
	require.NoError(t, err)
	require.NoError(t, w.Put("main.go", store.FileDoc{Path: "main.go", Language: "go"}))
	require.NoError(t, w.Commit(ctx))

	r := NewReader(li, &fakeTombstones{}, "proj-1")
	hits, err := r.Search(ctx, "main", bleve.NewMatchAllQuery(), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "main.go", hits[0].ID)
	assert.Equal(t, store.LayerBase, hits[0].SourceLayer)
}

func TestReader_OverlayWinsOverBaseForSamePath(t *testing.T) {
	li := newTestFilesIndex(t)
	ctx := context.Background()

	wb, err := li.BeginBaseStaging("sync-1")
	require.NoError(t, err)
	require.NoError(t, wb.Put("main.go", store.FileDoc{Path: "main.go", Language: "go", ContentHash: "base-hash"}))
	require.NoError(t, wb.Commit(ctx))

	wo, err := li.BeginOverlayStaging("feature/x", "sync-1")
	require.NoError(t, err)
	require.NoError(t, wo.Put("main.go", store.FileDoc{Path: "main.go", Language: "go", ContentHash: "overlay-hash"}))
	require.NoError(t, wo.Commit(ctx))

	r := NewReader(li, &fakeTombstones{}, "proj-1")
	hits, err := r.Search(ctx, "feature/x", bleve.NewMatchAllQuery(), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1, "overlay-wins dedup must collapse both layers' hit for the same path into one")
	assert.Equal(t, store.LayerOverlay, hits[0].SourceLayer)
}

func TestReader_TombstoneSuppressesBaseHitForRef(t *testing.T) {
	li := newTestFilesIndex(t)
	ctx := context.Background()

	w, err := li.BeginBaseStaging("sync-1")
	require.NoError(t, err)
	require.NoError(t, w.Put("deleted.go", store.FileDoc{Path: "deleted.go", Language: "go"}))
	require.NoError(t, w.Put("kept.go", store.FileDoc{Path: "kept.go", Language: "go"}))
	require.NoError(t, w.Commit(ctx))

	tombstones := &fakeTombstones{byRef: map[string][]string{"feature/x": {"deleted.go"}}}
	r := NewReader(li, tombstones, "proj-1")

	hits, err := r.Search(ctx, "feature/x", bleve.NewMatchAllQuery(), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "kept.go", hits[0].ID)

	// A different ref without that tombstone still sees the base hit.
	hitsOther, err := r.Search(ctx, "main", bleve.NewMatchAllQuery(), 10)
	require.NoError(t, err)
	assert.Len(t, hitsOther, 2)
}

func TestReader_NoBaseNoOverlayReturnsEmpty(t *testing.T) {
	li := newTestFilesIndex(t)
	r := NewReader(li, &fakeTombstones{}, "proj-1")
	hits, err := r.Search(context.Background(), "main", bleve.NewMatchAllQuery(), 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
