package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLayeredIndex(t *testing.T, kind IndexKind) (*LayeredIndex, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), string(kind))
	li, err := NewLayeredIndex(dir, kind)
	require.NoError(t, err)
	t.Cleanup(func() { _ = li.Close() })
	return li, dir
}

func TestLayeredIndex_NewHasNoBaseUntilPublished(t *testing.T) {
	li, _ := newTestLayeredIndex(t, IndexKindFiles)
	_, ok := li.BaseIndex()
	assert.False(t, ok)
}

func TestLayeredIndex_BaseStagingPublishIsReadable(t *testing.T) {
	li, _ := newTestLayeredIndex(t, IndexKindFiles)
	ctx := context.Background()

	w, err := li.BeginBaseStaging("sync-1")
	require.NoError(t, err)
	require.NoError(t, w.Put("main.go", FileDoc{Path: "main.go", Language: "go", ContentHash: "h1"}))
	require.NoError(t, w.Commit(ctx))

	idx, ok := li.BaseIndex()
	require.True(t, ok)
	doc, err := idx.Document("main.go")
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestLayeredIndex_OverlayStagingPublishIsReadable(t *testing.T) {
	li, _ := newTestLayeredIndex(t, IndexKindSnippets)
	ctx := context.Background()

	w, err := li.BeginOverlayStaging("feature/x", "sync-1")
	require.NoError(t, err)
	id := "pkg/foo.go:10-20"
	require.NoError(t, w.Put(id, SnippetDoc{Path: "pkg/foo.go", Content: "func Foo() {}", Origin: "symbol", LineStart: 10, LineEnd: 20}))
	require.NoError(t, w.Commit(ctx))

	idx, ok, err := li.OverlayIndex(ctx, "feature/x")
	require.NoError(t, err)
	require.True(t, ok)
	doc, err := idx.Document(id)
	require.NoError(t, err)
	assert.NotNil(t, doc)

	// Querying a ref that was never published reports not-found, not an error.
	_, ok, err = li.OverlayIndex(ctx, "never-synced")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLayeredIndex_OverlayRestagingSeedsFromPriorGenerationAndReplacesIt(t *testing.T) {
	li, _ := newTestLayeredIndex(t, IndexKindSnippets)
	ctx := context.Background()

	w1, err := li.BeginOverlayStaging("feature/x", "sync-1")
	require.NoError(t, err)
	require.NoError(t, w1.Put("a.go:1-5", SnippetDoc{Path: "a.go", Content: "package a", LineStart: 1, LineEnd: 5}))
	require.NoError(t, w1.Put("b.go:1-5", SnippetDoc{Path: "b.go", Content: "package b", LineStart: 1, LineEnd: 5}))
	require.NoError(t, w1.Commit(ctx))

	// Second sync only touches b.go; a.go must survive because staging was
	// seeded from the previously published generation.
	w2, err := li.BeginOverlayStaging("feature/x", "sync-2")
	require.NoError(t, err)
	require.NoError(t, w2.Put("b.go:1-5", SnippetDoc{Path: "b.go", Content: "package b updated", LineStart: 1, LineEnd: 5}))
	require.NoError(t, w2.Commit(ctx))

	idx, ok, err := li.OverlayIndex(ctx, "feature/x")
	require.NoError(t, err)
	require.True(t, ok)

	docA, err := idx.Document("a.go:1-5")
	require.NoError(t, err)
	assert.NotNil(t, docA, "unseeded overlay generation should have lost a.go's doc")

	docB, err := idx.Document("b.go:1-5")
	require.NoError(t, err)
	assert.NotNil(t, docB)
}

func TestLayeredIndex_AbortLeavesPriorOverlayIntact(t *testing.T) {
	li, _ := newTestLayeredIndex(t, IndexKindFiles)
	ctx := context.Background()

	w1, err := li.BeginOverlayStaging("feature/x", "sync-1")
	require.NoError(t, err)
	require.NoError(t, w1.Put("main.go", FileDoc{Path: "main.go", Language: "go"}))
	require.NoError(t, w1.Commit(ctx))

	w2, err := li.BeginOverlayStaging("feature/x", "sync-2")
	require.NoError(t, err)
	require.NoError(t, w2.Put("broken.go", FileDoc{Path: "broken.go", Language: "go"}))
	require.NoError(t, w2.Abort())

	idx, ok, err := li.OverlayIndex(ctx, "feature/x")
	require.NoError(t, err)
	require.True(t, ok)

	doc, err := idx.Document("main.go")
	require.NoError(t, err)
	assert.NotNil(t, doc, "aborted staging must not disturb the previously published overlay")

	doc, err = idx.Document("broken.go")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestLayeredIndex_DeleteInStaging(t *testing.T) {
	li, _ := newTestLayeredIndex(t, IndexKindSymbols)
	ctx := context.Background()

	w1, err := li.BeginOverlayStaging("main", "sync-1")
	require.NoError(t, err)
	require.NoError(t, w1.Put("sym-1", SymbolDoc{StableID: "sym-1", Name: "Foo"}))
	require.NoError(t, w1.Commit(ctx))

	w2, err := li.BeginOverlayStaging("main", "sync-2")
	require.NoError(t, err)
	require.NoError(t, w2.Delete("sym-1"))
	require.NoError(t, w2.Commit(ctx))

	idx, ok, err := li.OverlayIndex(ctx, "main")
	require.NoError(t, err)
	require.True(t, ok)
	doc, err := idx.Document("sym-1")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestLayeredIndex_BaseRebuildIsNeverSeeded(t *testing.T) {
	li, _ := newTestLayeredIndex(t, IndexKindFiles)
	ctx := context.Background()

	w1, err := li.BeginBaseStaging("sync-1")
	require.NoError(t, err)
	require.NoError(t, w1.Put("a.go", FileDoc{Path: "a.go"}))
	require.NoError(t, w1.Commit(ctx))

	w2, err := li.BeginBaseStaging("sync-2")
	require.NoError(t, err)
	require.NoError(t, w2.Put("b.go", FileDoc{Path: "b.go"}))
	require.NoError(t, w2.Commit(ctx))

	idx, ok := li.BaseIndex()
	require.True(t, ok)

	docA, err := idx.Document("a.go")
	require.NoError(t, err)
	assert.Nil(t, docA, "base rebuild must not inherit the prior generation's docs")

	docB, err := idx.Document("b.go")
	require.NoError(t, err)
	assert.NotNil(t, docB)
}

func TestLayeredIndex_ReopenPicksUpPublishedGenerations(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "files")
	li, err := NewLayeredIndex(dir, IndexKindFiles)
	require.NoError(t, err)
	ctx := context.Background()

	w, err := li.BeginBaseStaging("sync-1")
	require.NoError(t, err)
	require.NoError(t, w.Put("main.go", FileDoc{Path: "main.go"}))
	require.NoError(t, w.Commit(ctx))
	require.NoError(t, li.Close())

	reopened, err := NewLayeredIndex(dir, IndexKindFiles)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	idx, ok := reopened.BaseIndex()
	require.True(t, ok)
	doc, err := idx.Document("main.go")
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestCopyDir_CopiesNestedFiles(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("b"), 0o644))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, copyDir(src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
}
