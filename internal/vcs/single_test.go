package vcs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeManifestSource is an in-memory ManifestSource for single-version
// adapter tests: a linear sequence of cursors, each with its own file set.
type fakeManifestSource struct {
	sequence  []string
	manifests map[string]Manifest
	files     map[string]map[string][]byte // cursor -> path -> content
}

func newFakeManifestSource() *fakeManifestSource {
	return &fakeManifestSource{
		manifests: make(map[string]Manifest),
		files:     make(map[string]map[string][]byte),
	}
}

func (f *fakeManifestSource) addCursor(cursor string, files map[string]string, contents map[string][]byte) {
	f.sequence = append(f.sequence, cursor)
	f.manifests[cursor] = Manifest{Cursor: cursor, Files: files}
	f.files[cursor] = contents
}

func (f *fakeManifestSource) ManifestAt(_ context.Context, cursor string) (Manifest, error) {
	if cursor == "" {
		return f.manifests[f.sequence[len(f.sequence)-1]], nil
	}
	m, ok := f.manifests[cursor]
	if !ok {
		return Manifest{}, assertError("unknown cursor " + cursor)
	}
	return m, nil
}

func (f *fakeManifestSource) CursorSequence(_ context.Context) ([]string, error) {
	return f.sequence, nil
}

func (f *fakeManifestSource) ReadFile(_ context.Context, cursor, path string) ([]byte, error) {
	data, ok := f.files[cursor][path]
	if !ok {
		return nil, assertError("file not found")
	}
	return data, nil
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestSingleAdapter_DiffNameStatus_AddedModifiedDeleted(t *testing.T) {
	src := newFakeManifestSource()
	src.addCursor("c1", map[string]string{"a.go": "h1", "b.go": "h2"}, nil)
	src.addCursor("c2", map[string]string{"a.go": "h1-changed", "c.go": "h3"}, nil)

	adapter, err := NewSingleAdapter(src, t.TempDir(), nil)
	require.NoError(t, err)

	delta, err := adapter.DiffNameStatus(context.Background(), "c1", "c2")
	require.NoError(t, err)

	statuses := map[string]ChangeStatus{}
	for _, f := range delta.Files {
		statuses[f.Path] = f.Status
	}
	assert.Equal(t, StatusModified, statuses["a.go"])
	assert.Equal(t, StatusDeleted, statuses["b.go"])
	assert.Equal(t, StatusAdded, statuses["c.go"])
	assert.Empty(t, statuses["nonexistent"])
}

func TestDiffManifests_NoRenameDetection(t *testing.T) {
	base := Manifest{Cursor: "c1", Files: map[string]string{"old.go": "h1"}}
	head := Manifest{Cursor: "c2", Files: map[string]string{"new.go": "h1"}}

	delta := DiffManifests(base, head)

	for _, f := range delta.Files {
		assert.NotEqual(t, StatusRenamed, f.Status, "single-version mode has no VCS history to detect renames")
	}
	assert.Len(t, delta.Files, 2)
}

func TestSingleAdapter_MergeBase_LinearHistory(t *testing.T) {
	src := newFakeManifestSource()
	src.addCursor("c1", map[string]string{"a.go": "h1"}, nil)
	src.addCursor("c2", map[string]string{"a.go": "h2"}, nil)
	src.addCursor("c3", map[string]string{"a.go": "h3"}, nil)

	adapter, err := NewSingleAdapter(src, t.TempDir(), nil)
	require.NoError(t, err)

	mb, err := adapter.MergeBase(context.Background(), "c3", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", mb)
}

func TestSingleAdapter_IsAncestor(t *testing.T) {
	src := newFakeManifestSource()
	src.addCursor("c1", map[string]string{}, nil)
	src.addCursor("c2", map[string]string{}, nil)

	adapter, err := NewSingleAdapter(src, t.TempDir(), nil)
	require.NoError(t, err)

	isAnc, err := adapter.IsAncestor(context.Background(), "c1", "c2")
	require.NoError(t, err)
	assert.True(t, isAnc)

	isAnc, err = adapter.IsAncestor(context.Background(), "c2", "c1")
	require.NoError(t, err)
	assert.False(t, isAnc)
}

func TestSingleAdapter_ResolveHead(t *testing.T) {
	src := newFakeManifestSource()
	src.addCursor("c1", map[string]string{}, nil)
	src.addCursor("c2", map[string]string{}, nil)

	adapter, err := NewSingleAdapter(src, t.TempDir(), nil)
	require.NoError(t, err)

	head, err := adapter.ResolveHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c2", head)
}

func TestSingleAdapter_ReadBlob(t *testing.T) {
	src := newFakeManifestSource()
	src.addCursor("c1", map[string]string{"a.go": "h1"}, map[string][]byte{"a.go": []byte("package a\n")})

	adapter, err := NewSingleAdapter(src, t.TempDir(), nil)
	require.NoError(t, err)

	data, err := adapter.ReadBlob(context.Background(), "c1", "a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(data))
}

func TestSingleAdapter_Mode(t *testing.T) {
	adapter := &SingleAdapter{}
	assert.Equal(t, ModeSingle, adapter.Mode())
}

func TestSingleAdapter_WorktreeLease(t *testing.T) {
	src := newFakeManifestSource()
	leaseDir := filepath.Join(t.TempDir(), "leases")

	adapter, err := NewSingleAdapter(src, leaseDir, nil)
	require.NoError(t, err)

	lease, err := adapter.WorktreeLease(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, lease.RefCount())
	require.NoError(t, lease.Release())
}
