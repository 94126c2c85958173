package contextpack

import (
	"context"
	"testing"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache() (*lru.Cache[string, []byte], error) {
	return lru.New[string, []byte](defaultSourceCacheSize)
}

func TestExtractLines_MiddleRange(t *testing.T) {
	content := "a\nb\nc\nd\n"
	assert.Equal(t, "b\nc\n", extractLines(content, 2, 3))
}

func TestExtractLines_SingleLine(t *testing.T) {
	content := "a\nb\nc\n"
	assert.Equal(t, "b\n", extractLines(content, 2, 2))
}

func TestExtractLines_PastEndOfFileClampsToAvailableContent(t *testing.T) {
	content := "a\nb\nc"
	assert.Equal(t, "c", extractLines(content, 3, 100))
}

type fakeBlobStore struct {
	reads int
	blob  []byte
}

func (f *fakeBlobStore) ReadFileBlob(ctx context.Context, projectID, ref, path string) ([]byte, error) {
	f.reads++
	return f.blob, nil
}

func TestSourceReader_CachesRepeatedReadsOfSameBlob(t *testing.T) {
	fake := &fakeBlobStore{blob: []byte("a\nb\nc\n")}
	r := &SourceReader{store: fake}
	cache, err := newTestCache()
	require.NoError(t, err)
	r.cache = cache

	s1, err := r.Snippet(context.Background(), "proj", "main", "f.go", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "a\n", s1)

	s2, err := r.Snippet(context.Background(), "proj", "main", "f.go", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, "b\n", s2)

	assert.Equal(t, 1, fake.reads, "second read of the same (project,ref,path) should hit the cache")
}
