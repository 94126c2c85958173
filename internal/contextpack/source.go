package contextpack

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalridge/cruxe/internal/store"
)

// defaultSourceCacheSize bounds how many distinct (project,ref,path) file
// blobs SourceReader keeps warm across repeated build_context_pack calls
// against the same ref.
const defaultSourceCacheSize = 512

// blobStore is the subset of *store.StateStore SourceReader needs.
type blobStore interface {
	ReadFileBlob(ctx context.Context, projectID, ref, path string) ([]byte, error)
}

// SourceReader resolves a candidate's full snippet text from C2's file
// blob store, caching reads so assembling several snippets from the same
// file within one pack (or across nearby calls against the same ref)
// doesn't re-read it from SQLite each time.
type SourceReader struct {
	store blobStore
	cache *lru.Cache[string, []byte]
}

// NewSourceReader builds a SourceReader backed by store with the default
// cache size.
func NewSourceReader(s *store.StateStore) (*SourceReader, error) {
	cache, err := lru.New[string, []byte](defaultSourceCacheSize)
	if err != nil {
		return nil, err
	}
	return &SourceReader{store: s, cache: cache}, nil
}

func blobKey(projectID, ref, path string) string {
	return projectID + "\x00" + ref + "\x00" + path
}

// Snippet reads path's full content for (projectID, ref) and slices out
// [lineStart, lineEnd] (1-indexed, inclusive). A request past the end of
// file clamps to the last available line rather than erroring, matching
// the fallback-friendly style spec §4.10 expects from context assembly.
func (r *SourceReader) Snippet(ctx context.Context, projectID, ref, path string, lineStart, lineEnd int) (string, error) {
	key := blobKey(projectID, ref, path)
	content, ok := r.cache.Get(key)
	if !ok {
		blob, err := r.store.ReadFileBlob(ctx, projectID, ref, path)
		if err != nil {
			return "", fmt.Errorf("contextpack: reading %s@%s: %w", path, ref, err)
		}
		content = blob
		r.cache.Add(key, content)
	}
	return extractLines(string(content), lineStart, lineEnd), nil
}

func extractLines(content string, lineStart, lineEnd int) string {
	if lineStart < 1 {
		lineStart = 1
	}
	start, end, line, lineStartIdx := -1, len(content), 1, 0
	for i, ch := range content {
		if line == lineStart && start == -1 {
			start = lineStartIdx
		}
		if ch == '\n' {
			if line == lineEnd {
				end = i + 1
				break
			}
			line++
			lineStartIdx = i + 1
		}
	}
	if start == -1 {
		start = 0
	}
	if start > len(content) {
		start = len(content)
	}
	if end > len(content) {
		end = len(content)
	}
	if start > end {
		start = end
	}
	return content[start:end]
}
