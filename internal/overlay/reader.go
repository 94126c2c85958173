// Package overlay implements C5: the ref-scoped read path over a C3
// LayeredIndex. It opens base and overlay in parallel, tags each hit with
// its source layer, suppresses base hits under a ref-scoped tombstone, and
// deduplicates across layers by merge key with overlay-wins precedence.
package overlay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	bleveSearch "github.com/blevesearch/bleve/v2/search"

	"github.com/signalridge/cruxe/internal/cruxeerr"
	"github.com/signalridge/cruxe/internal/store"
)

// TombstoneSource looks up the set of ref-scoped tombstoned paths for a
// project. *store.StateStore satisfies this via ListTombstones.
type TombstoneSource interface {
	ListTombstones(ctx context.Context, projectID, ref string) ([]string, error)
}

// Hit is one merged, layer-tagged search result. ID is the canonical merge
// key (spec §4.3/§4.5): symbol_stable_id for symbols, "path:line_start-
// line_end" for snippets, path for files — the same string the C3 writer
// used as the bleve document ID, so no extra key reconstruction is needed.
type Hit struct {
	ID          string
	Score       float64
	SourceLayer store.SourceLayer
	Fields      map[string]interface{}
}

// Reader answers ref-scoped queries against one LayeredIndex.
type Reader struct {
	kind       store.IndexKind
	index      *store.LayeredIndex
	tombstones TombstoneSource
	projectID  string
}

// NewReader builds a Reader over index for one project's tombstone scope.
func NewReader(index *store.LayeredIndex, tombstones TombstoneSource, projectID string) *Reader {
	return &Reader{kind: index.Kind(), index: index, tombstones: tombstones, projectID: projectID}
}

// pathOf extracts the path used for tombstone matching from a raw bleve
// hit. For the files index the document ID already is the path; symbols
// and snippets carry it as a stored field.
func (r *Reader) pathOf(id string, fields map[string]interface{}) string {
	if r.kind == store.IndexKindFiles {
		return id
	}
	if p, ok := fields["path"].(string); ok {
		return p
	}
	return ""
}

// Search issues query against ref's base and overlay in parallel, merges
// by ID with overlay-wins precedence, suppresses tombstoned base hits, and
// returns at most limit hits sorted by score descending (stable tie-break
// on ID, per spec §4.7's "deterministic and order-preserving by
// source_layer+score+stable_id").
func (r *Reader) Search(ctx context.Context, ref string, query bleve.Query, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, cruxeerr.InvalidInput("search limit must be positive", nil)
	}

	var baseHits, overlayHits []Hit
	var baseErr, overlayErr error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		baseHits, baseErr = r.searchLayer(ctx, store.LayerBase, query, limit)
	}()
	go func() {
		defer wg.Done()
		overlayHits, overlayErr = r.searchOverlay(ctx, ref, query, limit)
	}()
	wg.Wait()

	if baseErr != nil {
		return nil, baseErr
	}
	if overlayErr != nil {
		return nil, overlayErr
	}

	tombstoned, err := r.tombstonedPaths(ctx, ref)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]Hit, len(baseHits)+len(overlayHits))
	for _, h := range baseHits {
		if tombstoned[r.pathOf(h.ID, h.Fields)] {
			continue
		}
		merged[h.ID] = h
	}
	for _, h := range overlayHits {
		merged[h.ID] = h // overlay wins unconditionally, tombstones included
	}

	out := make([]Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Reader) searchLayer(ctx context.Context, layer store.SourceLayer, query bleve.Query, limit int) ([]Hit, error) {
	idx, ok := r.index.BaseIndex()
	if !ok {
		return nil, nil
	}
	return runQuery(ctx, idx, query, limit, layer)
}

func (r *Reader) searchOverlay(ctx context.Context, ref string, query bleve.Query, limit int) ([]Hit, error) {
	idx, ok, err := r.index.OverlayIndex(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return runQuery(ctx, idx, query, limit, store.LayerOverlay)
}

// hitFieldsToLoad are the stored fields C8's ranker needs off a raw hit
// without a second store round-trip (name/qualified_name only exist on
// symbol docs; bleve leaves them absent on snippet/file hits, which is
// harmless).
var hitFieldsToLoad = []string{"path", "name", "qualified_name"}

func runQuery(ctx context.Context, idx bleve.Index, query bleve.Query, limit int, layer store.SourceLayer) ([]Hit, error) {
	req := bleve.NewSearchRequest(query)
	req.Size = limit
	req.Fields = hitFieldsToLoad

	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("%s layer search: %w", layer, err))
	}
	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, hitFromBleve(h, layer))
	}
	return hits, nil
}

func hitFromBleve(h *bleveSearch.DocumentMatch, layer store.SourceLayer) Hit {
	return Hit{ID: h.ID, Score: h.Score, SourceLayer: layer, Fields: h.Fields}
}

func (r *Reader) tombstonedPaths(ctx context.Context, ref string) (map[string]bool, error) {
	paths, err := r.tombstones.ListTombstones(ctx, r.projectID, ref)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set, nil
}
