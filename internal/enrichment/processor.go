package enrichment

import (
	"context"
	"fmt"

	"github.com/signalridge/cruxe/internal/contextpack"
	"github.com/signalridge/cruxe/internal/embed"
	"github.com/signalridge/cruxe/internal/store"
)

// vectorStore is the subset of *store.HNSWStore a Processor needs. Add is
// idempotent — reinserting an existing ID updates it in place (lazy
// deletion internally), so reprocessing the same item after a crash or a
// stale-generation replay is always safe.
type vectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
}

// sourceReader narrows contextpack.SourceReader to what the processor needs.
type sourceReader interface {
	Snippet(ctx context.Context, projectID, ref, path string, lineStart, lineEnd int) (string, error)
}

// SemanticProcessor computes a whole-file embedding for each enrichment
// item and writes it into the semantic vector index, keyed so a later
// search can join it back to (project, ref, path).
type SemanticProcessor struct {
	embedder embed.Embedder
	source   sourceReader
	vectors  vectorStore
}

// NewSemanticProcessor builds a Processor over an embedding backend, a
// source reader for file content, and the project's semantic vector
// index.
func NewSemanticProcessor(embedder embed.Embedder, source *contextpack.SourceReader, vectors *store.HNSWStore) *SemanticProcessor {
	return &SemanticProcessor{embedder: embedder, source: source, vectors: vectors}
}

// VectorID derives the stable vector-store key for an enrichment item.
// The same (project, ref, path) always maps to the same key, so
// reprocessing a newer generation overwrites the prior embedding instead
// of leaking an orphaned entry.
func VectorID(projectID, ref, path string) string {
	return projectID + "\x00" + ref + "\x00" + path
}

func (p *SemanticProcessor) Process(ctx context.Context, item store.EnrichmentItem) error {
	if !p.embedder.Available(ctx) {
		return fmt.Errorf("embedding backend unavailable")
	}

	// lineEnd=0 signals "whole file" to extractLines' clamping, so a
	// maximal range reads everything the blob store has.
	content, err := p.source.Snippet(ctx, item.ProjectID, item.Ref, item.Path, 1, 1<<30)
	if err != nil {
		return fmt.Errorf("read %s: %w", item.Path, err)
	}
	if content == "" {
		return nil
	}

	vec, err := p.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed %s: %w", item.Path, err)
	}

	id := VectorID(item.ProjectID, item.Ref, item.Path)
	if err := p.vectors.Add(ctx, []string{id}, [][]float32{vec}); err != nil {
		return fmt.Errorf("write vector for %s: %w", item.Path, err)
	}
	return nil
}
