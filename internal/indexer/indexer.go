// Package indexer implements C4: the scan/parse/extract/window pipeline
// that turns a project's working tree into the symbol, snippet, and file
// records C3's layered indexes serve, plus the incremental sync that
// keeps a non-default ref's overlay current against the default ref's
// base (spec §4.4). It is grounded on internal/index/runner.go's
// scan-then-chunk-then-persist sequencing, generalized to C2/C3's
// stable-ID symbol graph instead of runner.go's flat chunk store.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/signalridge/cruxe/internal/chunk"
	"github.com/signalridge/cruxe/internal/config"
	"github.com/signalridge/cruxe/internal/cruxeerr"
	"github.com/signalridge/cruxe/internal/scanner"
	"github.com/signalridge/cruxe/internal/store"
	"github.com/signalridge/cruxe/internal/vcs"
)

// Chunk-windowing constants (spec §4.4). A symbol taller than
// MaxChunkLines is split into overlapping WindowLines-line windows
// rather than kept as one oversized snippet.
const (
	MaxChunkLines    = 50
	WindowLines      = 40
	WindowOverlap    = 10
	MaxSnippetTokens = 512
	bytesPerToken    = 4
)

// Indexer owns one project's pipeline: scan the working tree, parse with
// tree-sitter, extract symbols/edges, window snippets, and publish
// through C3's two-phase staging writers.
type Indexer struct {
	root       string
	scan       *scanner.Scanner
	chunker    *chunk.CodeChunker
	state      *store.StateStore
	symbols    *store.LayeredIndex
	snippets   *store.LayeredIndex
	files      *store.LayeredIndex
	vcsAdapter vcs.Adapter
	paths      []string // scan include/exclude, from config.PathsConfig
	excludes   []string
	logger     *slog.Logger
}

// Option configures an Indexer beyond its required collaborators.
type Option func(*Indexer)

// WithPaths sets the include/exclude glob patterns the scanner applies.
func WithPaths(include, exclude []string) Option {
	return func(ix *Indexer) {
		ix.paths = include
		ix.excludes = exclude
	}
}

// WithPathsConfig adapts config.PathsConfig (the project's configured
// scan scope) into WithPaths, the seam serve.go wires an Indexer through.
func WithPathsConfig(cfg config.PathsConfig) Option {
	return WithPaths(cfg.Include, cfg.Exclude)
}

// New builds an Indexer rooted at root (the project's working tree), with
// state/symbols/snippets/files wired to the caller's C2/C3 stores and
// adapter as the project's C1 VCS abstraction.
func New(root string, state *store.StateStore, symbols, snippets, files *store.LayeredIndex, adapter vcs.Adapter, sc *scanner.Scanner, logger *slog.Logger, opts ...Option) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Indexer{
		root: root, state: state, symbols: symbols, snippets: snippets, files: files,
		vcsAdapter: adapter, scan: sc, chunker: chunk.NewCodeChunker(), logger: logger,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Close releases the tree-sitter parsers the chunker holds open.
func (ix *Indexer) Close() {
	ix.chunker.Close()
}

// Stats summarizes one Sync call for logging and tool-surface diagnostics.
type Stats struct {
	Mode            store.IndexJobMode
	JobID           int64
	FilesScanned    int
	FilesChanged    int
	FilesDeleted    int
	SymbolsWritten  int
	SnippetsWritten int
	EdgesWritten    int
}

// Sync brings ref's published layer up to date with the project's current
// working tree: base if ref is the project's default ref (always
// rebuilt, per spec §4.3's "base is immutable except full rebuilds"),
// otherwise ref's overlay (incrementally updated, or rebuilt wholesale
// when the ref's VCS history no longer descends from what the last sync
// published).
func (ix *Indexer) Sync(ctx context.Context, projectID, defaultRef, ref string) (Stats, error) {
	isBase := ref == defaultRef

	lease, err := ix.vcsAdapter.WorktreeLease(ctx, ref)
	if err != nil {
		return Stats{}, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("lease %s: %w", ref, err))
	}
	defer func() { _ = lease.Release() }()

	discovered, err := ix.scanTree(ctx)
	if err != nil {
		return Stats{}, err
	}

	newHead, err := ix.resolveHead(ctx, discovered)
	if err != nil {
		return Stats{}, err
	}

	existingRef, hadRef := ix.tryGetRef(ctx, projectID, ref)
	rebuild := isBase || !hadRef
	if hadRef && !isBase && ix.vcsAdapter.Mode() == vcs.ModeVCS && existingRef.HeadCommit != newHead {
		ok, ancErr := ix.vcsAdapter.IsAncestor(ctx, existingRef.HeadCommit, newHead)
		if ancErr != nil || !ok {
			rebuild = true
		}
	}

	delta := ix.computeDelta(ctx, projectID, ref, discovered, rebuild)
	stats := Stats{FilesScanned: len(discovered)}
	if !rebuild && !delta.HasChanges() {
		return stats, nil
	}

	mode := store.IndexJobModeIncremental
	if rebuild {
		mode = store.IndexJobModeFull
	}
	job, err := ix.state.StartIndexJob(ctx, projectID, ref, mode, newHead)
	if err != nil {
		return Stats{}, err
	}
	stats.Mode, stats.JobID = mode, job.ID
	if err := ix.state.AdvanceIndexJob(ctx, job.ID, store.IndexJobRunning, 0); err != nil {
		return Stats{}, err
	}

	if syncErr := ix.runSync(ctx, projectID, ref, isBase, rebuild, discovered, delta, &stats); syncErr != nil {
		_ = ix.state.AdvanceIndexJob(ctx, job.ID, store.IndexJobFailed, stats.fraction())
		return stats, syncErr
	}

	if err := ix.state.AdvanceIndexJob(ctx, job.ID, store.IndexJobPublished, 1); err != nil {
		return stats, err
	}
	if err := ix.state.UpsertRef(ctx, store.Ref{ProjectID: projectID, RefName: ref, HeadCommit: newHead, MergeBaseWithDefault: newHead, LastSyncAt: time.Now().UTC()}); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Stats) fraction() float64 {
	if s.FilesScanned == 0 {
		return 0
	}
	return float64(s.FilesChanged+s.FilesDeleted) / float64(s.FilesScanned)
}

// resolveHead identifies the tree being synced. In VCS mode that is the
// real commit SHA; single-version projects have no commit identity, so a
// content digest of the scanned manifest stands in, keeping an unchanged
// tree's head stable across repeated syncs.
func (ix *Indexer) resolveHead(ctx context.Context, discovered []discoveredFile) (string, error) {
	if ix.vcsAdapter.Mode() == vcs.ModeVCS {
		head, err := ix.vcsAdapter.ResolveHead(ctx)
		if err != nil {
			return "", cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("resolve head: %w", err))
		}
		return head, nil
	}
	entries := make([]string, 0, len(discovered))
	for _, f := range discovered {
		entries = append(entries, f.Path+":"+f.ContentHash)
	}
	sort.Strings(entries)
	return "snap-" + sha256Hex16(strings.Join(entries, "\n")), nil
}

func (ix *Indexer) tryGetRef(ctx context.Context, projectID, ref string) (store.Ref, bool) {
	r, err := ix.state.GetRef(ctx, projectID, ref)
	if err != nil {
		return store.Ref{}, false
	}
	return r, true
}

// computeDelta diffs the newly scanned manifest against the last
// published manifest for ref using vcs.DiffManifests — C1's pure
// content-hash comparison — rather than DiffNameStatus, so the same code
// path covers both VCS and single-version projects without needing a
// checked-out git ref to diff against.
func (ix *Indexer) computeDelta(ctx context.Context, projectID, ref string, discovered []discoveredFile, rebuild bool) *vcs.Delta {
	head := vcs.Manifest{Files: make(map[string]string, len(discovered))}
	for _, f := range discovered {
		head.Files[f.Path] = f.ContentHash
	}
	if rebuild {
		return vcs.DiffManifests(vcs.Manifest{}, head)
	}
	old := vcs.Manifest{Files: make(map[string]string)}
	if files, err := ix.state.ListFileManifest(ctx, projectID, ref); err == nil {
		for _, f := range files {
			old.Files[f.Path] = f.ContentHash
		}
	}
	return vcs.DiffManifests(old, head)
}

func sha256Hex16(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// runSync does the actual parse/extract/write work once job bookkeeping
// and delta computation have settled on a plan.
func (ix *Indexer) runSync(ctx context.Context, projectID, ref string, isBase, rebuild bool, discovered []discoveredFile, delta *vcs.Delta, stats *Stats) error {
	byPath := make(map[string]discoveredFile, len(discovered))
	for _, f := range discovered {
		byPath[f.Path] = f
	}

	symStaging, err := ix.beginStaging(ix.symbols, isBase, ref)
	if err != nil {
		return err
	}
	snipStaging, err := ix.beginStaging(ix.snippets, isBase, ref)
	if err != nil {
		_ = symStaging.Abort()
		return err
	}
	fileStaging, err := ix.beginStaging(ix.files, isBase, ref)
	if err != nil {
		_ = symStaging.Abort()
		_ = snipStaging.Abort()
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = symStaging.Abort()
			_ = snipStaging.Abort()
			_ = fileStaging.Abort()
		}
	}()

	var tombstonePaths []string
	extracted := make(map[string]extractedFile) // path -> this sync's extraction

	for _, cf := range delta.ExpandRenames() {
		switch cf.Status {
		case vcs.StatusDeleted:
			if !isBase {
				ix.deleteStaleDocs(ctx, ref, cf.Path, symStaging, snipStaging, fileStaging)
				tombstonePaths = append(tombstonePaths, cf.Path)
			}
			stats.FilesDeleted++
		default: // added, modified, renamed(new path)
			df, ok := byPath[cf.Path]
			if !ok {
				continue
			}
			if !isBase {
				ix.deleteStaleDocs(ctx, ref, cf.Path, symStaging, snipStaging, fileStaging)
			}
			ef, err := ix.extractFile(ctx, df)
			if err != nil {
				ix.logger.Warn("indexer.extract_failed", "path", cf.Path, "error", err)
				continue
			}
			extracted[cf.Path] = ef
			stats.FilesChanged++
		}
	}

	// Second pass: resolve calls/imports now that this sync's symbols
	// exist, combined with whatever the unaffected files already
	// contributed to the symbol graph.
	resolver, err := ix.buildResolver(ctx, projectID, ref, extracted)
	if err != nil {
		return err
	}

	for path, ef := range extracted {
		persisted, err := ix.state.UpsertSymbols(ctx, projectID, ref, path, ef.symbols)
		if err != nil {
			return err
		}
		for _, sym := range persisted {
			resolver.index(sym)
			stats.SymbolsWritten++
			if err := symStaging.Put(sym.StableID, symbolDocFrom(sym, ef.language)); err != nil {
				return err
			}
		}

		snippetRecs := make([]store.Snippet, 0, len(ef.snippets))
		for _, snip := range ef.snippets {
			id := snippetMergeKey(snip.rec.Path, snip.rec.LineStart, snip.rec.LineEnd)
			if err := snipStaging.Put(id, snippetDocFrom(snip, ef.language)); err != nil {
				return err
			}
			snippetRecs = append(snippetRecs, snip.rec)
			stats.SnippetsWritten++
		}
		if err := ix.state.UpsertSnippets(ctx, projectID, ref, path, snippetRecs); err != nil {
			return err
		}
		if err := fileStaging.Put(path, store.FileDoc{Path: path, Language: ef.language, ContentHash: ef.contentHash}); err != nil {
			return err
		}
		if err := ix.state.PutFileBlob(ctx, projectID, ref, path, []byte(ef.content)); err != nil {
			return err
		}
	}

	var edgeBatch []store.RelationEdge
	fromIDsByFile := make(map[string][]int64)
	for path, ef := range extracted {
		edges := resolver.resolve(ef)
		edgeBatch = append(edgeBatch, edges...)
		for _, sym := range ef.symbols {
			if id, ok := resolver.idFor(sym.StableID); ok {
				fromIDsByFile[path] = append(fromIDsByFile[path], id)
			}
		}
	}
	var fromIDs []int64
	for _, ids := range fromIDsByFile {
		fromIDs = append(fromIDs, ids...)
	}
	if len(fromIDs) > 0 || len(edgeBatch) > 0 {
		if err := ix.state.ReplaceEdges(ctx, projectID, ref, fromIDs, edgeBatch); err != nil {
			return err
		}
		stats.EdgesWritten = len(edgeBatch)
	}

	if len(tombstonePaths) > 0 {
		if err := ix.state.PutTombstones(ctx, projectID, ref, tombstonePaths); err != nil {
			return err
		}
	}

	if err := ix.publishManifest(ctx, projectID, ref, discovered); err != nil {
		return err
	}
	if err := ix.computeCentrality(ctx, projectID, ref); err != nil {
		return err
	}

	if err := symStaging.Commit(ctx); err != nil {
		return err
	}
	if err := snipStaging.Commit(ctx); err != nil {
		return err
	}
	if err := fileStaging.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (ix *Indexer) beginStaging(li *store.LayeredIndex, isBase bool, ref string) (*store.StagingWriter, error) {
	syncID := sha256Hex16(ref + time.Now().UTC().String())
	if isBase {
		return li.BeginBaseStaging(syncID)
	}
	return li.BeginOverlayStaging(ref, syncID)
}

// deleteStaleDocs removes every doc previously indexed for path from an
// overlay's seeded staging copy, so a modified file's new (possibly
// differently-windowed) docs don't collide with stale ones at different
// line ranges, and a deleted file's docs don't linger.
func (ix *Indexer) deleteStaleDocs(ctx context.Context, ref, path string, symStaging, snipStaging, fileStaging *store.StagingWriter) {
	ix.deleteStaleFrom(ctx, ix.symbols, ref, path, symStaging)
	ix.deleteStaleFrom(ctx, ix.snippets, ref, path, snipStaging)
	_ = fileStaging.Delete(path)
}

func (ix *Indexer) deleteStaleFrom(ctx context.Context, li *store.LayeredIndex, ref, path string, staging *store.StagingWriter) {
	idx, ok, err := li.OverlayIndex(ctx, ref)
	if err != nil || !ok {
		return
	}
	q := bleve.NewMatchQuery(path)
	q.SetField("path")
	req := bleve.NewSearchRequest(q)
	req.Size = 10000
	result, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return
	}
	for _, h := range result.Hits {
		_ = staging.Delete(h.ID)
	}
}

func (ix *Indexer) publishManifest(ctx context.Context, projectID, ref string, discovered []discoveredFile) error {
	files := make([]store.ManifestFile, 0, len(discovered))
	for _, f := range discovered {
		files = append(files, store.ManifestFile{ProjectID: projectID, Ref: ref, Path: f.Path, ContentHash: f.ContentHash, Language: f.Language, Size: f.Size})
	}
	return ix.state.ReplaceFileManifest(ctx, projectID, ref, files)
}

// computeCentrality implements spec §4.4's FAST field: score per path is
// inbound_file_count / max_inbound_file_count over resolved inter-file
// edges, self-edges excluded.
func (ix *Indexer) computeCentrality(ctx context.Context, projectID, ref string) error {
	pairs, err := ix.state.ResolvedEdgeFilePairs(ctx, projectID, ref)
	if err != nil {
		return err
	}
	inbound := make(map[string]map[string]bool) // toPath -> set of distinct fromPaths
	for _, pair := range pairs {
		from, to := pair[0], pair[1]
		if from == to {
			continue
		}
		if inbound[to] == nil {
			inbound[to] = make(map[string]bool)
		}
		inbound[to][from] = true
	}
	maxCount := 0
	for _, froms := range inbound {
		if len(froms) > maxCount {
			maxCount = len(froms)
		}
	}
	scores := make(map[string]float64, len(inbound))
	if maxCount > 0 {
		for path, froms := range inbound {
			scores[path] = float64(len(froms)) / float64(maxCount)
		}
	}
	if len(scores) == 0 {
		return nil
	}
	return ix.state.SetFileCentrality(ctx, projectID, ref, scores)
}
