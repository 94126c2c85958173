package vcs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// Manifest is a content snapshot of a project at one cursor: the set of
// repo-relative paths and their content hashes, as recorded in the state
// store's file manifest table (C2). In single-version mode a Manifest
// plays the role a git commit plays in VCS mode.
type Manifest struct {
	Cursor string
	Files  map[string]string // path -> content_hash
}

// ManifestSource is the minimal view of the state store a single-version
// Adapter needs. It is satisfied by internal/store; kept as an interface
// here so this package has no dependency on the store's concrete types.
type ManifestSource interface {
	// ManifestAt returns the manifest recorded at cursor. An empty
	// cursor means "the current/head manifest".
	ManifestAt(ctx context.Context, cursor string) (Manifest, error)

	// CursorSequence returns all known cursors for the project, oldest
	// first. Single-version mode has no branching, so this total order
	// is enough to answer merge_base/is_ancestor.
	CursorSequence(ctx context.Context) ([]string, error)

	// ReadFile returns path's content as of cursor.
	ReadFile(ctx context.Context, cursor, path string) ([]byte, error)
}

// SingleAdapter implements Adapter for projects with vcs_mode=single by
// comparing manifest content-hash cursors instead of commits (spec §4.1).
type SingleAdapter struct {
	source ManifestSource
	logger *slog.Logger
	leases *leaseManager
}

var _ Adapter = (*SingleAdapter)(nil)

// NewSingleAdapter constructs a SingleAdapter backed by source, persisting
// worktree leases under leaseDir.
func NewSingleAdapter(source ManifestSource, leaseDir string, logger *slog.Logger) (*SingleAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lm, err := newLeaseManager(leaseDir)
	if err != nil {
		return nil, err
	}
	return &SingleAdapter{source: source, logger: logger, leases: lm}, nil
}

func (s *SingleAdapter) Mode() Mode { return ModeSingle }

func (s *SingleAdapter) DiffNameStatus(ctx context.Context, base, head string) (*Delta, error) {
	headManifest, err := s.source.ManifestAt(ctx, head)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("manifest at head %q: %w", head, err))
	}

	baseManifest := Manifest{Cursor: ""}
	if base != "" {
		baseManifest, err = s.source.ManifestAt(ctx, base)
		if err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("manifest at base %q: %w", base, err))
		}
	}

	delta := DiffManifests(baseManifest, headManifest)
	s.logger.Debug("vcs.diff_name_status",
		"base", baseManifest.Cursor, "head", headManifest.Cursor,
		"changed", len(delta.Files))
	return delta, nil
}

// DiffManifests is the pure comparison at the heart of single-version
// mode: files present only in head are added, present only in base are
// deleted, present in both with a differing hash are modified. There is
// no rename detection without VCS history, so renames never appear here.
func DiffManifests(base, head Manifest) *Delta {
	delta := &Delta{BaseRef: base.Cursor, HeadRef: head.Cursor}

	for path, hash := range head.Files {
		baseHash, existed := base.Files[path]
		switch {
		case !existed:
			delta.Files = append(delta.Files, ChangedFile{Path: path, Status: StatusAdded})
		case baseHash != hash:
			delta.Files = append(delta.Files, ChangedFile{Path: path, Status: StatusModified})
		}
	}
	for path := range base.Files {
		if _, stillExists := head.Files[path]; !stillExists {
			delta.Files = append(delta.Files, ChangedFile{Path: path, Status: StatusDeleted})
		}
	}

	sortFiles(delta.Files)
	return delta
}

// MergeBase returns whichever of a and b occurs first in the project's
// (branchless) cursor sequence, since single-version history is linear.
func (s *SingleAdapter) MergeBase(ctx context.Context, a, b string) (string, error) {
	seq, err := s.source.CursorSequence(ctx)
	if err != nil {
		return "", cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("cursor sequence: %w", err))
	}
	posA, posB := -1, -1
	for i, c := range seq {
		if c == a {
			posA = i
		}
		if c == b {
			posB = i
		}
	}
	if posA < 0 || posB < 0 {
		return "", cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("cursor not found in sequence: a=%q b=%q", a, b))
	}
	if posA <= posB {
		return a, nil
	}
	return b, nil
}

// IsAncestor reports whether ancestor occurs at or before descendant in
// the cursor sequence.
func (s *SingleAdapter) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	seq, err := s.source.CursorSequence(ctx)
	if err != nil {
		return false, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("cursor sequence: %w", err))
	}
	posA, posD := -1, -1
	for i, c := range seq {
		if c == ancestor {
			posA = i
		}
		if c == descendant {
			posD = i
		}
	}
	if posA < 0 || posD < 0 {
		return false, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("cursor not found in sequence: ancestor=%q descendant=%q", ancestor, descendant))
	}
	return posA <= posD, nil
}

// ListRefs returns the project's full cursor sequence; single-version
// projects have exactly one linear "ref" timeline.
func (s *SingleAdapter) ListRefs(ctx context.Context) ([]string, error) {
	return s.source.CursorSequence(ctx)
}

// ResolveHead returns the most recent cursor.
func (s *SingleAdapter) ResolveHead(ctx context.Context) (string, error) {
	seq, err := s.source.CursorSequence(ctx)
	if err != nil {
		return "", cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("cursor sequence: %w", err))
	}
	if len(seq) == 0 {
		return "", cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("no cursors recorded yet"))
	}
	return seq[len(seq)-1], nil
}

// ReadBlob reads path's content as of the given cursor.
func (s *SingleAdapter) ReadBlob(ctx context.Context, ref, path string) ([]byte, error) {
	data, err := s.source.ReadFile(ctx, ref, path)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("read file %q at %q: %w", path, ref, err))
	}
	return data, nil
}

// WorktreeLease acquires a persisted-refcount lease. Single-version
// projects have one implicit ref ("" / the default), but the lease
// machinery is identical.
func (s *SingleAdapter) WorktreeLease(ctx context.Context, ref string) (Lease, error) {
	return s.leases.acquire(ctx, ref)
}
