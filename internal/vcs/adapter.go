package vcs

import "context"

// Adapter abstracts every version-control operation the indexer and
// retrieval path need (spec §4.1, C1). An ancestry break — IsAncestor on
// the ref's previous head returns false against its new head — signals
// the caller to discard the stale overlay and rebuild from the new
// merge-base rather than attempt an incremental sync.
type Adapter interface {
	// Mode reports whether this adapter is backed by a real VCS or is
	// running in single-version fallback.
	Mode() Mode

	// DiffNameStatus returns the files changed between base and head.
	// An empty base means "diff against the empty tree" (every file in
	// head is reported added). An empty head means "HEAD"/"current".
	DiffNameStatus(ctx context.Context, base, head string) (*Delta, error)

	// MergeBase returns the best common ancestor of a and b.
	MergeBase(ctx context.Context, a, b string) (string, error)

	// IsAncestor reports whether ancestor is a (non-strict) ancestor of
	// descendant.
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)

	// ListRefs enumerates known refs (branches, or cursor ids in single
	// mode).
	ListRefs(ctx context.Context) ([]string, error)

	// ResolveHead resolves the adapter's configured project to its
	// current head commit (or cursor id in single mode).
	ResolveHead(ctx context.Context) (string, error)

	// ReadBlob reads the content of path as it exists at ref. Used by
	// the context pack builder (C10) for provenance-stamped reads.
	ReadBlob(ctx context.Context, ref, path string) ([]byte, error)

	// WorktreeLease acquires an exclusive-but-shareable lease on ref's
	// working tree, preventing concurrent sync/read operations from
	// tearing it down mid-use. The returned Lease must be released.
	WorktreeLease(ctx context.Context, ref string) (Lease, error)
}

// Lease is a handle on a leased ref worktree with a persisted refcount:
// concurrent callers of WorktreeLease for the same ref share one
// underlying lease, and the tree is only eligible for teardown once the
// refcount drops back to zero.
type Lease interface {
	// Ref is the ref this lease was acquired for.
	Ref() string

	// RefCount reports the number of outstanding holders as of when this
	// lease was acquired, including this one.
	RefCount() int

	// Release decrements the refcount and releases this holder's claim.
	// It is an error to call Release more than once on the same Lease.
	Release() error
}
