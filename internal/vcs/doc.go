// Package vcs abstracts the version-control operations the indexer and
// retrieval path need to reason about branch/ref correctness: diffing two
// refs, ancestry checks, ref enumeration, blob reads, and exclusive
// per-ref worktree leasing. A git-backed Adapter shells out to the system
// git binary; a single-version Adapter serves projects with no VCS at all
// by comparing manifest content-hash cursors instead of commits.
package vcs
