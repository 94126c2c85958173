package vcs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// emptyTreeSHA is git's well-known empty tree object, used as the base
// when diffing against "nothing" (e.g. the very first sync of a ref).
const emptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// GitAdapter implements Adapter by shelling out to the system git binary,
// in the style of vjache-cie's DeltaDetector: no go-git dependency, just
// os/exec against plumbing commands whose output format is stable.
type GitAdapter struct {
	repoPath string
	logger   *slog.Logger
	leases   *leaseManager
}

var _ Adapter = (*GitAdapter)(nil)

// NewGitAdapter constructs a GitAdapter rooted at repoPath. leaseDir
// defaults to "<repoPath>/.git/cruxe/leases" when empty.
func NewGitAdapter(repoPath string, leaseDir string, logger *slog.Logger) (*GitAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if leaseDir == "" {
		leaseDir = filepath.Join(repoPath, ".git", "cruxe", "leases")
	}
	lm, err := newLeaseManager(leaseDir)
	if err != nil {
		return nil, err
	}
	return &GitAdapter{repoPath: repoPath, logger: logger, leases: lm}, nil
}

func (g *GitAdapter) Mode() Mode { return ModeVCS }

// DiffNameStatus runs `git diff --name-status -M` between the resolved
// base and head refs. An empty base compares against the empty tree, so
// every file in head is reported as added (initial sync).
func (g *GitAdapter) DiffNameStatus(ctx context.Context, base, head string) (*Delta, error) {
	resolvedHead, err := g.resolveRef(ctx, orDefault(head, "HEAD"))
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("resolve head %q: %w", head, err))
	}

	resolvedBase := emptyTreeSHA
	if base != "" {
		resolvedBase, err = g.resolveRef(ctx, base)
		if err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("resolve base %q: %w", base, err))
		}
	}

	out, err := g.run(ctx, "diff", "--name-status", "-M", resolvedBase, resolvedHead)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("git diff: %w", err))
	}

	delta := &Delta{BaseRef: resolvedBase, HeadRef: resolvedHead}
	if err := parseNameStatus(out, delta); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("parse diff output: %w", err))
	}
	sortFiles(delta.Files)

	g.logger.Debug("vcs.diff_name_status",
		"base", shortSHA(resolvedBase), "head", shortSHA(resolvedHead),
		"changed", len(delta.Files))

	return delta, nil
}

// MergeBase returns `git merge-base a b`.
func (g *GitAdapter) MergeBase(ctx context.Context, a, b string) (string, error) {
	out, err := g.run(ctx, "merge-base", a, b)
	if err != nil {
		return "", cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("git merge-base %s %s: %w", a, b, err))
	}
	return strings.TrimSpace(string(out)), nil
}

// IsAncestor reports whether ancestor is reachable from descendant via
// `git merge-base --is-ancestor`. A non-zero exit with no stderr means
// "not an ancestor", not an error.
func (g *GitAdapter) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", ancestor, descendant) //nolint:gosec // G204: args are resolved commit-ish refs
	cmd.Dir = g.repoPath
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("git merge-base --is-ancestor: %w", err))
	}
	return true, nil
}

// ListRefs enumerates local branches via `git for-each-ref`.
func (g *GitAdapter) ListRefs(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("git for-each-ref: %w", err))
	}
	var refs []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			refs = append(refs, line)
		}
	}
	return refs, scanner.Err()
}

// ResolveHead resolves HEAD to a commit SHA.
func (g *GitAdapter) ResolveHead(ctx context.Context) (string, error) {
	return g.resolveRef(ctx, "HEAD")
}

// ReadBlob reads path's content as of ref via `git show ref:path`.
func (g *GitAdapter) ReadBlob(ctx context.Context, ref, path string) ([]byte, error) {
	spec := fmt.Sprintf("%s:%s", ref, filepath.ToSlash(path))
	out, err := g.run(ctx, "show", spec)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeVCSFailure, fmt.Errorf("git show %s: %w", spec, err))
	}
	return out, nil
}

// WorktreeLease acquires a persisted-refcount lease for ref, guarding
// against concurrent sync/read operations tearing down the working tree
// a query is actively reading from.
func (g *GitAdapter) WorktreeLease(ctx context.Context, ref string) (Lease, error) {
	return g.leases.acquire(ctx, ref)
}

// resolveRef resolves any committish (branch, tag, HEAD, SHA) to its
// full commit SHA via `git rev-parse`.
func (g *GitAdapter) resolveRef(ctx context.Context, ref string) (string, error) {
	out, err := g.run(ctx, "rev-parse", ref)
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w", ref, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitAdapter) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // G204: args are fixed subcommands plus resolved refs/paths
	cmd.Dir = g.repoPath
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// parseNameStatus parses `git diff --name-status -M` output into delta.
func parseNameStatus(out []byte, delta *Delta) error {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		status, paths := splitNameStatusLine(line)
		if status == "" || len(paths) == 0 {
			continue
		}
		switch status[0] {
		case 'A':
			delta.Files = append(delta.Files, ChangedFile{Path: paths[0], Status: StatusAdded})
		case 'M':
			delta.Files = append(delta.Files, ChangedFile{Path: paths[0], Status: StatusModified})
		case 'D':
			delta.Files = append(delta.Files, ChangedFile{Path: paths[0], Status: StatusDeleted})
		case 'R':
			if len(paths) >= 2 {
				delta.Files = append(delta.Files, ChangedFile{Path: paths[1], OldPath: paths[0], Status: StatusRenamed})
			}
		case 'C':
			if len(paths) >= 2 {
				delta.Files = append(delta.Files, ChangedFile{Path: paths[1], Status: StatusAdded})
			}
		}
	}
	return scanner.Err()
}

// splitNameStatusLine parses one tab-separated name-status line:
// "STATUS\tpath" or "STATUS\told_path\tnew_path" for renames/copies.
func splitNameStatusLine(line string) (status string, paths []string) {
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return "", nil
	}
	status = parts[0]
	paths = parts[1:]
	for i, p := range paths {
		paths[i] = unquoteGitPath(p)
	}
	return status, paths
}

func unquoteGitPath(path string) string {
	if len(path) >= 2 && path[0] == '"' && path[len(path)-1] == '"' {
		unquoted := path[1 : len(path)-1]
		unquoted = strings.ReplaceAll(unquoted, `\n`, "\n")
		unquoted = strings.ReplaceAll(unquoted, `\t`, "\t")
		unquoted = strings.ReplaceAll(unquoted, `\\`, `\`)
		unquoted = strings.ReplaceAll(unquoted, `\"`, `"`)
		return unquoted
	}
	return path
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
