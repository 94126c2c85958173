package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// RegisterWorkspace inserts or updates a known_workspaces row. RepoRoot is
// expected to already be realpath'd by the caller (spec §3 Project
// invariant); RegisterWorkspace does not re-resolve it.
func (s *StateStore) RegisterWorkspace(ctx context.Context, ws Workspace) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	rootsJSON, err := json.Marshal(ws.AllowedRoots)
	if err != nil {
		return cruxeerr.Internal("marshal allowed_roots", err)
	}
	if ws.RegisteredAt.IsZero() {
		ws.RegisteredAt = time.Now().UTC()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO known_workspaces (project_id, repo_root, default_ref, vcs_mode, allowed_roots, registered_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			repo_root = excluded.repo_root,
			default_ref = excluded.default_ref,
			vcs_mode = excluded.vcs_mode,
			allowed_roots = excluded.allowed_roots`,
		ws.ProjectID, ws.RepoRoot, ws.DefaultRef, string(ws.VCSMode), string(rootsJSON), ws.RegisteredAt)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("register workspace: %w", err))
	}
	return nil
}

// GetWorkspace looks up a registered workspace by project ID. A miss
// surfaces the canonical workspace_not_registered code (spec §6) rather
// than a generic not-found.
func (s *StateStore) GetWorkspace(ctx context.Context, projectID string) (Workspace, error) {
	db, err := s.db(ctx)
	if err != nil {
		return Workspace{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT project_id, repo_root, default_ref, vcs_mode, allowed_roots, registered_at
		FROM known_workspaces WHERE project_id = ?`, projectID)
	return scanWorkspace(row, projectID)
}

// FindWorkspaceByRoot looks up a registered workspace by its realpath'd
// repo root, used to dedupe auto-registration attempts (spec §6 Workspace
// resolution).
func (s *StateStore) FindWorkspaceByRoot(ctx context.Context, repoRoot string) (Workspace, bool, error) {
	db, err := s.db(ctx)
	if err != nil {
		return Workspace{}, false, err
	}
	row := db.QueryRowContext(ctx, `SELECT project_id, repo_root, default_ref, vcs_mode, allowed_roots, registered_at
		FROM known_workspaces WHERE repo_root = ?`, repoRoot)
	ws, err := scanWorkspace(row, repoRoot)
	if err != nil {
		if cruxeerr.GetCode(err) == cruxeerr.CodeProjectNotFound {
			return Workspace{}, false, nil
		}
		return Workspace{}, false, err
	}
	return ws, true, nil
}

// ListWorkspaces returns every registered workspace.
func (s *StateStore) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT project_id, repo_root, default_ref, vcs_mode, allowed_roots, registered_at
		FROM known_workspaces ORDER BY registered_at ASC`)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("list workspaces: %w", err))
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		ws, err := scanWorkspaceRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// IsPathAllowed reports whether path falls under one of the workspace's
// AllowedRoots (spec §6: "outside all allowed roots yields
// workspace_not_allowed"). An empty AllowedRoots list allows only
// RepoRoot itself.
func (ws Workspace) IsPathAllowed(path string) bool {
	roots := ws.AllowedRoots
	if len(roots) == 0 {
		roots = []string{ws.RepoRoot}
	}
	for _, root := range roots {
		if pathUnder(root, path) {
			return true
		}
	}
	return false
}

func pathUnder(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func scanWorkspace(row *sql.Row, lookupKey string) (Workspace, error) {
	var ws Workspace
	var vcsMode, rootsJSON string
	err := row.Scan(&ws.ProjectID, &ws.RepoRoot, &ws.DefaultRef, &vcsMode, &rootsJSON, &ws.RegisteredAt)
	if err == sql.ErrNoRows {
		return Workspace{}, cruxeerr.New(cruxeerr.CodeWorkspaceNotRegistered,
			fmt.Sprintf("workspace not registered: %s", lookupKey), err)
	}
	if err != nil {
		return Workspace{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan workspace: %w", err))
	}
	ws.VCSMode = VCSMode(vcsMode)
	if err := json.Unmarshal([]byte(rootsJSON), &ws.AllowedRoots); err != nil {
		return Workspace{}, cruxeerr.Internal("unmarshal allowed_roots", err)
	}
	return ws, nil
}

func scanWorkspaceRows(rows *sql.Rows) (Workspace, error) {
	var ws Workspace
	var vcsMode, rootsJSON string
	if err := rows.Scan(&ws.ProjectID, &ws.RepoRoot, &ws.DefaultRef, &vcsMode, &rootsJSON, &ws.RegisteredAt); err != nil {
		return Workspace{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan workspace row: %w", err))
	}
	ws.VCSMode = VCSMode(vcsMode)
	if err := json.Unmarshal([]byte(rootsJSON), &ws.AllowedRoots); err != nil {
		return Workspace{}, cruxeerr.Internal("unmarshal allowed_roots", err)
	}
	return ws, nil
}

// db returns the managed connection, opening it lazily on first use.
func (s *StateStore) db(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureDBLocked(ctx)
}
