package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/signalridge/cruxe/internal/cruxeerr"
	"github.com/signalridge/cruxe/internal/vcs"
)

// UpsertRef creates or updates a ref's head/merge-base/sync bookkeeping.
func (s *StateStore) UpsertRef(ctx context.Context, r Ref) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	if r.LastSyncAt.IsZero() {
		r.LastSyncAt = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO refs (project_id, ref_name, head_commit, merge_base_with_default, last_sync_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, ref_name) DO UPDATE SET
			head_commit = excluded.head_commit,
			merge_base_with_default = excluded.merge_base_with_default,
			last_sync_at = excluded.last_sync_at`,
		r.ProjectID, r.RefName, r.HeadCommit, r.MergeBaseWithDefault, r.LastSyncAt)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("upsert ref: %w", err))
	}
	return nil
}

// GetRef looks up a project's ref bookkeeping row.
func (s *StateStore) GetRef(ctx context.Context, projectID, refName string) (Ref, error) {
	db, err := s.db(ctx)
	if err != nil {
		return Ref{}, err
	}
	var r Ref
	err = db.QueryRowContext(ctx, `SELECT project_id, ref_name, head_commit, merge_base_with_default, last_sync_at
		FROM refs WHERE project_id = ? AND ref_name = ?`, projectID, refName).
		Scan(&r.ProjectID, &r.RefName, &r.HeadCommit, &r.MergeBaseWithDefault, &r.LastSyncAt)
	if err == sql.ErrNoRows {
		return Ref{}, cruxeerr.NotFound(fmt.Sprintf("ref not found: %s/%s", projectID, refName), err)
	}
	if err != nil {
		return Ref{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("get ref: %w", err))
	}
	return r, nil
}

// ReplaceFileManifest atomically replaces the file manifest for
// (projectID, ref) with files. Used at the end of a successful index job
// publish so the manifest always reflects exactly the committed overlay,
// never a partial write.
func (s *StateStore) ReplaceFileManifest(ctx context.Context, projectID, ref string, files []ManifestFile) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin manifest replace: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_manifest WHERE project_id = ? AND ref = ?`, projectID, ref); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("clear manifest: %w", err))
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO file_manifest (project_id, ref, path, content_hash, language, size)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("prepare manifest insert: %w", err))
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx, projectID, ref, f.Path, f.ContentHash, f.Language, f.Size); err != nil {
			return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("insert manifest file %s: %w", f.Path, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("commit manifest replace: %w", err))
	}
	return nil
}

// ListFileManifest returns every tracked file for (projectID, ref).
func (s *StateStore) ListFileManifest(ctx context.Context, projectID, ref string) ([]ManifestFile, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT project_id, ref, path, content_hash, language, size
		FROM file_manifest WHERE project_id = ? AND ref = ? ORDER BY path`, projectID, ref)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("list manifest: %w", err))
	}
	defer rows.Close()

	var out []ManifestFile
	for rows.Next() {
		var f ManifestFile
		if err := rows.Scan(&f.ProjectID, &f.Ref, &f.Path, &f.ContentHash, &f.Language, &f.Size); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan manifest row: %w", err))
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// PutTombstones records tombstones for paths deleted on ref relative to
// base; committed by the caller in the same transaction scope as the
// overlay publish it belongs to (spec §3, §5).
func (s *StateStore) PutTombstones(ctx context.Context, projectID, ref string, paths []string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin tombstone write: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tombstones (project_id, ref, path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, ref, path) DO UPDATE SET created_at = excluded.created_at`)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("prepare tombstone insert: %w", err))
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.ExecContext(ctx, projectID, ref, p, now); err != nil {
			return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("insert tombstone %s: %w", p, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, err)
	}
	return nil
}

// ListTombstones returns every tombstoned path for (projectID, ref), used
// by the overlay merge (C5) to suppress base rows at read time.
func (s *StateStore) ListTombstones(ctx context.Context, projectID, ref string) ([]string, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT path FROM tombstones WHERE project_id = ? AND ref = ? ORDER BY path`,
		projectID, ref)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("list tombstones: %w", err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan tombstone: %w", err))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PutFileBlob stores path's content as of ref, for single-version projects
// where there is no VCS object store to read blobs back from later (the
// context pack builder, C10, needs ReadBlob regardless of vcs_mode).
func (s *StateStore) PutFileBlob(ctx context.Context, projectID, ref, path string, content []byte) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO file_blobs (project_id, ref, path, content) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, ref, path) DO UPDATE SET content = excluded.content`,
		projectID, ref, path, content)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("put file blob %s: %w", path, err))
	}
	return nil
}

// ReadFileBlob returns path's stored content as of ref.
func (s *StateStore) ReadFileBlob(ctx context.Context, projectID, ref, path string) ([]byte, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	var content []byte
	err = db.QueryRowContext(ctx, `SELECT content FROM file_blobs WHERE project_id = ? AND ref = ? AND path = ?`,
		projectID, ref, path).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, cruxeerr.NotFound(fmt.Sprintf("blob not found: %s@%s", path, ref), err)
	}
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("read file blob %s: %w", path, err))
	}
	return content, nil
}

// --- vcs.ManifestSource implementation (single-version mode) ---
//
// internal/vcs defines ManifestSource as a local interface rather than
// importing internal/store, to avoid the reverse dependency this package
// already has on internal/vcs becoming a cycle. A ManifestSource is
// scoped to one project (vcs.SingleAdapter is constructed per project),
// so ProjectManifestSource binds a StateStore to a single project_id.
type ProjectManifestSource struct {
	store     *StateStore
	projectID string
}

var _ vcs.ManifestSource = (*ProjectManifestSource)(nil)

// ManifestSourceForProject returns the vcs.ManifestSource a SingleAdapter
// for projectID should be constructed with.
func (s *StateStore) ManifestSourceForProject(projectID string) *ProjectManifestSource {
	return &ProjectManifestSource{store: s, projectID: projectID}
}

// ManifestAt returns the (path -> content_hash) snapshot recorded at
// cursor. An empty cursor means "the most recently synced ref".
func (p *ProjectManifestSource) ManifestAt(ctx context.Context, cursor string) (vcs.Manifest, error) {
	db, err := p.store.db(ctx)
	if err != nil {
		return vcs.Manifest{}, err
	}
	if cursor == "" {
		cursor, err = p.latestCursor(ctx)
		if err != nil {
			return vcs.Manifest{}, err
		}
	}
	rows, err := db.QueryContext(ctx, `SELECT path, content_hash FROM file_manifest WHERE project_id = ? AND ref = ?`,
		p.projectID, cursor)
	if err != nil {
		return vcs.Manifest{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("manifest at %s: %w", cursor, err))
	}
	defer rows.Close()

	files := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return vcs.Manifest{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan manifest at %s: %w", cursor, err))
		}
		files[path] = hash
	}
	if err := rows.Err(); err != nil {
		return vcs.Manifest{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, err)
	}
	return vcs.Manifest{Cursor: cursor, Files: files}, nil
}

// CursorSequence returns every ref (cursor) recorded for the project,
// ordered by last_sync_at ascending — the linear history a single-version
// project has in place of VCS commits.
func (p *ProjectManifestSource) CursorSequence(ctx context.Context) ([]string, error) {
	db, err := p.store.db(ctx)
	if err != nil {
		return nil, err
	}
	// ref_name is a secondary sort key so two refs synced in the same instant
	// (or both never synced) still come back in a deterministic order.
	rows, err := db.QueryContext(ctx, `SELECT ref_name FROM refs WHERE project_id = ? ORDER BY last_sync_at ASC, ref_name ASC`, p.projectID)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("cursor sequence: %w", err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan cursor: %w", err))
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, err)
	}
	return out, nil
}

// ReadFile returns path's content as of cursor.
func (p *ProjectManifestSource) ReadFile(ctx context.Context, cursor, path string) ([]byte, error) {
	return p.store.ReadFileBlob(ctx, p.projectID, cursor, path)
}

func (p *ProjectManifestSource) latestCursor(ctx context.Context) (string, error) {
	seq, err := p.CursorSequence(ctx)
	if err != nil {
		return "", err
	}
	if len(seq) == 0 {
		return "", cruxeerr.NotFound(fmt.Sprintf("no cursors recorded for project %s", p.projectID), nil)
	}
	return seq[len(seq)-1], nil
}
