package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// stateSchemaVersion is the current append-only schema version for the
// state store. Migrations only ever add; a stored version newer than this
// binary understands is a reindex_required condition, never a downgrade
// attempt.
const stateSchemaVersion = 1

// SchemaStatus mirrors the schema_status field of spec §6's response
// metadata.
type SchemaStatus string

const (
	SchemaCompatible       SchemaStatus = "compatible"
	SchemaNotIndexed       SchemaStatus = "not_indexed"
	SchemaReindexRequired  SchemaStatus = "reindex_required"
	SchemaCorruptManifest  SchemaStatus = "corrupt_manifest"
)

// StateStore owns the symbol/edge/manifest/tombstone/index-job/enrichment
// tables and the known_workspaces registry (spec §4.2, C2). It is the
// state store's managed connection: lazy-opened, reused across requests
// in the same runtime scope, reopened deterministically on failure.
type StateStore struct {
	mu     sync.Mutex
	path   string
	conn   *sql.DB
	logger *slog.Logger
}

// NewStateStore constructs a StateStore without opening a connection; the
// connection is opened lazily on first use (or eagerly via Open).
func NewStateStore(path string, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{path: path, logger: logger}
}

// Open eagerly establishes the managed connection and runs migrations.
// Callers that want fail-fast startup behavior (e.g. `cruxe serve`) call
// this explicitly; all other entry points rely on lazy open via ensureDB.
func (s *StateStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.ensureDBLocked(ctx)
	return err
}

// Close releases the underlying connection. Safe to call on an
// unopened store.
func (s *StateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// ensureDBLocked opens the connection if needed, reopening deterministically
// if a prior open failed and left s.conn nil. Must be called with s.mu held.
func (s *StateStore) ensureDBLocked(ctx context.Context) (*sql.DB, error) {
	if s.conn != nil {
		if err := s.conn.PingContext(ctx); err == nil {
			return s.conn, nil
		}
		// Connection has gone bad (e.g. underlying file removed out from
		// under us); close and fall through to a deterministic reopen.
		_ = s.conn.Close()
		s.conn = nil
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = db
	return s.conn, nil
}

func (s *StateStore) open(ctx context.Context) (*sql.DB, error) {
	dsn := ":memory:"
	if s.path != "" {
		dir := filepath.Dir(s.path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("create state store dir: %w", err))
		}

		if status := s.validateIntegrity(); status == SchemaCorruptManifest {
			s.logger.Warn("state_store_corrupt", slog.String("path", s.path))
			if err := s.clearCorrupted(); err != nil {
				return nil, err
			}
		}

		dsn = s.path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("open state store: %w", err))
	}

	// Single writer; SQLite under WAL tolerates concurrent readers but the
	// managed connection serializes writers through index_jobs anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("set pragma %q: %w", p, err))
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// validateIntegrity runs a pre-open PRAGMA integrity_check against the
// on-disk file, mirroring the sqlite_bm25 index's corruption-detection
// pattern. Returns SchemaCorruptManifest if the file exists but fails the
// check, SchemaNotIndexed if it doesn't exist yet, SchemaCompatible
// otherwise.
func (s *StateStore) validateIntegrity() SchemaStatus {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return SchemaNotIndexed
	}
	db, err := sql.Open("sqlite", s.path+"?mode=ro")
	if err != nil {
		return SchemaCorruptManifest
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil || result != "ok" {
		return SchemaCorruptManifest
	}
	return SchemaCompatible
}

func (s *StateStore) clearCorrupted() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return cruxeerr.Wrap(cruxeerr.CodeCorruptManifest, fmt.Errorf("remove corrupt state store: %w", err))
	}
	_ = os.Remove(s.path + "-wal")
	_ = os.Remove(s.path + "-shm")
	return nil
}

// SchemaStatus reports the compatibility of the on-disk schema without
// requiring a full Open, for the tool-call response metadata of spec §6.
func (s *StateStore) SchemaStatus(ctx context.Context) SchemaStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return SchemaCompatible // in-memory store is always fresh/compatible
	}
	if status := s.validateIntegrity(); status != SchemaCompatible {
		return status
	}

	db, err := s.ensureDBLocked(ctx)
	if err != nil {
		return SchemaCorruptManifest
	}
	var version int
	if err := db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return SchemaNotIndexed
	}
	if version > stateSchemaVersion {
		return SchemaReindexRequired
	}
	return SchemaCompatible
}

// migrate applies append-only schema migrations up to stateSchemaVersion.
// Each step is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) so re-running migrate on an already-current database is a no-op.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin migration: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range migrationStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return cruxeerr.Wrap(cruxeerr.CodeCorruptManifest, fmt.Errorf("migration step %d: %w", i, err))
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (id, version) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version WHERE excluded.version > version`,
		stateSchemaVersion); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("record schema version: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("commit migration: %w", err))
	}
	return nil
}

// migrationStatements is append-only: a later schema version adds new
// entries here rather than editing earlier ones in place, so a store
// created under an older binary version can always replay forward.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`,
	`INSERT OR IGNORE INTO schema_version (id, version) VALUES (1, 0)`,

	`CREATE TABLE IF NOT EXISTS known_workspaces (
		project_id TEXT PRIMARY KEY,
		repo_root TEXT NOT NULL UNIQUE,
		default_ref TEXT NOT NULL,
		vcs_mode TEXT NOT NULL,
		allowed_roots TEXT NOT NULL DEFAULT '[]',
		registered_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS refs (
		project_id TEXT NOT NULL,
		ref_name TEXT NOT NULL,
		head_commit TEXT NOT NULL DEFAULT '',
		merge_base_with_default TEXT NOT NULL DEFAULT '',
		last_sync_at DATETIME,
		PRIMARY KEY (project_id, ref_name)
	)`,

	`CREATE TABLE IF NOT EXISTS file_manifest (
		project_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (project_id, ref, path)
	)`,

	`CREATE TABLE IF NOT EXISTS file_blobs (
		project_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		path TEXT NOT NULL,
		content BLOB NOT NULL,
		PRIMARY KEY (project_id, ref, path)
	)`,

	`CREATE TABLE IF NOT EXISTS tombstones (
		project_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (project_id, ref, path)
	)`,

	`CREATE TABLE IF NOT EXISTS symbols (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		role TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT '',
		line_start INTEGER NOT NULL,
		line_end INTEGER NOT NULL,
		parent_symbol_id INTEGER NOT NULL DEFAULT 0,
		stable_id TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_project_ref_path ON symbols (project_id, ref, path)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_stable_id ON symbols (project_id, ref, stable_id)`,
	`CREATE INDEX IF NOT EXISTS idx_symbols_qualified_name ON symbols (project_id, ref, qualified_name)`,

	`CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		from_symbol_id INTEGER NOT NULL,
		to_symbol_id INTEGER NOT NULL DEFAULT 0,
		to_name TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		confidence_bucket TEXT NOT NULL,
		confidence_weight REAL NOT NULL,
		provider TEXT NOT NULL DEFAULT '',
		resolution_outcome TEXT NOT NULL
	)`,
	// Forward traversal: "what does symbol X call/import/reference".
	`CREATE INDEX IF NOT EXISTS idx_edges_forward ON edges (project_id, ref, from_symbol_id, edge_type)`,
	// Reverse traversal: "who calls/imports/references symbol Y".
	`CREATE INDEX IF NOT EXISTS idx_edges_reverse ON edges (project_id, ref, to_symbol_id, edge_type)`,

	`CREATE TABLE IF NOT EXISTS index_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		sync_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_jobs_project_ref ON index_jobs (project_id, ref, status)`,

	`CREATE TABLE IF NOT EXISTS enrichment_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		path TEXT NOT NULL,
		generation INTEGER NOT NULL,
		status TEXT NOT NULL,
		retries INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		UNIQUE (project_id, ref, path)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_enrichment_status ON enrichment_queue (status)`,

	`CREATE TABLE IF NOT EXISTS file_centrality (
		project_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		path TEXT NOT NULL,
		score REAL NOT NULL,
		PRIMARY KEY (project_id, ref, path)
	)`,
}
