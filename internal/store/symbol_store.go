package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// UpsertSymbols replaces every symbol row for (projectID, ref, path) with
// syms, returning them with their assigned IDs filled in. Symbols are
// always rewritten a whole file at a time: the indexer re-extracts a
// file's full symbol set on any content_hash change, so there is no
// partial-row update path.
func (s *StateStore) UpsertSymbols(ctx context.Context, projectID, ref, path string, syms []SymbolRecord) ([]SymbolRecord, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin symbol upsert: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE project_id = ? AND ref = ? AND path = ?`,
		projectID, ref, path); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("clear symbols for %s: %w", path, err))
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO symbols
		(project_id, ref, path, name, qualified_name, kind, role, visibility, signature, line_start, line_end, parent_symbol_id, stable_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("prepare symbol insert: %w", err))
	}
	defer stmt.Close()

	out := make([]SymbolRecord, len(syms))
	for i, sym := range syms {
		sym.ProjectID, sym.Ref, sym.Path = projectID, ref, path
		res, err := stmt.ExecContext(ctx, sym.ProjectID, sym.Ref, sym.Path, sym.Name, sym.QualifiedName,
			string(sym.Kind), string(sym.Role), sym.Visibility, sym.Signature, sym.LineStart, sym.LineEnd,
			sym.ParentSymbolID, sym.StableID)
		if err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("insert symbol %s: %w", sym.QualifiedName, err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("symbol id for %s: %w", sym.QualifiedName, err))
		}
		sym.ID = id
		out[i] = sym
	}

	if err := tx.Commit(); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("commit symbol upsert: %w", err))
	}
	return out, nil
}

// SymbolsByFile returns every symbol currently recorded for (projectID,
// ref, path), ordered by LineStart — the shape the outline tool needs for
// structural-only retrieval.
func (s *StateStore) SymbolsByFile(ctx context.Context, projectID, ref, path string) ([]SymbolRecord, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, project_id, ref, path, name, qualified_name, kind, role,
		visibility, signature, line_start, line_end, parent_symbol_id, stable_id
		FROM symbols WHERE project_id = ? AND ref = ? AND path = ? ORDER BY line_start`, projectID, ref, path)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("symbols by file: %w", err))
	}
	defer rows.Close()
	return scanSymbolRows(rows)
}

// SymbolsByStableID finds every symbol row sharing stableID within
// (projectID, ref) — normally exactly one, except transiently during a
// rename-detection window.
func (s *StateStore) SymbolsByStableID(ctx context.Context, projectID, ref, stableID string) ([]SymbolRecord, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, project_id, ref, path, name, qualified_name, kind, role,
		visibility, signature, line_start, line_end, parent_symbol_id, stable_id
		FROM symbols WHERE project_id = ? AND ref = ? AND stable_id = ?`, projectID, ref, stableID)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("symbols by stable id: %w", err))
	}
	defer rows.Close()
	return scanSymbolRows(rows)
}

func scanSymbolRows(rows *sql.Rows) ([]SymbolRecord, error) {
	var out []SymbolRecord
	for rows.Next() {
		var sym SymbolRecord
		var kind, role string
		if err := rows.Scan(&sym.ID, &sym.ProjectID, &sym.Ref, &sym.Path, &sym.Name, &sym.QualifiedName,
			&kind, &role, &sym.Visibility, &sym.Signature, &sym.LineStart, &sym.LineEnd,
			&sym.ParentSymbolID, &sym.StableID); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan symbol row: %w", err))
		}
		sym.Kind, sym.Role = SymbolKind(kind), SymbolRole(role)
		out = append(out, sym)
	}
	return out, rows.Err()
}

// ReplaceEdges replaces every edge row originating from symbols in path
// with edges, mirroring UpsertSymbols' whole-file replacement strategy.
func (s *StateStore) ReplaceEdges(ctx context.Context, projectID, ref string, fromSymbolIDs []int64, edges []RelationEdge) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin edge replace: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range fromSymbolIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE project_id = ? AND ref = ? AND from_symbol_id = ?`,
			projectID, ref, id); err != nil {
			return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("clear edges for symbol %d: %w", id, err))
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO edges
		(project_id, ref, from_symbol_id, to_symbol_id, to_name, edge_type, confidence_bucket, confidence_weight, provider, resolution_outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("prepare edge insert: %w", err))
	}
	defer stmt.Close()

	for _, e := range edges {
		if e.ResolutionOutcome != ResolutionInternal {
			e.ToSymbolID = 0 // invariant: unresolved/external -> to_symbol_id = NULL
		}
		e.ConfidenceWeight = ConfidenceWeight(e.ConfidenceBucket)
		if _, err := stmt.ExecContext(ctx, projectID, ref, e.FromSymbolID, e.ToSymbolID, e.ToName,
			string(e.EdgeType), string(e.ConfidenceBucket), e.ConfidenceWeight, e.Provider, string(e.ResolutionOutcome)); err != nil {
			return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("insert edge to %s: %w", e.ToName, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, err)
	}
	return nil
}

// ForwardEdges returns edges originating from fromSymbolID, optionally
// filtered to a single edgeType (empty string means all types) — the
// "what does X call/import/reference" traversal path.
func (s *StateStore) ForwardEdges(ctx context.Context, projectID, ref string, fromSymbolID int64, edgeType EdgeType) ([]RelationEdge, error) {
	return s.queryEdges(ctx, `project_id = ? AND ref = ? AND from_symbol_id = ?`, projectID, ref, fromSymbolID, edgeType)
}

// ReverseEdges returns edges pointing at toSymbolID, optionally filtered
// to a single edgeType — the "who calls/imports/references Y" traversal
// path used by call_graph's reverse direction.
func (s *StateStore) ReverseEdges(ctx context.Context, projectID, ref string, toSymbolID int64, edgeType EdgeType) ([]RelationEdge, error) {
	return s.queryEdges(ctx, `project_id = ? AND ref = ? AND to_symbol_id = ?`, projectID, ref, toSymbolID, edgeType)
}

func (s *StateStore) queryEdges(ctx context.Context, whereClause string, projectID, ref string, symbolID int64, edgeType EdgeType) ([]RelationEdge, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, project_id, ref, from_symbol_id, to_symbol_id, to_name, edge_type,
		confidence_bucket, confidence_weight, provider, resolution_outcome FROM edges WHERE %s`, whereClause)
	args := []any{projectID, ref, symbolID}
	if edgeType != "" {
		query += ` AND edge_type = ?`
		args = append(args, string(edgeType))
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("query edges: %w", err))
	}
	defer rows.Close()

	var out []RelationEdge
	for rows.Next() {
		var e RelationEdge
		var edgeTypeStr, bucket, outcome string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Ref, &e.FromSymbolID, &e.ToSymbolID, &e.ToName, &edgeTypeStr,
			&bucket, &e.ConfidenceWeight, &e.Provider, &outcome); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan edge row: %w", err))
		}
		e.EdgeType, e.ConfidenceBucket, e.ResolutionOutcome = EdgeType(edgeTypeStr), ConfidenceBucket(bucket), ResolutionOutcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolvedEdgeFilePairs returns the (from_path, to_path) of every
// resolved_internal edge for (projectID, ref), joined against symbols
// twice to recover each endpoint's file. Used by C4 to compute
// file_centrality = inbound_file_count / max_inbound_file_count over
// resolved inter-file edges (spec §4.4).
func (s *StateStore) ResolvedEdgeFilePairs(ctx context.Context, projectID, ref string) ([][2]string, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT fromSym.path, toSym.path
		FROM edges e
		JOIN symbols fromSym ON fromSym.id = e.from_symbol_id
		JOIN symbols toSym ON toSym.id = e.to_symbol_id
		WHERE e.project_id = ? AND e.ref = ? AND e.resolution_outcome = ?`,
		projectID, ref, string(ResolutionInternal))
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("resolved edge file pairs: %w", err))
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan edge file pair: %w", err))
		}
		out = append(out, [2]string{from, to})
	}
	return out, rows.Err()
}

// UpsertSnippets validates snippets for (projectID, ref, path). Snippets
// are persisted inside the inverted index (C3), not the state store's own
// tables, per spec §4.3's ownership split — this method only exists so
// C4's writer has one seam to call regardless of destination.
func (s *StateStore) UpsertSnippets(ctx context.Context, projectID, ref, path string, snippets []Snippet) error {
	for _, sn := range snippets {
		if sn.Origin != SnippetOriginSymbol && sn.Origin != SnippetOriginFileFallback {
			return cruxeerr.InvalidInput(fmt.Sprintf("invalid snippet origin %q for %s", sn.Origin, path), nil)
		}
	}
	return nil
}

// SetFileCentrality overwrites the centrality scalar for every path given
// in scores, keyed by (projectID, ref).
func (s *StateStore) SetFileCentrality(ctx context.Context, projectID, ref string, scores map[string]float64) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin centrality write: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_centrality WHERE project_id = ? AND ref = ?`, projectID, ref); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("clear centrality: %w", err))
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO file_centrality (project_id, ref, path, score) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("prepare centrality insert: %w", err))
	}
	defer stmt.Close()

	for path, score := range scores {
		if _, err := stmt.ExecContext(ctx, projectID, ref, path, score); err != nil {
			return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("insert centrality %s: %w", path, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, err)
	}
	return nil
}

// FileCentralityFor returns the centrality scalar for path, or 0 if unset.
func (s *StateStore) FileCentralityFor(ctx context.Context, projectID, ref, path string) (float64, error) {
	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	var score float64
	err = db.QueryRowContext(ctx, `SELECT score FROM file_centrality WHERE project_id = ? AND ref = ? AND path = ?`,
		projectID, ref, path).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("file centrality: %w", err))
	}
	return score, nil
}
