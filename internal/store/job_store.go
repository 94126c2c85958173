package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// StartIndexJob inserts a new index_jobs row in queued status, enforcing
// the at-most-one-active-job-per-(project,ref) invariant (spec §3, §5):
// if a queued or running job already exists for (projectID, ref), this
// returns the canonical sync_in_progress conflict instead of a second row.
func (s *StateStore) StartIndexJob(ctx context.Context, projectID, ref string, mode IndexJobMode, syncID string) (IndexJob, error) {
	db, err := s.db(ctx)
	if err != nil {
		return IndexJob{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return IndexJob{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin start job: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var activeCount int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM index_jobs
		WHERE project_id = ? AND ref = ? AND status IN ('queued', 'running')`, projectID, ref).Scan(&activeCount)
	if err != nil {
		return IndexJob{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("check active jobs: %w", err))
	}
	if activeCount > 0 {
		return IndexJob{}, cruxeerr.Conflict(fmt.Sprintf("index job already active for %s/%s", projectID, ref), nil).
			WithDetail("project_id", projectID).WithDetail("ref", ref)
	}

	job := IndexJob{
		ProjectID: projectID,
		Ref:       ref,
		Mode:      mode,
		Status:    IndexJobQueued,
		SyncID:    syncID,
		StartedAt: time.Now().UTC(),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO index_jobs (project_id, ref, mode, status, progress, sync_id, started_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`, job.ProjectID, job.Ref, string(job.Mode), string(job.Status), job.SyncID, job.StartedAt)
	if err != nil {
		return IndexJob{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("insert index job: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return IndexJob{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("index job id: %w", err))
	}
	job.ID = id

	if err := tx.Commit(); err != nil {
		return IndexJob{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("commit start job: %w", err))
	}
	return job, nil
}

// AdvanceIndexJob transitions jobID to status with the given progress.
// Transitioning to a terminal status (published, failed, interrupted)
// stamps EndedAt.
func (s *StateStore) AdvanceIndexJob(ctx context.Context, jobID int64, status IndexJobStatus, progress float64) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	var endedAt any
	if status == IndexJobPublished || status == IndexJobFailed || status == IndexJobInterrupted {
		endedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `UPDATE index_jobs SET status = ?, progress = ?, ended_at = COALESCE(?, ended_at)
		WHERE id = ?`, string(status), progress, endedAt, jobID)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("advance index job %d: %w", jobID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("advance index job %d rows affected: %w", jobID, err))
	}
	if n == 0 {
		return cruxeerr.NotFound(fmt.Sprintf("index job %d not found", jobID), nil)
	}
	return nil
}

// ActiveIndexJob returns the queued/running job for (projectID, ref), if
// any, used by the retrieval path to populate indexing_status metadata
// (spec §6: not_indexed, indexing, ready, failed).
func (s *StateStore) ActiveIndexJob(ctx context.Context, projectID, ref string) (*IndexJob, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT id, project_id, ref, mode, status, progress, sync_id, started_at, ended_at
		FROM index_jobs WHERE project_id = ? AND ref = ? AND status IN ('queued', 'running')
		ORDER BY started_at DESC LIMIT 1`, projectID, ref)
	job, err := scanIndexJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LatestIndexJob returns the most recently started job for (projectID,
// ref) regardless of status, or nil if none exists yet.
func (s *StateStore) LatestIndexJob(ctx context.Context, projectID, ref string) (*IndexJob, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT id, project_id, ref, mode, status, progress, sync_id, started_at, ended_at
		FROM index_jobs WHERE project_id = ? AND ref = ? ORDER BY started_at DESC LIMIT 1`, projectID, ref)
	job, err := scanIndexJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanIndexJob(row *sql.Row) (IndexJob, error) {
	var job IndexJob
	var mode, status string
	var endedAt sql.NullTime
	err := row.Scan(&job.ID, &job.ProjectID, &job.Ref, &mode, &status, &job.Progress, &job.SyncID, &job.StartedAt, &endedAt)
	if err != nil {
		return IndexJob{}, err
	}
	job.Mode, job.Status = IndexJobMode(mode), IndexJobStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		job.EndedAt = &t
	}
	return job, nil
}

// EnqueueEnrichment adds or coalesces an enrichment backlog row for
// (projectID, ref, path) at the given generation (spec §3 invariant:
// "latest generation supersedes older pending/running rows for same
// key"). A generation older than or equal to the stored one when the
// stored row is still pending/running is a no-op — the newer work
// already supersedes it. A generation newer than the stored one resets
// status to pending and clears retries/error, since the prior attempt's
// failure no longer describes current content.
func (s *StateStore) EnqueueEnrichment(ctx context.Context, projectID, ref, path string, generation int64) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin enrichment enqueue: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var existingGen int64
	var existingStatus string
	err = tx.QueryRowContext(ctx, `SELECT generation, status FROM enrichment_queue
		WHERE project_id = ? AND ref = ? AND path = ?`, projectID, ref, path).Scan(&existingGen, &existingStatus)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO enrichment_queue (project_id, ref, path, generation, status, retries, error, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, '', ?)`, projectID, ref, path, generation, string(EnrichmentPending), now); err != nil {
			return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("insert enrichment row: %w", err))
		}
	case err != nil:
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("lookup enrichment row: %w", err))
	case generation <= existingGen && (existingStatus == string(EnrichmentPending) || existingStatus == string(EnrichmentRunning)):
		// A stale or equal generation is superseded by in-flight work; no-op.
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE enrichment_queue SET generation = ?, status = ?, retries = 0, error = '', updated_at = ?
			WHERE project_id = ? AND ref = ? AND path = ?`, generation, string(EnrichmentPending), now, projectID, ref, path); err != nil {
			return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("coalesce enrichment row: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("commit enrichment enqueue: %w", err))
	}
	return nil
}

// DequeuePendingEnrichment atomically claims up to limit pending rows by
// marking them running and returning them, for a bounded worker pool (C11)
// to process. Only workers dequeue (spec §5).
func (s *StateStore) DequeuePendingEnrichment(ctx context.Context, limit int) ([]EnrichmentItem, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("begin dequeue: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT id, project_id, ref, path, generation, status, retries, error
		FROM enrichment_queue WHERE status = ? ORDER BY id ASC LIMIT ?`, string(EnrichmentPending), limit)
	if err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("select pending enrichment: %w", err))
	}
	var items []EnrichmentItem
	for rows.Next() {
		item, err := scanEnrichmentItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, err)
	}
	rows.Close()

	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `UPDATE enrichment_queue SET status = ?, updated_at = ? WHERE id = ?`,
			string(EnrichmentRunning), time.Now().UTC(), item.ID); err != nil {
			return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("claim enrichment row %d: %w", item.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("commit dequeue: %w", err))
	}
	for i := range items {
		items[i].Status = EnrichmentRunning
	}
	return items, nil
}

// CompleteEnrichment marks an enrichment row done, or records a failure
// (incrementing retries and storing errMsg) when errMsg is non-empty. A
// row that was coalesced to a newer generation while running is left
// alone: its generation no longer matches itemID's claimed generation, so
// the completion of stale work must not clobber the newer pending row.
func (s *StateStore) CompleteEnrichment(ctx context.Context, itemID int64, generation int64, errMsg string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	var currentGen int64
	err = db.QueryRowContext(ctx, `SELECT generation FROM enrichment_queue WHERE id = ?`, itemID).Scan(&currentGen)
	if err == sql.ErrNoRows {
		return nil // row was superseded and removed/replaced; nothing to complete
	}
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("lookup enrichment row %d: %w", itemID, err))
	}
	if currentGen != generation {
		return nil // a newer generation was coalesced in while this one ran
	}

	now := time.Now().UTC()
	if errMsg != "" {
		_, err = db.ExecContext(ctx, `UPDATE enrichment_queue SET status = ?, retries = retries + 1, error = ?, updated_at = ? WHERE id = ?`,
			string(EnrichmentFailed), errMsg, now, itemID)
	} else {
		_, err = db.ExecContext(ctx, `UPDATE enrichment_queue SET status = ?, error = '', updated_at = ? WHERE id = ?`,
			string(EnrichmentDone), now, itemID)
	}
	if err != nil {
		return cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("complete enrichment row %d: %w", itemID, err))
	}
	return nil
}

// BacklogSize reports the number of pending+running enrichment rows for
// (projectID, ref), feeding the semantic_backlog_size response metadata.
func (s *StateStore) BacklogSize(ctx context.Context, projectID, ref string) (int, error) {
	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrichment_queue
		WHERE project_id = ? AND ref = ? AND status IN (?, ?)`, projectID, ref, string(EnrichmentPending), string(EnrichmentRunning)).Scan(&n)
	if err != nil {
		return 0, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("backlog size: %w", err))
	}
	return n, nil
}

// SweepRetention deletes done enrichment rows last touched before
// doneCutoff and failed rows last touched before failedCutoff — spec §4.11
// gives done/superseded work a short 24-72h retention window but keeps
// failed work around longer (~7d) so a backlog sweep doesn't erase the
// evidence a failure needs to be diagnosed. Callers compute both cutoffs
// from time.Now() (rather than this method doing so internally) so the
// sweep is deterministic and testable.
func (s *StateStore) SweepRetention(ctx context.Context, doneCutoff, failedCutoff time.Time) (int64, error) {
	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	res, err := db.ExecContext(ctx, `DELETE FROM enrichment_queue WHERE status = ? AND updated_at < ?`,
		string(EnrichmentDone), doneCutoff)
	if err != nil {
		return 0, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("sweep retention (done): %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("sweep retention (done) rows affected: %w", err))
	}
	total += n

	res, err = db.ExecContext(ctx, `DELETE FROM enrichment_queue WHERE status = ? AND updated_at < ?`,
		string(EnrichmentFailed), failedCutoff)
	if err != nil {
		return 0, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("sweep retention (failed): %w", err))
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("sweep retention (failed) rows affected: %w", err))
	}
	total += n

	return total, nil
}

func scanEnrichmentItem(rows *sql.Rows) (EnrichmentItem, error) {
	var item EnrichmentItem
	var status string
	if err := rows.Scan(&item.ID, &item.ProjectID, &item.Ref, &item.Path, &item.Generation, &status, &item.Retries, &item.Error); err != nil {
		return EnrichmentItem{}, cruxeerr.Wrap(cruxeerr.CodeStoreConnectionFailed, fmt.Errorf("scan enrichment row: %w", err))
	}
	item.Status = EnrichmentStatus(status)
	return item, nil
}
