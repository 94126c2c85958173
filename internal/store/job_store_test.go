package store

import (
	"context"
	"testing"
	"time"

	"github.com/signalridge/cruxe/internal/cruxeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_StartIndexJob_EnforcesAtMostOneActive(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	job, err := s.StartIndexJob(ctx, "p", "main", IndexJobModeFull, "sync-1")
	require.NoError(t, err)
	assert.Equal(t, IndexJobQueued, job.Status)

	_, err = s.StartIndexJob(ctx, "p", "main", IndexJobModeIncremental, "sync-2")
	require.Error(t, err)
	assert.Equal(t, cruxeerr.CodeSyncInProgress, cruxeerr.GetCode(err))

	// A different ref is unaffected.
	_, err = s.StartIndexJob(ctx, "p", "feature", IndexJobModeFull, "sync-3")
	require.NoError(t, err)
}

func TestStateStore_StartIndexJob_AllowedAfterPriorJobTerminates(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	job, err := s.StartIndexJob(ctx, "p", "main", IndexJobModeFull, "sync-1")
	require.NoError(t, err)
	require.NoError(t, s.AdvanceIndexJob(ctx, job.ID, IndexJobPublished, 1.0))

	job2, err := s.StartIndexJob(ctx, "p", "main", IndexJobModeIncremental, "sync-2")
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, job2.ID)
}

func TestStateStore_AdvanceIndexJob_StampsEndedAtOnTerminalStatus(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	job, err := s.StartIndexJob(ctx, "p", "main", IndexJobModeFull, "sync-1")
	require.NoError(t, err)
	require.NoError(t, s.AdvanceIndexJob(ctx, job.ID, IndexJobRunning, 0.5))

	active, err := s.ActiveIndexJob(ctx, "p", "main")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Nil(t, active.EndedAt)
	assert.Equal(t, 0.5, active.Progress)

	require.NoError(t, s.AdvanceIndexJob(ctx, job.ID, IndexJobFailed, 0.5))

	active, err = s.ActiveIndexJob(ctx, "p", "main")
	require.NoError(t, err)
	assert.Nil(t, active, "a failed job is no longer active")

	latest, err := s.LatestIndexJob(ctx, "p", "main")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.NotNil(t, latest.EndedAt)
	assert.Equal(t, IndexJobFailed, latest.Status)
}

func TestStateStore_EnqueueEnrichment_LatestGenerationSupersedes(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 1))
	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 2))

	items, err := s.DequeuePendingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1, "two enqueues of the same path coalesce into one row")
	assert.Equal(t, int64(2), items[0].Generation)
}

func TestStateStore_EnqueueEnrichment_StaleGenerationIsNoOpWhileInFlight(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 5))
	items, err := s.DequeuePendingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// A stale, older generation arrives while generation 5 is running.
	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 3))

	pending, err := s.DequeuePendingEnrichment(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "stale generation must not resurrect the row as pending")
}

func TestStateStore_EnqueueEnrichment_NewerGenerationResetsFailedRow(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 1))
	items, err := s.DequeuePendingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, s.CompleteEnrichment(ctx, items[0].ID, 1, "embedding backend unavailable"))

	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 2))
	items2, err := s.DequeuePendingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items2, 1)
	assert.Equal(t, 0, items2[0].Retries)
	assert.Empty(t, items2[0].Error)
}

func TestStateStore_CompleteEnrichment_StaleCompletionDoesNotClobberNewerGeneration(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 1))
	items, err := s.DequeuePendingEnrichment(ctx, 10)
	require.NoError(t, err)
	claimed := items[0]

	// Generation 2 arrives and coalesces while generation 1 is still running.
	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 2))

	// The worker processing the stale generation-1 claim finishes late.
	require.NoError(t, s.CompleteEnrichment(ctx, claimed.ID, 1, ""))

	backlog, err := s.BacklogSize(ctx, "p", "main")
	require.NoError(t, err)
	assert.Equal(t, 1, backlog, "generation 2 must still be pending, not marked done by the stale completion")
}

func TestStateStore_BacklogSize(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 1))
	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "b.go", 1))

	n, err := s.BacklogSize(ctx, "p", "main")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := s.DequeuePendingEnrichment(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, s.CompleteEnrichment(ctx, items[0].ID, items[0].Generation, ""))

	n, err = s.BacklogSize(ctx, "p", "main")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStateStore_SweepRetention(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 1))
	items, err := s.DequeuePendingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, s.CompleteEnrichment(ctx, items[0].ID, 1, ""))

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	n, err := s.SweepRetention(ctx, past, past)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "a row completed after the cutoff must survive")

	n, err = s.SweepRetention(ctx, future, past)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "done rows use doneCutoff")
}

func TestStateStore_SweepRetention_FailedRowsUseSeparateCutoff(t *testing.T) {
	s, _ := newTestStateStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueEnrichment(ctx, "p", "main", "a.go", 1))
	items, err := s.DequeuePendingEnrichment(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, s.CompleteEnrichment(ctx, items[0].ID, 1, "boom"))

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	n, err := s.SweepRetention(ctx, future, past)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "a failed row must not be swept by the done cutoff alone")

	n, err = s.SweepRetention(ctx, past, future)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "failed rows use failedCutoff")
}
