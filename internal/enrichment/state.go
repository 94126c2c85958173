package enrichment

import (
	"context"
	"fmt"
	"time"
)

// State classifies how far the semantic index is behind the code it
// describes (spec §4.11).
type State string

const (
	StateReady    State = "ready"
	StateBacklog  State = "backlog"
	StateDegraded State = "degraded"
)

// Thresholds separating ready/backlog/degraded, and the three corpus-size
// tiers that shape the scale advisory message.
const (
	readyBacklogMax    = 50
	degradedBacklogMin = 500

	scaleBaselineMax   = 50_000
	scaleDegradedMax   = 200_000
)

// RuntimeStatus is the snapshot exposed to callers (e.g. a status/health
// MCP tool) describing the enrichment subsystem's current health.
type RuntimeStatus struct {
	State          State
	BacklogSize    int
	LagHint        string
	ScaleAdvisory  string
}

// Status computes a RuntimeStatus from the current backlog size and the
// total number of indexed files in the project, using pollInterval and
// workerConcurrency to estimate how long the backlog will take to drain.
func Status(backlogSize, totalFiles int, pollInterval time.Duration, workerConcurrency int) RuntimeStatus {
	return RuntimeStatus{
		State:         classify(backlogSize),
		BacklogSize:   backlogSize,
		LagHint:       lagHint(backlogSize, pollInterval, workerConcurrency),
		ScaleAdvisory: scaleAdvisory(totalFiles),
	}
}

func classify(backlogSize int) State {
	switch {
	case backlogSize <= readyBacklogMax:
		return StateReady
	case backlogSize < degradedBacklogMin:
		return StateBacklog
	default:
		return StateDegraded
	}
}

// lagHint estimates wall-clock time to drain the backlog at the pool's
// configured throughput. It is a rough order-of-magnitude hint, not a
// guarantee — actual drain time depends on per-file embedding latency.
func lagHint(backlogSize int, pollInterval time.Duration, workerConcurrency int) string {
	if backlogSize == 0 {
		return "none"
	}
	if workerConcurrency <= 0 {
		workerConcurrency = 1
	}
	batches := (backlogSize + workerConcurrency - 1) / workerConcurrency
	est := time.Duration(batches) * pollInterval
	if est < time.Second {
		est = time.Second
	}
	return fmt.Sprintf("~%s to catch up at current concurrency", est.Round(time.Second))
}

// scaleAdvisory surfaces the tiered guidance from spec §4.11: corpora
// under 50k files run the default single-process pool comfortably, the
// 50k-200k tier degrades gracefully but benefits from raised
// concurrency, and corpora beyond 200k need a migration to a
// horizontally scaled enrichment deployment.
func scaleAdvisory(totalFiles int) string {
	switch {
	case totalFiles <= scaleBaselineMax:
		return "baseline: default worker pool is sufficient"
	case totalFiles <= scaleDegradedMax:
		return "degraded: consider raising worker concurrency or batch size"
	default:
		return "migration: corpus exceeds single-process enrichment scale, consider a dedicated enrichment deployment"
	}
}

// backlogStore narrows Store to what Status needs when called against a
// live pool rather than a precomputed backlog count.
type backlogStore interface {
	BacklogSize(ctx context.Context, projectID, ref string) (int, error)
}

// StatusFor fetches the current backlog for (projectID, ref) and reports
// its RuntimeStatus.
func StatusFor(ctx context.Context, s backlogStore, projectID, ref string, totalFiles int, cfg Config) (RuntimeStatus, error) {
	n, err := s.BacklogSize(ctx, projectID, ref)
	if err != nil {
		return RuntimeStatus{}, err
	}
	return Status(n, totalFiles, cfg.PollInterval, cfg.WorkerConcurrency), nil
}
