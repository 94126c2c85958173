package enrichment

import (
	"context"
	"log/slog"
	"time"
)

// RetentionConfig controls how long completed enrichment rows survive
// before the sweeper prunes them. Spec §4.11: done/superseded work is
// pruned quickly (24-72h) since it has no diagnostic value once
// superseded, but failed work is kept around longer (~7d) so it can
// still be inspected when investigating a backlog.
type RetentionConfig struct {
	DoneTTL     time.Duration
	FailedTTL   time.Duration
	SweepPeriod time.Duration
}

// DefaultRetentionConfig matches the middle of the spec's stated ranges.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		DoneTTL:     48 * time.Hour,
		FailedTTL:   7 * 24 * time.Hour,
		SweepPeriod: 1 * time.Hour,
	}
}

// retentionStore is the subset of Store the sweeper needs.
type retentionStore interface {
	SweepRetention(ctx context.Context, doneCutoff, failedCutoff time.Time) (int64, error)
}

// RunRetentionSweeper blocks, sweeping on cfg.SweepPeriod, until ctx is
// canceled. Intended to be run in its own goroutine alongside a Pool.
func RunRetentionSweeper(ctx context.Context, s retentionStore, cfg RetentionConfig, log *slog.Logger) {
	if cfg.SweepPeriod <= 0 {
		cfg.SweepPeriod = DefaultRetentionConfig().SweepPeriod
	}
	if log == nil {
		log = slog.Default()
	}

	ticker := time.NewTicker(cfg.SweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			doneCutoff := now.Add(-cfg.DoneTTL)
			failedCutoff := now.Add(-cfg.FailedTTL)
			n, err := s.SweepRetention(ctx, doneCutoff, failedCutoff)
			if err != nil {
				log.Warn("enrichment retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("enrichment retention sweep pruned rows", "count", n)
			}
		}
	}
}
