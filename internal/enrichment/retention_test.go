package enrichment

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeRetentionStore struct {
	mu    sync.Mutex
	calls int
	done  []time.Time
	fail  []time.Time
}

func (f *fakeRetentionStore) SweepRetention(ctx context.Context, doneCutoff, failedCutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.done = append(f.done, doneCutoff)
	f.fail = append(f.fail, failedCutoff)
	return 0, nil
}

func TestRunRetentionSweeper_SweepsOnEachTickUntilCanceled(t *testing.T) {
	s := &fakeRetentionStore{}
	cfg := RetentionConfig{DoneTTL: time.Hour, FailedTTL: 24 * time.Hour, SweepPeriod: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunRetentionSweeper(ctx, s, cfg, slog.Default())
		close(done)
	}()

	waitForCondition(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.calls >= 2
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not exit after context cancellation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.fail[0].Before(s.done[0]), "failedCutoff (longer TTL) must reach further into the past than doneCutoff")
}

func TestRunRetentionSweeper_DefaultsSweepPeriodWhenUnset(t *testing.T) {
	s := &fakeRetentionStore{}
	cfg := RetentionConfig{DoneTTL: time.Hour, FailedTTL: 24 * time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunRetentionSweeper(ctx, s, cfg, nil)

	// Just verify it doesn't panic with a zero SweepPeriod; don't wait a
	// full default period in this test.
	time.Sleep(10 * time.Millisecond)
}
