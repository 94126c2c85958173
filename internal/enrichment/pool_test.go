package enrichment

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/signalridge/cruxe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnrichmentStore struct {
	mu        sync.Mutex
	pending   []store.EnrichmentItem
	completed []completion
	backlog   int
}

type completion struct {
	itemID     int64
	generation int64
	errMsg     string
}

func (f *fakeEnrichmentStore) DequeuePendingEnrichment(ctx context.Context, limit int) ([]store.EnrichmentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeEnrichmentStore) CompleteEnrichment(ctx context.Context, itemID int64, generation int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, completion{itemID, generation, errMsg})
	return nil
}

func (f *fakeEnrichmentStore) BacklogSize(ctx context.Context, projectID, ref string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backlog, nil
}

type fakeProcessor struct {
	mu        sync.Mutex
	processed []store.EnrichmentItem
	failPaths map[string]bool
}

func (f *fakeProcessor) Process(ctx context.Context, item store.EnrichmentItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, item)
	if f.failPaths[item.Path] {
		return fmt.Errorf("processing %s failed", item.Path)
	}
	return nil
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition did not become true within %s", timeout)
}

func TestPool_ProcessesPendingItemsAndCompletesThem(t *testing.T) {
	s := &fakeEnrichmentStore{pending: []store.EnrichmentItem{
		{ID: 1, ProjectID: "p", Ref: "main", Path: "a.go", Generation: 1},
		{ID: 2, ProjectID: "p", Ref: "main", Path: "b.go", Generation: 1},
	}}
	p := &fakeProcessor{}
	pool := NewPool(Config{WorkerConcurrency: 2, BatchSize: 10, PollInterval: 10 * time.Millisecond}, s, p)

	pool.Start(context.Background())
	defer pool.Stop()

	waitForCondition(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.completed) == 2
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.completed, 2)
	for _, c := range s.completed {
		assert.Empty(t, c.errMsg)
	}
}

func TestPool_FailedItemCompletesWithErrorMessage(t *testing.T) {
	s := &fakeEnrichmentStore{pending: []store.EnrichmentItem{
		{ID: 1, ProjectID: "p", Ref: "main", Path: "bad.go", Generation: 1},
	}}
	p := &fakeProcessor{failPaths: map[string]bool{"bad.go": true}}
	pool := NewPool(Config{WorkerConcurrency: 1, BatchSize: 10, PollInterval: 10 * time.Millisecond}, s, p)

	pool.Start(context.Background())
	defer pool.Stop()

	waitForCondition(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.completed) == 1
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.NotEmpty(t, s.completed[0].errMsg)
}

func TestPool_StartIsIdempotentAndStopWaitsForDrain(t *testing.T) {
	s := &fakeEnrichmentStore{}
	p := &fakeProcessor{}
	pool := NewPool(DefaultConfig(2), s, p)

	pool.Start(context.Background())
	pool.Start(context.Background()) // second Start is a no-op
	assert.True(t, pool.IsRunning())

	pool.Stop()
	assert.False(t, pool.IsRunning())

	pool.Stop() // second Stop is a no-op, must not block or panic
}

func TestPool_RespectsWorkerConcurrencyBound(t *testing.T) {
	items := make([]store.EnrichmentItem, 8)
	for i := range items {
		items[i] = store.EnrichmentItem{ID: int64(i + 1), ProjectID: "p", Ref: "main", Path: fmt.Sprintf("f%d.go", i), Generation: 1}
	}
	s := &fakeEnrichmentStore{pending: items}

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	blocker := &blockingProcessor{
		onStart: func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
		},
		onEnd: func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		},
		delay: 30 * time.Millisecond,
	}
	pool := NewPool(Config{WorkerConcurrency: 2, BatchSize: 10, PollInterval: 10 * time.Millisecond}, s, blocker)

	pool.Start(context.Background())
	defer pool.Stop()

	waitForCondition(t, 2*time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.completed) == len(items)
	})

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxInFlight, 2, "pool must never run more than WorkerConcurrency items concurrently")
}

type blockingProcessor struct {
	onStart func()
	onEnd   func()
	delay   time.Duration
}

func (b *blockingProcessor) Process(ctx context.Context, item store.EnrichmentItem) error {
	b.onStart()
	defer b.onEnd()
	time.Sleep(b.delay)
	return nil
}
