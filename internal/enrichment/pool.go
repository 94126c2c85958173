// Package enrichment implements C11: the bounded, latest-wins semantic
// enrichment worker pool over C2's enrichment_queue table, plus the
// retention sweeper and the runtime backlog state it exposes (spec
// §4.11).
package enrichment

import (
	"context"
	"sync"
	"time"

	"github.com/signalridge/cruxe/internal/store"
)

// Store is the subset of *store.StateStore the pool needs. Coalescing
// ("latest generation supersedes older pending/running work for the same
// key") is already implemented by EnqueueEnrichment itself — the pool
// only dequeues, processes, and completes.
type Store interface {
	DequeuePendingEnrichment(ctx context.Context, limit int) ([]store.EnrichmentItem, error)
	CompleteEnrichment(ctx context.Context, itemID int64, generation int64, errMsg string) error
	BacklogSize(ctx context.Context, projectID, ref string) (int, error)
}

// Processor does the actual enrichment work for one queued item —
// reading the file, computing embeddings, and writing them to the
// semantic vector store. A Processor is expected to be idempotent: the
// pool may call it more than once for the same (project, ref, path,
// generation) if a worker crashes mid-item and the row is redequeued.
type Processor interface {
	Process(ctx context.Context, item store.EnrichmentItem) error
}

// Config tunes the pool's concurrency and polling cadence.
type Config struct {
	WorkerConcurrency int
	BatchSize         int
	PollInterval      time.Duration
}

// DefaultConfig mirrors config.EnrichmentConfig's defaults for a pool
// built without an explicit Config.
func DefaultConfig(workerConcurrency int) Config {
	if workerConcurrency <= 0 {
		workerConcurrency = 1
	}
	return Config{
		WorkerConcurrency: workerConcurrency,
		BatchSize:         workerConcurrency * 4,
		PollInterval:      500 * time.Millisecond,
	}
}

// Pool runs bounded-concurrency enrichment workers against Store,
// started and stopped the way the teacher's internal/async.BackgroundIndexer
// manages its own background goroutine.
type Pool struct {
	cfg       Config
	store     Store
	processor Processor

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
}

// NewPool builds a Pool; it does nothing until Start is called.
func NewPool(cfg Config, s Store, p Processor) *Pool {
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.WorkerConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Pool{cfg: cfg, store: s, processor: p, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// IsRunning reports whether the pool's dispatcher goroutine is active.
func (p *Pool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches the dispatcher goroutine. Non-blocking; call Stop to
// shut down cleanly.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop signals the dispatcher to stop and waits for in-flight work to
// drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stopCh := p.stopCh
	p.mu.Unlock()

	close(stopCh)
	<-p.doneCh
}

func (p *Pool) run(ctx context.Context) {
	defer close(p.doneCh)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

// drainOnce dequeues up to BatchSize items and fans them out across
// WorkerConcurrency goroutines, waiting for the batch to finish before
// the next poll tick.
func (p *Pool) drainOnce(ctx context.Context) {
	items, err := p.store.DequeuePendingEnrichment(ctx, p.cfg.BatchSize)
	if err != nil || len(items) == 0 {
		return
	}

	sem := make(chan struct{}, p.cfg.WorkerConcurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.processOne(ctx, item)
		}()
	}
	wg.Wait()
}

func (p *Pool) processOne(ctx context.Context, item store.EnrichmentItem) {
	errMsg := ""
	if err := p.processor.Process(ctx, item); err != nil {
		errMsg = err.Error()
	}
	// CompleteEnrichment no-ops if the row was coalesced to a newer
	// generation while this item was in flight, so a crashed/slow worker
	// can never clobber fresher work.
	_ = p.store.CompleteEnrichment(ctx, item.ID, item.Generation, errMsg)
}
