package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retailmesh/fedmine-engine/internal/mining"
	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

var (
	// ErrQueueFull rejects submissions when the bounded queue is at
	// capacity; callers surface it as back-pressure, never by blocking.
	ErrQueueFull = errors.New("mining queue is full")
	// ErrNotCancellable rejects cancellation of a job a worker has
	// already claimed or finished.
	ErrNotCancellable = errors.New("job is not cancellable")
)

// Config sizes the pool. Zero values fall back to modest defaults.
type Config struct {
	PoolSize         int
	QueueDepth       int
	BatchSize        int
	CachePatterns    int
	CacheBounds      int
	CacheProjections int
}

// Pool executes mining jobs from a bounded queue on a fixed set of
// workers. Jobs for the same store are serialized by a per-store mutex;
// the mutex is taken before the pending->running claim so a job waiting
// on its store stays pending, cancellable, and invisible to the reaper.
type Pool struct {
	st     store.Store
	cfg    Config
	queue  chan string
	notify func(event string, payload map[string]any)

	storeLocks sync.Map
	wg         sync.WaitGroup

	now func() time.Time
}

// NewPool wires a pool over the store. notify may be nil.
func NewPool(st store.Store, cfg Config, notify func(event string, payload map[string]any)) *Pool {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 4
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 64
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 5000
	}
	return &Pool{
		st:     st,
		cfg:    cfg,
		queue:  make(chan string, cfg.QueueDepth),
		notify: notify,
		now:    time.Now,
	}
}

// Start launches the workers. They exit once ctx is cancelled, after
// finishing whatever job they hold.
func (p *Pool) Start(ctx context.Context) {
	log.Printf("[Worker] Starting %d mining workers (queue depth %d)", p.cfg.PoolSize, p.cfg.QueueDepth)
	for i := 0; i < p.cfg.PoolSize; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() { p.wg.Wait() }

// Enqueue submits a created job for execution without blocking.
func (p *Pool) Enqueue(jobID string) error {
	select {
	case p.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel fails a job that no worker has claimed yet. Running and
// finished jobs return ErrNotCancellable.
func (p *Pool) Cancel(ctx context.Context, jobID string) error {
	changed, err := p.st.FailJob(ctx, jobID, models.JobPending, "cancelled before execution", true, p.now())
	if err != nil {
		return err
	}
	if !changed {
		job, err := p.st.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrNotCancellable)
	}
	p.emit("job_failed", map[string]any{
		"job_id":    jobID,
		"cancelled": true,
	})
	return nil
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.queue:
			// A claimed job runs to completion even during shutdown, so
			// its persistence must not ride the cancelled context.
			p.execute(context.Background(), jobID)
		}
	}
}

func (p *Pool) execute(ctx context.Context, jobID string) {
	job, err := p.st.GetJob(ctx, jobID)
	if err != nil {
		log.Printf("[Worker] Dropping queued job %s: %v", jobID, err)
		return
	}

	lock := p.lockFor(job.StoreID)
	lock.Lock()
	defer lock.Unlock()

	startedAt := p.now()
	started, err := p.st.StartJob(ctx, jobID, startedAt)
	if err != nil {
		log.Printf("[Worker] Failed to claim job %s: %v", jobID, err)
		return
	}
	if !started {
		// Cancelled while queued, or another worker won the claim.
		return
	}
	job.Status = models.JobRunning
	job.StartedAt = &startedAt

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] Panic mining job %s: %v\n%s", jobID, r, debug.Stack())
			p.failRunning(ctx, job, fmt.Sprintf("panic: %v", r))
		}
	}()

	patterns, stats, err := p.mineJob(ctx, job)
	if err != nil {
		p.failRunning(ctx, job, err.Error())
		return
	}
	completedAt := p.now()

	job.PatternsFound = len(patterns)
	job.ExecutionTimeSeconds = completedAt.Sub(startedAt).Seconds()
	job.CandidatesExamined = stats.Candidates
	job.NodesAllocated = stats.NodesAllocated
	job.CompletedAt = &completedAt
	if err := p.st.CompleteJob(ctx, job, patterns); err != nil {
		log.Printf("[Worker] Failed to persist results for job %s: %v", jobID, err)
		p.failRunning(ctx, job, fmt.Sprintf("failed to persist results: %v", err))
		return
	}

	log.Printf("[Worker] Job %s completed: %d patterns in %.3fs (%d candidates)",
		jobID, job.PatternsFound, job.ExecutionTimeSeconds, job.CandidatesExamined)
	p.emit("job_completed", map[string]any{
		"job_id":                 job.ID,
		"store_id":               job.StoreID,
		"patterns_found":         job.PatternsFound,
		"execution_time_seconds": job.ExecutionTimeSeconds,
	})
}

// mineJob loads the store's transactions page by page, mines them, and
// converts the result to pattern rows. The store's total transaction
// utility anchors each pattern's confidence share.
func (p *Pool) mineJob(ctx context.Context, job models.MiningJob) ([]models.LocalPattern, mining.Stats, error) {
	batch := job.BatchSize
	if batch < 1 {
		batch = p.cfg.BatchSize
	}

	var txns []mining.Transaction
	offset := 0
	for {
		page, err := p.st.TransactionsByStore(ctx, job.StoreID, batch, offset)
		if err != nil {
			return nil, mining.Stats{}, fmt.Errorf("failed to load transactions: %v", err)
		}
		for _, t := range page {
			txns = append(txns, mining.Transaction{
				Items:         t.Items,
				Quantities:    t.Quantities,
				UnitUtilities: t.UnitUtilities,
			})
		}
		if len(page) < batch {
			break
		}
		offset += len(page)
	}

	ds, err := mining.NewDataset(txns)
	if err != nil {
		return nil, mining.Stats{}, err
	}
	var totalUtility float64
	for i := 0; i < ds.Len(); i++ {
		totalUtility += ds.TotalUtility(i)
	}

	miner, err := mining.NewMiner(p.cfg.CachePatterns, p.cfg.CacheBounds, p.cfg.CacheProjections)
	if err != nil {
		return nil, mining.Stats{}, err
	}
	mined, stats, err := miner.Mine(ds, mining.Options{
		MinUtility:       job.MinUtility,
		MinSupport:       job.MinSupport,
		MaxPatternLength: job.MaxPatternLength,
		UsePruning:       job.UsePruning,
	})
	if err != nil {
		return nil, stats, err
	}

	now := p.now()
	out := make([]models.LocalPattern, 0, len(mined))
	for _, m := range mined {
		confidence := 0.0
		if totalUtility > 0 {
			confidence = m.Utility / totalUtility
		}
		out = append(out, models.LocalPattern{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			StoreID:    job.StoreID,
			Items:      m.Items,
			Utility:    m.Utility,
			Support:    m.Support,
			Confidence: confidence,
			CreatedAt:  now,
		})
	}
	return out, stats, nil
}

func (p *Pool) failRunning(ctx context.Context, job models.MiningJob, msg string) {
	changed, err := p.st.FailJob(ctx, job.ID, models.JobRunning, msg, false, p.now())
	if err != nil {
		log.Printf("[Worker] Failed to mark job %s failed: %v", job.ID, err)
		return
	}
	if changed {
		log.Printf("[Worker] Job %s failed: %s", job.ID, msg)
		p.emit("job_failed", map[string]any{
			"job_id":   job.ID,
			"store_id": job.StoreID,
			"error":    msg,
		})
	}
}

func (p *Pool) lockFor(storeID string) *sync.Mutex {
	v, _ := p.storeLocks.LoadOrStore(storeID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (p *Pool) emit(event string, payload map[string]any) {
	if p.notify != nil {
		p.notify(event, payload)
	}
}
