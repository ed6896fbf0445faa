package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// Reaper fails running jobs whose workers stopped reporting. A worker
// never abandons a job on purpose; a stale running job means the process
// died mid-mine or the job outlived the configured ceiling.
type Reaper struct {
	st         store.Store
	staleAfter time.Duration
	every      time.Duration
	notify     func(event string, payload map[string]any)

	now func() time.Time
}

// NewReaper wires a reaper over the store. notify may be nil.
func NewReaper(st store.Store, staleAfter, every time.Duration, notify func(event string, payload map[string]any)) *Reaper {
	return &Reaper{st: st, staleAfter: staleAfter, every: every, notify: notify, now: time.Now}
}

// Run sweeps stale jobs until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	log.Printf("[Reaper] Sweeping stale jobs every %s (stale after %s)", r.every, r.staleAfter)
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Reaper] Stopped")
			return
		case <-ticker.C:
			if n, err := r.sweepOnce(ctx); err != nil {
				log.Printf("[Reaper] Sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("[Reaper] Failed %d stale job(s)", n)
			}
		}
	}
}

// StartupSweep fails every running job regardless of age. Called once at
// boot: any job still marked running belongs to a previous process.
func (r *Reaper) StartupSweep(ctx context.Context) (int, error) {
	return r.sweep(ctx, r.now(), "interrupted by engine restart")
}

func (r *Reaper) sweepOnce(ctx context.Context) (int, error) {
	return r.sweep(ctx, r.now().Add(-r.staleAfter), fmt.Sprintf("timed out after %s", r.staleAfter))
}

func (r *Reaper) sweep(ctx context.Context, cutoff time.Time, msg string) (int, error) {
	stale, err := r.st.RunningJobsStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range stale {
		changed, err := r.st.FailJob(ctx, job.ID, models.JobRunning, msg, false, r.now())
		if err != nil {
			return n, err
		}
		if !changed {
			// The worker finished between the scan and the swap.
			continue
		}
		n++
		if r.notify != nil {
			r.notify("job_failed", map[string]any{
				"job_id":   job.ID,
				"store_id": job.StoreID,
				"error":    msg,
			})
		}
	}
	return n, nil
}
