package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

func seedRunningJob(t *testing.T, st store.Store, id string, startedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.UpsertStore(ctx, models.Store{ID: "s1", Name: "s1", LastSeen: startedAt, RegisteredAt: startedAt}); err != nil {
		t.Fatalf("UpsertStore failed: %v", err)
	}
	if err := st.CreateJob(ctx, models.MiningJob{ID: id, StoreID: "s1", Status: models.JobPending, CreatedAt: startedAt}); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if ok, err := st.StartJob(ctx, id, startedAt); err != nil || !ok {
		t.Fatalf("StartJob failed: ok=%v err=%v", ok, err)
	}
}

func TestReaperFailsOnlyStaleJobs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRunningJob(t, st, "stale", now.Add(-15*time.Minute))

	if err := st.CreateJob(ctx, models.MiningJob{ID: "fresh", StoreID: "s1", Status: models.JobPending}); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := st.StartJob(ctx, "fresh", now.Add(-time.Minute)); err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}

	events := &eventLog{}
	reaper := NewReaper(st, 10*time.Minute, time.Minute, events.record)
	reaper.now = func() time.Time { return now }

	n, err := reaper.sweepOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 reaped job, got n=%d err=%v", n, err)
	}

	stale, _ := st.GetJob(ctx, "stale")
	if stale.Status != models.JobFailed || !strings.Contains(stale.ErrorMessage, "timed out") {
		t.Errorf("Expected stale job failed with timeout message, got %+v", stale)
	}
	fresh, _ := st.GetJob(ctx, "fresh")
	if fresh.Status != models.JobRunning {
		t.Errorf("Expected fresh job untouched, got %s", fresh.Status)
	}
	if events.count("job_failed") != 1 {
		t.Errorf("Expected one job_failed event, got %d", events.count("job_failed"))
	}
}

func TestStartupSweepFailsAllRunning(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedRunningJob(t, st, "orphan", now.Add(-time.Second))

	reaper := NewReaper(st, 10*time.Minute, time.Minute, nil)
	reaper.now = func() time.Time { return now }

	n, err := reaper.StartupSweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 orphan failed, got n=%d err=%v", n, err)
	}
	job, _ := st.GetJob(ctx, "orphan")
	if job.Status != models.JobFailed || !strings.Contains(job.ErrorMessage, "restart") {
		t.Errorf("Expected orphan failed with restart message, got %+v", job)
	}
}
