package federated

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

func TestReplayReproducesNoisedRound(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	activeStore(t, st, "s1", 3)
	activeStore(t, st, "s2", 2)
	completedJobAt(t, st, "s1", time.Now(), []models.LocalPattern{
		{Items: []int{2}, Utility: 30, Support: 2},
		{Items: []int{2, 3}, Utility: 37, Support: 2},
	})
	completedJobAt(t, st, "s2", time.Now(), []models.LocalPattern{
		{Items: []int{2}, Utility: 12, Support: 1},
		{Items: []int{1, 2}, Utility: 25, Support: 1},
	})

	coord := newTestCoordinator(st, Config{Sensitivity: 1, BudgetCap: 10}, nil)
	round, err := coord.StartRound(ctx, 2, 1.5)
	if err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	report, err := coord.ReplayRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("ReplayRound failed: %v", err)
	}
	if !report.Consistent {
		t.Errorf("Expected a consistent replay, got %+v", report)
	}
	if report.KeyOverlap != 1 {
		t.Errorf("Expected full key overlap, got %g", report.KeyOverlap)
	}
	if report.StoredPatterns != 3 || report.RecomputedPatterns != 3 || report.MatchingPatterns != 3 {
		t.Errorf("Expected 3 stored = recomputed = matching, got %+v", report)
	}
	if report.MaxDrift > driftTolerance {
		t.Errorf("Expected drift within tolerance, got %g", report.MaxDrift)
	}
}

func TestReplayAppliesNewestJobRule(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	activeStore(t, st, "s1", 4)
	base := time.Now()
	completedJobAt(t, st, "s1", base, []models.LocalPattern{
		{Items: []int{2}, Utility: 30, Support: 2},
	})
	completedJobAt(t, st, "s1", base.Add(time.Minute), []models.LocalPattern{
		{Items: []int{2}, Utility: 35, Support: 3},
		{Items: []int{9}, Utility: 12, Support: 1},
	})

	coord := newTestCoordinator(st, Config{Sensitivity: 1, BudgetCap: 10}, nil)
	round, err := coord.StartRound(ctx, 1, 2.0)
	if err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	// The claimed inputs include the superseded job's pattern; replay
	// must filter it out the same way the round did.
	report, err := coord.ReplayRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("ReplayRound failed: %v", err)
	}
	if !report.Consistent {
		t.Errorf("Expected a consistent replay over a superseded job, got %+v", report)
	}
}

func TestReplayDetectsParameterDrift(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	activeStore(t, st, "s1", 3)
	activeStore(t, st, "s2", 2)
	completedJobAt(t, st, "s1", time.Now(), []models.LocalPattern{
		{Items: []int{2}, Utility: 30, Support: 2},
	})
	completedJobAt(t, st, "s2", time.Now(), []models.LocalPattern{
		{Items: []int{2}, Utility: 12, Support: 1},
	})

	coord := newTestCoordinator(st, Config{Sensitivity: 1, BudgetCap: 10}, nil)
	round, err := coord.StartRound(ctx, 2, 1.5)
	if err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	// An auditor running with the wrong sensitivity rescales the noise
	// and the recomputed utilities diverge.
	audit := newTestCoordinator(st, Config{Sensitivity: 5, BudgetCap: 10}, nil)
	report, err := audit.ReplayRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("ReplayRound failed: %v", err)
	}
	if report.Consistent {
		t.Errorf("Expected divergence under a different sensitivity, got %+v", report)
	}
	if report.MaxDrift <= driftTolerance {
		t.Errorf("Expected visible utility drift, got %g", report.MaxDrift)
	}
}

func TestReplayRejectsNonCompletedRounds(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	activeStore(t, st, "s1", 2)
	completedJobAt(t, st, "s1", time.Now(), []models.LocalPattern{{Items: []int{2}, Utility: 30, Support: 2}})

	coord := newTestCoordinator(st, Config{Sensitivity: 1, BudgetCap: 10}, nil)
	round, err := coord.StartRound(ctx, 5, 0)
	if !errors.Is(err, ErrInsufficientClients) {
		t.Fatalf("Expected ErrInsufficientClients, got %v", err)
	}

	if _, err := coord.ReplayRound(ctx, round.ID); !errors.Is(err, ErrRoundNotCompleted) {
		t.Errorf("Expected ErrRoundNotCompleted for a failed round, got %v", err)
	}
	if _, err := coord.ReplayRound(ctx, "no-such-round"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown round, got %v", err)
	}
}
