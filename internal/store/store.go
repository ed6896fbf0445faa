package store

import (
	"context"
	"errors"
	"time"

	"github.com/retailmesh/fedmine-engine/pkg/models"
)

var (
	// ErrNotFound reports a lookup for an entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a write that lost a state precondition, such as
	// completing a job that is no longer running.
	ErrConflict = errors.New("conflicting state")
)

// Store is the persistence boundary. Two implementations exist: Memory
// for single-process runs and tests, Postgres for durable deployments.
// Multi-row writes (CompleteJob, CompleteRound) are atomic: either every
// row lands or none do.
type Store interface {
	// UpsertStore registers a store or refreshes an existing
	// registration, reporting whether the row was created.
	UpsertStore(ctx context.Context, s models.Store) (bool, error)
	GetStore(ctx context.Context, id string) (models.Store, error)
	ListStores(ctx context.Context) ([]models.Store, error)
	// Heartbeat marks the store active and moves its last-seen time.
	Heartbeat(ctx context.Context, id, ip string, at time.Time) error
	// SweepInactive flips active stores not seen since cutoff to
	// inactive and returns the stores it flipped.
	SweepInactive(ctx context.Context, cutoff time.Time) ([]models.Store, error)
	ActiveStoreIDs(ctx context.Context) ([]string, error)

	InsertTransactions(ctx context.Context, txns []models.Transaction) (int, error)
	TransactionsByStore(ctx context.Context, storeID string, limit, offset int) ([]models.Transaction, error)
	CountTransactionsByStore(ctx context.Context, storeID string) (int, error)

	CreateJob(ctx context.Context, job models.MiningJob) error
	GetJob(ctx context.Context, id string) (models.MiningJob, error)
	// StartJob moves a pending job to running. It reports false without
	// error when the job exists but is not pending.
	StartJob(ctx context.Context, id string, at time.Time) (bool, error)
	// CompleteJob writes the finished job row and its patterns in one
	// atomic step. The job must currently be running.
	CompleteJob(ctx context.Context, job models.MiningJob, patterns []models.LocalPattern) error
	// FailJob moves a job from the given status to failed. It reports
	// false without error when the job is no longer in that status.
	FailJob(ctx context.Context, id string, from models.JobStatus, errMsg string, cancelled bool, at time.Time) (bool, error)
	RunningJobsStartedBefore(ctx context.Context, cutoff time.Time) ([]models.MiningJob, error)
	// PendingJobs lists jobs still waiting for a worker, oldest first,
	// so a restarted engine can requeue them.
	PendingJobs(ctx context.Context) ([]models.MiningJob, error)

	PatternsByJob(ctx context.Context, jobID string) ([]models.LocalPattern, error)
	PatternsByRound(ctx context.Context, roundID string) ([]models.LocalPattern, error)
	// EligibleLocalPatterns returns, per store, the completed-job
	// patterns no round has claimed yet.
	EligibleLocalPatterns(ctx context.Context) (map[string][]models.LocalPattern, error)

	MaxRoundNumber(ctx context.Context) (int, error)
	CreateRound(ctx context.Context, r models.FederatedRound) error
	GetRound(ctx context.Context, id string) (models.FederatedRound, error)
	ListRounds(ctx context.Context) ([]models.FederatedRound, error)
	// CompleteRound finalizes a running round: the round row, its global
	// patterns, and the claim on every contributing local pattern commit
	// together or not at all.
	CompleteRound(ctx context.Context, r models.FederatedRound, globals []models.GlobalPattern, patternIDs []string) error
	FailRound(ctx context.Context, id, reason string, at time.Time) error
	// FailRunningRounds fails every running round, used on startup when
	// a crash may have orphaned one.
	FailRunningRounds(ctx context.Context, reason string, at time.Time) (int, error)
	GlobalPatternsByRound(ctx context.Context, roundID string) ([]models.GlobalPattern, error)
	// EpsilonConsumed sums the privacy budget of completed rounds.
	// Failed rounds release their budget.
	EpsilonConsumed(ctx context.Context) (float64, error)

	Stats(ctx context.Context) (models.EngineStats, error)

	Close()
}
