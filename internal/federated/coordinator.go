package federated

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"runtime/debug"
	"sort"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/retailmesh/fedmine-engine/internal/metrics"
	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

var (
	// ErrRoundInProgress rejects a start request while another round is
	// still running.
	ErrRoundInProgress = errors.New("a federated round is already in progress")
	// ErrBudgetExhausted rejects a round whose epsilon would overrun the
	// cumulative privacy budget cap.
	ErrBudgetExhausted = errors.New("privacy budget exhausted")
	// ErrInsufficientClients reports a round that failed at collection
	// because too few active stores had patterns to contribute.
	ErrInsufficientClients = errors.New("insufficient active clients")
	// ErrInvalidRound rejects nonsensical round parameters.
	ErrInvalidRound = errors.New("invalid round parameters")
)

// budgetSlack absorbs float accumulation error in the epsilon ledger so
// a round that lands exactly on the cap is not rejected.
const budgetSlack = 1e-9

// Liveness is the registry view the coordinator needs: which stores are
// active right now.
type Liveness interface {
	ActiveStores(ctx context.Context) (mapset.Set[string], error)
}

// Config carries the deployment constants of the privacy mechanism.
type Config struct {
	Sensitivity float64
	BudgetCap   float64
}

// Coordinator owns the federated round lifecycle: open, collect,
// aggregate, privatize, commit. At most one round runs at a time;
// rounds are numbered densely in start order.
type Coordinator struct {
	st     store.Store
	live   Liveness
	cfg    Config
	notify func(event string, payload map[string]any)

	inFlight atomic.Bool

	// Swapped out by tests.
	now            func() time.Time
	seedFn         func() int64
	beforeComplete func()
}

// NewCoordinator wires a coordinator over the store and registry.
// notify may be nil.
func NewCoordinator(st store.Store, live Liveness, cfg Config, notify func(event string, payload map[string]any)) *Coordinator {
	return &Coordinator{
		st:     st,
		live:   live,
		cfg:    cfg,
		notify: notify,
		now:    time.Now,
		seedFn: rand.Int63,
	}
}

// StartRound runs one aggregation round synchronously and returns the
// terminal round row. Failures after the row is written (insufficient
// clients, commit errors) return both the failed row and the error;
// rejections before that (busy, budget, bad parameters) return only
// the error and leave no row behind.
func (c *Coordinator) StartRound(ctx context.Context, minClients int, epsilon float64) (models.FederatedRound, error) {
	if minClients < 1 {
		return models.FederatedRound{}, fmt.Errorf("min clients %d: %w", minClients, ErrInvalidRound)
	}
	if epsilon < 0 {
		return models.FederatedRound{}, fmt.Errorf("epsilon %g: %w", epsilon, ErrInvalidRound)
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return models.FederatedRound{}, ErrRoundInProgress
	}
	defer c.inFlight.Store(false)

	consumed, err := c.st.EpsilonConsumed(ctx)
	if err != nil {
		return models.FederatedRound{}, fmt.Errorf("failed to read privacy ledger: %v", err)
	}
	if consumed+epsilon > c.cfg.BudgetCap+budgetSlack {
		return models.FederatedRound{}, fmt.Errorf("%.4f consumed of %.4f cap: %w", consumed, c.cfg.BudgetCap, ErrBudgetExhausted)
	}

	maxNum, err := c.st.MaxRoundNumber(ctx)
	if err != nil {
		return models.FederatedRound{}, fmt.Errorf("failed to number round: %v", err)
	}
	round := models.FederatedRound{
		ID:                 uuid.NewString(),
		RoundNumber:        maxNum + 1,
		Status:             models.RoundRunning,
		MinClientsRequired: minClients,
		PrivacyBudget:      epsilon,
		NoiseSeed:          c.seedFn(),
		StartedAt:          c.now(),
	}
	if err := c.st.CreateRound(ctx, round); err != nil {
		return models.FederatedRound{}, fmt.Errorf("failed to open round: %v", err)
	}
	log.Printf("[Coordinator] Round %d open (min clients %d, epsilon %.3f)", round.RoundNumber, minClients, epsilon)

	return c.run(ctx, round)
}

// run drives an open round to a terminal status. A panic anywhere in
// aggregation fails the round instead of killing the process.
func (c *Coordinator) run(ctx context.Context, round models.FederatedRound) (out models.FederatedRound, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Coordinator] Panic in round %d: %v\n%s", round.RoundNumber, r, debug.Stack())
			out = c.fail(ctx, round, fmt.Sprintf("panic: %v", r))
			err = fmt.Errorf("round %d panicked: %v", round.RoundNumber, r)
		}
	}()

	contribs, claimIDs, sizes, err := c.collect(ctx)
	if err != nil {
		return c.fail(ctx, round, err.Error()), err
	}
	if len(contribs) < round.MinClientsRequired {
		log.Printf("[Coordinator] Round %d: %d of %d required clients", round.RoundNumber, len(contribs), round.MinClientsRequired)
		return c.fail(ctx, round, "insufficient_clients"),
			fmt.Errorf("%d of %d required clients: %w", len(contribs), round.MinClientsRequired, ErrInsufficientClients)
	}

	acc := NewAccumulator()
	for _, cb := range contribs {
		acc.Fold(cb)
	}
	globals := c.privatize(round, acc.Groups())

	span := make([]float64, 0, len(contribs))
	for _, cb := range contribs {
		span = append(span, float64(cb.DataSize))
	}
	completedAt := c.now()
	round.Status = models.RoundCompleted
	round.ParticipatingClients = len(contribs)
	round.PatternsAggregated = len(globals)
	round.DataHeterogeneity = metrics.CoefficientOfVariation(span)
	round.ContributionSpread = metrics.Spread(span)
	round.DataSizes = sizes
	round.CompletedAt = &completedAt

	if c.beforeComplete != nil {
		c.beforeComplete()
	}
	if cerr := c.st.CompleteRound(ctx, round, globals, claimIDs); cerr != nil {
		werr := fmt.Errorf("failed to commit round: %v", cerr)
		return c.fail(ctx, round, werr.Error()), werr
	}

	log.Printf("[Coordinator] Round %d completed: %d global patterns from %d stores",
		round.RoundNumber, len(globals), len(contribs))
	c.emit("round_completed", map[string]any{
		"round_id":              round.ID,
		"round_number":          round.RoundNumber,
		"participating_clients": round.ParticipatingClients,
		"patterns_aggregated":   round.PatternsAggregated,
	})
	return round, nil
}

// collect snapshots eligibility: active stores holding unclaimed
// patterns from a completed job. Each participant folds its newest
// job's patterns; every unclaimed pattern is claimed regardless,
// superseded ones included, so stale results never leak into a later
// round.
func (c *Coordinator) collect(ctx context.Context) ([]Contribution, []string, map[string]int, error) {
	active, err := c.live.ActiveStores(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to list active stores: %v", err)
	}
	eligible, err := c.st.EligibleLocalPatterns(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to collect patterns: %v", err)
	}

	withPatterns := mapset.NewSet[string]()
	for id := range eligible {
		withPatterns.Add(id)
	}
	ids := active.Intersect(withPatterns).ToSlice()
	sort.Strings(ids)

	var (
		contribs []Contribution
		claimIDs []string
	)
	sizes := make(map[string]int, len(ids))
	for _, id := range ids {
		all := eligible[id]
		folded, err := c.latestJobPatterns(ctx, all)
		if err != nil {
			return nil, nil, nil, err
		}
		size, err := c.st.CountTransactionsByStore(ctx, id)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to size dataset for %s: %v", id, err)
		}
		contribs = append(contribs, Contribution{StoreID: id, DataSize: size, Patterns: folded})
		for _, p := range all {
			claimIDs = append(claimIDs, p.ID)
		}
		sizes[id] = size
	}
	return contribs, claimIDs, sizes, nil
}

// latestJobPatterns narrows one store's unclaimed patterns to those of
// its newest completed job. A store that mined more than once between
// rounds contributes only the freshest result.
func (c *Coordinator) latestJobPatterns(ctx context.Context, patterns []models.LocalPattern) ([]models.LocalPattern, error) {
	byJob := make(map[string][]models.LocalPattern)
	for _, p := range patterns {
		byJob[p.JobID] = append(byJob[p.JobID], p)
	}
	if len(byJob) <= 1 {
		return patterns, nil
	}

	var bestID string
	var bestAt time.Time
	for jobID := range byJob {
		job, err := c.st.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to load job %s: %v", jobID, err)
		}
		at := job.CreatedAt
		if job.CompletedAt != nil {
			at = *job.CompletedAt
		}
		if bestID == "" || at.After(bestAt) || (at.Equal(bestAt) && jobID > bestID) {
			bestID, bestAt = jobID, at
		}
	}
	return byJob[bestID], nil
}

// privatize maps finalized groups to global pattern rows, perturbing
// utilities when the round carries a positive epsilon. Noise is drawn
// for every group in canonical order before any drop decision, which
// keeps the draw sequence identical under replay.
func (c *Coordinator) privatize(round models.FederatedRound, groups []Group) []models.GlobalPattern {
	noise := newLaplace(c.cfg.Sensitivity, round.PrivacyBudget, round.NoiseSeed)
	globals := make([]models.GlobalPattern, 0, len(groups))
	for _, g := range groups {
		utility := g.Utility + noise.sample()
		if utility <= 0 {
			continue
		}
		globals = append(globals, models.GlobalPattern{
			ID:                 uuid.NewString(),
			RoundID:            round.ID,
			Items:              g.Items,
			AggregatedUtility:  utility,
			GlobalSupport:      g.GlobalSupport,
			ContributingStores: g.Stores,
		})
	}
	return globals
}

// fail moves the round to failed and mirrors the terminal fields onto
// the returned copy.
func (c *Coordinator) fail(ctx context.Context, round models.FederatedRound, reason string) models.FederatedRound {
	at := c.now()
	if err := c.st.FailRound(ctx, round.ID, reason, at); err != nil {
		log.Printf("[Coordinator] Failed to mark round %d failed: %v", round.RoundNumber, err)
	}
	round.Status = models.RoundFailed
	round.FailureReason = reason
	round.CompletedAt = &at
	c.emit("round_failed", map[string]any{
		"round_id":     round.ID,
		"round_number": round.RoundNumber,
		"reason":       reason,
	})
	return round
}

func (c *Coordinator) emit(event string, payload map[string]any) {
	if c.notify != nil {
		c.notify(event, payload)
	}
}
