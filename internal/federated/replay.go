package federated

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/retailmesh/fedmine-engine/internal/metrics"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// ErrRoundNotCompleted rejects replay of a round that has no committed
// aggregate to verify.
var ErrRoundNotCompleted = errors.New("round is not completed")

// driftTolerance bounds the float error allowed between a stored
// aggregate and its recomputation before the two count as diverged.
const driftTolerance = 1e-9

// ReplayReport is the outcome of re-running a completed round's
// aggregation from its claimed inputs and persisted noise seed. A
// consistent report means the stored global patterns are exactly what
// the inputs produce, which is the auditable form of the round
// idempotence guarantee.
type ReplayReport struct {
	RoundID     string `json:"round_id"`
	RoundNumber int    `json:"round_number"`

	StoredPatterns     int     `json:"stored_patterns"`
	RecomputedPatterns int     `json:"recomputed_patterns"`
	MatchingPatterns   int     `json:"matching_patterns"`
	KeyOverlap         float64 `json:"key_overlap"`
	MaxDrift           float64 `json:"max_drift"`
	Consistent         bool    `json:"consistent"`
}

// ReplayRound rebuilds a completed round's aggregate from the local
// patterns it claimed, the data sizes and noise seed on its row, and
// compares the result against the stored global patterns.
func (c *Coordinator) ReplayRound(ctx context.Context, roundID string) (ReplayReport, error) {
	round, err := c.st.GetRound(ctx, roundID)
	if err != nil {
		return ReplayReport{}, err
	}
	if round.Status != models.RoundCompleted {
		return ReplayReport{}, fmt.Errorf("round %s is %s: %w", roundID, round.Status, ErrRoundNotCompleted)
	}

	claimed, err := c.st.PatternsByRound(ctx, roundID)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("failed to load round inputs: %v", err)
	}
	byStore := make(map[string][]models.LocalPattern)
	for _, p := range claimed {
		byStore[p.StoreID] = append(byStore[p.StoreID], p)
	}
	ids := make([]string, 0, len(byStore))
	for id := range byStore {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	acc := NewAccumulator()
	for _, id := range ids {
		folded, err := c.latestJobPatterns(ctx, byStore[id])
		if err != nil {
			return ReplayReport{}, err
		}
		acc.Fold(Contribution{StoreID: id, DataSize: round.DataSizes[id], Patterns: folded})
	}
	recomputed := c.privatize(round, acc.Groups())

	stored, err := c.st.GlobalPatternsByRound(ctx, roundID)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("failed to load stored aggregate: %v", err)
	}

	report := ReplayReport{
		RoundID:            round.ID,
		RoundNumber:        round.RoundNumber,
		StoredPatterns:     len(stored),
		RecomputedPatterns: len(recomputed),
	}
	storedByKey := make(map[string]models.GlobalPattern, len(stored))
	storedSets := make([][]int, 0, len(stored))
	for _, g := range stored {
		storedByKey[groupKey(g.Items)] = g
		storedSets = append(storedSets, g.Items)
	}
	recomputedSets := make([][]int, 0, len(recomputed))
	for _, g := range recomputed {
		recomputedSets = append(recomputedSets, g.Items)
		s, ok := storedByKey[groupKey(g.Items)]
		if !ok {
			continue
		}
		drift := math.Abs(g.AggregatedUtility - s.AggregatedUtility)
		if d := math.Abs(g.GlobalSupport - s.GlobalSupport); d > drift {
			drift = d
		}
		if drift > report.MaxDrift {
			report.MaxDrift = drift
		}
		if drift <= driftTolerance && g.ContributingStores == s.ContributingStores {
			report.MatchingPatterns++
		}
	}
	report.KeyOverlap = metrics.PatternOverlap(storedSets, recomputedSets)
	report.Consistent = report.KeyOverlap == 1 &&
		report.MatchingPatterns == report.StoredPatterns &&
		report.StoredPatterns == report.RecomputedPatterns
	return report, nil
}
