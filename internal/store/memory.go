package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// Memory is an in-process Store used when no DATABASE_URL is configured
// and throughout the test suite. One mutex guards everything; the write
// paths validate all preconditions before mutating anything, which is
// what makes the composite writes atomic.
type Memory struct {
	mu       sync.RWMutex
	stores   map[string]models.Store
	txns     map[string][]models.Transaction
	jobs     map[string]models.MiningJob
	patterns map[string]models.LocalPattern
	byJob    map[string][]string
	rounds   map[string]models.FederatedRound
	globals  map[string][]models.GlobalPattern
	seq      int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		stores:   make(map[string]models.Store),
		txns:     make(map[string][]models.Transaction),
		jobs:     make(map[string]models.MiningJob),
		patterns: make(map[string]models.LocalPattern),
		byJob:    make(map[string][]string),
		rounds:   make(map[string]models.FederatedRound),
		globals:  make(map[string][]models.GlobalPattern),
	}
}

func (m *Memory) UpsertStore(_ context.Context, s models.Store) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.stores[s.ID]; ok {
		cur.Name = s.Name
		cur.IP = s.IP
		cur.ConnectionStatus = models.StoreActive
		cur.LastSeen = s.LastSeen
		m.stores[s.ID] = cur
		return false, nil
	}
	s.ConnectionStatus = models.StoreActive
	m.stores[s.ID] = s
	return true, nil
}

func (m *Memory) GetStore(_ context.Context, id string) (models.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[id]
	if !ok {
		return models.Store{}, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (m *Memory) ListStores(_ context.Context) ([]models.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Store, 0, len(m.stores))
	for _, s := range m.stores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Heartbeat(_ context.Context, id, ip string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	if !ok {
		return fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	s.ConnectionStatus = models.StoreActive
	s.LastSeen = at
	if ip != "" {
		s.IP = ip
	}
	m.stores[id] = s
	return nil
}

func (m *Memory) SweepInactive(_ context.Context, cutoff time.Time) ([]models.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var flipped []models.Store
	for id, s := range m.stores {
		if s.ConnectionStatus == models.StoreActive && s.LastSeen.Before(cutoff) {
			s.ConnectionStatus = models.StoreInactive
			m.stores[id] = s
			flipped = append(flipped, s)
		}
	}
	sort.Slice(flipped, func(i, j int) bool { return flipped[i].ID < flipped[j].ID })
	return flipped, nil
}

func (m *Memory) ActiveStoreIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, s := range m.stores {
		if s.ConnectionStatus == models.StoreActive {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) InsertTransactions(_ context.Context, txns []models.Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range txns {
		if _, ok := m.stores[t.StoreID]; !ok {
			return 0, fmt.Errorf("store %s: %w", t.StoreID, ErrNotFound)
		}
	}
	for _, t := range txns {
		m.seq++
		t.Seq = m.seq
		t.Items = append([]int(nil), t.Items...)
		t.Quantities = append([]float64(nil), t.Quantities...)
		t.UnitUtilities = append([]float64(nil), t.UnitUtilities...)
		m.txns[t.StoreID] = append(m.txns[t.StoreID], t)
	}
	return len(txns), nil
}

func (m *Memory) TransactionsByStore(_ context.Context, storeID string, limit, offset int) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.txns[storeID]
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]models.Transaction(nil), all[offset:end]...), nil
}

func (m *Memory) CountTransactionsByStore(_ context.Context, storeID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txns[storeID]), nil
}

func (m *Memory) CreateJob(_ context.Context, job models.MiningJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s exists: %w", job.ID, ErrConflict)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.MiningJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return models.MiningJob{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, nil
}

func (m *Memory) StartJob(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if j.Status != models.JobPending {
		return false, nil
	}
	j.Status = models.JobRunning
	j.StartedAt = &at
	m.jobs[id] = j
	return true, nil
}

func (m *Memory) CompleteJob(_ context.Context, job models.MiningJob, patterns []models.LocalPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[job.ID]
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	if cur.Status != models.JobRunning {
		return fmt.Errorf("job %s is %s: %w", job.ID, cur.Status, ErrConflict)
	}
	for _, p := range patterns {
		if _, dup := m.patterns[p.ID]; dup {
			return fmt.Errorf("pattern %s exists: %w", p.ID, ErrConflict)
		}
	}
	job.Status = models.JobCompleted
	m.jobs[job.ID] = job
	for _, p := range patterns {
		p.Items = append([]int(nil), p.Items...)
		m.patterns[p.ID] = p
		m.byJob[job.ID] = append(m.byJob[job.ID], p.ID)
	}
	return nil
}

func (m *Memory) FailJob(_ context.Context, id string, from models.JobStatus, errMsg string, cancelled bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if j.Status != from {
		return false, nil
	}
	j.Status = models.JobFailed
	j.ErrorMessage = errMsg
	j.Cancelled = cancelled
	j.CompletedAt = &at
	m.jobs[id] = j
	return true, nil
}

func (m *Memory) RunningJobsStartedBefore(_ context.Context, cutoff time.Time) ([]models.MiningJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MiningJob
	for _, j := range m.jobs {
		if j.Status == models.JobRunning && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PendingJobs(_ context.Context) ([]models.MiningJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MiningJob
	for _, j := range m.jobs {
		if j.Status == models.JobPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) PatternsByJob(_ context.Context, jobID string) ([]models.LocalPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byJob[jobID]
	out := make([]models.LocalPattern, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.patterns[id])
	}
	sortPatternsByUtility(out)
	return out, nil
}

func (m *Memory) PatternsByRound(_ context.Context, roundID string) ([]models.LocalPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LocalPattern
	for _, p := range m.patterns {
		if p.RoundID == roundID {
			out = append(out, p)
		}
	}
	sortPatternsByUtility(out)
	return out, nil
}

func (m *Memory) EligibleLocalPatterns(_ context.Context) (map[string][]models.LocalPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]models.LocalPattern)
	for _, p := range m.patterns {
		if p.RoundID == "" {
			out[p.StoreID] = append(out[p.StoreID], p)
		}
	}
	for _, ps := range out {
		sortPatternsByUtility(ps)
	}
	return out, nil
}

func (m *Memory) MaxRoundNumber(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := 0
	for _, r := range m.rounds {
		if r.RoundNumber > max {
			max = r.RoundNumber
		}
	}
	return max, nil
}

func (m *Memory) CreateRound(_ context.Context, r models.FederatedRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rounds[r.ID]; ok {
		return fmt.Errorf("round %s exists: %w", r.ID, ErrConflict)
	}
	for _, cur := range m.rounds {
		if cur.RoundNumber == r.RoundNumber {
			return fmt.Errorf("round number %d taken: %w", r.RoundNumber, ErrConflict)
		}
	}
	r.DataSizes = copySizes(r.DataSizes)
	m.rounds[r.ID] = r
	return nil
}

func (m *Memory) GetRound(_ context.Context, id string) (models.FederatedRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[id]
	if !ok {
		return models.FederatedRound{}, fmt.Errorf("round %s: %w", id, ErrNotFound)
	}
	r.DataSizes = copySizes(r.DataSizes)
	return r, nil
}

func (m *Memory) ListRounds(_ context.Context) ([]models.FederatedRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FederatedRound, 0, len(m.rounds))
	for _, r := range m.rounds {
		r.DataSizes = copySizes(r.DataSizes)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundNumber > out[j].RoundNumber })
	return out, nil
}

func (m *Memory) CompleteRound(_ context.Context, r models.FederatedRound, globals []models.GlobalPattern, patternIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rounds[r.ID]
	if !ok {
		return fmt.Errorf("round %s: %w", r.ID, ErrNotFound)
	}
	if cur.Status != models.RoundRunning {
		return fmt.Errorf("round %s is %s: %w", r.ID, cur.Status, ErrConflict)
	}
	for _, pid := range patternIDs {
		p, ok := m.patterns[pid]
		if !ok {
			return fmt.Errorf("pattern %s: %w", pid, ErrNotFound)
		}
		if p.RoundID != "" {
			return fmt.Errorf("pattern %s already claimed by round %s: %w", pid, p.RoundID, ErrConflict)
		}
	}

	r.Status = models.RoundCompleted
	r.DataSizes = copySizes(r.DataSizes)
	m.rounds[r.ID] = r
	for _, g := range globals {
		g.Items = append([]int(nil), g.Items...)
		m.globals[r.ID] = append(m.globals[r.ID], g)
	}
	for _, pid := range patternIDs {
		p := m.patterns[pid]
		p.RoundID = r.ID
		m.patterns[pid] = p
	}
	return nil
}

func (m *Memory) FailRound(_ context.Context, id, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return fmt.Errorf("round %s: %w", id, ErrNotFound)
	}
	if r.Status != models.RoundRunning {
		return fmt.Errorf("round %s is %s: %w", id, r.Status, ErrConflict)
	}
	r.Status = models.RoundFailed
	r.FailureReason = reason
	r.CompletedAt = &at
	m.rounds[id] = r
	return nil
}

func (m *Memory) FailRunningRounds(_ context.Context, reason string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.rounds {
		if r.Status == models.RoundRunning {
			r.Status = models.RoundFailed
			r.FailureReason = reason
			r.CompletedAt = &at
			m.rounds[id] = r
			n++
		}
	}
	return n, nil
}

func (m *Memory) GlobalPatternsByRound(_ context.Context, roundID string) ([]models.GlobalPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.GlobalPattern(nil), m.globals[roundID]...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].AggregatedUtility != out[j].AggregatedUtility {
			return out[i].AggregatedUtility > out[j].AggregatedUtility
		}
		return itemsLess(out[i].Items, out[j].Items)
	})
	return out, nil
}

func (m *Memory) EpsilonConsumed(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum float64
	for _, r := range m.rounds {
		if r.Status == models.RoundCompleted {
			sum += r.PrivacyBudget
		}
	}
	return sum, nil
}

func (m *Memory) Stats(_ context.Context) (models.EngineStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := models.EngineStats{
		StoresTotal:  len(m.stores),
		JobsByStatus: make(map[models.JobStatus]int),
	}
	for _, st := range m.stores {
		if st.ConnectionStatus == models.StoreActive {
			s.StoresActive++
		}
	}
	for _, ts := range m.txns {
		s.Transactions += len(ts)
	}
	for _, j := range m.jobs {
		s.JobsByStatus[j.Status]++
	}
	for _, r := range m.rounds {
		s.RoundsTotal++
		if r.Status == models.RoundCompleted {
			s.RoundsCompleted++
			s.EpsilonConsumed += r.PrivacyBudget
		}
	}
	s.LocalPatterns = len(m.patterns)
	for _, gs := range m.globals {
		s.GlobalPatterns += len(gs)
	}
	return s, nil
}

func (m *Memory) Close() {}

func sortPatternsByUtility(ps []models.LocalPattern) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Utility != ps[j].Utility {
			return ps[i].Utility > ps[j].Utility
		}
		return itemsLess(ps[i].Items, ps[j].Items)
	})
}

func itemsLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func copySizes(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
