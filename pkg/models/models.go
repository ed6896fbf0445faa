package models

import "time"

// JobStatus tracks a mining job through its lifecycle. Transitions only
// move forward: pending -> running -> completed|failed, or pending -> failed
// when a job is cancelled before a worker picks it up.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// RoundStatus tracks a federated aggregation round. Rounds open in
// running and terminate in exactly one of completed or failed.
type RoundStatus string

const (
	RoundRunning   RoundStatus = "running"
	RoundCompleted RoundStatus = "completed"
	RoundFailed    RoundStatus = "failed"
)

// Store connection states derived from heartbeat recency.
const (
	StoreActive   = "active"
	StoreInactive = "inactive"
)

// Store is a registered retail store participating in the federation.
type Store struct {
	ID               string    `json:"store_id"`
	Name             string    `json:"store_name"`
	IP               string    `json:"ip_address"`
	ConnectionStatus string    `json:"connection_status"`
	LastSeen         time.Time `json:"last_seen"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// Transaction is one purchase basket uploaded by a store. Items,
// Quantities and UnitUtilities are parallel arrays: Quantities[i] units of
// Items[i] were sold at a per-unit utility of UnitUtilities[i].
type Transaction struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	Seq           int       `json:"seq"`
	Items         []int     `json:"items"`
	Quantities    []float64 `json:"quantities"`
	UnitUtilities []float64 `json:"unit_utilities"`
	CreatedAt     time.Time `json:"created_at"`
}

// TotalUtility is the transaction utility: the sum of quantity times
// per-unit utility over every item in the basket.
func (t Transaction) TotalUtility() float64 {
	var tu float64
	for i := range t.Items {
		tu += t.Quantities[i] * t.UnitUtilities[i]
	}
	return tu
}

// MiningJob is one request to mine high-utility itemsets from a single
// store's transactions.
type MiningJob struct {
	ID               string  `json:"id"`
	StoreID          string  `json:"store_id"`
	MinUtility       float64 `json:"min_utility"`
	MinSupport       int     `json:"min_support"`
	MaxPatternLength int     `json:"max_pattern_length"`
	UsePruning       bool    `json:"use_pruning"`
	BatchSize        int     `json:"batch_size"`

	Status       JobStatus `json:"status"`
	Cancelled    bool      `json:"cancelled"`
	ErrorMessage string    `json:"error_message,omitempty"`

	PatternsFound        int     `json:"patterns_found"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
	CandidatesExamined   int     `json:"candidates_examined"`
	NodesAllocated       int     `json:"nodes_allocated"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LocalPattern is a high-utility itemset mined from one store. RoundID is
// empty until a federated round consumes the pattern, after which the
// pattern is never aggregated again.
type LocalPattern struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	StoreID    string    `json:"store_id"`
	Items      []int     `json:"items"`
	Utility    float64   `json:"utility"`
	Support    int       `json:"support"`
	Confidence float64   `json:"confidence"`
	RoundID    string    `json:"round_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FederatedRound records one aggregation round. NoiseSeed and DataSizes
// capture everything nondeterministic about the round so that aggregation
// can be replayed bit-for-bit during an audit.
type FederatedRound struct {
	ID                 string      `json:"id"`
	RoundNumber        int         `json:"round_number"`
	Status             RoundStatus `json:"status"`
	MinClientsRequired int         `json:"min_clients_required"`
	PrivacyBudget      float64     `json:"privacy_budget"`
	NoiseSeed          int64       `json:"noise_seed"`
	FailureReason      string      `json:"failure_reason,omitempty"`

	ParticipatingClients int            `json:"participating_clients"`
	PatternsAggregated   int            `json:"patterns_aggregated"`
	DataHeterogeneity    float64        `json:"data_heterogeneity"`
	ContributionSpread   float64        `json:"contribution_spread"`
	DataSizes            map[string]int `json:"data_sizes,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GlobalPattern is the privatized, cross-store aggregate of one itemset
// produced by a completed federated round.
type GlobalPattern struct {
	ID                 string  `json:"id"`
	RoundID            string  `json:"round_id"`
	Items              []int   `json:"items"`
	AggregatedUtility  float64 `json:"aggregated_utility"`
	GlobalSupport      float64 `json:"global_support"`
	ContributingStores int     `json:"contributing_stores"`
}

// EngineStats is the dashboard snapshot served by the stats endpoint.
type EngineStats struct {
	StoresTotal     int               `json:"stores_total"`
	StoresActive    int               `json:"stores_active"`
	Transactions    int               `json:"transactions"`
	JobsByStatus    map[JobStatus]int `json:"jobs_by_status"`
	RoundsTotal     int               `json:"rounds_total"`
	RoundsCompleted int               `json:"rounds_completed"`
	LocalPatterns   int               `json:"local_patterns"`
	GlobalPatterns  int               `json:"global_patterns"`
	EpsilonConsumed float64           `json:"epsilon_consumed"`
}
