package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init
// works inside the Docker runtime image, which does not copy the .sql
// file into the final stage.
//
//go:embed schema.sql
var schemaSQL string

// Postgres is the durable Store backed by pgx.
type Postgres struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool and verifies the database is
// reachable.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %v", err)
	}
	log.Println("[Store] Connected to PostgreSQL")
	return &Postgres{pool: pool}, nil
}

// InitSchema executes the embedded DDL. Every statement is idempotent.
func (s *Postgres) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}
	log.Println("[Store] Schema initialized")
	return nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const storeCols = `id, name, ip_address, connection_status, last_seen, registered_at`

func (s *Postgres) UpsertStore(ctx context.Context, st models.Store) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stores WHERE id = $1)`, st.ID).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		_, err = tx.Exec(ctx, `
			UPDATE stores
			SET name = $2, ip_address = $3, connection_status = 'active', last_seen = $4
			WHERE id = $1`,
			st.ID, st.Name, st.IP, st.LastSeen)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO stores (id, name, ip_address, connection_status, last_seen, registered_at)
			VALUES ($1, $2, $3, 'active', $4, $5)`,
			st.ID, st.Name, st.IP, st.LastSeen, st.RegisteredAt)
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert store: %v", err)
	}
	return !exists, tx.Commit(ctx)
}

func (s *Postgres) GetStore(ctx context.Context, id string) (models.Store, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+storeCols+` FROM stores WHERE id = $1`, id)
	st, err := scanStore(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Store{}, fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	return st, err
}

func (s *Postgres) ListStores(ctx context.Context) ([]models.Store, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+storeCols+` FROM stores ORDER BY registered_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Postgres) Heartbeat(ctx context.Context, id, ip string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stores
		SET connection_status = 'active',
		    last_seen = $2,
		    ip_address = CASE WHEN $3 <> '' THEN $3 ELSE ip_address END
		WHERE id = $1`,
		id, at, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) SweepInactive(ctx context.Context, cutoff time.Time) ([]models.Store, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE stores
		SET connection_status = 'inactive'
		WHERE connection_status = 'active' AND last_seen < $1
		RETURNING `+storeCols,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Postgres) ActiveStoreIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM stores WHERE connection_status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Postgres) InsertTransactions(ctx context.Context, txns []models.Transaction) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertSQL = `
		INSERT INTO transactions (id, store_id, items, quantities, unit_utilities, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, t := range txns {
		_, err := tx.Exec(ctx, insertSQL,
			t.ID, t.StoreID, toInt64s(t.Items), t.Quantities, t.UnitUtilities, t.CreatedAt)
		if err != nil {
			if isFKViolation(err) {
				return 0, fmt.Errorf("store %s: %w", t.StoreID, ErrNotFound)
			}
			return 0, fmt.Errorf("failed to insert transaction: %v", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(txns), nil
}

func (s *Postgres) TransactionsByStore(ctx context.Context, storeID string, limit, offset int) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, store_id, seq, items, quantities, unit_utilities, created_at
		FROM transactions
		WHERE store_id = $1
		ORDER BY seq
		LIMIT NULLIF($2, 0) OFFSET $3`,
		storeID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var items []int64
		if err := rows.Scan(&t.ID, &t.StoreID, &t.Seq, &items, &t.Quantities, &t.UnitUtilities, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Items = toInts(items)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) CountTransactionsByStore(ctx context.Context, storeID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE store_id = $1`, storeID).Scan(&n)
	return n, err
}

const jobCols = `id, store_id, min_utility, min_support, max_pattern_length, use_pruning, batch_size,
	status, cancelled, error_message, patterns_found, execution_time_seconds,
	candidates_examined, nodes_allocated, created_at, started_at, completed_at`

func (s *Postgres) CreateJob(ctx context.Context, job models.MiningJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mining_jobs
			(id, store_id, min_utility, min_support, max_pattern_length, use_pruning, batch_size, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.StoreID, job.MinUtility, job.MinSupport, job.MaxPatternLength,
		job.UsePruning, job.BatchSize, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert mining job: %v", err)
	}
	return nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (models.MiningJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM mining_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MiningJob{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func (s *Postgres) StartJob(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mining_jobs SET status = 'running', started_at = $2
		WHERE id = $1 AND status = 'pending'`,
		id, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.requireJob(ctx, id)
}

func (s *Postgres) CompleteJob(ctx context.Context, job models.MiningJob, patterns []models.LocalPattern) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE mining_jobs
		SET status = 'completed', patterns_found = $2, execution_time_seconds = $3,
		    candidates_examined = $4, nodes_allocated = $5, completed_at = $6
		WHERE id = $1 AND status = 'running'`,
		job.ID, job.PatternsFound, job.ExecutionTimeSeconds,
		job.CandidatesExamined, job.NodesAllocated, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to complete job: %v", err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.requireJob(ctx, job.ID); err != nil {
			return err
		}
		return fmt.Errorf("job %s is not running: %w", job.ID, ErrConflict)
	}

	const insertSQL = `
		INSERT INTO local_patterns (id, job_id, store_id, items, utility, support, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, p := range patterns {
		_, err := tx.Exec(ctx, insertSQL,
			p.ID, p.JobID, p.StoreID, toInt64s(p.Items), p.Utility, p.Support, p.Confidence, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert local pattern: %v", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) FailJob(ctx context.Context, id string, from models.JobStatus, errMsg string, cancelled bool, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mining_jobs
		SET status = 'failed', error_message = $3, cancelled = $4, completed_at = $5
		WHERE id = $1 AND status = $2`,
		id, from, errMsg, cancelled, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.requireJob(ctx, id)
}

func (s *Postgres) RunningJobsStartedBefore(ctx context.Context, cutoff time.Time) ([]models.MiningJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobCols+` FROM mining_jobs
		WHERE status = 'running' AND started_at < $1
		ORDER BY id`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MiningJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Postgres) PendingJobs(ctx context.Context) ([]models.MiningJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobCols+` FROM mining_jobs
		WHERE status = 'pending'
		ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MiningJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

const patternCols = `id, job_id, store_id, items, utility, support, confidence, COALESCE(round_id, ''), created_at`

func (s *Postgres) PatternsByJob(ctx context.Context, jobID string) ([]models.LocalPattern, error) {
	return s.queryPatterns(ctx, `SELECT `+patternCols+` FROM local_patterns WHERE job_id = $1 ORDER BY utility DESC, id`, jobID)
}

func (s *Postgres) PatternsByRound(ctx context.Context, roundID string) ([]models.LocalPattern, error) {
	return s.queryPatterns(ctx, `SELECT `+patternCols+` FROM local_patterns WHERE round_id = $1 ORDER BY utility DESC, id`, roundID)
}

func (s *Postgres) EligibleLocalPatterns(ctx context.Context) (map[string][]models.LocalPattern, error) {
	ps, err := s.queryPatterns(ctx, `
		SELECT `+patternCols+` FROM local_patterns p
		WHERE p.round_id IS NULL
		  AND EXISTS (SELECT 1 FROM mining_jobs j WHERE j.id = p.job_id AND j.status = 'completed')
		ORDER BY p.store_id, p.utility DESC, p.id`)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.LocalPattern)
	for _, p := range ps {
		out[p.StoreID] = append(out[p.StoreID], p)
	}
	return out, nil
}

func (s *Postgres) queryPatterns(ctx context.Context, sql string, args ...any) ([]models.LocalPattern, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LocalPattern
	for rows.Next() {
		var p models.LocalPattern
		var items []int64
		if err := rows.Scan(&p.ID, &p.JobID, &p.StoreID, &items, &p.Utility, &p.Support,
			&p.Confidence, &p.RoundID, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Items = toInts(items)
		out = append(out, p)
	}
	return out, rows.Err()
}

const roundCols = `id, round_number, status, min_clients_required, privacy_budget, noise_seed,
	failure_reason, participating_clients, patterns_aggregated, data_heterogeneity,
	contribution_spread, data_sizes, started_at, completed_at`

func (s *Postgres) MaxRoundNumber(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(round_number), 0) FROM federated_rounds`).Scan(&n)
	return n, err
}

func (s *Postgres) CreateRound(ctx context.Context, r models.FederatedRound) error {
	sizes := r.DataSizes
	if sizes == nil {
		sizes = map[string]int{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO federated_rounds
			(id, round_number, status, min_clients_required, privacy_budget, noise_seed, data_sizes, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.RoundNumber, r.Status, r.MinClientsRequired, r.PrivacyBudget, r.NoiseSeed, sizes, r.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert round: %v", err)
	}
	return nil
}

func (s *Postgres) GetRound(ctx context.Context, id string) (models.FederatedRound, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+roundCols+` FROM federated_rounds WHERE id = $1`, id)
	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FederatedRound{}, fmt.Errorf("round %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *Postgres) ListRounds(ctx context.Context) ([]models.FederatedRound, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roundCols+` FROM federated_rounds ORDER BY round_number DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FederatedRound
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) CompleteRound(ctx context.Context, r models.FederatedRound, globals []models.GlobalPattern, patternIDs []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sizes := r.DataSizes
	if sizes == nil {
		sizes = map[string]int{}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE federated_rounds
		SET status = 'completed', participating_clients = $2, patterns_aggregated = $3,
		    data_heterogeneity = $4, contribution_spread = $5, data_sizes = $6, completed_at = $7
		WHERE id = $1 AND status = 'running'`,
		r.ID, r.ParticipatingClients, r.PatternsAggregated,
		r.DataHeterogeneity, r.ContributionSpread, sizes, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to complete round: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("round %s is not running: %w", r.ID, ErrConflict)
	}

	const insertSQL = `
		INSERT INTO global_patterns (id, round_id, items, aggregated_utility, global_support, contributing_stores)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, g := range globals {
		_, err := tx.Exec(ctx, insertSQL,
			g.ID, g.RoundID, toInt64s(g.Items), g.AggregatedUtility, g.GlobalSupport, g.ContributingStores)
		if err != nil {
			return fmt.Errorf("failed to insert global pattern: %v", err)
		}
	}

	if len(patternIDs) > 0 {
		tag, err := tx.Exec(ctx, `
			UPDATE local_patterns SET round_id = $1
			WHERE id = ANY($2) AND round_id IS NULL`,
			r.ID, patternIDs)
		if err != nil {
			return fmt.Errorf("failed to claim local patterns: %v", err)
		}
		if int(tag.RowsAffected()) != len(patternIDs) {
			return fmt.Errorf("claimed %d of %d local patterns: %w", tag.RowsAffected(), len(patternIDs), ErrConflict)
		}
	}
	return tx.Commit(ctx)
}

func (s *Postgres) FailRound(ctx context.Context, id, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE federated_rounds
		SET status = 'failed', failure_reason = $2, completed_at = $3
		WHERE id = $1 AND status = 'running'`,
		id, reason, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM federated_rounds WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("round %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("round %s is not running: %w", id, ErrConflict)
	}
	return nil
}

func (s *Postgres) FailRunningRounds(ctx context.Context, reason string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE federated_rounds
		SET status = 'failed', failure_reason = $1, completed_at = $2
		WHERE status = 'running'`,
		reason, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) GlobalPatternsByRound(ctx context.Context, roundID string) ([]models.GlobalPattern, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, round_id, items, aggregated_utility, global_support, contributing_stores
		FROM global_patterns
		WHERE round_id = $1
		ORDER BY aggregated_utility DESC, id`,
		roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.GlobalPattern
	for rows.Next() {
		var g models.GlobalPattern
		var items []int64
		if err := rows.Scan(&g.ID, &g.RoundID, &items, &g.AggregatedUtility, &g.GlobalSupport, &g.ContributingStores); err != nil {
			return nil, err
		}
		g.Items = toInts(items)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Postgres) EpsilonConsumed(ctx context.Context) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(privacy_budget), 0) FROM federated_rounds WHERE status = 'completed'`).Scan(&sum)
	return sum, err
}

func (s *Postgres) Stats(ctx context.Context) (models.EngineStats, error) {
	out := models.EngineStats{JobsByStatus: make(map[models.JobStatus]int)}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE connection_status = 'active') FROM stores`).
		Scan(&out.StoresTotal, &out.StoresActive)
	if err != nil {
		return out, err
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&out.Transactions); err != nil {
		return out, err
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM mining_jobs GROUP BY status`)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var status models.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return out, err
		}
		out.JobsByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COALESCE(SUM(privacy_budget) FILTER (WHERE status = 'completed'), 0)
		FROM federated_rounds`).
		Scan(&out.RoundsTotal, &out.RoundsCompleted, &out.EpsilonConsumed)
	if err != nil {
		return out, err
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM local_patterns`).Scan(&out.LocalPatterns); err != nil {
		return out, err
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM global_patterns`).Scan(&out.GlobalPatterns); err != nil {
		return out, err
	}
	return out, nil
}

// requireJob translates a missed conditional update into ErrNotFound when
// the row is absent, or nil when it exists but the status precondition
// failed.
func (s *Postgres) requireJob(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mining_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanStore(row pgx.Row) (models.Store, error) {
	var st models.Store
	err := row.Scan(&st.ID, &st.Name, &st.IP, &st.ConnectionStatus, &st.LastSeen, &st.RegisteredAt)
	return st, err
}

func scanJob(row pgx.Row) (models.MiningJob, error) {
	var j models.MiningJob
	err := row.Scan(&j.ID, &j.StoreID, &j.MinUtility, &j.MinSupport, &j.MaxPatternLength,
		&j.UsePruning, &j.BatchSize, &j.Status, &j.Cancelled, &j.ErrorMessage,
		&j.PatternsFound, &j.ExecutionTimeSeconds, &j.CandidatesExamined, &j.NodesAllocated,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	return j, err
}

func scanRound(row pgx.Row) (models.FederatedRound, error) {
	var r models.FederatedRound
	err := row.Scan(&r.ID, &r.RoundNumber, &r.Status, &r.MinClientsRequired, &r.PrivacyBudget,
		&r.NoiseSeed, &r.FailureReason, &r.ParticipatingClients, &r.PatternsAggregated,
		&r.DataHeterogeneity, &r.ContributionSpread, &r.DataSizes, &r.StartedAt, &r.CompletedAt)
	return r, err
}

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func toInt64s(items []int) []int64 {
	out := make([]int64, len(items))
	for i, v := range items {
		out[i] = int64(v)
	}
	return out
}

func toInts(items []int64) []int {
	out := make([]int, len(items))
	for i, v := range items {
		out[i] = int(v)
	}
	return out
}
