package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/memphis-civic/cascade-cli/internal/db"
	"github.com/memphis-civic/cascade-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"save_batch":     `INSERT INTO batches (id, result, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET result = $2`,
	"get_batch":      `SELECT result FROM batches WHERE id = $1`,
	"resolve_rescue": `UPDATE rescue_queue SET status = $1, resolved_at = $2 WHERE id = $3`,
	"count_rescue":   `SELECT COUNT(*) FROM rescue_queue WHERE status = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contract_outcomes (
	batch_id        TEXT NOT NULL REFERENCES batches(id),
	headline        TEXT NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	pipeline_status TEXT NOT NULL,
	contracts       INTEGER NOT NULL DEFAULT 0,
	cost_usd        DOUBLE PRECISION NOT NULL DEFAULT 0,
	processed_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (batch_id, headline)
);

CREATE TABLE IF NOT EXISTS rescue_queue (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT NOT NULL,
	headline    TEXT NOT NULL,
	reason      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_contract_outcomes_status ON contract_outcomes(status);
CREATE INDEX IF NOT EXISTS idx_rescue_queue_status ON rescue_queue(status);
CREATE INDEX IF NOT EXISTS idx_rescue_queue_batch_id ON rescue_queue(batch_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveBatch stores the full batch document and fans the per-headline
// outcomes out to contract_outcomes through a bulk upsert, so re-saving
// a batch is idempotent.
func (s *PostgresStore) SaveBatch(ctx context.Context, batch *model.BatchResult) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.New().String()
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now().UTC()
	}

	resultJSON, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batches (id, result, created_at) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET result = $2`,
		batch.BatchID, resultJSON, batch.Timestamp,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save batch %s", batch.BatchID)
	}

	if len(batch.Outcomes) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(batch.Outcomes))
	for _, o := range batch.Outcomes {
		rows = append(rows, []any{
			batch.BatchID, o.Headline, o.Source, string(o.Status),
			string(o.PipelineStatus), o.ContractsGenerated, o.CostUSD, o.ProcessedAt,
		})
	}
	_, err = db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "contract_outcomes",
		Columns:      []string{"batch_id", "headline", "source", "status", "pipeline_status", "contracts", "cost_usd", "processed_at"},
		ConflictKeys: []string{"batch_id", "headline"},
	}, rows)
	return eris.Wrapf(err, "postgres: save outcomes for batch %s", batch.BatchID)
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.BatchResult, error) {
	var resultJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM batches WHERE id = $1`,
		batchID,
	).Scan(&resultJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("batch not found: %s", batchID)
		}
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
	}

	var batch model.BatchResult
	if err := json.Unmarshal(resultJSON, &batch); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal batch")
	}
	return &batch, nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.BatchResult, error) {
	query := `SELECT result FROM batches WHERE true`
	args := []any{}
	argIdx := 1

	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > $1`
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.BatchResult
	for rows.Next() {
		var resultJSON []byte
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		var batch model.BatchResult
		if err := json.Unmarshal(resultJSON, &batch); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal batch")
		}
		batches = append(batches, batch)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: list batches iterate")
}

// EnqueueRescue bulk-loads entries with COPY; rescue spikes after a bad
// batch can be hundreds of rows.
func (s *PostgresStore) EnqueueRescue(ctx context.Context, entries []model.RescueEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Status == "" {
			e.Status = model.RescueStatusPending
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		rows = append(rows, []any{e.ID, e.BatchID, e.Headline, e.Reason, e.Status, e.CreatedAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "rescue_queue",
		[]string{"id", "batch_id", "headline", "reason", "status", "created_at"}, rows)
	return eris.Wrap(err, "postgres: enqueue rescue")
}

func (s *PostgresStore) ListRescue(ctx context.Context, status string) ([]model.RescueEntry, error) {
	query := `SELECT id, batch_id, headline, reason, status, created_at, resolved_at FROM rescue_queue WHERE true`
	args := []any{}

	if status != "" {
		query += ` AND status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rescue")
	}
	defer rows.Close()

	var entries []model.RescueEntry
	for rows.Next() {
		var e model.RescueEntry
		var resolvedAt *time.Time
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Headline, &e.Reason, &e.Status, &e.CreatedAt, &resolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rescue entry")
		}
		e.ResolvedAt = resolvedAt
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list rescue iterate")
}

func (s *PostgresStore) ResolveRescue(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rescue_queue SET status = $1, resolved_at = $2 WHERE id = $3`,
		model.RescueStatusResolved, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve rescue %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("rescue entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CountRescue(ctx context.Context, status string) (int, error) {
	query := `SELECT COUNT(*) FROM rescue_queue`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}

	var count int
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	return count, eris.Wrap(err, "postgres: count rescue")
}
