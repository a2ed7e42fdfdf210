package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/memphis-civic/cascade-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rescue_queue (
	id          TEXT PRIMARY KEY,
	batch_id    TEXT NOT NULL,
	headline    TEXT NOT NULL,
	reason      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at);
CREATE INDEX IF NOT EXISTS idx_rescue_queue_status ON rescue_queue(status);
CREATE INDEX IF NOT EXISTS idx_rescue_queue_batch_id ON rescue_queue(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, batch *model.BatchResult) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.New().String()
	}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now().UTC()
	}

	resultJSON, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (id, result, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET result = excluded.result`,
		batch.BatchID, string(resultJSON), batch.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: save batch %s", batch.BatchID)
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.BatchResult, error) {
	var resultJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM batches WHERE id = ?`,
		batchID,
	).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("batch not found: %s", batchID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", batchID)
	}

	var batch model.BatchResult
	if err := json.Unmarshal([]byte(resultJSON), &batch); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal batch")
	}
	return &batch, nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.BatchResult, error) {
	query := `SELECT result FROM batches WHERE 1=1`
	var args []any

	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []model.BatchResult
	for rows.Next() {
		var resultJSON string
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		var batch model.BatchResult
		if err := json.Unmarshal([]byte(resultJSON), &batch); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal batch")
		}
		batches = append(batches, batch)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: list batches iterate")
}

func (s *SQLiteStore) EnqueueRescue(ctx context.Context, entries []model.RescueEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin rescue tx")
	}
	defer tx.Rollback() //nolint:errcheck

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
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rescue_queue (id, batch_id, headline, reason, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.BatchID, e.Headline, e.Reason, e.Status, e.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: enqueue rescue %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit rescue tx")
}

func (s *SQLiteStore) ListRescue(ctx context.Context, status string) ([]model.RescueEntry, error) {
	query := `SELECT id, batch_id, headline, reason, status, created_at, resolved_at FROM rescue_queue WHERE 1=1`
	var args []any

	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rescue")
	}
	defer rows.Close()

	var entries []model.RescueEntry
	for rows.Next() {
		var e model.RescueEntry
		var resolvedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Headline, &e.Reason, &e.Status, &e.CreatedAt, &resolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rescue entry")
		}
		if resolvedAt.Valid {
			e.ResolvedAt = &resolvedAt.Time
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list rescue iterate")
}

func (s *SQLiteStore) ResolveRescue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rescue_queue SET status = ?, resolved_at = ? WHERE id = ?`,
		model.RescueStatusResolved, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve rescue %s", id)
	}
	return checkRowsAffected(res, "rescue entry", id)
}

func (s *SQLiteStore) CountRescue(ctx context.Context, status string) (int, error) {
	query := `SELECT COUNT(*) FROM rescue_queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}

	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count rescue")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
