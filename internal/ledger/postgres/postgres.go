package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/lexia-stream/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS response_usage (
	id BIGSERIAL PRIMARY KEY,
	response_uuid TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	conversation_id BIGINT NOT NULL DEFAULT 0,
	channel TEXT NOT NULL DEFAULT '',
	input_tokens BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	total_tokens BIGINT NOT NULL,
	estimated BOOLEAN NOT NULL DEFAULT FALSE,
	status TEXT NOT NULL CHECK(status IN ('COMPLETED','FAILED')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_response_usage_thread_created ON response_usage(thread_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new usage entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.ResponseUUID == "" {
		return errors.New("ledger record requires response uuid")
	}
	if entry.Status != ledger.StatusCompleted && entry.Status != ledger.StatusFailed {
		return fmt.Errorf("invalid status %q", entry.Status)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO response_usage(response_uuid, thread_id, conversation_id, channel, input_tokens, output_tokens, total_tokens, estimated, status, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ResponseUUID,
		entry.ThreadID,
		entry.ConversationID,
		entry.Channel,
		entry.InputTokens,
		entry.OutputTokens,
		entry.TotalTokens,
		entry.Estimated,
		string(entry.Status),
		created,
	)
	return err
}

// Summary returns aggregated usage for the given thread.
func (s *Store) Summary(ctx context.Context, threadID string) (ledger.Summary, error) {
	if threadID == "" {
		return ledger.Summary{}, errors.New("thread id required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'FAILED'),
	COUNT(*) FILTER (WHERE estimated),
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(total_tokens), 0)
FROM response_usage
WHERE thread_id = $1`, threadID)

	var sum ledger.Summary
	if err := row.Scan(&sum.Responses, &sum.Failed, &sum.Estimated, &sum.InputTokens, &sum.OutputTokens, &sum.TotalTokens); err != nil {
		return ledger.Summary{}, err
	}
	return sum, nil
}

// ListRecent returns the latest entries for a thread.
func (s *Store) ListRecent(ctx context.Context, threadID string, limit int) ([]ledger.Entry, error) {
	if threadID == "" {
		return nil, errors.New("thread id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, response_uuid, thread_id, conversation_id, channel, input_tokens, output_tokens, total_tokens, estimated, status, created_at
FROM response_usage
WHERE thread_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var status string
		if err := rows.Scan(&e.ID, &e.ResponseUUID, &e.ThreadID, &e.ConversationID, &e.Channel, &e.InputTokens, &e.OutputTokens, &e.TotalTokens, &e.Estimated, &status, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = ledger.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
