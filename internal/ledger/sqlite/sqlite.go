package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/lexia-stream/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	response_uuid TEXT NOT NULL,
	thread_id TEXT NOT NULL,
	conversation_id INTEGER NOT NULL DEFAULT 0,
	channel TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	estimated INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL CHECK(status IN ('COMPLETED','FAILED')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	COALESCE(SUM(CASE WHEN status='FAILED' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN estimated THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(total_tokens), 0)
FROM response_usage
WHERE thread_id = ?`, threadID)

	var sum ledger.Summary
	var failed, estimated, input, output, total sql.NullInt64
	if err := row.Scan(&sum.Responses, &failed, &estimated, &input, &output, &total); err != nil {
		return ledger.Summary{}, err
	}
	sum.Failed = failed.Int64
	sum.Estimated = estimated.Int64
	sum.InputTokens = input.Int64
	sum.OutputTokens = output.Int64
	sum.TotalTokens = total.Int64
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
WHERE thread_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, threadID, limit)
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
