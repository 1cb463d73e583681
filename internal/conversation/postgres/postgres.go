package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/lexia-stream/internal/conversation"
)

// Store implements conversation.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed history store using the provided DSN and pool size.
func New(dsn string, maxOpen int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id BIGSERIAL PRIMARY KEY,
	thread_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_conversation_messages_thread ON conversation_messages(thread_id, id);
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

func (s *Store) Append(ctx context.Context, msg conversation.Message) error {
	if msg.ThreadID == "" {
		return conversation.ErrThreadRequired
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversation_messages(thread_id, role, content, created_at)
VALUES($1, $2, $3, $4)`, msg.ThreadID, msg.Role, msg.Content, created)
	return err
}

func (s *Store) History(ctx context.Context, threadID string, limit int) ([]conversation.Message, error) {
	if threadID == "" {
		return nil, conversation.ErrThreadRequired
	}
	if limit <= 0 {
		limit = conversation.DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, thread_id, role, content, created_at FROM (
	SELECT id, thread_id, role, content, created_at
	FROM conversation_messages
	WHERE thread_id = $1
	ORDER BY id DESC
	LIMIT $2
) latest
ORDER BY id ASC`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var m conversation.Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) Clear(ctx context.Context, threadID string) (int64, error) {
	if threadID == "" {
		return 0, conversation.ErrThreadRequired
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
