package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/lexia-stream/internal/conversation"
)

// Store implements conversation.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite history store at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation directory: %w", err)
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
CREATE TABLE IF NOT EXISTS conversation_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
VALUES(?, ?, ?, ?)`, msg.ThreadID, msg.Role, msg.Content, created)
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
SELECT id, thread_id, role, content, created_at
FROM conversation_messages
WHERE thread_id = ?
ORDER BY id DESC
LIMIT ?`, threadID, limit)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

func (s *Store) Clear(ctx context.Context, threadID string) (int64, error) {
	if threadID == "" {
		return 0, conversation.ErrThreadRequired
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func reverse(msgs []conversation.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
