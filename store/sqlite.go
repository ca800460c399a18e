package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const conversationSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id  TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, id);
`

// SQLiteConversationStore persists conversation history in SQLite.
type SQLiteConversationStore struct {
	db *sql.DB
}

// NewSQLiteConversationStore opens (and migrates) a SQLite database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteConversationStore(path string) (*SQLiteConversationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(conversationSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate conversation schema")
	}
	return &SQLiteConversationStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteConversationStore) Close() error {
	return s.db.Close()
}

// List returns up to limit of the thread's latest messages, oldest first.
func (s *SQLiteConversationStore) List(ctx context.Context, threadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM messages WHERE thread_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, threadID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msgs = append(msgs, m)
	}
	return msgs, errors.Wrap(rows.Err(), "iterate messages")
}

// Append adds a message to the end of a thread.
func (s *SQLiteConversationStore) Append(ctx context.Context, threadID string, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (thread_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		threadID, msg.Role, msg.Content, msg.CreatedAt)
	return errors.Wrap(err, "append message")
}

var _ ConversationStore = (*SQLiteConversationStore)(nil)
