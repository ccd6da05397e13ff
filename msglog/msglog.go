// Package msglog keeps the capped append-only log of chat and command
// messages relayed through the bridge. It offers no durability guarantee
// beyond SQLite's own; old rows are trimmed as new ones land.
package msglog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/chatwatch/dbopen"
	"github.com/hazyhaar/chatwatch/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	role       TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
`

// Message is one relayed chat or command entry.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"` // epoch milliseconds
}

// Log is a capped append-only message store.
type Log struct {
	db    *sql.DB
	cap   int
	newID idgen.Generator
}

// Open opens (or creates) the log at path with the given cap.
func Open(path string, cap int) (*Log, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("msglog: %w", err)
	}
	return New(db, cap), nil
}

// New wraps an already-open database. The schema must be applied by the
// caller (dbopen.WithSchema(Schema) or Open above).
func New(db *sql.DB, cap int) *Log {
	if cap <= 0 {
		cap = 500
	}
	return &Log{db: db, cap: cap, newID: idgen.Prefixed("msg_", idgen.Default)}
}

// Schema is the DDL for the messages table, exposed for tests.
const Schema = schema

// Append records a message and trims the log back to the cap in the same
// transaction, deleting oldest rows first.
func (l *Log) Append(ctx context.Context, role, body string) (*Message, error) {
	msg := &Message{
		ID:        l.newID(),
		Role:      role,
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("msglog: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, role, body, created_at) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.Role, msg.Body, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("msglog: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM messages WHERE id NOT IN (
			SELECT id FROM messages ORDER BY created_at DESC, id DESC LIMIT ?
		)`, l.cap); err != nil {
		return nil, fmt.Errorf("msglog: trim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("msglog: commit: %w", err)
	}
	return msg, nil
}

// List returns up to limit messages, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > l.cap {
		limit = l.cap
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, role, body, created_at FROM messages
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("msglog: list: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msglog: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Count returns the number of stored messages.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
