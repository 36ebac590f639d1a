// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteConversation persists session transcripts in SQLite.
type SQLiteConversation struct {
	db *sql.DB
}

// NewSQLiteConversation creates a SQLite-backed conversation store and ensures schema.
func NewSQLiteConversation(db *sql.DB) (*SQLiteConversation, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureConversationSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteConversation{db: db}, nil
}

// AppendMessage adds a message to the conversation.
func (s *SQLiteConversation) AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, sessionID, msg.Role, msg.Content, msg.CreatedAt.UTC())
	return err
}

// GetMessages retrieves all messages for a session.
func (s *SQLiteConversation) GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error) {
	return s.queryMessages(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
}

// GetRecentMessages retrieves the last N messages for a session in
// chronological order.
func (s *SQLiteConversation) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	if limit <= 0 {
		return s.GetMessages(ctx, sessionID)
	}
	return s.queryMessages(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM (
			SELECT seq, id, session_id, role, content, created_at
			FROM conversation_messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) sub
		ORDER BY seq ASC
	`, sessionID, limit)
}

// Clear removes all messages for a session.
func (s *SQLiteConversation) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE session_id = ?`, sessionID)
	return err
}

func (s *SQLiteConversation) queryMessages(ctx context.Context, query string, args ...any) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ConversationMessage
	for rows.Next() {
		var (
			msg     ConversationMessage
			created sql.NullTime
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &created); err != nil {
			return nil, err
		}
		if created.Valid {
			msg.CreatedAt = created.Time
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func ensureConversationSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_messages(session_id, seq);
	`)
	return err
}
