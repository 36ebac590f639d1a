// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides the persistence handles used by the agent: the
// long-term per-account memory written by skills and the per-session
// conversation transcript.
package memory

import (
	"context"
	"time"
)

// DefaultHistoryLimit is the number of transcript messages loaded for a turn.
const DefaultHistoryLimit = 20

// ConversationMessage represents a single message in a session transcript.
type ConversationMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // system, user, assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore stores and retrieves ordered session transcripts.
type ConversationStore interface {
	// AppendMessage adds a message to the session.
	AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error

	// GetMessages retrieves all messages for a session, oldest first.
	GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error)

	// GetRecentMessages retrieves the last N messages for a session, oldest first.
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error)

	// Clear removes all messages for a session.
	Clear(ctx context.Context, sessionID string) error
}
