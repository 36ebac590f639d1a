// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryConversation implements ConversationStore with in-memory storage.
// Data is lost on restart.
type InMemoryConversation struct {
	mu       sync.RWMutex
	sessions map[string][]ConversationMessage
}

// NewInMemoryConversation creates a new in-memory conversation store.
func NewInMemoryConversation() *InMemoryConversation {
	return &InMemoryConversation{
		sessions: make(map[string][]ConversationMessage),
	}
}

// AppendMessage adds a message to the conversation.
func (m *InMemoryConversation) AppendMessage(_ context.Context, sessionID string, msg ConversationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	return nil
}

// GetMessages retrieves all messages for a session.
func (m *InMemoryConversation) GetMessages(_ context.Context, sessionID string) ([]ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]ConversationMessage, len(m.sessions[sessionID]))
	copy(messages, m.sessions[sessionID])
	return messages, nil
}

// GetRecentMessages retrieves the last N messages for a session.
func (m *InMemoryConversation) GetRecentMessages(_ context.Context, sessionID string, limit int) ([]ConversationMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.sessions[sessionID]
	if limit <= 0 || len(all) <= limit {
		result := make([]ConversationMessage, len(all))
		copy(result, all)
		return result, nil
	}

	result := make([]ConversationMessage, limit)
	copy(result, all[len(all)-limit:])
	return result, nil
}

// Clear removes all messages for a session.
func (m *InMemoryConversation) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// ListSessions returns all session IDs with at least one message.
func (m *InMemoryConversation) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
