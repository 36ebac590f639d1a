// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func conversationStores(t *testing.T) map[string]ConversationStore {
	t.Helper()
	sqliteStore, err := NewSQLiteConversation(openTestDB(t, "conversation_"+sanitize(t.Name())))
	if err != nil {
		t.Fatalf("new sqlite conversation: %v", err)
	}
	return map[string]ConversationStore{
		"inmemory": NewInMemoryConversation(),
		"sqlite":   sqliteStore,
	}
}

func sanitize(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out = append(out, c)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func TestConversation_AppendAndGet(t *testing.T) {
	for name, store := range conversationStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sessionID := "session-1"

			if err := store.AppendMessage(ctx, sessionID, ConversationMessage{Role: "user", Content: "Hello"}); err != nil {
				t.Fatalf("AppendMessage failed: %v", err)
			}
			if err := store.AppendMessage(ctx, sessionID, ConversationMessage{Role: "assistant", Content: "Hi there!"}); err != nil {
				t.Fatalf("AppendMessage failed: %v", err)
			}

			messages, err := store.GetMessages(ctx, sessionID)
			if err != nil {
				t.Fatalf("GetMessages failed: %v", err)
			}
			if len(messages) != 2 {
				t.Fatalf("expected 2 messages, got %d", len(messages))
			}
			if messages[0].Role != "user" || messages[0].Content != "Hello" {
				t.Errorf("unexpected first message: %+v", messages[0])
			}
			if messages[1].Role != "assistant" || messages[1].Content != "Hi there!" {
				t.Errorf("unexpected second message: %+v", messages[1])
			}
			if messages[0].ID == "" || messages[0].SessionID != sessionID {
				t.Errorf("expected id and session to be filled: %+v", messages[0])
			}
		})
	}
}

func TestConversation_GetRecentMessages(t *testing.T) {
	for name, store := range conversationStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sessionID := "session-recent"

			for i := 1; i <= 25; i++ {
				if err := store.AppendMessage(ctx, sessionID, ConversationMessage{
					Role:    "user",
					Content: fmt.Sprintf("Message %d", i),
				}); err != nil {
					t.Fatalf("AppendMessage failed: %v", err)
				}
			}

			recent, err := store.GetRecentMessages(ctx, sessionID, DefaultHistoryLimit)
			if err != nil {
				t.Fatalf("GetRecentMessages failed: %v", err)
			}
			if len(recent) != DefaultHistoryLimit {
				t.Fatalf("expected %d messages, got %d", DefaultHistoryLimit, len(recent))
			}
			if recent[0].Content != "Message 6" {
				t.Errorf("expected oldest kept to be 'Message 6', got %q", recent[0].Content)
			}
			if recent[len(recent)-1].Content != "Message 25" {
				t.Errorf("expected newest to be 'Message 25', got %q", recent[len(recent)-1].Content)
			}
		})
	}
}

func TestConversation_ClearIsolatesSessions(t *testing.T) {
	for name, store := range conversationStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = store.AppendMessage(ctx, "a", ConversationMessage{Role: "user", Content: "one"})
			_ = store.AppendMessage(ctx, "b", ConversationMessage{Role: "user", Content: "two"})

			if err := store.Clear(ctx, "a"); err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			a, _ := store.GetMessages(ctx, "a")
			b, _ := store.GetMessages(ctx, "b")
			if len(a) != 0 {
				t.Errorf("expected session a to be empty, got %d", len(a))
			}
			if len(b) != 1 {
				t.Errorf("expected session b to keep its message, got %d", len(b))
			}
		})
	}
}

func TestInMemoryConversation_ListSessions(t *testing.T) {
	mem := NewInMemoryConversation()
	ctx := context.Background()
	_ = mem.AppendMessage(ctx, "b", ConversationMessage{Role: "user", Content: "x"})
	_ = mem.AppendMessage(ctx, "a", ConversationMessage{Role: "user", Content: "y"})

	ids := mem.ListSessions()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected sessions: %v", ids)
	}
}
