// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultRecentLimit is the number of records returned when no limit is given.
const DefaultRecentLimit = 5

// DefaultCategory is used when a record is written without a category.
const DefaultCategory = "general"

// ErrEmptyContent is returned when a record carries no content.
var ErrEmptyContent = errors.New("memory content is empty")

// Record is one long-term memory entry attached to an account.
type Record struct {
	AccountID string    `json:"account_id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountStore persists long-term account memory.
type AccountStore interface {
	// Insert stores a record. CreatedAt defaults to now.
	Insert(ctx context.Context, rec Record) error

	// Recent returns up to limit records for the account, newest first.
	Recent(ctx context.Context, accountID string, limit int) ([]Record, error)
}

func normalizeRecord(rec Record) (Record, error) {
	if strings.TrimSpace(rec.Content) == "" {
		return rec, ErrEmptyContent
	}
	if rec.Category == "" {
		rec.Category = DefaultCategory
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return rec, nil
}

// InMemoryAccountStore implements AccountStore with in-memory storage.
type InMemoryAccountStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// NewInMemoryAccountStore creates an empty in-memory account store.
func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{records: make(map[string][]Record)}
}

// Insert stores a record.
func (s *InMemoryAccountStore) Insert(_ context.Context, rec Record) error {
	rec, err := normalizeRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.AccountID] = append(s.records[rec.AccountID], rec)
	return nil
}

// Recent returns up to limit records, newest first. Records with equal
// timestamps are returned in reverse insertion order.
func (s *InMemoryAccountStore) Recent(_ context.Context, accountID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	s.mu.RLock()
	all := s.records[accountID]
	out := make([]Record, len(all))
	for i, rec := range all {
		out[len(all)-1-i] = rec
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
