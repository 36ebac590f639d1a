// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func accountStores(t *testing.T) map[string]AccountStore {
	t.Helper()
	sqliteStore, err := NewSQLiteAccountStore(openTestDB(t, "account_"+sanitize(t.Name())))
	if err != nil {
		t.Fatalf("new sqlite account store: %v", err)
	}
	return map[string]AccountStore{
		"inmemory": NewInMemoryAccountStore(),
		"sqlite":   sqliteStore,
	}
}

func TestAccountStore_RecentNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for name, store := range accountStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 7; i++ {
				err := store.Insert(ctx, Record{
					AccountID: "acct-1",
					Category:  "preference",
					Content:   fmt.Sprintf("fact %d", i),
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				})
				if err != nil {
					t.Fatalf("Insert failed: %v", err)
				}
			}
			_ = store.Insert(ctx, Record{AccountID: "acct-2", Content: "other account"})

			recs, err := store.Recent(ctx, "acct-1", 0)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(recs) != DefaultRecentLimit {
				t.Fatalf("expected %d records, got %d", DefaultRecentLimit, len(recs))
			}
			if recs[0].Content != "fact 6" || recs[4].Content != "fact 2" {
				t.Errorf("unexpected order: first=%q last=%q", recs[0].Content, recs[4].Content)
			}
			if !recs[0].CreatedAt.Equal(base.Add(6 * time.Minute)) {
				t.Errorf("unexpected timestamp %v", recs[0].CreatedAt)
			}
			for _, rec := range recs {
				if rec.AccountID != "acct-1" {
					t.Fatalf("record leaked from another account: %+v", rec)
				}
			}
		})
	}
}

func TestAccountStore_Defaults(t *testing.T) {
	for name, store := range accountStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Insert(ctx, Record{AccountID: "a", Content: "likes tea"}); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			recs, err := store.Recent(ctx, "a", 3)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(recs) != 1 {
				t.Fatalf("expected 1 record, got %d", len(recs))
			}
			if recs[0].Category != DefaultCategory {
				t.Errorf("expected default category, got %q", recs[0].Category)
			}
			if recs[0].CreatedAt.IsZero() {
				t.Error("expected CreatedAt to be set")
			}
		})
	}
}

func TestAccountStore_RejectsEmptyContent(t *testing.T) {
	for name, store := range accountStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Insert(context.Background(), Record{AccountID: "a", Content: "   "})
			if !errors.Is(err, ErrEmptyContent) {
				t.Fatalf("expected ErrEmptyContent, got %v", err)
			}
		})
	}
}

func TestAccountStore_EmptyAccount(t *testing.T) {
	for name, store := range accountStores(t) {
		t.Run(name, func(t *testing.T) {
			recs, err := store.Recent(context.Background(), "nobody", 5)
			if err != nil {
				t.Fatalf("Recent failed: %v", err)
			}
			if len(recs) != 0 {
				t.Fatalf("expected no records, got %d", len(recs))
			}
		})
	}
}

func TestOpenSQLite(t *testing.T) {
	db, err := OpenSQLite("")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer db.Close()
	if _, err := NewSQLiteAccountStore(db); err != nil {
		t.Fatalf("schema on opened db: %v", err)
	}
}
