// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteAccountStore persists account memory in SQLite.
type SQLiteAccountStore struct {
	db *sql.DB
}

// NewSQLiteAccountStore creates a SQLite-backed account store and ensures schema.
func NewSQLiteAccountStore(db *sql.DB) (*SQLiteAccountStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAccountSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAccountStore{db: db}, nil
}

// Insert stores a single record.
func (s *SQLiteAccountStore) Insert(ctx context.Context, rec Record) error {
	rec, err := normalizeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO account_memories (account_id, category, content, created_at)
		VALUES (?, ?, ?, ?)
	`, rec.AccountID, rec.Category, rec.Content, rec.CreatedAt.UTC().UnixNano())
	return err
}

// Recent returns up to limit records for the account, newest first.
func (s *SQLiteAccountStore) Recent(ctx context.Context, accountID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, category, content, created_at
		FROM account_memories
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			created int64
		)
		if err := rows.Scan(&rec.AccountID, &rec.Category, &rec.Content, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt = unixNanoUTC(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func ensureAccountSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS account_memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			category TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_account_memories_account ON account_memories(account_id, created_at);
	`)
	return err
}
