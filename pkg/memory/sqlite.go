// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"database/sql"
	"fmt"
	"time"
)

// OpenSQLite opens a SQLite database at path. An empty path or ":memory:"
// opens a private in-memory database.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path == "" || path == ":memory:" {
		dsn = "file:mentat?mode=memory&cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return db, nil
}

func unixNanoUTC(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
