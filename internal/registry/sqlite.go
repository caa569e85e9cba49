// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps bindings in a SQLite database so that several registry
// hosts on one machine can share a name table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteConfig contains SQLite connection configuration.
type SQLiteConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// NewSQLiteStore opens (and if needed creates) the bindings database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}

	pragmas := []string{"PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"}
	if cfg.WAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS bindings (
		name TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		bound_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Put(ctx context.Context, h Handle) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bindings (name, address, pid, bound_at) VALUES (?, ?, ?, ?)`,
		h.Name, h.Address, h.PID, h.BoundAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isConstraintViolation(err) {
			return alreadyBound("sqlite.put", h.Name)
		}
		return fmt.Errorf("failed to insert binding: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, name string) (Handle, error) {
	var (
		h       Handle
		boundAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, address, pid, bound_at FROM bindings WHERE name = ?`, name).
		Scan(&h.Name, &h.Address, &h.PID, &boundAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Handle{}, notBound("sqlite.get", name)
	}
	if err != nil {
		return Handle{}, fmt.Errorf("failed to query binding: %w", err)
	}
	if h.BoundAt, err = time.Parse(time.RFC3339Nano, boundAt); err != nil {
		return Handle{}, fmt.Errorf("failed to parse bound_at: %w", err)
	}
	return h, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bindings WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notBound("sqlite.delete", name)
	}
	return nil
}

func (s *SQLiteStore) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM bindings ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isConstraintViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}
