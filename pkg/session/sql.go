// Copyright 2025 Kadir Pekel
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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Dialect selects the SQL flavor for upserts and schema creation.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
)

// DefaultSQLTable is the table used when none is configured.
const DefaultSQLTable = "agent_sessions"

// SQLStore keeps one row per session: (session_id PK, state_data TEXT,
// created_at, updated_at). Upserts are idempotent; the database serializes
// concurrent writes on the primary key.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewSQLStore creates a SQL-backed store. The table name must pass the
// identifier validator; it is interpolated into statements, never user data.
func NewSQLStore(db *sql.DB, dialect Dialect, table string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	if table == "" {
		table = DefaultSQLTable
	}
	if err := ValidIdentifier(table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, table: table}, nil
}

// EnsureSchema creates the session table when it does not exist.
func (ss *SQLStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		session_id VARCHAR(255) PRIMARY KEY,
		state_data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`, ss.table)
	if _, err := ss.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create session table %q: %w", ss.table, err)
	}
	return nil
}

// Save implements Store.
func (ss *SQLStore) Save(ctx context.Context, id string, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", id, err)
	}
	now := time.Now().UTC()

	var stmt string
	switch ss.dialect {
	case DialectPostgres:
		stmt = fmt.Sprintf(`INSERT INTO %s (session_id, state_data, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (session_id)
			DO UPDATE SET state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`, ss.table)
	case DialectSQLite:
		stmt = fmt.Sprintf(`INSERT INTO %s (session_id, state_data, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (session_id)
			DO UPDATE SET state_data = excluded.state_data, updated_at = excluded.updated_at`, ss.table)
	case DialectMySQL:
		stmt = fmt.Sprintf(`INSERT INTO %s (session_id, state_data, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE state_data = VALUES(state_data), updated_at = VALUES(updated_at)`, ss.table)
	}

	if ss.dialect == DialectPostgres {
		_, err = ss.db.ExecContext(ctx, stmt, id, string(data), now)
	} else {
		_, err = ss.db.ExecContext(ctx, stmt, id, string(data), now, now)
	}
	if err != nil {
		return fmt.Errorf("save session %q: %w", id, err)
	}
	return nil
}

// Load implements Store.
func (ss *SQLStore) Load(ctx context.Context, id string) (Document, error) {
	query := fmt.Sprintf(`SELECT state_data FROM %s WHERE session_id = %s`,
		ss.table, ss.placeholder(1))
	var data string
	if err := ss.db.QueryRowContext(ctx, query, id).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load session %q: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, id, err)
	}
	return doc, nil
}

// Exists implements Store.
func (ss *SQLStore) Exists(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE session_id = %s`,
		ss.table, ss.placeholder(1))
	var one int
	if err := ss.db.QueryRowContext(ctx, query, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check session %q: %w", id, err)
	}
	return true, nil
}

// List implements Store.
func (ss *SQLStore) List(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT session_id FROM %s ORDER BY session_id`, ss.table)
	rows, err := ss.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// Delete implements Store.
func (ss *SQLStore) Delete(ctx context.Context, id string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE session_id = %s`,
		ss.table, ss.placeholder(1))
	if _, err := ss.db.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}

// Info implements Store.
func (ss *SQLStore) Info(ctx context.Context, id string) (*Info, error) {
	query := fmt.Sprintf(`SELECT state_data, updated_at FROM %s WHERE session_id = %s`,
		ss.table, ss.placeholder(1))
	var data string
	var updated time.Time
	if err := ss.db.QueryRowContext(ctx, query, id).Scan(&data, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("session %q info: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, id, err)
	}
	return &Info{
		ID:           id,
		Size:         int64(len(data)),
		Components:   len(doc),
		LastModified: updated,
	}, nil
}

// placeholder renders the nth parameter marker for the active dialect.
func (ss *SQLStore) placeholder(n int) string {
	if ss.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

var _ Store = (*SQLStore)(nil)
