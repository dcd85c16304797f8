// SPDX-License-Identifier: MIT

// Package vault stores known content keys in a local sqlite database so
// repeated downloads of the same titles never hit the license server again.
package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unshackle-dl/unshackle/internal/metrics"
)

// DB wraps the sqlite connection backing the key vault.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the vault database at path and runs migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("vault: open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("vault: ping database: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS keys (
		service  TEXT NOT NULL,
		kid      TEXT NOT NULL,
		key      TEXT NOT NULL,
		kind     TEXT NOT NULL DEFAULT 'CONTENT',
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (service, kid)
	)`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("vault: migrate: %w", err)
	}
	return nil
}

// GetKey returns the hex key for (service, kid), or "" when the vault has
// no usable entry. An all-zero stored key counts as a miss.
func (db *DB) GetKey(ctx context.Context, service, kid string) (string, error) {
	var key string
	err := db.conn.QueryRowContext(ctx,
		`SELECT key FROM keys WHERE service = ? AND kid = ?`, service, kid).Scan(&key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		metrics.RecordVaultLookup("miss")
		return "", nil
	case err != nil:
		metrics.RecordVaultLookup("error")
		return "", fmt.Errorf("vault: get key: %w", err)
	}
	if isZeroHex(key) {
		metrics.RecordVaultLookup("miss")
		return "", nil
	}
	metrics.RecordVaultLookup("hit")
	return key, nil
}

// PutContentKeys upserts content keys for a service. kid and key are
// normalized hex strings.
func (db *DB) PutContentKeys(ctx context.Context, service string, keys map[string]string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vault: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO keys (service, kid, key, kind, added_at) VALUES (?, ?, ?, 'CONTENT', ?)
		 ON CONFLICT(service, kid) DO UPDATE SET key = excluded.key`)
	if err != nil {
		return fmt.Errorf("vault: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for kid, key := range keys {
		if _, err := stmt.ExecContext(ctx, service, kid, key, now); err != nil {
			return fmt.Errorf("vault: put key %s: %w", kid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vault: commit: %w", err)
	}
	return nil
}

// CountKeys returns the number of stored keys for a service.
func (db *DB) CountKeys(ctx context.Context, service string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keys WHERE service = ?`, service).Scan(&n); err != nil {
		return 0, fmt.Errorf("vault: count keys: %w", err)
	}
	return n, nil
}

func isZeroHex(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r != '0' {
			return false
		}
	}
	return true
}
