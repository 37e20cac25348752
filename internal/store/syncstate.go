package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// PutSyncState upserts a sync checkpoint.
func (db *DB) PutSyncState(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// GetSyncState returns a checkpoint value or ErrNotFound.
func (db *DB) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// DeleteSyncState removes every checkpoint whose key starts with prefix.
func (db *DB) DeleteSyncState(ctx context.Context, prefix string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sync_state WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	return err
}
