package store

import (
	"context"
	"database/sql"
	"errors"
)

// PutCacheEntry inserts or overwrites a cache row.
func (db *DB) PutCacheEntry(ctx context.Context, e CacheEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, data, timestamp, expiry)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			timestamp = excluded.timestamp,
			expiry = excluded.expiry`,
		e.Key, e.Data, e.Timestamp, e.Expiry)
	return err
}

// GetCacheEntry returns the row for key. found is false when absent.
func (db *DB) GetCacheEntry(ctx context.Context, key string) (e CacheEntry, found bool, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT key, data, timestamp, expiry FROM cache_entries WHERE key = ?`, key).
		Scan(&e.Key, &e.Data, &e.Timestamp, &e.Expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	return e, true, nil
}

// CacheFreshness returns the timestamp and expiry of key without reading
// the data column.
func (db *DB) CacheFreshness(ctx context.Context, key string) (timestamp, expiry int64, found bool, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT timestamp, expiry FROM cache_entries WHERE key = ?`, key).
		Scan(&timestamp, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return timestamp, expiry, true, nil
}

// DeleteCacheEntry removes one row. Deleting an absent key is not an error.
func (db *DB) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// DeleteCacheEntries removes every row whose key starts with prefix and
// reports how many were removed.
func (db *DB) DeleteCacheEntries(ctx context.Context, prefix string) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
