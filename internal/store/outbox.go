package store

import (
	"context"
	"fmt"
)

// InsertAction appends a row to the pending-action queue.
func (db *DB) InsertAction(ctx context.Context, a ActionRow) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, type, entity, payload, enqueued_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Type, a.Entity, a.Payload, a.EnqueuedAt, a.RetryCount, a.LastError)
	return err
}

// ListActions returns every queued action in insertion order.
func (db *DB) ListActions(ctx context.Context) ([]ActionRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT seq, id, type, entity, payload, enqueued_at, retry_count, last_error
		FROM pending_actions ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ActionRow
	for rows.Next() {
		var a ActionRow
		if err := rows.Scan(&a.Seq, &a.ID, &a.Type, &a.Entity, &a.Payload, &a.EnqueuedAt, &a.RetryCount, &a.LastError); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAction removes the action with id. Removing an absent id is not an error.
func (db *DB) DeleteAction(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id)
	return err
}

// BumpActionRetry increments retry_count and records the failure cause.
func (db *DB) BumpActionRetry(ctx context.Context, id, lastError string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE pending_actions SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?`, lastError, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pending action %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountActions returns the queue length.
func (db *DB) CountActions(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_actions`).Scan(&n)
	return n, err
}

// DeleteAllActions empties the queue.
func (db *DB) DeleteAllActions(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM pending_actions`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
