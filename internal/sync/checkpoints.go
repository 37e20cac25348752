package sync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/matheus3301/campus/internal/store"
	"go.uber.org/zap"
)

const (
	checkpointPrefix = store.KeyPrefix + "sync:"
	keyLastSync      = checkpointPrefix + "last_sync"
)

// Checkpoints persists sync bookkeeping in sync_state.
type Checkpoints struct {
	db     *store.DB
	logger *zap.Logger
}

// NewCheckpoints creates checkpoints over db.
func NewCheckpoints(db *store.DB, logger *zap.Logger) *Checkpoints {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpoints{db: db, logger: logger}
}

// RecordSync stores t as the last successful sync.
func (c *Checkpoints) RecordSync(ctx context.Context, t time.Time) error {
	return c.db.PutSyncState(ctx, keyLastSync, strconv.FormatInt(t.UnixMilli(), 10))
}

// LastSync returns the last successful sync. ok is false if none was recorded.
func (c *Checkpoints) LastSync(ctx context.Context) (t time.Time, ok bool, err error) {
	v, err := c.db.GetSyncState(ctx, keyLastSync)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		c.logger.Warn("last sync checkpoint corrupt", zap.String("value", v))
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Reset forgets every checkpoint.
func (c *Checkpoints) Reset(ctx context.Context) error {
	return c.db.DeleteSyncState(ctx, checkpointPrefix)
}
