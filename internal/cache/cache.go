// Package cache is a keyed, TTL-bound store for server-derived read data.
//
// Storage failures never reach callers: a row that cannot be read or decoded
// is logged and treated as a miss, and a write that fails is logged and
// dropped. Entries are only removed by Clear or ClearAll.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/matheus3301/campus/internal/store"
	"go.uber.org/zap"
)

// Prefix is prepended to every key this package persists.
const Prefix = store.KeyPrefix + "cache:"

// Store is the persistence the cache needs. *store.DB satisfies it.
type Store interface {
	PutCacheEntry(ctx context.Context, e store.CacheEntry) error
	GetCacheEntry(ctx context.Context, key string) (store.CacheEntry, bool, error)
	CacheFreshness(ctx context.Context, key string) (timestamp, expiry int64, found bool, err error)
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteCacheEntries(ctx context.Context, prefix string) (int64, error)
}

// Cache reads and writes JSON-encoded entries.
type Cache struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Cache over s.
func New(s Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: s, logger: logger, now: time.Now}
}

// Set stores data under key, stamped now, fresh for ttl.
func (c *Cache) Set(ctx context.Context, key string, data any, ttl time.Duration) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	entry := store.CacheEntry{
		Key:       Prefix + key,
		Data:      string(raw),
		Timestamp: c.now().UnixMilli(),
		Expiry:    ttl.Milliseconds(),
	}
	if err := c.store.PutCacheEntry(ctx, entry); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Get decodes the entry for key into dst regardless of freshness.
// It reports false when the entry is absent or unreadable.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	_, ok := c.get(ctx, key, dst)
	return ok
}

func (c *Cache) get(ctx context.Context, key string, dst any) (store.CacheEntry, bool) {
	entry, found, err := c.store.GetCacheEntry(ctx, Prefix+key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return store.CacheEntry{}, false
	}
	if !found {
		return store.CacheEntry{}, false
	}
	if !json.Valid([]byte(entry.Data)) {
		c.logger.Warn("cache entry corrupt, dropping", zap.String("key", key))
		if err := c.store.DeleteCacheEntry(ctx, Prefix+key); err != nil {
			c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		}
		return store.CacheEntry{}, false
	}
	if err := json.Unmarshal([]byte(entry.Data), dst); err != nil {
		c.logger.Warn("cache entry does not decode", zap.String("key", key), zap.Error(err))
		return store.CacheEntry{}, false
	}
	return entry, true
}

// IsValid reports whether key holds a fresh entry. The payload is not read.
func (c *Cache) IsValid(ctx context.Context, key string) bool {
	ts, expiry, found, err := c.store.CacheFreshness(ctx, Prefix+key)
	if err != nil {
		c.logger.Warn("cache freshness read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found && c.fresh(ts, expiry)
}

func (c *Cache) fresh(ts, expiry int64) bool {
	return c.now().UnixMilli()-ts <= expiry
}

// Clear removes key.
func (c *Cache) Clear(ctx context.Context, key string) {
	if err := c.store.DeleteCacheEntry(ctx, Prefix+key); err != nil {
		c.logger.Warn("cache clear failed", zap.String("key", key), zap.Error(err))
	}
}

// ClearAll removes every cache entry and leaves other persisted state alone.
func (c *Cache) ClearAll(ctx context.Context) {
	n, err := c.store.DeleteCacheEntries(ctx, Prefix)
	if err != nil {
		c.logger.Warn("cache wipe failed", zap.Error(err))
		return
	}
	c.logger.Info("cache wiped", zap.Int64("entries", n))
}
