package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader serves reads from the cache and repopulates it from the backend.
// Concurrent fetches of the same key share one backend call.
type Loader struct {
	cache *Cache
	group singleflight.Group
	wg    sync.WaitGroup
}

// NewLoader creates a Loader over c.
func NewLoader(c *Cache) *Loader {
	return &Loader{cache: c}
}

// Cache returns the underlying cache.
func (l *Loader) Cache() *Cache { return l.cache }

// Wait blocks until every background revalidation has finished.
func (l *Loader) Wait() { l.wg.Wait() }

// Result is a value served by Load.
type Result[T any] struct {
	Value T
	// Cached is true when Value came from the cache rather than a fetch
	// made during this call.
	Cached bool
	// Stale is true when Value is past its freshness window. A background
	// refresh has been started.
	Stale bool
}

// FetchFunc retrieves the authoritative value from the backend.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Load returns the value for id in ns.
//
// Fresh entries are returned as-is. Stale entries are returned with Stale set
// while a background fetch refreshes the cache. Absent or unreadable entries
// are fetched synchronously and stored.
func Load[T any](ctx context.Context, l *Loader, ns Namespace, id string, fetch FetchFunc[T]) (Result[T], error) {
	key := ns.Key(id)

	var cached T
	entry, ok := l.cache.get(ctx, key, &cached)
	if ok {
		if l.cache.fresh(entry.Timestamp, entry.Expiry) {
			return Result[T]{Value: cached, Cached: true}, nil
		}
		l.revalidate(ctx, ns, id, func(ctx context.Context) (any, error) { return fetch(ctx) })
		return Result[T]{Value: cached, Cached: true, Stale: true}, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		ns.Set(ctx, l.cache, id, v)
		return v, nil
	})
	if err != nil {
		var zero T
		return Result[T]{Value: zero}, err
	}
	return Result[T]{Value: v.(T)}, nil
}

func (l *Loader) revalidate(ctx context.Context, ns Namespace, id string, fetch func(context.Context) (any, error)) {
	key := ns.Key(id)
	bg := context.WithoutCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_, err, _ := l.group.Do(key, func() (any, error) {
			v, err := fetch(bg)
			if err != nil {
				return nil, err
			}
			ns.Set(bg, l.cache, id, v)
			return v, nil
		})
		if err != nil {
			l.cache.logger.Warn("cache revalidate failed", zap.String("key", key), zap.Error(err))
		}
	}()
}
