// Package feed serves the campus collections shown on the home screens
// (events, posts, notifications, the user's profile) through the persistent
// cache, so they stay readable offline.
package feed

import (
	"context"
	"fmt"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/cache"
	"github.com/matheus3301/campus/internal/outbox"
	"go.uber.org/zap"
)

// Kind names a collection.
type Kind string

const (
	Events        Kind = "events"
	Posts         Kind = "posts"
	Notifications Kind = "notifications"
	Profile       Kind = "profile"
)

// Page is one served collection.
type Page struct {
	Kind   Kind             `json:"kind"`
	Items  []backend.Record `json:"items"`
	Cached bool             `json:"cached"`
	Stale  bool             `json:"stale"`
}

type source struct {
	ns    cache.Namespace
	id    string
	table string
	query backend.Query
}

// Feed reads collections through a cache.Loader.
type Feed struct {
	loader *cache.Loader
	crud   backend.CRUD
	ns     cache.Namespaces
	userID string
	logger *zap.Logger

	unsub  func()
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Feed for userID.
func New(l *cache.Loader, crud backend.CRUD, ns cache.Namespaces, userID string, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{loader: l, crud: crud, ns: ns, userID: userID, logger: logger}
}

func (f *Feed) source(kind Kind) (source, error) {
	switch kind {
	case Events:
		return source{ns: f.ns.Events, id: "upcoming", table: "events", query: backend.Query{Order: "starts_at", Limit: 100}}, nil
	case Posts:
		return source{ns: f.ns.Posts, id: "latest", table: "posts", query: backend.Query{Order: "created_at.desc", Limit: 100}}, nil
	case Notifications:
		return source{ns: f.ns.Notifications, id: f.userID, table: "notifications", query: backend.Query{
			Filter: map[string]string{"user_id": f.userID}, Order: "created_at.desc", Limit: 50,
		}}, nil
	case Profile:
		return source{ns: f.ns.Profile, id: f.userID, table: "profiles", query: backend.Query{
			Filter: map[string]string{"id": f.userID}, Limit: 1,
		}}, nil
	}
	return source{}, fmt.Errorf("unknown feed %q", kind)
}

// List returns the collection, from the cache when it holds a usable copy.
func (f *Feed) List(ctx context.Context, kind Kind) (Page, error) {
	src, err := f.source(kind)
	if err != nil {
		return Page{}, err
	}
	res, err := cache.Load(ctx, f.loader, src.ns, src.id, func(ctx context.Context) ([]backend.Record, error) {
		return f.crud.List(ctx, src.table, src.query)
	})
	if err != nil {
		return Page{}, fmt.Errorf("load %s: %w", kind, err)
	}
	items := res.Value
	if items == nil {
		items = []backend.Record{}
	}
	return Page{Kind: kind, Items: items, Cached: res.Cached, Stale: res.Stale}, nil
}

// Invalidate drops the cached copy of kind.
func (f *Feed) Invalidate(ctx context.Context, kind Kind) {
	src, err := f.source(kind)
	if err != nil {
		return
	}
	f.loader.Cache().Clear(ctx, src.ns.Key(src.id))
}

func kindFor(e outbox.Entity) (Kind, bool) {
	switch e {
	case outbox.EntityEvent:
		return Events, true
	case outbox.EntityPost, outbox.EntityReply:
		return Posts, true
	}
	return "", false
}

// Start invalidates a collection whenever a queued write to it is applied.
func (f *Feed) Start(ctx context.Context, b *bus.Bus) {
	ch, unsub := b.Subscribe(bus.KindOutboxApplied, 64)
	ctx, f.cancel = context.WithCancel(ctx)
	f.unsub = unsub
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				applied, ok := evt.Payload.(outbox.Applied)
				if !ok {
					continue
				}
				if kind, ok := kindFor(applied.Entity); ok {
					f.Invalidate(ctx, kind)
					f.logger.Debug("feed invalidated", zap.String("kind", string(kind)), zap.String("action", applied.ID))
				}
			}
		}
	}()
}

// Stop ends Start and waits for in-flight revalidations.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
		f.unsub()
	}
	f.loader.Wait()
}
