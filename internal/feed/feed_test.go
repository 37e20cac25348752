package feed

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/cache"
	"github.com/matheus3301/campus/internal/config"
	"github.com/matheus3301/campus/internal/outbox"
	"github.com/matheus3301/campus/internal/store"
)

type listCRUD struct {
	mu      sync.Mutex
	calls   map[string]int
	queries map[string]backend.Query
	err     error
}

func newListCRUD() *listCRUD {
	return &listCRUD{calls: map[string]int{}, queries: map[string]backend.Query{}}
}

func (c *listCRUD) Create(context.Context, string, backend.Record) (backend.Record, error) {
	return nil, nil
}

func (c *listCRUD) Update(context.Context, string, string, backend.Record) (backend.Record, error) {
	return nil, nil
}

func (c *listCRUD) Delete(context.Context, string, string) error { return nil }

func (c *listCRUD) List(_ context.Context, table string, q backend.Query) ([]backend.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[table]++
	c.queries[table] = q
	if c.err != nil {
		return nil, c.err
	}
	return []backend.Record{{"id": "1", "title": table + " one"}}, nil
}

func (c *listCRUD) count(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[table]
}

func newFeed(t *testing.T, crud backend.CRUD) *Feed {
	t.Helper()
	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "campus.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	f := New(cache.NewLoader(cache.New(db, nil)), crud, cache.NamespacesFrom(config.Default().Cache), "u1", nil)
	t.Cleanup(f.Stop)
	return f
}

func TestListFetchesOnceThenServesCache(t *testing.T) {
	crud := newListCRUD()
	f := newFeed(t, crud)
	ctx := context.Background()

	p, err := f.List(ctx, Posts)
	if err != nil {
		t.Fatal(err)
	}
	if p.Cached || len(p.Items) != 1 || p.Items[0]["title"] != "posts one" {
		t.Fatalf("first page = %+v", p)
	}
	p, err = f.List(ctx, Posts)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Cached || p.Stale {
		t.Errorf("second page cached=%v stale=%v", p.Cached, p.Stale)
	}
	if n := crud.count("posts"); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
}

func TestListScopesUserCollections(t *testing.T) {
	crud := newListCRUD()
	f := newFeed(t, crud)
	if _, err := f.List(context.Background(), Notifications); err != nil {
		t.Fatal(err)
	}
	if q := crud.queries["notifications"]; q.Filter["user_id"] != "u1" {
		t.Errorf("notifications query = %+v", q)
	}
	if _, err := f.List(context.Background(), Profile); err != nil {
		t.Fatal(err)
	}
	if q := crud.queries["profiles"]; q.Filter["id"] != "u1" || q.Limit != 1 {
		t.Errorf("profile query = %+v", q)
	}
}

func TestListOfflineWithoutCopyFails(t *testing.T) {
	crud := newListCRUD()
	crud.err = backend.ErrTransient
	f := newFeed(t, crud)
	if _, err := f.List(context.Background(), Events); !errors.Is(err, backend.ErrTransient) {
		t.Errorf("List() error = %v", err)
	}
	if _, err := f.List(context.Background(), "courses"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestAppliedWriteInvalidatesCollection(t *testing.T) {
	crud := newListCRUD()
	f := newFeed(t, crud)
	ctx := context.Background()
	b := bus.New()
	f.Start(ctx, b)

	if _, err := f.List(ctx, Events); err != nil {
		t.Fatal(err)
	}
	b.Emit(bus.KindOutboxApplied, outbox.Applied{ID: "a1", Entity: outbox.EntityEvent, Type: outbox.Update})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := f.List(ctx, Events)
		if err != nil {
			t.Fatal(err)
		}
		if !p.Cached {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("events feed still cached after an applied write")
}
