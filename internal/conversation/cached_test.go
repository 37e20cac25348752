package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/cache"
	"github.com/matheus3301/campus/internal/store"
)

func newCachedStore(t *testing.T, next MessageStore) *CachedStore {
	t.Helper()
	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "campus.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewCachedStore(next, cache.New(db, nil), cache.Namespace{Name: "messages", TTL: time.Minute}, nil)
}

func TestCachedStoreServesLastHistoryWhenOffline(t *testing.T) {
	f := newFakeBackend()
	f.seed(Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Body: "hi", Status: StatusRead, CreatedAt: t0})
	s := newCachedStore(t, f)
	ctx := context.Background()

	if _, err := s.History(ctx, "c1"); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	f.failHistory = backend.ErrTransient
	f.mu.Unlock()
	msgs, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatalf("History() offline error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hi" || msgs[0].Status != StatusRead || msgs[0].Origin != Confirmed {
		t.Errorf("cached history = %+v", msgs)
	}

	if _, err := s.History(ctx, "never-fetched"); !errors.Is(err, backend.ErrTransient) {
		t.Errorf("History() without copy error = %v", err)
	}
}

func TestCachedStoreSurfacesPermanentErrors(t *testing.T) {
	f := newFakeBackend()
	s := newCachedStore(t, f)
	ctx := context.Background()
	if _, err := s.History(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	f.failHistory = errors.New("permission denied")
	if _, err := s.History(ctx, "c1"); err == nil {
		t.Error("permanent failure hidden by cache")
	}
}

func TestCachedStorePassesWritesThrough(t *testing.T) {
	f := newFakeBackend()
	s := newCachedStore(t, f)
	m := Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Body: "yo", Status: StatusSent, CreatedAt: t0}
	if _, err := s.Insert(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(context.Background(), "m1", StatusDelivered); err != nil {
		t.Fatal(err)
	}
	if got := f.row("m1").Status; got != StatusDelivered {
		t.Errorf("status = %s", got)
	}
}
