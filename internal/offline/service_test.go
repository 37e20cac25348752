package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/cache"
	"github.com/matheus3301/campus/internal/conversation"
	"github.com/matheus3301/campus/internal/netstate"
	"github.com/matheus3301/campus/internal/notify"
	"github.com/matheus3301/campus/internal/outbox"
	"github.com/matheus3301/campus/internal/status"
	"github.com/matheus3301/campus/internal/store"
	intsync "github.com/matheus3301/campus/internal/sync"
)

type banners struct {
	mu  sync.Mutex
	got []notify.Banner
}

func (b *banners) Notify(_ context.Context, n notify.Banner) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, n)
	return nil
}

func (b *banners) bodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.got))
	for i, n := range b.got {
		out[i] = n.Body
	}
	return out
}

// remote fails actions whose title is listed in fail.
type remote struct {
	mu      sync.Mutex
	fail    map[string]error
	applied []string
}

func (r *remote) apply(_ context.Context, a outbox.PendingAction) error {
	var p struct{ Title string }
	_ = json.Unmarshal(a.Payload, &p)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[p.Title]; err != nil {
		return err
	}
	r.applied = append(r.applied, p.Title)
	return nil
}

type fixture struct {
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
	net     *netstate.Monitor
	box     *outbox.Outbox
	orch    *intsync.Orchestrator
	cache   *cache.Cache
	remote  *remote
	banners *banners
	svc     *Service
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "campus.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, bus: bus.New(), remote: &remote{fail: map[string]error{}}, banners: &banners{}}
	f.machine = status.NewMachine(f.bus)
	f.net = netstate.New(online, 0, f.bus, nil)
	f.box = outbox.New(db, f.bus, nil)
	f.cache = cache.New(db, nil)
	cp := intsync.NewCheckpoints(db, nil)
	f.orch = intsync.New(f.box, f.net, cp, intsync.Options{Apply: f.remote.apply, Machine: f.machine, Bus: f.bus})
	f.svc = New(Deps{
		Outbox:        f.box,
		Orchestrator:  f.orch,
		Checkpoints:   cp,
		Monitor:       f.net,
		Apply:         f.remote.apply,
		Cache:         f.cache,
		Conversations: conversation.NewManager(nil, nil, conversation.Options{UserID: "alice"}),
		Machine:       f.machine,
		Notifier:      f.banners,
		Bus:           f.bus,
	})

	initial := status.Offline
	if online {
		initial = status.Online
	}
	if err := f.machine.Transition(initial); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.svc.Start(ctx)
	f.orch.Start(ctx)
	t.Cleanup(func() {
		f.orch.Stop()
		f.svc.Stop()
		cancel()
	})
	return f
}

func postDraft(title string) outbox.Draft {
	return outbox.Draft{Type: outbox.Create, Entity: outbox.EntityPost, Payload: json.RawMessage(fmt.Sprintf(`{"title":%q}`, title))}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestQueuedWhileOfflineDrainsOnReconnect(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	a, err := f.svc.AddPendingAction(ctx, postDraft("exam notes"))
	if err != nil {
		t.Fatal(err)
	}
	if a.RetryCount != 0 {
		t.Errorf("RetryCount = %d", a.RetryCount)
	}
	st := f.svc.Status()
	if st.IsOnline || st.PendingActionsCount != 1 || st.LastSyncFormatted != "Never" || !st.ShowIndicator() {
		t.Fatalf("status before reconnect = %+v", st)
	}

	f.net.Report(true)

	waitFor(t, "drain", func() bool {
		st := f.svc.RefreshStatus(ctx)
		return st.PendingActionsCount == 0 && st.LastSyncFormatted == "Just now"
	})
	st = f.svc.RefreshStatus(ctx)
	if !st.IsOnline || st.ShowIndicator() {
		t.Errorf("status after drain = %+v", st)
	}
	waitFor(t, "sync banner", func() bool {
		b := f.banners.bodies()
		return len(b) == 1 && b[0] == "Synced 1, failed 0"
	})
	waitFor(t, "online state", func() bool { return f.machine.Current() == status.Online })
}

func TestSyncNowOfflineLeavesQueue(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, _ = f.svc.AddPendingAction(ctx, postDraft("a"))

	if r := f.svc.SyncNow(ctx); r != (intsync.Result{}) {
		t.Errorf("SyncNow() offline = %+v", r)
	}
	if n := f.svc.Status().PendingActionsCount; n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
}

func TestSyncNowReportsPartialFailure(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.remote.fail["b"] = backend.ErrTransient
	for _, title := range []string{"a", "b", "c"} {
		if _, err := f.svc.AddPendingAction(ctx, postDraft(title)); err != nil {
			t.Fatal(err)
		}
	}

	r := f.svc.SyncNow(ctx)
	if r.Success != 2 || r.Failed != 1 {
		t.Fatalf("SyncNow() = %+v, want 2/1", r)
	}
	pending, err := f.svc.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	waitFor(t, "sync banner", func() bool {
		for _, b := range f.banners.bodies() {
			if b == "Synced 2, failed 1" {
				return true
			}
		}
		return false
	})

	if err := f.svc.Discard(ctx, pending[0].ID); err != nil {
		t.Fatal(err)
	}
	if n := f.svc.Status().PendingActionsCount; n != 0 {
		t.Errorf("pending after discard = %d", n)
	}
}

func TestWriteOnlineAppliesDirectly(t *testing.T) {
	f := newFixture(t, true)
	res, err := f.svc.Write(context.Background(), postDraft("live"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued || res.Action.ID == "" {
		t.Errorf("result = %+v", res)
	}
	if n, _ := f.box.Count(context.Background()); n != 0 {
		t.Errorf("queued %d actions", n)
	}
}

func TestWriteConflictIsNotQueued(t *testing.T) {
	f := newFixture(t, true)
	f.remote.fail["full event"] = &backend.StatusError{Code: 409, Message: "event is full", Kind: backend.ErrConflict}

	_, err := f.svc.Write(context.Background(), postDraft("full event"))
	if !backend.IsConflict(err) {
		t.Fatalf("Write() error = %v, want conflict", err)
	}
	if n, _ := f.box.Count(context.Background()); n != 0 {
		t.Errorf("conflict queued: %d", n)
	}
}

func TestWriteTransientFailureQueues(t *testing.T) {
	f := newFixture(t, true)
	f.remote.fail["flaky"] = backend.ErrTransient

	res, err := f.svc.Write(context.Background(), postDraft("flaky"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued || res.Action.LastError == "" {
		t.Errorf("result = %+v", res)
	}
	pending, _ := f.svc.ListPending(context.Background())
	if len(pending) != 1 || pending[0].ID != res.Action.ID {
		t.Errorf("pending = %+v", pending)
	}
}

func TestWriteOfflineQueues(t *testing.T) {
	f := newFixture(t, false)
	res, err := f.svc.Write(context.Background(), postDraft("later"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Error("offline write not queued")
	}
	f.remote.mu.Lock()
	defer f.remote.mu.Unlock()
	if len(f.remote.applied) != 0 {
		t.Error("offline write reached the backend")
	}
}

func TestWriteRejectsInvalidDraft(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.svc.Write(context.Background(), outbox.Draft{Type: outbox.Delete, Entity: outbox.EntityPost})
	if !errors.Is(err, outbox.ErrInvalidDraft) {
		t.Errorf("Write() error = %v", err)
	}
}

func TestConnectivityDrivesStatusMachine(t *testing.T) {
	f := newFixture(t, true)

	f.net.Report(false)
	if got := f.machine.Current(); got != status.Offline {
		t.Errorf("state after offline = %s", got)
	}
	f.net.Report(true)
	waitFor(t, "online state", func() bool { return f.machine.Current() == status.Online })
}

func TestSignOutWipesAccountState(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.cache.Set(ctx, "events:1", map[string]string{"title": "career fair"}, time.Hour)
	_, _ = f.svc.AddPendingAction(ctx, postDraft("x"))
	f.svc.SyncNow(ctx)
	_, _ = f.svc.AddPendingAction(ctx, postDraft("y"))

	if err := f.svc.SignOut(ctx); err != nil {
		t.Fatal(err)
	}

	var got map[string]string
	if f.cache.Get(ctx, "events:1", &got) {
		t.Error("cache survived sign-out")
	}
	st := f.svc.Status()
	if st.PendingActionsCount != 0 || st.LastSyncFormatted != "Never" || st.State != string(status.SignedOut) {
		t.Errorf("status after sign-out = %+v", st)
	}
	if _, err := f.svc.AddPendingAction(ctx, postDraft("z")); !errors.Is(err, ErrSignedOut) {
		t.Errorf("AddPendingAction() after sign-out error = %v", err)
	}
	if _, err := f.svc.Write(ctx, postDraft("z")); !errors.Is(err, ErrSignedOut) {
		t.Errorf("Write() after sign-out error = %v", err)
	}

	// Connectivity no longer moves a signed-out account.
	f.net.Report(false)
	f.net.Report(true)
	if got := f.machine.Current(); got != status.SignedOut {
		t.Errorf("state = %s, want SIGNED_OUT", got)
	}
}
