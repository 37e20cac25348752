package netstate

import (
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/bus"
)

type recorder struct {
	mu  sync.Mutex
	got []bool
	ch  chan bool
}

func newRecorder() *recorder { return &recorder{ch: make(chan bool, 16)} }

func (r *recorder) fn(online bool) {
	r.mu.Lock()
	r.got = append(r.got, online)
	r.mu.Unlock()
	r.ch <- online
}

func (r *recorder) calls() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.got...)
}

func TestReportWithoutSettleIsImmediate(t *testing.T) {
	m := New(false, 0, nil, nil)
	rec := newRecorder()
	m.Subscribe(rec.fn)

	m.Report(true)
	if !m.IsOnline() {
		t.Fatal("IsOnline() = false after Report(true)")
	}
	if got := rec.calls(); len(got) != 1 || !got[0] {
		t.Errorf("callbacks = %v, want [true]", got)
	}
}

func TestSameStateCoalesced(t *testing.T) {
	m := New(false, 0, nil, nil)
	rec := newRecorder()
	m.Subscribe(rec.fn)

	m.Report(false)
	m.Report(true)
	m.Report(true)
	m.Report(true)
	m.Report(false)
	m.Report(false)

	got := rec.calls()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("callbacks = %v, want [true false]", got)
	}
}

func TestFlapInsideSettleWindowCollapses(t *testing.T) {
	m := New(false, 50*time.Millisecond, nil, nil)
	defer m.Close()
	rec := newRecorder()
	m.Subscribe(rec.fn)

	m.Report(true)
	m.Report(false)
	m.Report(true)
	m.Report(false)

	select {
	case v := <-rec.ch:
		t.Fatalf("unexpected callback %v for flap back to settled state", v)
	case <-time.After(150 * time.Millisecond):
	}
	if m.IsOnline() {
		t.Error("IsOnline() = true after flap ended offline")
	}
}

func TestSettledChangeCommitsOnce(t *testing.T) {
	m := New(false, 20*time.Millisecond, nil, nil)
	defer m.Close()
	rec := newRecorder()
	m.Subscribe(rec.fn)

	m.Report(true)
	m.Report(false)
	m.Report(true)

	select {
	case v := <-rec.ch:
		if !v {
			t.Fatalf("callback = %v, want true", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition")
	}
	select {
	case v := <-rec.ch:
		t.Fatalf("extra callback %v", v)
	case <-time.After(60 * time.Millisecond):
	}
	if !m.IsOnline() {
		t.Error("IsOnline() = false")
	}
}

func TestUnsubscribe(t *testing.T) {
	m := New(false, 0, nil, nil)
	rec := newRecorder()
	sub := m.Subscribe(rec.fn)
	sub.Close()
	sub.Close()

	m.Report(true)
	if got := rec.calls(); len(got) != 0 {
		t.Errorf("callbacks after unsubscribe = %v", got)
	}
}

func TestTransitionPublishesOnBus(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("net.", 10)
	defer unsub()

	m := New(true, 0, b, nil)
	m.Report(false)
	m.Report(true)

	want := []string{bus.KindNetOffline, bus.KindNetOnline}
	for _, kind := range want {
		select {
		case evt := <-ch:
			if evt.Kind != kind {
				t.Errorf("event = %q, want %q", evt.Kind, kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestCloseCancelsPendingTransition(t *testing.T) {
	m := New(false, 20*time.Millisecond, nil, nil)
	rec := newRecorder()
	m.Subscribe(rec.fn)

	m.Report(true)
	m.Close()

	select {
	case v := <-rec.ch:
		t.Fatalf("callback %v after Close()", v)
	case <-time.After(80 * time.Millisecond):
	}
	m.Report(true)
	if m.IsOnline() {
		t.Error("Report after Close() changed state")
	}
}
