package conversation

import (
	"encoding/json"
	"testing"
	"time"
)

var t0 = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func msg(id string, at time.Duration, st Status, origin Origin) Message {
	return Message{ID: id, ConversationID: "c1", SenderID: "alice", Body: "body " + id, Status: st, CreatedAt: t0.Add(at), Origin: origin}
}

func TestStatusNeverRegresses(t *testing.T) {
	tests := []struct {
		name      string
		cur, next Status
		want      Status
	}{
		{"delivered after read", StatusRead, StatusDelivered, StatusRead},
		{"read after delivered", StatusDelivered, StatusRead, StatusRead},
		{"sent after delivered", StatusDelivered, StatusSent, StatusDelivered},
		{"delivered after sent", StatusSent, StatusDelivered, StatusDelivered},
		{"same", StatusRead, StatusRead, StatusRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cur.Advance(tt.next); got != tt.want {
				t.Errorf("%s.Advance(%s) = %s, want %s", tt.cur, tt.next, got, tt.want)
			}
		})
	}
}

func TestTimelineStatusMonotonic(t *testing.T) {
	tl := newTimeline()
	tl.ingest(msg("m1", 0, StatusSent, Confirmed))
	tl.ingest(msg("m1", 0, StatusRead, Confirmed))
	if changed := tl.ingest(msg("m1", 0, StatusDelivered, Confirmed)); changed {
		t.Error("delivered after read reported a change")
	}
	if got, _ := tl.get("m1"); got.Status != StatusRead {
		t.Errorf("status = %s, want read", got.Status)
	}
}

func TestTimelineOrdering(t *testing.T) {
	tl := newTimeline()
	tl.ingest(msg("c", 2*time.Second, StatusSent, Confirmed))
	tl.ingest(msg("b", time.Second, StatusSent, Confirmed))
	tl.ingest(msg("a2", 0, StatusSent, Confirmed))
	tl.ingest(msg("a1", 0, StatusSent, Confirmed))

	if got := ids(tl.snapshot()); got != "a1,a2,b,c" {
		t.Errorf("order = %s, want a1,a2,b,c", got)
	}
}

func TestTimelineDedupKeepsPosition(t *testing.T) {
	tl := newTimeline()
	tl.ingest(msg("a", 0, StatusSent, Confirmed))
	tl.ingest(msg("mine", time.Second, StatusSent, Local))
	tl.ingest(msg("z", 2*time.Second, StatusSent, Confirmed))

	echo := msg("mine", time.Second, StatusSent, Confirmed)
	tl.ingest(echo)
	tl.ingest(echo)

	snap := tl.snapshot()
	if got := ids(snap); got != "a,mine,z" {
		t.Fatalf("order = %s, want a,mine,z", got)
	}
	if snap[1].Origin != Confirmed {
		t.Error("confirmed copy did not replace the local echo")
	}
}

func TestTimelineLocalNeverOverridesConfirmed(t *testing.T) {
	tl := newTimeline()
	confirmed := msg("m", 0, StatusDelivered, Confirmed)
	confirmed.Body = "server"
	tl.ingest(confirmed)

	local := msg("m", 0, StatusSent, Local)
	local.Body = "local"
	if tl.ingest(local) {
		t.Error("local echo after confirmed reported a change")
	}
	got, _ := tl.get("m")
	if got.Body != "server" || got.Status != StatusDelivered || got.Origin != Confirmed {
		t.Errorf("message = %+v", got)
	}
}

func TestTimelineConfirmedMovesRetimedMessage(t *testing.T) {
	tl := newTimeline()
	tl.ingest(msg("a", time.Second, StatusSent, Confirmed))
	tl.ingest(msg("mine", 0, StatusSent, Local))

	tl.ingest(msg("mine", 2*time.Second, StatusSent, Confirmed))
	if got := ids(tl.snapshot()); got != "a,mine" {
		t.Errorf("order = %s, want a,mine", got)
	}
	if len(tl.byID) != 2 {
		t.Errorf("index size = %d, want 2", len(tl.byID))
	}
}

func TestMessageJSON(t *testing.T) {
	raw := []byte(`{"id":"m1","conversation_id":"c1","sender_id":"bob","content":"hi","status":"delivered","created_at":"2026-09-01T10:00:00Z"}`)
	m, err := decodeMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != "hi" || m.Status != StatusDelivered || !m.CreatedAt.Equal(t0) || m.Origin != Confirmed {
		t.Errorf("decoded = %+v", m)
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(raw) {
		t.Errorf("encoded = %s", out)
	}

	if _, err := decodeMessage([]byte(`{"id":"m1","status":"lost"}`)); err == nil {
		t.Error("unknown status accepted")
	}
	if m, err := decodeMessage([]byte(`{"id":"m2"}`)); err != nil || m.Status != StatusSent {
		t.Errorf("missing status = %v, %v, want sent", m.Status, err)
	}
}
