package conversation

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Status is a message's delivery state as the sender sees it. It only moves
// forward: sent, delivered, read.
type Status int

const (
	StatusSent Status = iota + 1
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	}
	return "unknown"
}

// Advance returns the later of s and next.
func (s Status) Advance(next Status) Status {
	return max(s, next)
}

// MarshalText encodes the status name.
func (s Status) MarshalText() ([]byte, error) {
	if s < StatusSent || s > StatusRead {
		return nil, fmt.Errorf("invalid message status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "sent":
		*s = StatusSent
	case "delivered":
		*s = StatusDelivered
	case "read":
		*s = StatusRead
	default:
		return fmt.Errorf("invalid message status %q", text)
	}
	return nil
}

// Origin tags how a message entered the timeline.
type Origin int

const (
	// Local is the sender's own echo of a message it just persisted.
	Local Origin = iota
	// Confirmed came from the backend: history or the realtime stream.
	Confirmed
)

// Message is one chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"content"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	Origin         Origin    `json:"-"`
}

func compareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// timeline keeps messages sorted by (CreatedAt, ID) with at most one entry
// per id.
type timeline struct {
	msgs []Message
	byID map[string]Message
}

func newTimeline() *timeline {
	return &timeline{byID: make(map[string]Message)}
}

// ingest merges m and reports whether anything visible changed.
//
// A Confirmed copy replaces a Local one. Between two copies of the same
// origin only the status can move, and only forward.
func (t *timeline) ingest(m Message) bool {
	cur, ok := t.byID[m.ID]
	if !ok {
		t.insert(m)
		return true
	}

	next := cur
	if cur.Origin == Local && m.Origin == Confirmed {
		next = m
	}
	next.Status = cur.Status.Advance(m.Status)
	if next == cur {
		return false
	}

	if !next.CreatedAt.Equal(cur.CreatedAt) {
		t.remove(cur)
		t.insert(next)
		return true
	}
	i, _ := slices.BinarySearchFunc(t.msgs, cur, compareMessages)
	t.msgs[i] = next
	t.byID[m.ID] = next
	return true
}

func (t *timeline) insert(m Message) {
	i, _ := slices.BinarySearchFunc(t.msgs, m, compareMessages)
	t.msgs = slices.Insert(t.msgs, i, m)
	t.byID[m.ID] = m
}

func (t *timeline) remove(m Message) {
	i, found := slices.BinarySearchFunc(t.msgs, m, compareMessages)
	if found {
		t.msgs = slices.Delete(t.msgs, i, i+1)
	}
	delete(t.byID, m.ID)
}

func (t *timeline) get(id string) (Message, bool) {
	m, ok := t.byID[id]
	return m, ok
}

func (t *timeline) snapshot() []Message {
	return slices.Clone(t.msgs)
}
