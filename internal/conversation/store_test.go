package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/backend"
)

type recordingCRUD struct {
	rows    []backend.Record
	created backend.Record
	table   string
	query   backend.Query
	patch   backend.Record
	patched string
	err     error
}

func (c *recordingCRUD) Create(_ context.Context, table string, rec backend.Record) (backend.Record, error) {
	c.table, c.created = table, rec
	if c.err != nil {
		return nil, c.err
	}
	out := backend.Record{}
	for k, v := range rec {
		out[k] = v
	}
	out["created_at"] = "2026-09-01T10:00:05Z"
	return out, nil
}

func (c *recordingCRUD) Update(_ context.Context, table, id string, patch backend.Record) (backend.Record, error) {
	c.table, c.patched, c.patch = table, id, patch
	return patch, c.err
}

func (c *recordingCRUD) Delete(context.Context, string, string) error { return c.err }

func (c *recordingCRUD) List(_ context.Context, table string, q backend.Query) ([]backend.Record, error) {
	c.table, c.query = table, q
	return c.rows, c.err
}

func TestBackendStoreHistory(t *testing.T) {
	crud := &recordingCRUD{rows: []backend.Record{
		{"id": "m1", "conversation_id": "c1", "sender_id": "bob", "content": "hey", "status": "read", "created_at": "2026-09-01T10:00:00Z"},
		{"id": "m2", "conversation_id": "c1", "sender_id": "alice", "content": "yo", "created_at": "2026-09-01T10:00:01Z"},
	}}
	s := NewBackendStore(crud, 50)

	msgs, err := s.History(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if crud.table != "messages" || crud.query.Filter["conversation_id"] != "c1" || crud.query.Order != "created_at" || crud.query.Limit != 50 {
		t.Errorf("query = %s %+v", crud.table, crud.query)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Status != StatusRead || msgs[0].Body != "hey" || msgs[0].Origin != Confirmed {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Status != StatusSent {
		t.Errorf("missing status decoded as %s, want sent", msgs[1].Status)
	}
}

func TestBackendStoreHistoryRejectsRowWithoutID(t *testing.T) {
	crud := &recordingCRUD{rows: []backend.Record{{"content": "orphan"}}}
	if _, err := NewBackendStore(crud, 0).History(context.Background(), "c1"); err == nil {
		t.Error("expected error for row without id")
	}
}

func TestBackendStoreInsertUsesServerRow(t *testing.T) {
	crud := &recordingCRUD{}
	s := NewBackendStore(crud, 0)
	in := Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Body: "hi", Status: StatusSent, CreatedAt: t0}

	out, err := s.Insert(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if crud.created["content"] != "hi" || crud.created["status"] != "sent" {
		t.Errorf("created = %v", crud.created)
	}
	if !out.CreatedAt.Equal(t0.Add(5 * time.Second)) {
		t.Errorf("CreatedAt = %v, want server timestamp", out.CreatedAt)
	}
}

func TestBackendStoreUpdateStatus(t *testing.T) {
	crud := &recordingCRUD{}
	s := NewBackendStore(crud, 0)
	if err := s.UpdateStatus(context.Background(), "m1", StatusDelivered); err != nil {
		t.Fatal(err)
	}
	if crud.patched != "m1" || crud.patch["status"] != "delivered" {
		t.Errorf("patched %s with %v", crud.patched, crud.patch)
	}

	crud.err = backend.ErrTransient
	if err := s.UpdateStatus(context.Background(), "m1", StatusRead); !errors.Is(err, backend.ErrTransient) {
		t.Errorf("error = %v, want wrapped ErrTransient", err)
	}
}
