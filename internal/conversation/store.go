package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/campus/internal/backend"
)

const messagesTable = "messages"

// MessageStore is the request/response side of messaging.
type MessageStore interface {
	History(ctx context.Context, conversationID string) ([]Message, error)
	Insert(ctx context.Context, m Message) (Message, error)
	UpdateStatus(ctx context.Context, id string, st Status) error
}

// BackendStore implements MessageStore over the CRUD surface.
type BackendStore struct {
	crud  backend.CRUD
	limit int
}

// NewBackendStore creates a BackendStore fetching at most limit messages of
// history. A non-positive limit means no limit.
func NewBackendStore(crud backend.CRUD, limit int) *BackendStore {
	return &BackendStore{crud: crud, limit: limit}
}

// History returns the conversation's messages oldest first.
func (s *BackendStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.crud.List(ctx, messagesTable, backend.Query{
		Filter: map[string]string{"conversation_id": conversationID},
		Order:  "created_at",
		Limit:  s.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		m, err := decodeRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Insert persists m and returns the stored row.
func (s *BackendStore) Insert(ctx context.Context, m Message) (Message, error) {
	rec := backend.Record{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"content":         m.Body,
		"status":          m.Status.String(),
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	row, err := s.crud.Create(ctx, messagesTable, rec)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if len(row) == 0 {
		return m, nil
	}
	return decodeRecord(row)
}

// UpdateStatus writes a delivery status for message id.
func (s *BackendStore) UpdateStatus(ctx context.Context, id string, st Status) error {
	if _, err := s.crud.Update(ctx, messagesTable, id, backend.Record{"status": st.String()}); err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	return nil
}

func decodeRecord(r backend.Record) (Message, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return Message{}, err
	}
	return decodeMessage(raw)
}

func decodeMessage(raw json.RawMessage) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.ID == "" {
		return Message{}, fmt.Errorf("decode message: missing id")
	}
	if m.Status == 0 {
		m.Status = StatusSent
	}
	m.Origin = Confirmed
	return m, nil
}
