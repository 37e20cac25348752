// Package backend describes the remote campus service as the client sees it:
// a request/response CRUD surface and a publish/subscribe channel primitive.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Record is one backend row.
type Record map[string]any

// Query narrows a List call. Filter keys are column names; values are
// matched for equality.
type Query struct {
	Filter map[string]string
	Order  string // column, optionally suffixed with ".desc"
	Limit  int
}

// CRUD is the request/response surface keyed by table.
type CRUD interface {
	Create(ctx context.Context, table string, rec Record) (Record, error)
	Update(ctx context.Context, table, id string, patch Record) (Record, error)
	Delete(ctx context.Context, table, id string) error
	List(ctx context.Context, table string, q Query) ([]Record, error)
}

// ChangeOp is a table change kind.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// TableFilter selects row changes: one op, optionally one column equality.
type TableFilter struct {
	Op     ChangeOp
	Column string
	Value  string
}

// String renders the filter as "column=eq.value".
func (f TableFilter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Change is a pushed row change.
type Change struct {
	Table  string          `json:"table"`
	Op     ChangeOp        `json:"op"`
	Record json.RawMessage `json:"record"`
	Old    json.RawMessage `json:"old,omitempty"`
}

// PresenceEvent reports one participant joining or leaving a channel.
type PresenceEvent struct {
	Key    string `json:"key"`
	Online bool   `json:"online"`
}

// Subscription is a live registration. Close releases it; after Close
// returns no further callback is started for it.
type Subscription interface {
	Close() error
}

// Channels is the realtime primitive.
type Channels interface {
	SubscribeTable(table string, filter TableFilter, fn func(Change)) (Subscription, error)
	SubscribeBroadcast(channel, event string, fn func(payload json.RawMessage)) (Subscription, error)
	SendBroadcast(ctx context.Context, channel, event string, payload any) error
	// TrackPresence announces key on channel and reports presence changes of
	// every participant. Closing the subscription withdraws key.
	TrackPresence(ctx context.Context, channel, key string, fn func(PresenceEvent)) (Subscription, error)
}

var (
	// ErrConflict is a logical conflict. Retrying cannot fix it.
	ErrConflict = errors.New("conflict")
	// ErrTransient is a network or availability failure worth retrying.
	ErrTransient = errors.New("transient backend failure")
	// ErrNotFound means the target row does not exist.
	ErrNotFound = errors.New("not found")
)

// StatusError carries the HTTP status of a failed call and wraps the
// matching sentinel.
type StatusError struct {
	Code    int
	Message string
	Kind    error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend status %d", e.Code)
	}
	return fmt.Sprintf("backend status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsConflict reports whether err is a logical conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

var tables = map[string]string{
	"event":   "events",
	"post":    "posts",
	"message": "messages",
	"reply":   "replies",
}

// TableFor maps an entity name to its backend table.
func TableFor(entity string) (string, bool) {
	t, ok := tables[entity]
	return t, ok
}
