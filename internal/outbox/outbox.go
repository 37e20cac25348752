// Package outbox is the durable queue of mutations not yet confirmed by the
// backend.
//
// Every read-modify-write goes through Outbox methods, which hold one mutex
// for the duration of the store call so an Add never interleaves with a
// drain's Remove or IncrementRetry.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/store"
	"go.uber.org/zap"
)

// ActionType is the kind of mutation.
type ActionType string

const (
	Create ActionType = "create"
	Update ActionType = "update"
	Delete ActionType = "delete"
)

// Entity is the resource a mutation targets.
type Entity string

const (
	EntityEvent   Entity = "event"
	EntityPost    Entity = "post"
	EntityMessage Entity = "message"
	EntityReply   Entity = "reply"
)

// ErrInvalidDraft is returned by Add for a draft that can never be applied.
var ErrInvalidDraft = errors.New("invalid pending action")

// Draft is a mutation before it is queued.
type Draft struct {
	Type    ActionType      `json:"type"`
	Entity  Entity          `json:"entity"`
	Payload json.RawMessage `json:"payload"`
}

// PendingAction is a queued mutation. ID and EnqueuedAt never change once
// assigned; RetryCount only grows.
type PendingAction struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Entity     Entity          `json:"entity"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

// TargetID returns payload.id, which update and delete actions require.
func (a PendingAction) TargetID() string {
	return targetID(a.Payload)
}

func targetID(payload json.RawMessage) string {
	var p struct {
		ID any `json:"id"`
	}
	if json.Unmarshal(payload, &p) != nil || p.ID == nil {
		return ""
	}
	switch v := p.ID.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// Store is the persistence the outbox needs. *store.DB satisfies it.
type Store interface {
	InsertAction(ctx context.Context, a store.ActionRow) error
	ListActions(ctx context.Context) ([]store.ActionRow, error)
	DeleteAction(ctx context.Context, id string) error
	BumpActionRetry(ctx context.Context, id, lastError string) error
	CountActions(ctx context.Context) (int, error)
	DeleteAllActions(ctx context.Context) (int64, error)
}

// Outbox owns the pending-action queue.
type Outbox struct {
	mu     sync.Mutex
	store  Store
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// New creates an Outbox over s.
func New(s Store, b *bus.Bus, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		store:  s,
		bus:    b,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Changed is the payload of outbox.changed.
type Changed struct {
	Count int `json:"count"`
}

// Add assigns an id, timestamp and zero retry count to d and persists it.
func (o *Outbox) Add(ctx context.Context, d Draft) (PendingAction, error) {
	a, err := o.Prepare(d)
	if err != nil {
		return PendingAction{}, err
	}
	if err := o.Enqueue(ctx, a); err != nil {
		return PendingAction{}, err
	}
	return a, nil
}

// Prepare validates d and gives it an identity without queueing it. A write
// that is first attempted directly keeps this identity if it ends up queued.
func (o *Outbox) Prepare(d Draft) (PendingAction, error) {
	if err := validate(d); err != nil {
		return PendingAction{}, err
	}
	payload := d.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return PendingAction{
		ID:         o.newID(),
		Type:       d.Type,
		Entity:     d.Entity,
		Payload:    payload,
		EnqueuedAt: o.now().UnixMilli(),
	}, nil
}

// Enqueue persists a prepared action.
func (o *Outbox) Enqueue(ctx context.Context, a PendingAction) error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDraft)
	}
	o.mu.Lock()
	err := o.store.InsertAction(ctx, toRow(a))
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", a.Type, a.Entity, err)
	}

	o.logger.Info("action queued", zap.String("id", a.ID), zap.String("type", string(a.Type)), zap.String("entity", string(a.Entity)))
	o.changed(ctx)
	return nil
}

func validate(d Draft) error {
	switch d.Type {
	case Create, Update, Delete:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidDraft, d.Type)
	}
	switch d.Entity {
	case EntityEvent, EntityPost, EntityMessage, EntityReply:
	default:
		return fmt.Errorf("%w: entity %q", ErrInvalidDraft, d.Entity)
	}
	if _, err := decodeRecord(d.Payload); err != nil {
		return err
	}
	if d.Type != Create && targetID(d.Payload) == "" {
		return fmt.Errorf("%w: %s needs payload.id", ErrInvalidDraft, d.Type)
	}
	return nil
}

// All returns a snapshot of the queue in insertion order.
func (o *Outbox) All(ctx context.Context) ([]PendingAction, error) {
	o.mu.Lock()
	rows, err := o.store.ListActions(ctx)
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	out := make([]PendingAction, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// Remove drops the action with id. Removing an absent id is a no-op.
func (o *Outbox) Remove(ctx context.Context, id string) error {
	o.mu.Lock()
	err := o.store.DeleteAction(ctx, id)
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("remove pending action %s: %w", id, err)
	}
	o.changed(ctx)
	return nil
}

// IncrementRetry records one more failed attempt for id.
func (o *Outbox) IncrementRetry(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	o.mu.Lock()
	err := o.store.BumpActionRetry(ctx, id, msg)
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("bump retry %s: %w", id, err)
	}
	return nil
}

// Count returns the queue length.
func (o *Outbox) Count(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, err := o.store.CountActions(ctx)
	if err != nil {
		return 0, fmt.Errorf("count pending actions: %w", err)
	}
	return n, nil
}

// Purge empties the queue. Used when the account signs out.
func (o *Outbox) Purge(ctx context.Context) (int64, error) {
	o.mu.Lock()
	n, err := o.store.DeleteAllActions(ctx)
	o.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("purge pending actions: %w", err)
	}
	o.logger.Info("outbox purged", zap.Int64("actions", n))
	o.changed(ctx)
	return n, nil
}

func (o *Outbox) changed(ctx context.Context) {
	if o.bus == nil {
		return
	}
	n, err := o.Count(ctx)
	if err != nil {
		o.logger.Warn("outbox count failed", zap.Error(err))
		return
	}
	o.bus.Emit(bus.KindOutboxChanged, Changed{Count: n})
}

func toRow(a PendingAction) store.ActionRow {
	return store.ActionRow{
		ID:         a.ID,
		Type:       string(a.Type),
		Entity:     string(a.Entity),
		Payload:    string(a.Payload),
		EnqueuedAt: a.EnqueuedAt,
		RetryCount: a.RetryCount,
		LastError:  a.LastError,
	}
}

func fromRow(r store.ActionRow) PendingAction {
	return PendingAction{
		ID:         r.ID,
		Type:       ActionType(r.Type),
		Entity:     Entity(r.Entity),
		Payload:    json.RawMessage(r.Payload),
		EnqueuedAt: r.EnqueuedAt,
		RetryCount: r.RetryCount,
		LastError:  r.LastError,
	}
}
