package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/bus"
	"go.uber.org/zap"
)

// Applier turns one PendingAction into one backend CRUD call. Its Apply
// method is the apply function the sync orchestrator drains with.
type Applier struct {
	crud   backend.CRUD
	bus    *bus.Bus
	logger *zap.Logger
}

// NewApplier creates an Applier over crud.
func NewApplier(crud backend.CRUD, b *bus.Bus, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{crud: crud, bus: b, logger: logger}
}

// Applied is the payload of outbox.applied.
type Applied struct {
	ID     string     `json:"id"`
	Entity Entity     `json:"entity"`
	Type   ActionType `json:"type"`
}

// Apply sends a to the backend. A nil error means the backend confirmed it.
// Deleting a row that is already gone counts as confirmed.
func (p *Applier) Apply(ctx context.Context, a PendingAction) error {
	table, ok := backend.TableFor(string(a.Entity))
	if !ok {
		return fmt.Errorf("%w: no table for entity %q", ErrInvalidDraft, a.Entity)
	}

	var err error
	switch a.Type {
	case Create:
		var rec backend.Record
		if rec, err = decodeRecord(a.Payload); err == nil {
			_, err = p.crud.Create(ctx, table, rec)
		}
	case Update:
		var patch backend.Record
		if patch, err = decodeRecord(a.Payload); err == nil {
			delete(patch, "id")
			_, err = p.crud.Update(ctx, table, a.TargetID(), patch)
		}
	case Delete:
		err = p.crud.Delete(ctx, table, a.TargetID())
		if errors.Is(err, backend.ErrNotFound) {
			err = nil
		}
	default:
		err = fmt.Errorf("%w: type %q", ErrInvalidDraft, a.Type)
	}
	if err != nil {
		p.logger.Warn("apply failed",
			zap.String("id", a.ID),
			zap.String("type", string(a.Type)),
			zap.String("entity", string(a.Entity)),
			zap.Int("retry_count", a.RetryCount),
			zap.Error(err))
		return err
	}

	p.logger.Info("action applied", zap.String("id", a.ID), zap.String("table", table))
	p.bus.Emit(bus.KindOutboxApplied, Applied{ID: a.ID, Entity: a.Entity, Type: a.Type})
	return nil
}

func decodeRecord(payload json.RawMessage) (backend.Record, error) {
	rec := backend.Record{}
	if len(payload) == 0 || string(payload) == "null" {
		return rec, nil
	}
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: payload is not an object: %v", ErrInvalidDraft, err)
	}
	return rec, nil
}
