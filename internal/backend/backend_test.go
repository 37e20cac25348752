package backend

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		conflict  bool
	}{
		{"conflict", &StatusError{Code: 409, Kind: ErrConflict}, false, true},
		{"server", &StatusError{Code: 503, Kind: ErrTransient}, true, false},
		{"wrapped", fmt.Errorf("apply: %w", &StatusError{Code: 502, Kind: ErrTransient}), true, false},
		{"not found", &StatusError{Code: 404, Kind: ErrNotFound}, false, false},
		{"plain", errors.New("boom"), false, false},
		{"nil", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := IsConflict(tt.err); got != tt.conflict {
				t.Errorf("IsConflict() = %v, want %v", got, tt.conflict)
			}
		})
	}
}

func TestTableFor(t *testing.T) {
	for entity, want := range map[string]string{"event": "events", "post": "posts", "message": "messages", "reply": "replies"} {
		got, ok := TableFor(entity)
		if !ok || got != want {
			t.Errorf("TableFor(%q) = %q, %v, want %q", entity, got, ok, want)
		}
	}
	if _, ok := TableFor("course"); ok {
		t.Error("TableFor(course) should not map")
	}
}

func TestTableFilterString(t *testing.T) {
	f := TableFilter{Op: OpInsert, Column: "conversation_id", Value: "c1"}
	if got := f.String(); got != "conversation_id=eq.c1" {
		t.Errorf("String() = %q", got)
	}
	if got := (TableFilter{Op: OpUpdate}).String(); got != "" {
		t.Errorf("empty filter String() = %q", got)
	}
}
