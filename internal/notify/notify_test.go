package notify

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/campus/internal/bus"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		host Capability
		bus  bool
	}{
		{"linux enabled", Capability{Enabled: true, GOOS: "linux"}, true},
		{"darwin enabled", Capability{Enabled: true, GOOS: "darwin"}, true},
		{"disabled", Capability{Enabled: false, GOOS: "linux"}, false},
		{"unsupported platform", Capability{Enabled: true, GOOS: "plan9"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Select(tt.host, nil, nil)
			_, isBus := n.(*BusNotifier)
			if isBus != tt.bus {
				t.Errorf("Select() = %T, want bus notifier %v", n, tt.bus)
			}
		})
	}
}

func TestBusNotifierPublishes(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("notify.", 1)
	defer unsub()

	if err := NewBusNotifier(b, nil).Notify(context.Background(), Banner{Title: "Sync", Body: "Synced 2, failed 1"}); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		if got := evt.Payload.(Banner); got.Body != "Synced 2, failed 1" {
			t.Errorf("banner = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("banner not published")
	}
}

func TestNoopNotify(t *testing.T) {
	if err := (Noop{}).Notify(context.Background(), Banner{}); err != nil {
		t.Errorf("Noop.Notify() error = %v", err)
	}
}
