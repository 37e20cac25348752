// Package notify delivers user-visible banners. Platforms without a
// notification surface get a no-op implementation chosen once at startup.
package notify

import (
	"context"
	"runtime"

	"github.com/matheus3301/campus/internal/bus"
	"go.uber.org/zap"
)

// Banner is a short transient notice.
type Banner struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier shows banners.
type Notifier interface {
	Notify(ctx context.Context, b Banner) error
}

// BusNotifier publishes banners as notify.banner events. Connected front-ends
// render them.
type BusNotifier struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewBusNotifier creates a BusNotifier.
func NewBusNotifier(b *bus.Bus, logger *zap.Logger) *BusNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BusNotifier{bus: b, logger: logger}
}

// Notify publishes b.
func (n *BusNotifier) Notify(_ context.Context, b Banner) error {
	n.logger.Debug("banner", zap.String("title", b.Title), zap.String("body", b.Body))
	n.bus.Emit(bus.KindNotifyBanner, b)
	return nil
}

// Noop discards banners.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Banner) error { return nil }

// Capability describes what the host can display.
type Capability struct {
	Enabled bool
	GOOS    string
}

// HostCapability reports the current host with notifications enabled per cfg.
func HostCapability(enabled bool) Capability {
	return Capability{Enabled: enabled, GOOS: runtime.GOOS}
}

// Supported reports whether banners can be shown.
func (c Capability) Supported() bool {
	if !c.Enabled {
		return false
	}
	switch c.GOOS {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd":
		return true
	}
	return false
}

// Select returns the bus notifier when c is supported and Noop otherwise.
func Select(c Capability, b *bus.Bus, logger *zap.Logger) Notifier {
	if c.Supported() {
		return NewBusNotifier(b, logger)
	}
	return Noop{}
}
