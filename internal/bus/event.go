package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix, so the
// part before the first dot acts as a namespace ("net.", "sync.", ...).
const (
	KindNetOnline  = "net.online"
	KindNetOffline = "net.offline"

	KindSyncStarted   = "sync.started"
	KindSyncCompleted = "sync.completed"

	KindOutboxChanged = "outbox.changed"
	KindOutboxApplied = "outbox.applied"

	KindConversationChanged = "conversation.changed"

	KindSessionStatusChanged = "session.status_changed"

	KindNotifyBanner = "notify.banner"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
