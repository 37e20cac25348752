package realtime

import "encoding/json"

// Client to server message types.
const (
	TypeSubscribeTable     = "subscribe.table"
	TypeSubscribeBroadcast = "subscribe.broadcast"
	TypePresenceTrack      = "presence.track"
	TypePresenceUntrack    = "presence.untrack"
	TypeBroadcast          = "broadcast"
	TypeUnsubscribe        = "unsubscribe"
)

// Server to client message types.
const (
	TypeTableChange = "table.change"
	TypePresence    = "presence"
	TypeError       = "error"
)

// Envelope is the wire format in both directions. Ref names the
// subscription a message belongs to; the server echoes it on every delivery.
type Envelope struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Table   string          `json:"table,omitempty"`
	Op      string          `json:"op,omitempty"`
	Filter  string          `json:"filter,omitempty"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
}
