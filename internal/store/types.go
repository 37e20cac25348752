package store

// KeyPrefix namespaces every row this client persists so it never collides
// with unrelated stored values.
const KeyPrefix = "campus:"

// CacheEntry is a raw cache row. Data is JSON text.
type CacheEntry struct {
	Key       string
	Data      string
	Timestamp int64 // epoch ms of the write
	Expiry    int64 // freshness window in ms
}

// ActionRow is a raw pending_actions row. Payload is JSON text.
type ActionRow struct {
	Seq        int64
	ID         string
	Type       string
	Entity     string
	Payload    string
	EnqueuedAt int64
	RetryCount int
	LastError  string
}
