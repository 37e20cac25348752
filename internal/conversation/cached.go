package conversation

import (
	"context"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/cache"
	"go.uber.org/zap"
)

// CachedStore keeps the last fetched history of each conversation in the
// persistent cache and serves it when the backend cannot be reached. History
// always tries the backend first so a foreground refetch sees the gap.
type CachedStore struct {
	MessageStore
	cache  *cache.Cache
	ns     cache.Namespace
	logger *zap.Logger
}

// NewCachedStore wraps next.
func NewCachedStore(next MessageStore, c *cache.Cache, ns cache.Namespace, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{MessageStore: next, cache: c, ns: ns, logger: logger}
}

// History fetches from the backend, falling back to the cached copy on a
// transient failure.
func (s *CachedStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	msgs, err := s.MessageStore.History(ctx, conversationID)
	if err == nil {
		s.ns.Set(ctx, s.cache, conversationID, msgs)
		return msgs, nil
	}
	if !backend.IsTransient(err) {
		return nil, err
	}
	var cached []Message
	if !s.cache.Get(ctx, s.ns.Key(conversationID), &cached) {
		return nil, err
	}
	s.logger.Info("serving cached history", zap.String("conversation_id", conversationID), zap.Int("messages", len(cached)), zap.Error(err))
	for i := range cached {
		cached[i].Origin = Confirmed
	}
	return cached, nil
}
