package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/campus/internal/bus"
	"github.com/matheus3301/campus/internal/feed"
	"github.com/matheus3301/campus/internal/offline"
	"github.com/matheus3301/campus/internal/outbox"
	intsync "github.com/matheus3301/campus/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Offline is the offline facade the service exposes.
type Offline interface {
	RefreshStatus(ctx context.Context) offline.Status
	SyncNow(ctx context.Context) intsync.Result
	AddPendingAction(ctx context.Context, d outbox.Draft) (outbox.PendingAction, error)
	Write(ctx context.Context, d outbox.Draft) (offline.WriteResult, error)
	ListPending(ctx context.Context) ([]outbox.PendingAction, error)
	Discard(ctx context.Context, id string) error
	SignOut(ctx context.Context) error
}

// Browser serves cached campus collections.
type Browser interface {
	List(ctx context.Context, kind feed.Kind) (feed.Page, error)
}

// OfflineService implements OfflineServer.
type OfflineService struct {
	profile string
	svc     Offline
	feed    Browser
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewOfflineService creates an OfflineService.
func NewOfflineService(profile string, svc Offline, f Browser, b *bus.Bus, logger *zap.Logger) *OfflineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfflineService{profile: profile, svc: svc, feed: f, bus: b, logger: logger}
}

func (s *OfflineService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return Encode(s.svc.RefreshStatus(ctx))
}

func (s *OfflineService) SyncNow(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return Encode(s.svc.SyncNow(ctx))
}

func (s *OfflineService) AddPendingAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var d outbox.Draft
	if err := Decode(req, &d); err != nil {
		return nil, badRequest(err)
	}
	a, err := s.svc.AddPendingAction(ctx, d)
	if err != nil {
		return nil, toStatus(err)
	}
	return Encode(a)
}

func (s *OfflineService) Write(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var d outbox.Draft
	if err := Decode(req, &d); err != nil {
		return nil, badRequest(err)
	}
	res, err := s.svc.Write(ctx, d)
	if err != nil {
		return nil, toStatus(err)
	}
	return Encode(res)
}

func (s *OfflineService) ListPending(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	actions, err := s.svc.ListPending(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrap("actions", actions)
}

func (s *OfflineService) DiscardPending(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := Decode(req, &in); err != nil {
		return nil, badRequest(err)
	}
	if in.ID == "" {
		return nil, badRequest(errors.New("id is required"))
	}
	if err := s.svc.Discard(ctx, in.ID); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *OfflineService) SignOut(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.svc.SignOut(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *OfflineService) Browse(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Kind feed.Kind `json:"kind"`
	}
	if err := Decode(req, &in); err != nil {
		return nil, badRequest(err)
	}
	switch in.Kind {
	case feed.Events, feed.Posts, feed.Notifications, feed.Profile:
	default:
		return nil, badRequest(fmt.Errorf("unknown collection %q", in.Kind))
	}
	if s.feed == nil {
		return nil, toStatus(errNoFeed)
	}
	page, err := s.feed.List(ctx, in.Kind)
	if err != nil {
		return nil, toStatus(err)
	}
	return Encode(page)
}

// Event is one bus event as streamed by WatchEvents.
type Event struct {
	ID         string `json:"id"`
	Profile    string `json:"profile"`
	Kind       string `json:"kind"`
	OccurredAt int64  `json:"occurredAtUnixMs"`
	Payload    any    `json:"payload,omitempty"`
}

// WatchEvents streams bus events whose kind starts with one of the
// requested prefixes, or every event when none are given.
func (s *OfflineService) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	var in struct {
		Namespaces []string `json:"namespaces"`
	}
	if err := Decode(req, &in); err != nil {
		return badRequest(err)
	}

	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()
	ctx := stream.Context()
	for {
		select {
		case evt := <-ch:
			if !matches(in.Namespaces, evt.Kind) {
				continue
			}
			msg, err := Encode(Event{
				ID:         uuid.New().String(),
				Profile:    s.profile,
				Kind:       evt.Kind,
				OccurredAt: evt.Timestamp.UnixMilli(),
				Payload:    evt.Payload,
			})
			if err != nil {
				s.logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func matches(prefixes []string, kind string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}
