package api

import (
	"context"
	"errors"

	"github.com/matheus3301/campus/internal/conversation"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Conversations is the session registry the service drives.
type Conversations interface {
	Open(ctx context.Context, conv conversation.Conversation) (*conversation.Session, error)
	Get(id string) (*conversation.Session, bool)
	Close(id string)
	SetAppState(ctx context.Context, state conversation.AppState) error
}

// ConversationService implements ConversationServer.
type ConversationService struct {
	conversations Conversations
	logger        *zap.Logger
}

// NewConversationService creates a ConversationService.
func NewConversationService(c Conversations, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{conversations: c, logger: logger}
}

type conversationRequest struct {
	ConversationID string   `json:"conversationId"`
	Participants   []string `json:"participants"`
	Text           string   `json:"text"`
}

func (s *ConversationService) session(req *structpb.Struct) (*conversation.Session, conversationRequest, error) {
	var in conversationRequest
	if err := Decode(req, &in); err != nil {
		return nil, in, badRequest(err)
	}
	if in.ConversationID == "" {
		return nil, in, badRequest(errors.New("conversationId is required"))
	}
	sess, ok := s.conversations.Get(in.ConversationID)
	if !ok {
		return nil, in, toStatus(errUnknownConversation)
	}
	return sess, in, nil
}

func (s *ConversationService) Open(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in conversationRequest
	if err := Decode(req, &in); err != nil {
		return nil, badRequest(err)
	}
	sess, err := s.conversations.Open(ctx, conversation.Conversation{ID: in.ConversationID, Participants: in.Participants})
	if err != nil {
		if in.ConversationID == "" {
			return nil, badRequest(err)
		}
		return nil, toStatus(err)
	}
	return Encode(sess.Snapshot())
}

func (s *ConversationService) Close(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in conversationRequest
	if err := Decode(req, &in); err != nil {
		return nil, badRequest(err)
	}
	s.conversations.Close(in.ConversationID)
	return &emptypb.Empty{}, nil
}

func (s *ConversationService) Snapshot(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(req)
	if err != nil {
		return nil, err
	}
	return Encode(sess.Snapshot())
}

func (s *ConversationService) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, in, err := s.session(req)
	if err != nil {
		return nil, err
	}
	m, err := sess.Send(ctx, in.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return Encode(m)
}

func (s *ConversationService) Keystroke(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	sess, _, err := s.session(req)
	if err != nil {
		return nil, err
	}
	if err := sess.Keystroke(ctx); err != nil {
		s.logger.Debug("typing signal failed", zap.String("conversation_id", sess.ID()), zap.Error(err))
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ConversationService) MarkRead(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	sess, _, err := s.session(req)
	if err != nil {
		return nil, err
	}
	if err := sess.MarkRead(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ConversationService) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(req)
	if err != nil {
		return nil, err
	}
	if err := sess.Refresh(ctx); err != nil {
		return nil, toStatus(err)
	}
	return Encode(sess.Snapshot())
}

func (s *ConversationService) Reconnect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sess, _, err := s.session(req)
	if err != nil {
		return nil, err
	}
	if err := sess.Reconnect(ctx); err != nil {
		return nil, toStatus(err)
	}
	return Encode(sess.Snapshot())
}

func (s *ConversationService) SetAppState(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in struct {
		State string `json:"state"`
	}
	if err := Decode(req, &in); err != nil {
		return nil, badRequest(err)
	}
	state, err := conversation.ParseAppState(in.State)
	if err != nil {
		return nil, badRequest(err)
	}
	if err := s.conversations.SetAppState(ctx, state); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}
