package api

import (
	"context"
	"errors"

	"github.com/matheus3301/campus/internal/backend"
	"github.com/matheus3301/campus/internal/conversation"
	"github.com/matheus3301/campus/internal/offline"
	"github.com/matheus3301/campus/internal/outbox"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var (
	errUnknownConversation = errors.New("conversation not open")
	errNoFeed              = errors.New("collections unavailable")
)

// toStatus maps a domain error onto a gRPC status.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	switch {
	case backend.IsConflict(err):
		code = codes.FailedPrecondition
	case backend.IsTransient(err):
		code = codes.Unavailable
	case errors.Is(err, backend.ErrNotFound), errors.Is(err, errUnknownConversation):
		code = codes.NotFound
	case errors.Is(err, outbox.ErrInvalidDraft), errors.Is(err, conversation.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, conversation.ErrClosed):
		code = codes.FailedPrecondition
	case errors.Is(err, offline.ErrSignedOut):
		code = codes.Unauthenticated
	case errors.Is(err, errNoFeed):
		code = codes.Unimplemented
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return grpcstatus.Error(code, err.Error())
}

func badRequest(err error) error {
	return grpcstatus.Error(codes.InvalidArgument, err.Error())
}
