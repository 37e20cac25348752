package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service names as seen on the wire.
const (
	OfflineServiceName      = "campus.v1.OfflineService"
	ConversationServiceName = "campus.v1.ConversationService"
)

// OfflineServer is the daemon side of campus.v1.OfflineService.
type OfflineServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SyncNow(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	AddPendingAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Write(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	DiscardPending(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SignOut(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Browse(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// ConversationServer is the daemon side of campus.v1.ConversationService.
type ConversationServer interface {
	Open(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Close(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Snapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Keystroke(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	MarkRead(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetAppState(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// unary builds a method handler the way protoc-gen-go-grpc does, minus the
// per-method boilerplate.
func unary[S any, Req, Resp proto.Message](service, name string, newReq func() Req, call func(S, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	full := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// OfflineServiceDesc registers an OfflineServer.
var OfflineServiceDesc = grpc.ServiceDesc{
	ServiceName: OfflineServiceName,
	HandlerType: (*OfflineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(OfflineServiceName, "GetStatus", newEmpty, OfflineServer.GetStatus),
		unary(OfflineServiceName, "SyncNow", newEmpty, OfflineServer.SyncNow),
		unary(OfflineServiceName, "AddPendingAction", newStruct, OfflineServer.AddPendingAction),
		unary(OfflineServiceName, "Write", newStruct, OfflineServer.Write),
		unary(OfflineServiceName, "ListPending", newEmpty, OfflineServer.ListPending),
		unary(OfflineServiceName, "DiscardPending", newStruct, OfflineServer.DiscardPending),
		unary(OfflineServiceName, "SignOut", newEmpty, OfflineServer.SignOut),
		unary(OfflineServiceName, "Browse", newStruct, OfflineServer.Browse),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "WatchEvents",
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(OfflineServer).WatchEvents(in, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "campus/v1/offline.proto",
}

// ConversationServiceDesc registers a ConversationServer.
var ConversationServiceDesc = grpc.ServiceDesc{
	ServiceName: ConversationServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ConversationServiceName, "Open", newStruct, ConversationServer.Open),
		unary(ConversationServiceName, "Close", newStruct, ConversationServer.Close),
		unary(ConversationServiceName, "Snapshot", newStruct, ConversationServer.Snapshot),
		unary(ConversationServiceName, "Send", newStruct, ConversationServer.Send),
		unary(ConversationServiceName, "Keystroke", newStruct, ConversationServer.Keystroke),
		unary(ConversationServiceName, "MarkRead", newStruct, ConversationServer.MarkRead),
		unary(ConversationServiceName, "Refresh", newStruct, ConversationServer.Refresh),
		unary(ConversationServiceName, "Reconnect", newStruct, ConversationServer.Reconnect),
		unary(ConversationServiceName, "SetAppState", newStruct, ConversationServer.SetAppState),
	},
	Metadata: "campus/v1/conversation.proto",
}

// RegisterOfflineServer registers srv on s.
func RegisterOfflineServer(s grpc.ServiceRegistrar, srv OfflineServer) {
	s.RegisterService(&OfflineServiceDesc, srv)
}

// RegisterConversationServer registers srv on s.
func RegisterConversationServer(s grpc.ServiceRegistrar, srv ConversationServer) {
	s.RegisterService(&ConversationServiceDesc, srv)
}
