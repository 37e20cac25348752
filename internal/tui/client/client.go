// Package client is the front-end side of the daemon API.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/campus/internal/api"
	"github.com/matheus3301/campus/internal/conversation"
	"github.com/matheus3301/campus/internal/feed"
	"github.com/matheus3301/campus/internal/offline"
	"github.com/matheus3301/campus/internal/outbox"
	intsync "github.com/matheus3301/campus/internal/sync"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, service, method string, in any, out any) error {
	var req proto.Message = &emptypb.Empty{}
	if in != nil {
		s, err := api.Encode(in)
		if err != nil {
			return err
		}
		req = s
	}
	if out == nil {
		return c.conn.Invoke(ctx, "/"+service+"/"+method, req, &emptypb.Empty{})
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+service+"/"+method, req, resp); err != nil {
		return err
	}
	return api.Decode(resp, out)
}

func (c *Client) offline(ctx context.Context, method string, in, out any) error {
	return c.call(ctx, api.OfflineServiceName, method, in, out)
}

func (c *Client) conversation(ctx context.Context, method string, in, out any) error {
	return c.call(ctx, api.ConversationServiceName, method, in, out)
}

// Status returns the offline indicator.
func (c *Client) Status(ctx context.Context) (offline.Status, error) {
	var st offline.Status
	err := c.offline(ctx, "GetStatus", nil, &st)
	return st, err
}

// SyncNow drains the pending queue.
func (c *Client) SyncNow(ctx context.Context) (intsync.Result, error) {
	var r intsync.Result
	err := c.offline(ctx, "SyncNow", nil, &r)
	return r, err
}

// AddPendingAction queues d.
func (c *Client) AddPendingAction(ctx context.Context, d outbox.Draft) (outbox.PendingAction, error) {
	var a outbox.PendingAction
	err := c.offline(ctx, "AddPendingAction", d, &a)
	return a, err
}

// Write applies d now or queues it.
func (c *Client) Write(ctx context.Context, d outbox.Draft) (offline.WriteResult, error) {
	var r offline.WriteResult
	err := c.offline(ctx, "Write", d, &r)
	return r, err
}

// ListPending returns queued actions in order.
func (c *Client) ListPending(ctx context.Context) ([]outbox.PendingAction, error) {
	var out struct {
		Actions []outbox.PendingAction `json:"actions"`
	}
	err := c.offline(ctx, "ListPending", nil, &out)
	return out.Actions, err
}

// Discard drops a queued action.
func (c *Client) Discard(ctx context.Context, id string) error {
	return c.offline(ctx, "DiscardPending", map[string]string{"id": id}, nil)
}

// SignOut wipes the account's local state.
func (c *Client) SignOut(ctx context.Context) error {
	return c.offline(ctx, "SignOut", nil, nil)
}

// Browse returns a cached campus collection.
func (c *Client) Browse(ctx context.Context, kind feed.Kind) (feed.Page, error) {
	var p feed.Page
	err := c.offline(ctx, "Browse", map[string]feed.Kind{"kind": kind}, &p)
	return p, err
}

// Event is a daemon event.
type Event struct {
	ID         string          `json:"id"`
	Profile    string          `json:"profile"`
	Kind       string          `json:"kind"`
	OccurredAt int64           `json:"occurredAtUnixMs"`
	Payload    json.RawMessage `json:"payload"`
}

// EventStream receives daemon events.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (Event, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return Event{}, err
	}
	var evt Event
	err := api.Decode(msg, &evt)
	return evt, err
}

// WatchEvents streams events whose kind starts with one of namespaces, or
// all events. The stream ends when ctx is cancelled.
func (c *Client) WatchEvents(ctx context.Context, namespaces ...string) (*EventStream, error) {
	desc := &api.OfflineServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, "/"+api.OfflineServiceName+"/"+desc.StreamName)
	if err != nil {
		return nil, err
	}
	req, err := api.Encode(map[string]any{"namespaces": namespaces})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

type convReq struct {
	ConversationID string   `json:"conversationId"`
	Participants   []string `json:"participants,omitempty"`
	Text           string   `json:"text,omitempty"`
}

// Open opens a conversation and returns its first snapshot.
func (c *Client) Open(ctx context.Context, id string, participants []string) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	err := c.conversation(ctx, "Open", convReq{ConversationID: id, Participants: participants}, &snap)
	return snap, err
}

// CloseConversation tears down a conversation session.
func (c *Client) CloseConversation(ctx context.Context, id string) error {
	return c.conversation(ctx, "Close", convReq{ConversationID: id}, nil)
}

// Snapshot returns the state of an open conversation.
func (c *Client) Snapshot(ctx context.Context, id string) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	err := c.conversation(ctx, "Snapshot", convReq{ConversationID: id}, &snap)
	return snap, err
}

// Send posts text to a conversation.
func (c *Client) Send(ctx context.Context, id, text string) (conversation.Message, error) {
	var m conversation.Message
	err := c.conversation(ctx, "Send", convReq{ConversationID: id, Text: text}, &m)
	return m, err
}

// Keystroke reports local typing.
func (c *Client) Keystroke(ctx context.Context, id string) error {
	return c.conversation(ctx, "Keystroke", convReq{ConversationID: id}, nil)
}

// MarkRead marks peer messages read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.conversation(ctx, "MarkRead", convReq{ConversationID: id}, nil)
}

// Refresh refetches history.
func (c *Client) Refresh(ctx context.Context, id string) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	err := c.conversation(ctx, "Refresh", convReq{ConversationID: id}, &snap)
	return snap, err
}

// Reconnect re-creates the live subscriptions of a conversation.
func (c *Client) Reconnect(ctx context.Context, id string) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	err := c.conversation(ctx, "Reconnect", convReq{ConversationID: id}, &snap)
	return snap, err
}

// SetAppState reports front-end visibility: "active" or "background".
func (c *Client) SetAppState(ctx context.Context, state string) error {
	return c.conversation(ctx, "SetAppState", map[string]string{"state": state}, nil)
}
