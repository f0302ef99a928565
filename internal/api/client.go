package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/outbox"
	intsync "github.com/matheus3301/livesync/internal/sync"
)

// Client talks to the daemon. It is the outbox.Sender and the sync.Source of
// the client engine.
type Client struct {
	conn *grpc.ClientConn
}

// Status is the daemon status as reported by the Status call.
type Status struct {
	UptimeMs          int64
	WhatsApp          bool
	Connected         bool
	LoggedIn          bool
	PhoneNumber       string
	ConversationCount int64
	MessageCount      int64
}

// PairError is the type of the event reporting a failed pairing call.
const PairError = "error"

// PairEvent is one step of QR pairing.
type PairEvent struct {
	Type    string
	QRCode  string
	Message string
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient("unix://"+socketPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send implements outbox.Sender.
func (c *Client) Send(ctx context.Context, req outbox.SendRequest) (entity.Message, error) {
	out, err := c.call(ctx, "Send", encodeSendRequest(req))
	if err != nil {
		return entity.Message{}, err
	}
	return decodeMessage(out), nil
}

// ListMessages implements sync.Source.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]entity.Message, error) {
	out, err := c.call(ctx, "ListMessages", &structpb.Struct{Fields: map[string]*structpb.Value{
		"conversation_id": structpb.NewStringValue(conversationID),
		"limit":           structpb.NewNumberValue(float64(limit)),
	}})
	if err != nil {
		return nil, err
	}
	return decodeList(out, "messages", decodeMessage)
}

// ListConversations implements sync.Source.
func (c *Client) ListConversations(ctx context.Context, limit int) ([]entity.Conversation, error) {
	out, err := c.call(ctx, "ListConversations", &structpb.Struct{Fields: map[string]*structpb.Value{
		"limit": structpb.NewNumberValue(float64(limit)),
	}})
	if err != nil {
		return nil, err
	}
	return decodeList(out, "conversations", decodeConversation)
}

// CreateConversation registers a conversation on the daemon.
func (c *Client) CreateConversation(ctx context.Context, id, title string) (entity.Conversation, error) {
	out, err := c.call(ctx, "CreateConversation", &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":    structpb.NewStringValue(id),
		"title": structpb.NewStringValue(title),
	}})
	if err != nil {
		return entity.Conversation{}, err
	}
	return decodeConversation(out), nil
}

// MarkRead clears the unread counter of a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) (entity.Conversation, error) {
	out, err := c.call(ctx, "MarkRead", &structpb.Struct{Fields: map[string]*structpb.Value{
		"conversation_id": structpb.NewStringValue(conversationID),
	}})
	if err != nil {
		return entity.Conversation{}, err
	}
	return decodeConversation(out), nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	out, err := c.call(ctx, "Status", &structpb.Struct{})
	if err != nil {
		return Status{}, err
	}
	return Status{
		UptimeMs:          int64(num(out, "uptime_ms")),
		WhatsApp:          boolean(out, "whatsapp"),
		Connected:         boolean(out, "connected"),
		LoggedIn:          boolean(out, "logged_in"),
		PhoneNumber:       str(out, "phone_number"),
		ConversationCount: int64(num(out, "conversation_count")),
		MessageCount:      int64(num(out, "message_count")),
	}, nil
}

var (
	subscribeDesc = &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	pairDesc      = &grpc.StreamDesc{StreamName: "Pair", ServerStreams: true}
)

func (c *Client) stream(ctx context.Context, desc *grpc.StreamDesc, in *structpb.Struct) (grpc.ClientStream, error) {
	cs, err := c.conn.NewStream(ctx, desc, "/"+ServiceName+"/"+desc.StreamName)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(in); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return cs, nil
}

// Subscribe implements sync.Source. It returns once the daemon confirmed the
// subscription, so a reload issued afterwards cannot miss a change.
func (c *Client) Subscribe(ctx context.Context, scope intsync.Scope) (intsync.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	cs, err := c.stream(ctx, subscribeDesc, &structpb.Struct{Fields: map[string]*structpb.Value{
		"conversation_id": structpb.NewStringValue(scope.ConversationID),
	}})
	if err != nil {
		cancel()
		return nil, err
	}
	if _, err := cs.Header(); err != nil {
		cancel()
		return nil, err
	}
	return &eventStream{cs: cs, cancel: cancel}, nil
}

type eventStream struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc
}

func (s *eventStream) Recv() (intsync.ChangeEvent, error) {
	in := new(structpb.Struct)
	if err := s.cs.RecvMsg(in); err != nil {
		return intsync.ChangeEvent{}, err
	}
	return decodeEvent(in), nil
}

func (s *eventStream) Close() error {
	s.cancel()
	return nil
}

// Pair starts QR pairing and delivers its events on the returned channel,
// which is closed when pairing ends.
func (c *Client) Pair(ctx context.Context) (<-chan PairEvent, error) {
	cs, err := c.stream(ctx, pairDesc, &structpb.Struct{})
	if err != nil {
		return nil, err
	}
	out := make(chan PairEvent)
	go func() {
		defer close(out)
		for {
			in := new(structpb.Struct)
			var evt PairEvent
			err := cs.RecvMsg(in)
			switch {
			case errors.Is(err, io.EOF):
				return
			case err != nil:
				evt = PairEvent{Type: PairError, Message: err.Error()}
			default:
				evt = PairEvent{Type: str(in, "type"), QRCode: str(in, "qr_code"), Message: str(in, "message")}
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}
