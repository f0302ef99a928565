// Package api exposes the relay over gRPC. The service is described by hand
// and exchanges structpb.Struct messages, so no generated code is involved.
package api

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/metrics"
	"github.com/matheus3301/livesync/internal/outbox"
	"github.com/matheus3301/livesync/internal/relay"
	"github.com/matheus3301/livesync/internal/store"
	intsync "github.com/matheus3301/livesync/internal/sync"
	"github.com/matheus3301/livesync/internal/wa"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "livesync.v1.LiveSync"

const subscribeBuffer = 256

// Backend is the daemon state the service exposes. *relay.Relay implements it.
type Backend interface {
	Send(ctx context.Context, req outbox.SendRequest) (entity.Message, error)
	ListMessages(conversationID string, limit int) ([]entity.Message, error)
	ListConversations(limit int) ([]entity.Conversation, error)
	CreateConversation(id, title string) (entity.Conversation, error)
	MarkRead(conversationID string) (entity.Conversation, error)
	Counts() (conversations, messages int64, err error)
	Watch(scope intsync.Scope, buffer int) *bus.Subscription
}

// Session is the WhatsApp connection as seen by the status and pairing
// calls. It is nil when the daemon runs without WhatsApp.
type Session interface {
	IsConnected() bool
	IsLoggedIn() bool
	PhoneNumber() string
	StartQRAuth(ctx context.Context) (<-chan wa.AuthEvent, error)
}

// Server implements the LiveSync service.
type Server struct {
	backend   Backend
	session   Session
	logger    *zap.Logger
	startedAt time.Time
}

// NewServer creates the service. session may be nil.
func NewServer(backend Backend, session Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		backend:   backend,
		session:   session,
		logger:    logger.Named("api"),
		startedAt: time.Now(),
	}
}

// Register adds the service to a gRPC server.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&serviceDesc, s)
}

type liveSyncServer interface {
	send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	subscribe(*structpb.Struct, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*liveSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Send", (*Server).send),
		unary("ListMessages", (*Server).listMessages),
		unary("ListConversations", (*Server).listConversations),
		unary("CreateConversation", (*Server).createConversation),
		unary("MarkRead", (*Server).markRead),
		unary("Status", (*Server).status),
	},
	Streams: []grpc.StreamDesc{
		serverStream("Subscribe", (*Server).subscribe),
		serverStream("Pair", (*Server).pair),
	},
	Metadata: "livesync/v1",
}

func unary(name string, call func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func serverStream(name string, call func(*Server, *structpb.Struct, grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(*Server), in, stream)
		},
	}
}

func (s *Server) send(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m, err := s.backend.Send(ctx, decodeSendRequest(in))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeMessage(m), nil
}

func (s *Server) listMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	msgs, err := s.backend.ListMessages(str(in, "conversation_id"), int(num(in, "limit")))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeList("messages", msgs, encodeMessage), nil
}

func (s *Server) listConversations(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	convs, err := s.backend.ListConversations(int(num(in, "limit")))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeList("conversations", convs, encodeConversation), nil
}

func (s *Server) createConversation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	conv, err := s.backend.CreateConversation(str(in, "id"), str(in, "title"))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeConversation(conv), nil
}

func (s *Server) markRead(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	conv, err := s.backend.MarkRead(str(in, "conversation_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeConversation(conv), nil
}

func (s *Server) status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		"uptime_ms": structpb.NewNumberValue(float64(time.Since(s.startedAt).Milliseconds())),
		"whatsapp":  structpb.NewBoolValue(s.session != nil),
	}}
	if s.session != nil {
		out.Fields["connected"] = structpb.NewBoolValue(s.session.IsConnected())
		out.Fields["logged_in"] = structpb.NewBoolValue(s.session.IsLoggedIn())
		out.Fields["phone_number"] = structpb.NewStringValue(s.session.PhoneNumber())
	}
	if convs, msgs, err := s.backend.Counts(); err == nil {
		out.Fields["conversation_count"] = structpb.NewNumberValue(float64(convs))
		out.Fields["message_count"] = structpb.NewNumberValue(float64(msgs))
	}
	return out, nil
}

// subscribe streams the change events of one scope. When the subscriber falls
// behind, the bus drops it and the stream ends with ResourceExhausted so the
// client reloads.
func (s *Server) subscribe(in *structpb.Struct, stream grpc.ServerStream) error {
	scope := intsync.Scope{ConversationID: str(in, "conversation_id")}
	sub := s.backend.Watch(scope, subscribeBuffer)
	defer sub.Close()
	metrics.ActiveSubscriptions.Inc()
	defer metrics.ActiveSubscriptions.Dec()

	s.logger.Debug("subscriber attached", zap.Stringer("scope", scope))
	// The header tells the client the subscription is live before any event.
	if err := stream.SendHeader(nil); err != nil {
		return err
	}
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				if errors.Is(sub.Err(), bus.ErrOverflow) {
					metrics.SubscriptionOverflows.Inc()
					s.logger.Warn("subscriber overflowed", zap.Stringer("scope", scope))
					return grpcstatus.Error(codes.ResourceExhausted, "subscriber fell behind")
				}
				return nil
			}
			ev, ok := evt.Payload.(intsync.ChangeEvent)
			if !ok {
				continue
			}
			if err := stream.SendMsg(encodeEvent(ev)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Server) pair(_ *structpb.Struct, stream grpc.ServerStream) error {
	if s.session == nil {
		return grpcstatus.Error(codes.Unavailable, "whatsapp is disabled")
	}
	authCh, err := s.session.StartQRAuth(stream.Context())
	if err != nil {
		return grpcstatus.Errorf(codes.FailedPrecondition, "start auth: %v", err)
	}
	for evt := range authCh {
		if err := stream.SendMsg(&structpb.Struct{Fields: map[string]*structpb.Value{
			"type":    structpb.NewStringValue(string(evt.Type)),
			"qr_code": structpb.NewStringValue(evt.QRCode),
			"message": structpb.NewStringValue(evt.Message),
		}}); err != nil {
			return err
		}
	}
	return nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, entity.ErrEmptyPayload),
		errors.Is(err, entity.ErrNoConversation),
		errors.Is(err, entity.ErrInvalidRecord),
		errors.Is(err, relay.ErrMissingClientID):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, relay.ErrUnknownConversation), errors.Is(err, store.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrSendInFlight):
		return grpcstatus.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	}
	return grpcstatus.Errorf(codes.Internal, "%v", err)
}
