// Package relay is the authoritative side of the change feed. It accepts
// sends, persists them, ingests WhatsApp traffic and publishes every
// resulting change on the bus.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/metrics"
	"github.com/matheus3301/livesync/internal/outbox"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/matheus3301/livesync/internal/store"
	intsync "github.com/matheus3301/livesync/internal/sync"
)

var (
	// ErrUnknownConversation is returned for operations on a conversation
	// the store does not know.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrMissingClientID is returned for sends without an idempotency key.
	ErrMissingClientID = errors.New("send request has no client id")
)

// Relay owns writes to the store and the publication of change events.
type Relay struct {
	db        *store.DB
	bus       *bus.Bus
	deliverer Deliverer
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a relay delivering through d.
func New(db *store.DB, b *bus.Bus, d Deliverer, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		db:        db,
		bus:       b,
		deliverer: d,
		logger:    logger.Named("relay"),
		now:       time.Now,
	}
}

// Send delivers req at most once per client id and returns the durable
// record. Repeating a request whose client id was already delivered returns
// the stored message without delivering again.
func (r *Relay) Send(ctx context.Context, req outbox.SendRequest) (entity.Message, error) {
	p := entity.Payload{ConversationID: req.ConversationID, Content: req.Content, MediaRef: req.MediaRef}
	if err := p.Validate(); err != nil {
		metrics.RecordSend("rejected")
		return entity.Message{}, err
	}
	if req.ClientID == "" {
		metrics.RecordSend("rejected")
		return entity.Message{}, ErrMissingClientID
	}
	if _, err := r.db.GetConversation(req.ConversationID); err != nil {
		metrics.RecordSend("rejected")
		if errors.Is(err, store.ErrNotFound) {
			return entity.Message{}, fmt.Errorf("%w: %s", ErrUnknownConversation, req.ConversationID)
		}
		return entity.Message{}, err
	}

	entry, claimed, err := r.db.ClaimOutbox(req.ClientID, req.ConversationID)
	if err != nil {
		metrics.RecordSend("rejected")
		return entity.Message{}, err
	}
	if !claimed {
		metrics.RecordSend("duplicate")
		r.logger.Info("duplicate send", zap.String("client_id", req.ClientID), zap.String("message_id", entry.MessageID))
		return r.db.GetMessage(entry.MessageID)
	}

	m := entity.Message{
		ConversationID: req.ConversationID,
		Direction:      entity.Outgoing,
		Content:        req.Content,
		MediaRef:       req.MediaRef,
		Status:         status.Sent,
		CreatedAt:      r.now(),
	}
	start := time.Now()
	id, err := r.deliverer.Deliver(ctx, m)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordSend("failed")
		if ferr := r.db.FailOutbox(req.ClientID, err.Error()); ferr != nil {
			r.logger.Error("mark outbox failed", zap.String("client_id", req.ClientID), zap.Error(ferr))
		}
		r.logger.Error("delivery failed", zap.String("client_id", req.ClientID), zap.Int("attempt", entry.Attempts), zap.Error(err))
		return entity.Message{}, fmt.Errorf("deliver: %w", err)
	}
	m.ID = id

	if _, err := r.db.InsertMessage(m); err != nil {
		_ = r.db.FailOutbox(req.ClientID, err.Error())
		metrics.RecordSend("failed")
		return entity.Message{}, err
	}
	if err := r.db.CompleteOutbox(req.ClientID, m.ID); err != nil {
		return entity.Message{}, err
	}
	metrics.RecordSend("delivered")
	r.logger.Info("message sent",
		zap.String("client_id", req.ClientID), zap.String("message_id", m.ID), zap.String("conversation_id", m.ConversationID))

	r.publishMessage(intsync.Insert, m)
	r.touch(m)
	return m, nil
}

// MarkRead clears the unread counter of a conversation.
func (r *Relay) MarkRead(conversationID string) (entity.Conversation, error) {
	conv, err := r.db.MarkRead(conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return entity.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	if err != nil {
		return entity.Conversation{}, err
	}
	r.publishConversation(conv)
	return conv, nil
}

// CreateConversation registers a conversation so messages can be sent to it.
func (r *Relay) CreateConversation(id, title string) (entity.Conversation, error) {
	if id == "" {
		return entity.Conversation{}, fmt.Errorf("%w: conversation without id", entity.ErrInvalidRecord)
	}
	if err := r.db.UpsertConversation(id, title); err != nil {
		return entity.Conversation{}, err
	}
	conv, err := r.db.GetConversation(id)
	if err != nil {
		return entity.Conversation{}, err
	}
	r.publishConversation(conv)
	return conv, nil
}

// ListMessages returns the newest limit messages of a conversation, oldest
// first.
func (r *Relay) ListMessages(conversationID string, limit int) ([]entity.Message, error) {
	return r.db.ListMessages(conversationID, limit)
}

// ListConversations returns summaries, most recent first.
func (r *Relay) ListConversations(limit int) ([]entity.Conversation, error) {
	return r.db.ListConversations(limit)
}

// Counts returns the number of stored conversations and messages.
func (r *Relay) Counts() (int64, int64, error) {
	convs, err := r.db.ConversationCount()
	if err != nil {
		return 0, 0, err
	}
	msgs, err := r.db.MessageCount()
	if err != nil {
		return 0, 0, err
	}
	return convs, msgs, nil
}

// Watch subscribes to the change events of scope.
func (r *Relay) Watch(scope intsync.Scope, buffer int) *bus.Subscription {
	if scope.IsList() {
		return r.bus.Subscribe(bus.ConversationsNamespace, buffer)
	}
	return r.bus.Subscribe(bus.MessagesScope(scope.ConversationID), buffer)
}

func (r *Relay) touch(m entity.Message) {
	conv, err := r.db.TouchConversation(m.ConversationID, m.CreatedAt, preview(m), m.Direction == entity.Incoming)
	if err != nil {
		r.logger.Error("update conversation summary", zap.String("conversation_id", m.ConversationID), zap.Error(err))
		return
	}
	r.publishConversation(conv)
}

func (r *Relay) publishMessage(op intsync.Op, m entity.Message) {
	r.bus.Publish(bus.Event{
		Kind:      bus.MessageKind(m.ConversationID, string(op)),
		Timestamp: r.now(),
		Payload:   intsync.ChangeEvent{Table: intsync.Messages, Op: op, Message: &m},
	})
	metrics.RecordChange(string(intsync.Messages), string(op))
}

func (r *Relay) publishConversation(conv entity.Conversation) {
	r.bus.Publish(bus.Event{
		Kind:      bus.ConversationKind(bus.OpUpdate),
		Timestamp: r.now(),
		Payload:   intsync.ChangeEvent{Table: intsync.Conversations, Op: intsync.Update, Conversation: &conv},
	})
	metrics.RecordChange(string(intsync.Conversations), string(intsync.Update))
}

func preview(m entity.Message) string {
	if t := m.Text(); t != "" {
		return t
	}
	if m.MediaRef != nil {
		return "[media]"
	}
	return ""
}
