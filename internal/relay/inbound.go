package relay

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/metrics"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/matheus3301/livesync/internal/store"
	intsync "github.com/matheus3301/livesync/internal/sync"
	"github.com/matheus3301/livesync/internal/wa"
)

const inboundBuffer = 1024

// Run consumes WhatsApp events from the bus until ctx is cancelled. The
// subscription is renewed if the bus drops it for falling behind.
func (r *Relay) Run(ctx context.Context) {
	for {
		sub := r.bus.Subscribe(bus.WANamespace, inboundBuffer)
		r.consume(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(sub.Err(), bus.ErrOverflow) {
			metrics.SubscriptionOverflows.Inc()
			r.logger.Error("inbound subscription overflowed, events were lost")
		}
	}
}

func (r *Relay) consume(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			r.Handle(evt)
		}
	}
}

// Handle applies one WhatsApp bus event to the store.
func (r *Relay) Handle(evt bus.Event) {
	metrics.RecordInbound(evt.Kind)
	switch p := evt.Payload.(type) {
	case wa.Inbound:
		r.ingest(p)
	case []wa.Inbound:
		for _, in := range p {
			r.ingest(in)
		}
	case wa.Receipt:
		r.receipt(p)
	case store.Contact:
		r.contacts([]store.Contact{p})
	case []store.Contact:
		r.contacts(p)
	default:
		r.logger.Debug("ignoring bus event", zap.String("kind", evt.Kind))
	}
}

// ingest stores a message seen on the connection. A message already stored,
// typically our own send echoed by another device, only advances its status.
func (r *Relay) ingest(in wa.Inbound) {
	m := in.Message
	if err := m.Validate(); err != nil {
		r.logger.Warn("dropping malformed inbound message", zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	if err := r.db.UpsertConversation(m.ConversationID, ""); err != nil {
		r.logger.Error("create conversation", zap.String("conversation_id", m.ConversationID), zap.Error(err))
		return
	}
	if in.PushName != "" && m.Direction == entity.Incoming && !isGroup(m.ConversationID) {
		if err := r.db.UpsertContact(store.Contact{JID: m.ConversationID, PushName: in.PushName}); err != nil {
			r.logger.Warn("store push name", zap.String("jid", m.ConversationID), zap.Error(err))
		}
	}

	inserted, err := r.db.InsertMessage(m)
	if err != nil {
		r.logger.Error("store inbound message", zap.String("message_id", m.ID), zap.Error(err))
		return
	}
	if inserted {
		r.publishMessage(intsync.Insert, m)
		r.touch(m)
		return
	}
	r.advance(m.ID, m.Status)
}

func (r *Relay) receipt(rc wa.Receipt) {
	for _, id := range rc.MessageIDs {
		r.advance(id, rc.Status)
	}
}

func (r *Relay) advance(id string, st status.Status) {
	m, changed, err := r.db.UpdateMessageStatus(id, st)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("status for unknown message", zap.String("message_id", id), zap.String("status", string(st)))
		return
	}
	if err != nil {
		r.logger.Error("update message status", zap.String("message_id", id), zap.Error(err))
		return
	}
	if changed {
		r.publishMessage(intsync.Update, m)
	}
}

func (r *Relay) contacts(cs []store.Contact) {
	if err := r.db.BulkUpsertContacts(cs); err != nil {
		r.logger.Error("store contacts", zap.Int("count", len(cs)), zap.Error(err))
		return
	}
	for _, c := range cs {
		conv, err := r.db.GetConversation(c.JID)
		if err != nil {
			continue
		}
		r.publishConversation(conv)
	}
}

func isGroup(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
