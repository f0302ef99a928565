package wa

import (
	"time"

	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/store"
)

// Bus kinds published by the adapter.
const (
	KindMessage       = bus.WANamespace + "message"
	KindHistory       = bus.WANamespace + "history"
	KindReceipt       = bus.WANamespace + "receipt"
	KindContact       = bus.WANamespace + "contact"
	KindContactBatch  = bus.WANamespace + "contact_batch"
	KindConnected     = bus.WANamespace + "connected"
	KindDisconnected  = bus.WANamespace + "disconnected"
	KindLoggedOut     = bus.WANamespace + "logged_out"
	KindQRCode        = bus.WANamespace + "qr_generated"
	KindAuthenticated = bus.WANamespace + "authenticated"
	KindAuthFailed    = bus.WANamespace + "auth_failed"
)

// EventHandler processes whatsmeow events and publishes parsed domain events
// on the bus. It does NOT touch the store; the relay subscribes to the bus
// independently.
type EventHandler struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(b *bus.Bus, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		bus:    b,
		logger: logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.publish(KindMessage, ParseLiveMessage(evt).ToInbound())
	case *events.Receipt:
		if r, ok := ParseReceipt(evt); ok {
			h.publish(KindReceipt, r)
		}
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.publish(KindConnected, nil)
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.publish(KindDisconnected, nil)
	case *events.PushName:
		h.publish(KindContact, store.Contact{
			JID:      evt.JID.ToNonAD().String(),
			PushName: evt.NewPushName,
		})
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.publish(KindLoggedOut, evt.Reason.String())
	}
}

func (h *EventHandler) publish(kind string, payload any) {
	h.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var (
		msgs     []Inbound
		contacts []store.Contact
	)
	for _, conv := range data.GetConversations() {
		chatJID := NormalizeJID(conv.GetID())
		if name := conv.GetName(); name != "" {
			contacts = append(contacts, store.Contact{JID: chatJID, Name: name})
		}
		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			info := wmsg.GetMessage()
			parsed := &ParsedMessage{
				ChatJID:     chatJID,
				MsgID:       wmsg.GetKey().GetID(),
				SenderJID:   NormalizeJID(wmsg.GetKey().GetParticipant()),
				SenderName:  wmsg.GetPushName(),
				Body:        extractTextBody(info),
				MessageType: detectMessageType(info),
				FromMe:      wmsg.GetKey().GetFromMe(),
				Timestamp:   int64(wmsg.GetMessageTimestamp()) * 1000,
			}
			msgs = append(msgs, parsed.ToInbound())
		}
	}

	if len(contacts) > 0 {
		h.publish(KindContactBatch, contacts)
	}
	if len(msgs) > 0 {
		h.logger.Info("history sync batch", zap.Int("messages", len(msgs)))
		h.publish(KindHistory, msgs)
	}
}
