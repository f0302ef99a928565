package wa

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/status"
)

// ParsedMessage is a normalized message ready for ingestion.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Timestamp   int64
}

// Inbound is a message seen on the WhatsApp connection, published on the bus
// as the payload of wa/message and, in batches, wa/history.
type Inbound struct {
	Message  entity.Message
	PushName string
}

// Receipt advances the status of messages we sent.
type Receipt struct {
	ConversationID string
	MessageIDs     []string
	Status         status.Status
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	return ParseHistoryMessage(evt.Message, evt.Info)
}

// ParseHistoryMessage normalizes a history sync message.
func ParseHistoryMessage(msg *waE2E.Message, info types.MessageInfo) *ParsedMessage {
	return &ParsedMessage{
		ChatJID:     info.Chat.ToNonAD().String(),
		MsgID:       info.ID,
		SenderJID:   info.Sender.ToNonAD().String(),
		SenderName:  info.PushName,
		Body:        extractTextBody(msg),
		MessageType: detectMessageType(msg),
		FromMe:      info.IsFromMe,
		Timestamp:   info.Timestamp.UnixMilli(),
	}
}

// ToMessage converts a ParsedMessage to a durable message. Messages we sent
// from another device arrive as sent; everything else has been delivered to us.
// Non-text messages carry a wa:<type>:<id> media reference.
func (p *ParsedMessage) ToMessage() entity.Message {
	m := entity.Message{
		ID:             p.MsgID,
		ConversationID: p.ChatJID,
		Direction:      entity.Incoming,
		Status:         status.Delivered,
		CreatedAt:      fromMillis(p.Timestamp),
	}
	if p.FromMe {
		m.Direction = entity.Outgoing
		m.Status = status.Sent
	}
	if p.Body != "" {
		m.Content = entity.Text(p.Body)
	}
	if p.MessageType != "text" {
		m.MediaRef = entity.Text("wa:" + p.MessageType + ":" + p.MsgID)
	}
	return m
}

// ToInbound wraps the message with the sender's push name.
func (p *ParsedMessage) ToInbound() Inbound {
	return Inbound{Message: p.ToMessage(), PushName: p.SenderName}
}

// ParseReceipt maps a receipt to a status advance. It reports false for
// receipt kinds that do not move a message status.
func ParseReceipt(evt *events.Receipt) (Receipt, bool) {
	var st status.Status
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		st = status.Delivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		st = status.Read
	default:
		return Receipt{}, false
	}
	if len(evt.MessageIDs) == 0 {
		return Receipt{}, false
	}
	ids := make([]string, len(evt.MessageIDs))
	for i, id := range evt.MessageIDs {
		ids[i] = string(id)
	}
	return Receipt{
		ConversationID: evt.Chat.ToNonAD().String(),
		MessageIDs:     ids,
		Status:         st,
	}, true
}

// NormalizeJID strips device and agent suffixes so every device of a user
// maps to the same conversation. Unparseable input is returned unchanged.
func NormalizeJID(s string) string {
	if s == "" {
		return ""
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return jid.ToNonAD().String()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
