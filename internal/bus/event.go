package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespaces of the change feed and of the WhatsApp adapter.
const (
	MessagesNamespace      = "messages/"
	ConversationsNamespace = "conversations/"
	WANamespace            = "wa/"
)

// Change feed operations, the last path segment of a change kind.
const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// MessagesScope is the namespace of one conversation's message changes.
func MessagesScope(conversationID string) string {
	return MessagesNamespace + conversationID + "/"
}

// MessageKind returns the kind of a message change in a conversation.
func MessageKind(conversationID, op string) string {
	return MessagesScope(conversationID) + op
}

// ConversationKind returns the kind of a conversation summary change.
func ConversationKind(op string) string {
	return ConversationsNamespace + op
}
