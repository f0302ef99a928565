package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/livesync/internal/status"
)

// TempPrefix marks ids generated locally before the server assigned one.
const TempPrefix = "local-"

var (
	// ErrEmptyPayload is returned for a submit with neither text nor media.
	ErrEmptyPayload = errors.New("payload needs text or a media reference")
	// ErrNoConversation is returned for a submit without a target conversation.
	ErrNoConversation = errors.New("payload has no conversation")
	// ErrInvalidRecord is wrapped by every durable record validation failure.
	ErrInvalidRecord = errors.New("invalid record")
)

// Direction tells who authored a message.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Incoming || d == Outgoing
}

// Message is a single chat message, either durable or a local placeholder.
type Message struct {
	ID             string
	ConversationID string
	Direction      Direction
	Content        *string
	MediaRef       *string
	Status         status.Status
	CreatedAt      time.Time
}

// Temporary reports whether the message still carries a local id.
func (m Message) Temporary() bool {
	return IsTemporaryID(m.ID)
}

// SameBody reports whether both messages carry the same text and media.
func (m Message) SameBody(o Message) bool {
	return equalPtr(m.Content, o.Content) && equalPtr(m.MediaRef, o.MediaRef)
}

// Text returns the content or an empty string.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Validate checks that a record coming from the authoritative side is
// complete enough to be stored.
func (m Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case m.Temporary():
		return fmt.Errorf("%w: id %q is not durable", ErrInvalidRecord, m.ID)
	case m.ConversationID == "":
		return fmt.Errorf("%w: message %s has no conversation", ErrInvalidRecord, m.ID)
	case !m.Direction.Valid():
		return fmt.Errorf("%w: message %s has direction %q", ErrInvalidRecord, m.ID, m.Direction)
	case !m.Status.Valid():
		return fmt.Errorf("%w: message %s has status %q", ErrInvalidRecord, m.ID, m.Status)
	}
	return nil
}

// IsTemporaryID reports whether id was generated locally.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// Payload is what the user submits from the composer.
type Payload struct {
	ConversationID string
	Content        *string
	MediaRef       *string
}

// Validate rejects payloads without a conversation or without any body.
func (p Payload) Validate() error {
	if p.ConversationID == "" {
		return ErrNoConversation
	}
	if blank(p.Content) && blank(p.MediaRef) {
		return ErrEmptyPayload
	}
	return nil
}

// Conversation is the denormalized summary shown in the conversation list.
type Conversation struct {
	ID                 string
	Title              string
	LastMessageAt      time.Time
	LastMessagePreview string
	UnreadCount        int
}

// Validate checks that a conversation patch identifies its target.
func (c Conversation) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: conversation without id", ErrInvalidRecord)
	}
	return nil
}

// Text is a helper for building optional content.
func Text(s string) *string {
	return &s
}

func blank(p *string) bool {
	return p == nil || strings.TrimSpace(*p) == ""
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
