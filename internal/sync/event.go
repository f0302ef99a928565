package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/livesync/internal/entity"
)

// Table names the record family a change event belongs to.
type Table string

const (
	Messages      Table = "messages"
	Conversations Table = "conversations"
)

// Op is the kind of change.
type Op string

const (
	Insert Op = "insert"
	Update Op = "update"
)

// ChangeEvent is one authoritative change pushed by the remote side. Exactly
// one of Message or Conversation is set, matching Table.
type ChangeEvent struct {
	Table        Table
	Op           Op
	Message      *entity.Message
	Conversation *entity.Conversation
}

// Scope selects the events a subscription receives. An empty ConversationID
// is the list scope: every conversation summary change.
type Scope struct {
	ConversationID string
}

// ListScope is the conversation list scope.
var ListScope = Scope{}

// IsList reports whether s is the conversation list scope.
func (s Scope) IsList() bool { return s.ConversationID == "" }

func (s Scope) String() string {
	if s.IsList() {
		return "conversations"
	}
	return "messages/" + s.ConversationID
}

// Stream is a live feed of change events. Recv blocks until the next event
// or until the stream fails; any error ends the stream.
type Stream interface {
	Recv() (ChangeEvent, error)
	Close() error
}

// Source is the authoritative side as seen by the client engine.
type Source interface {
	Subscribe(ctx context.Context, scope Scope) (Stream, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]entity.Message, error)
	ListConversations(ctx context.Context, limit int) ([]entity.Conversation, error)
}

// ErrOutOfScope is returned by Validate for events that do not belong to the
// subscription.
var ErrOutOfScope = errors.New("event outside subscription scope")

// Validate checks that ev is complete and belongs to scope.
func (ev ChangeEvent) Validate(scope Scope) error {
	if ev.Op != Insert && ev.Op != Update {
		return fmt.Errorf("%w: unknown op %q", entity.ErrInvalidRecord, ev.Op)
	}
	switch ev.Table {
	case Messages:
		if ev.Message == nil {
			return fmt.Errorf("%w: message event without record", entity.ErrInvalidRecord)
		}
		if err := ev.Message.Validate(); err != nil {
			return err
		}
		if scope.IsList() || ev.Message.ConversationID != scope.ConversationID {
			return fmt.Errorf("%w: message %s for %s", ErrOutOfScope, ev.Message.ID, ev.Message.ConversationID)
		}
	case Conversations:
		if ev.Conversation == nil {
			return fmt.Errorf("%w: conversation event without record", entity.ErrInvalidRecord)
		}
		if err := ev.Conversation.Validate(); err != nil {
			return err
		}
		if !scope.IsList() {
			return fmt.Errorf("%w: conversation %s", ErrOutOfScope, ev.Conversation.ID)
		}
	default:
		return fmt.Errorf("%w: unknown table %q", entity.ErrInvalidRecord, ev.Table)
	}
	return nil
}
