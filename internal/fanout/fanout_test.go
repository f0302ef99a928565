package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/status"
	intsync "github.com/matheus3301/livesync/internal/sync"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
	got  chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{got: make(chan struct{}, 16)}
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, published{subject, data})
	p.mu.Unlock()
	p.got <- struct{}{}
	return p.err
}

func (p *fakePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func messageEvent(conv, id string) intsync.ChangeEvent {
	return intsync.ChangeEvent{
		Table: intsync.Messages,
		Op:    intsync.Insert,
		Message: &entity.Message{
			ID:             id,
			ConversationID: conv,
			Direction:      entity.Incoming,
			Content:        entity.Text("hi"),
			Status:         status.Delivered,
			CreatedAt:      time.UnixMilli(1700000000000),
		},
	}
}

func TestSubject(t *testing.T) {
	conv := entity.Conversation{ID: "c1"}
	tests := []struct {
		name string
		ev   intsync.ChangeEvent
		want string
	}{
		{"plain id", messageEvent("c1", "m1"), "livesync.messages.c1"},
		{"jid with dots", messageEvent("5511999@s.whatsapp.net", "m1"), "livesync.messages.5511999@s_whatsapp_net"},
		{"wildcards", messageEvent("a*b>c", "m1"), "livesync.messages.a_b_c"},
		{"summary", intsync.ChangeEvent{Table: intsync.Conversations, Op: intsync.Update, Conversation: &conv}, "livesync.conversations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Subject("livesync", tt.ev); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToken(t *testing.T) {
	if got := Token(""); got != "_" {
		t.Errorf("Token(\"\") = %q", got)
	}
	if got := Token("a b.c"); got != "a_b_c" {
		t.Errorf("Token() = %q", got)
	}
}

func TestForwardEncodesWireJSON(t *testing.T) {
	pub := newFakePublisher()
	m := New(bus.New(), pub, "", zap.NewNop())

	ev := messageEvent("c1", "m1")
	if err := m.Forward(ev); err != nil {
		t.Fatal(err)
	}
	msgs := pub.snapshot()
	if len(msgs) != 1 || msgs[0].subject != "livesync.messages.c1" {
		t.Fatalf("published = %+v", msgs)
	}
	got, err := api.UnmarshalEvent(msgs[0].data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ev, got); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestForwardReturnsPublishError(t *testing.T) {
	pub := newFakePublisher()
	pub.err = errors.New("nats down")
	m := New(bus.New(), pub, "x", zap.NewNop())
	if err := m.Forward(messageEvent("c1", "m1")); !errors.Is(err, pub.err) {
		t.Errorf("Forward() error = %v, want %v", err, pub.err)
	}
}

func TestRunMirrorsChangeEventsOnly(t *testing.T) {
	b := bus.New()
	pub := newFakePublisher()
	m := New(b, pub, "ls", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for b.Subscribers() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("mirror did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(bus.Event{Kind: "wa/message", Payload: "ignored"})
	b.Publish(bus.Event{Kind: bus.MessageKind("c1", bus.OpInsert), Payload: "not an event"})
	b.Publish(bus.Event{Kind: bus.MessageKind("c1", bus.OpInsert), Payload: messageEvent("c1", "m1")})

	select {
	case <-pub.got:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not mirrored")
	}
	if msgs := pub.snapshot(); len(msgs) != 1 || msgs[0].subject != "ls.messages.c1" {
		t.Errorf("published = %+v", msgs)
	}
}
