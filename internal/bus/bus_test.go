package bus

import (
	"errors"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(MessagesScope("c1"), 10)
	defer sub.Close()

	b.Publish(Event{Kind: MessageKind("c1", OpInsert), Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-sub.C():
		if evt.Kind != "messages/c1/insert" {
			t.Errorf("got kind %q, want messages/c1/insert", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	sub := b.Subscribe(MessagesScope("c1"), 10)
	defer sub.Close()

	// c10 shares a string prefix with c1 but not a path prefix.
	b.Publish(Event{Kind: MessageKind("c10", OpInsert)})
	b.Publish(Event{Kind: ConversationKind(OpUpdate)})
	b.Publish(Event{Kind: MessageKind("c1", OpUpdate)})

	select {
	case evt := <-sub.C():
		if evt.Kind != "messages/c1/update" {
			t.Errorf("got kind %q, want messages/c1/update", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-sub.C():
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(WANamespace, 10)
	sub.Close()
	sub.Close()

	b.Publish(Event{Kind: "wa/connected"})

	if _, ok := <-sub.C(); ok {
		t.Error("received event after unsubscribe")
	}
	if sub.Err() != nil {
		t.Errorf("Err() = %v, want nil", sub.Err())
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}

func TestOverflowTerminatesSubscriber(t *testing.T) {
	b := New()
	slow := b.Subscribe("test/", 1)
	fast := b.Subscribe("test/", 10)
	defer fast.Close()

	b.Publish(Event{Kind: "test/one"})
	b.Publish(Event{Kind: "test/two"})

	evt, ok := <-slow.C()
	if !ok || evt.Kind != "test/one" {
		t.Fatalf("got %q, %v; want test/one", evt.Kind, ok)
	}
	if _, ok := <-slow.C(); ok {
		t.Fatal("overflowed subscription still open")
	}
	if !errors.Is(slow.Err(), ErrOverflow) {
		t.Errorf("Err() = %v, want ErrOverflow", slow.Err())
	}

	// Other subscribers are unaffected.
	if got := len(fast.C()); got != 2 {
		t.Errorf("fast subscriber buffered %d events, want 2", got)
	}
	slow.Close()
}
