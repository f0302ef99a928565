package presenter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/outbox"
	"github.com/matheus3301/livesync/internal/status"
	intsync "github.com/matheus3301/livesync/internal/sync"
)

type fakeStream struct {
	scope  intsync.Scope
	events chan intsync.ChangeEvent
	fail   chan error
	ctx    context.Context
}

func (s *fakeStream) Recv() (intsync.ChangeEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.fail:
		return intsync.ChangeEvent{}, err
	case <-s.ctx.Done():
		return intsync.ChangeEvent{}, s.ctx.Err()
	}
}

func (s *fakeStream) Close() error { return nil }

type fakeSource struct {
	mu       sync.Mutex
	messages map[string][]entity.Message
	convs    []entity.Conversation
	streams  chan *fakeStream
	// gate, when set before Open, holds ListMessages until it is closed.
	gate chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		messages: make(map[string][]entity.Message),
		streams:  make(chan *fakeStream, 16),
	}
}

func (f *fakeSource) Subscribe(ctx context.Context, scope intsync.Scope) (intsync.Stream, error) {
	s := &fakeStream{
		scope:  scope,
		events: make(chan intsync.ChangeEvent, 64),
		fail:   make(chan error, 1),
		ctx:    ctx,
	}
	f.streams <- s
	return s, nil
}

func (f *fakeSource) ListMessages(ctx context.Context, conversationID string, limit int) ([]entity.Message, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]entity.Message(nil), msgs...), nil
}

func (f *fakeSource) ListConversations(context.Context, int) ([]entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]entity.Conversation(nil), f.convs...), nil
}

func (f *fakeSource) stream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-f.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for subscription")
		return nil
	}
}

type reply struct {
	msg entity.Message
	err error
}

type call struct {
	req   outbox.SendRequest
	reply chan reply
}

type fakeSender struct{ calls chan call }

func (f *fakeSender) Send(ctx context.Context, req outbox.SendRequest) (entity.Message, error) {
	c := call{req: req, reply: make(chan reply, 1)}
	f.calls <- c
	select {
	case r := <-c.reply:
		return r.msg, r.err
	case <-ctx.Done():
		return entity.Message{}, ctx.Err()
	}
}

func (f *fakeSender) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send call")
		return call{}
	}
}

type env struct {
	loop   *Loop
	src    *fakeSource
	sender *fakeSender
	thread *Thread
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		loop:   NewLoop(64, nil),
		src:    newFakeSource(),
		sender: &fakeSender{calls: make(chan call, 8)},
	}
	e.thread = NewThread(e.loop, e.src, e.sender, ThreadConfig{
		PageSize:          100,
		EstimateRowHeight: 1,
		DayRowHeight:      1,
		Location:          time.UTC,
		Ingest: intsync.IngestorConfig{
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.loop.Run(ctx) }()
	t.Cleanup(func() {
		e.thread.Close()
		cancel()
	})
	return e
}

// open opens conversationID and waits for its initial load.
func (e *env) open(t *testing.T, conversationID string) *fakeStream {
	t.Helper()
	if err := e.thread.Open(conversationID); err != nil {
		t.Fatal(err)
	}
	s := e.src.stream(t)
	eventually(t, e.thread, func(s *Snapshot) bool {
		return s.ConversationID == conversationID && s.Loaded
	})
	return s
}

func eventually(t *testing.T, th *Thread, cond func(*Snapshot) bool) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := th.Window()
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met; last snapshot: %+v", s)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var day0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func message(id, conv string, dir entity.Direction, body string, st status.Status, at time.Time) entity.Message {
	return entity.Message{
		ID:             id,
		ConversationID: conv,
		Direction:      dir,
		Content:        entity.Text(body),
		Status:         st,
		CreatedAt:      at,
	}
}

func push(s *fakeStream, op intsync.Op, m entity.Message) {
	s.events <- intsync.ChangeEvent{Table: intsync.Messages, Op: op, Message: &m}
}

// messageRows returns "id/status" for every message row in the window.
func messageRows(s *Snapshot) []string {
	var out []string
	for _, r := range s.Rows {
		if r.Kind == MessageRow {
			out = append(out, r.Message.ID+"/"+string(r.Message.Status))
		}
	}
	return out
}

func TestLoopRunsHooksOncePerBatch(t *testing.T) {
	l := NewLoop(16, nil)
	var before, after int
	l.Hook(Batch{Before: func() { before++ }, After: func() { after++ }})

	// Queue several tasks before the loop starts so they form one batch.
	ran := 0
	for range 5 {
		if err := l.Post(func() { ran++ }); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	if err := l.Do(func() {}); err != nil {
		t.Fatal(err)
	}
	var b, a, r int
	if err := l.Do(func() { b, a, r = before, after, ran }); err != nil {
		t.Fatal(err)
	}
	if r != 5 {
		t.Errorf("ran %d tasks, want 5", r)
	}
	if b != a || b > 3 {
		t.Errorf("before=%d after=%d, want equal and batched", b, a)
	}
}

func TestLoopRejectsPostsAfterClose(t *testing.T) {
	l := NewLoop(1, nil)
	l.Close()
	if err := l.Post(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Post() = %v, want ErrClosed", err)
	}
	if err := l.Do(func() {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Do() = %v, want ErrClosed", err)
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Run() = %v, want ErrClosed", err)
	}
}

// Scenario A.
func TestThreadSubmitThenResolve(t *testing.T) {
	e := newEnv(t)
	e.thread.Resize(50)
	e.open(t, "c1")

	tempID, err := e.thread.Submit(entity.Payload{Content: entity.Text("hi")})
	if err != nil {
		t.Fatal(err)
	}
	s := e.thread.Window()
	if diff := cmp.Diff([]string{tempID + "/pending"}, messageRows(s)); diff != "" {
		t.Fatalf("rows after submit (-want +got):\n%s", diff)
	}
	if s.Pending != 1 {
		t.Errorf("pending = %d, want 1", s.Pending)
	}

	c := e.sender.next(t)
	c.reply <- reply{msg: message("m1", "c1", entity.Outgoing, "hi", status.Sent, day0)}
	s = eventually(t, e.thread, func(s *Snapshot) bool { return s.Pending == 0 })
	if diff := cmp.Diff([]string{"m1/sent"}, messageRows(s)); diff != "" {
		t.Errorf("rows after resolve (-want +got):\n%s", diff)
	}
}

// Scenario B and the race with the send answer.
func TestThreadPushEchoBeatsSendAnswer(t *testing.T) {
	e := newEnv(t)
	e.thread.Resize(50)
	stream := e.open(t, "c1")

	tempID, err := e.thread.Submit(entity.Payload{Content: entity.Text("hi")})
	if err != nil {
		t.Fatal(err)
	}
	c := e.sender.next(t)

	push(stream, intsync.Insert, message("m1", "c1", entity.Outgoing, "hi", status.Sent, day0))
	s := eventually(t, e.thread, func(s *Snapshot) bool { return s.Pending == 0 })
	if diff := cmp.Diff([]string{"m1/sent"}, messageRows(s)); diff != "" {
		t.Fatalf("rows after echo (-want +got):\n%s", diff)
	}

	c.reply <- reply{msg: message("m1", "c1", entity.Outgoing, "hi", status.Sent, day0)}
	eventually(t, e.thread, func(*Snapshot) bool {
		st, _ := e.thread.WriteState(tempID)
		return st == outbox.Superseded
	})
	if diff := cmp.Diff([]string{"m1/sent"}, messageRows(e.thread.Window())); diff != "" {
		t.Errorf("rows after late answer (-want +got):\n%s", diff)
	}
}

// Scenario C and idempotent redelivery.
func TestThreadUpdateForUnknownIDAppends(t *testing.T) {
	e := newEnv(t)
	e.thread.Resize(50)
	stream := e.open(t, "c1")

	m := message("m7", "c1", entity.Incoming, "edited elsewhere", status.Delivered, day0)
	for range 3 {
		push(stream, intsync.Update, m)
	}
	push(stream, intsync.Insert, message("m8", "c1", entity.Incoming, "next", status.Sent, day0))
	s := eventually(t, e.thread, func(s *Snapshot) bool { return s.Messages == 2 })
	if diff := cmp.Diff([]string{"m7/delivered", "m8/sent"}, messageRows(s)); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
}

func seed(e *env, conv string, n int) {
	e.src.mu.Lock()
	defer e.src.mu.Unlock()
	for i := range n {
		id := "m" + string(rune('A'+i/26)) + string(rune('a'+i%26))
		e.src.messages[conv] = append(e.src.messages[conv],
			message(id, conv, entity.Incoming, id, status.Read, day0.Add(time.Duration(i)*time.Second)))
	}
}

// Scenario D.
func TestThreadAnchorsToBottomOnlyWhenThere(t *testing.T) {
	e := newEnv(t)
	seed(e, "c1", 40)
	e.thread.Resize(10)
	stream := e.open(t, "c1")

	// 40 messages plus one day row, one line each.
	s := e.thread.Window()
	if s.Count != 41 || s.Window.ScrollTop != 31 || !s.AtBottom {
		t.Fatalf("initial window = count %d scroll %d bottom %v", s.Count, s.Window.ScrollTop, s.AtBottom)
	}

	push(stream, intsync.Insert, message("new1", "c1", entity.Incoming, "x", status.Sent, day0.Add(time.Minute)))
	s = eventually(t, e.thread, func(s *Snapshot) bool { return s.Messages == 41 })
	if s.Window.ScrollTop != 32 || s.Rows[len(s.Rows)-1].Key != "new1" {
		t.Errorf("at bottom: scroll %d, last row %q; want 32 and new1", s.Window.ScrollTop, s.Rows[len(s.Rows)-1].Key)
	}

	e.thread.ScrollTo(5)
	eventually(t, e.thread, func(s *Snapshot) bool { return s.Window.ScrollTop == 5 })

	push(stream, intsync.Insert, message("new2", "c1", entity.Incoming, "y", status.Sent, day0.Add(2*time.Minute)))
	s = eventually(t, e.thread, func(s *Snapshot) bool { return s.Messages == 42 })
	if s.Window.ScrollTop != 5 || s.AtBottom {
		t.Errorf("scrolled up: scroll %d bottom %v; want 5 and false", s.Window.ScrollTop, s.AtBottom)
	}
}

func TestThreadRemeasureAboveViewportKeepsPosition(t *testing.T) {
	e := newEnv(t)
	seed(e, "c1", 30)
	e.thread.Resize(10)
	e.open(t, "c1")

	e.thread.ScrollTo(15)
	s := eventually(t, e.thread, func(s *Snapshot) bool { return s.Window.ScrollTop == 15 })
	first := s.Rows[0]

	// Row 2 (message "mAb") grows by four lines while the user reads further down.
	e.thread.Remeasure(2, "mAb", 5)
	s = eventually(t, e.thread, func(s *Snapshot) bool { return s.Window.ScrollTop == 19 })
	if s.Rows[0].Key != first.Key {
		t.Errorf("first visible row = %q, want %q", s.Rows[0].Key, first.Key)
	}

	// Growth below the viewport top leaves the offset alone.
	e.thread.Remeasure(s.Rows[3].Index, s.Rows[3].Key, 3)
	e.loop.Do(func() {})
	if got := e.thread.Window().Window.ScrollTop; got != 19 {
		t.Errorf("scroll after in-view remeasure = %d, want 19", got)
	}
}

func TestThreadInsertsDaySeparators(t *testing.T) {
	e := newEnv(t)
	e.src.messages["c1"] = []entity.Message{
		message("a", "c1", entity.Incoming, "a", status.Read, day0),
		message("b", "c1", entity.Incoming, "b", status.Read, day0.Add(time.Hour)),
		message("c", "c1", entity.Incoming, "c", status.Read, day0.Add(24*time.Hour)),
	}
	e.thread.Resize(50)
	e.open(t, "c1")

	var keys []string
	for _, r := range e.thread.Window().Rows {
		keys = append(keys, r.Key)
	}
	want := []string{"day:2026-03-01:a", "a", "b", "day:2026-03-02:c", "c"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("row keys (-want +got):\n%s", diff)
	}
}

func TestThreadDropsAnswersAfterSwitch(t *testing.T) {
	e := newEnv(t)
	e.thread.Resize(50)
	e.open(t, "c1")

	tempID, err := e.thread.Submit(entity.Payload{Content: entity.Text("hi")})
	if err != nil {
		t.Fatal(err)
	}
	c := e.sender.next(t)

	e.open(t, "c2")
	c.reply <- reply{msg: message("m1", "c1", entity.Outgoing, "hi", status.Sent, day0)}
	e.loop.Do(func() {})

	if st, _ := e.thread.WriteState(tempID); st != outbox.Stale {
		t.Errorf("write state = %v, want stale", st)
	}
	s := e.thread.Window()
	if s.ConversationID != "c2" || s.Messages != 0 {
		t.Errorf("stale answer leaked into c2: %+v", s)
	}
}

func TestThreadRetryAfterFailure(t *testing.T) {
	e := newEnv(t)
	e.thread.Resize(50)
	stream := e.open(t, "c1")
	push(stream, intsync.Insert, message("m0", "c1", entity.Incoming, "hey", status.Read, day0))
	eventually(t, e.thread, func(s *Snapshot) bool { return s.Messages == 1 })

	tempID, _ := e.thread.Submit(entity.Payload{Content: entity.Text("hi")})
	e.sender.next(t).reply <- reply{err: errors.New("offline")}
	eventually(t, e.thread, func(s *Snapshot) bool {
		rows := messageRows(s)
		return len(rows) == 2 && rows[1] == tempID+"/failed"
	})

	retryID, err := e.thread.Retry(tempID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"m0/read", retryID + "/pending"}, messageRows(e.thread.Window())); diff != "" {
		t.Errorf("rows after retry (-want +got):\n%s", diff)
	}

	e.sender.next(t).reply <- reply{msg: message("m1", "c1", entity.Outgoing, "hi", status.Sent, day0)}
	s := eventually(t, e.thread, func(s *Snapshot) bool { return s.Pending == 0 })
	if diff := cmp.Diff([]string{"m0/read", "m1/sent"}, messageRows(s)); diff != "" {
		t.Errorf("rows after resolve (-want +got):\n%s", diff)
	}
}

func TestThreadResyncAfterStreamError(t *testing.T) {
	e := newEnv(t)
	seed(e, "c1", 3)
	e.thread.Resize(50)
	stream := e.open(t, "c1")

	e.src.mu.Lock()
	e.src.messages["c1"] = append(e.src.messages["c1"],
		message("late", "c1", entity.Incoming, "missed", status.Sent, day0.Add(time.Hour)))
	e.src.mu.Unlock()
	stream.fail <- errors.New("stream reset")
	e.src.stream(t)

	s := eventually(t, e.thread, func(s *Snapshot) bool { return s.Messages == 4 })
	if diff := cmp.Diff([]string{"mAa/read", "mAb/read", "mAc/read", "late/sent"}, messageRows(s)); diff != "" {
		t.Errorf("rows after resync (-want +got):\n%s", diff)
	}
}

func TestThreadSubmitDuringInitialLoadStaysLast(t *testing.T) {
	e := newEnv(t)
	e.src.messages["c1"] = []entity.Message{
		message("h1", "c1", entity.Incoming, "one", status.Read, day0),
		message("h2", "c1", entity.Outgoing, "two", status.Read, day0.Add(time.Minute)),
	}
	gate := make(chan struct{})
	e.src.gate = gate
	e.thread.Resize(50)
	if err := e.thread.Open("c1"); err != nil {
		t.Fatal(err)
	}
	e.src.stream(t)

	tempID, err := e.thread.Submit(entity.Payload{Content: entity.Text("new")})
	if err != nil {
		t.Fatal(err)
	}
	close(gate)

	s := eventually(t, e.thread, func(s *Snapshot) bool { return s.Loaded })
	if diff := cmp.Diff([]string{"h1/read", "h2/read", tempID + "/pending"}, messageRows(s)); diff != "" {
		t.Fatalf("rows after load (-want +got):\n%s", diff)
	}
	if first := s.Rows[0]; first.Kind != DayRow || first.Key != "day:2026-03-01:h1" {
		t.Errorf("first row = %+v, want day row above h1", first)
	}
	if !s.AtBottom {
		t.Error("view left the bottom after the history load")
	}

	e.sender.next(t).reply <- reply{msg: message("m3", "c1", entity.Outgoing, "new", status.Sent, day0.Add(2*time.Minute))}
	s = eventually(t, e.thread, func(s *Snapshot) bool { return s.Pending == 0 })
	if diff := cmp.Diff([]string{"h1/read", "h2/read", "m3/sent"}, messageRows(s)); diff != "" {
		t.Errorf("rows after resolve (-want +got):\n%s", diff)
	}
}

func TestThreadRepeatedDayGetsDistinctSeparator(t *testing.T) {
	e := newEnv(t)
	e.src.messages["c1"] = []entity.Message{
		message("a", "c1", entity.Incoming, "a", status.Read, day0),
	}
	e.thread.Resize(50)
	stream := e.open(t, "c1")

	push(stream, intsync.Insert, message("b", "c1", entity.Incoming, "b", status.Sent, day0.Add(24*time.Hour)))
	eventually(t, e.thread, func(s *Snapshot) bool { return s.Messages == 2 })

	// A resync brings back a message from the first day, after b.
	e.src.mu.Lock()
	e.src.messages["c1"] = append(e.src.messages["c1"],
		message("late", "c1", entity.Incoming, "late", status.Sent, day0.Add(time.Hour)))
	e.src.mu.Unlock()
	stream.fail <- errors.New("stream reset")
	e.src.stream(t)
	s := eventually(t, e.thread, func(s *Snapshot) bool { return s.Messages == 3 })

	var keys []string
	for _, r := range s.Rows {
		keys = append(keys, r.Key)
	}
	want := []string{"day:2026-03-01:a", "a", "day:2026-03-02:b", "b", "day:2026-03-01:late", "late"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("row keys (-want +got):\n%s", diff)
	}

	e.thread.Remeasure(4, "day:2026-03-01:late", 3)
	s = eventually(t, e.thread, func(s *Snapshot) bool { return s.Rows[4].Height == 3 })
	if s.Rows[0].Height != 1 {
		t.Errorf("first separator height = %d, want 1", s.Rows[0].Height)
	}
}

func TestThreadSubmitWithoutConversation(t *testing.T) {
	e := newEnv(t)
	if _, err := e.thread.Submit(entity.Payload{Content: entity.Text("hi")}); !errors.Is(err, ErrNoConversation) {
		t.Errorf("Submit() = %v, want ErrNoConversation", err)
	}
}

func TestConversationsOrderAndPatch(t *testing.T) {
	loop := NewLoop(16, nil)
	src := newFakeSource()
	src.convs = []entity.Conversation{
		{ID: "a", Title: "Alice", LastMessageAt: day0},
		{ID: "b", Title: "Bob", LastMessageAt: day0.Add(time.Hour), UnreadCount: 2},
		{ID: "c", Title: "Carol", LastMessageAt: day0.Add(-time.Hour)},
	}
	list := NewConversations(loop, src, ConversationsConfig{RowHeight: 2, PageSize: 50,
		Ingest: intsync.IngestorConfig{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		list.Close()
		cancel()
	})

	list.Resize(4)
	list.Select("b")
	if err := list.Start(); err != nil {
		t.Fatal(err)
	}
	stream := src.stream(t)

	waitList := func(cond func(*ListSnapshot) bool) *ListSnapshot {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			if s := list.Window(); cond(s) {
				return s
			}
			if time.Now().After(deadline) {
				t.Fatalf("list condition not met: %+v", list.Window())
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
	order := func(s *ListSnapshot) []string {
		var ids []string
		for _, r := range s.Rows {
			ids = append(ids, r.Conversation.ID)
		}
		return ids
	}

	s := waitList(func(s *ListSnapshot) bool { return s.Loaded })
	if diff := cmp.Diff([]string{"b", "a"}, order(s)); diff != "" {
		t.Errorf("visible order (-want +got):\n%s", diff)
	}
	if s.Count != 3 || s.Unread != 2 || !s.Rows[0].Selected {
		t.Errorf("snapshot = %+v", s)
	}

	stream.events <- intsync.ChangeEvent{Table: intsync.Conversations, Op: intsync.Update,
		Conversation: &entity.Conversation{ID: "c", LastMessageAt: day0.Add(2 * time.Hour), UnreadCount: 1}}
	s = waitList(func(s *ListSnapshot) bool { return s.Unread == 3 })
	if diff := cmp.Diff([]string{"c", "b"}, order(s)); diff != "" {
		t.Errorf("order after patch (-want +got):\n%s", diff)
	}
	if s.Rows[0].Conversation.Title != "Carol" {
		t.Errorf("patch dropped the title: %+v", s.Rows[0].Conversation)
	}

	list.Move(1)
	s = waitList(func(s *ListSnapshot) bool { return s.Selected == "a" })
	if s.Window.ScrollTop != 2 {
		t.Errorf("scroll = %d, want 2 to reveal the selection", s.Window.ScrollTop)
	}
}
