package outbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/status"
	intsync "github.com/matheus3301/livesync/internal/sync"
	"go.uber.org/zap"
)

// ErrNotRetryable is returned by Retry for rows that are not failed local writes.
var ErrNotRetryable = errors.New("message is not a failed local write")

// SendRequest is one outgoing message as handed to the remote side. ClientID
// is the idempotency key: the remote side sends at most once per ClientID.
type SendRequest struct {
	ClientID       string
	ConversationID string
	Content        *string
	MediaRef       *string
}

// Sender performs the remote send and returns the durable record.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (entity.Message, error)
}

// Scheduler runs callbacks on the goroutine that owns the store. Post drops fn
// when gen is no longer current and reports whether fn was queued.
type Scheduler interface {
	Generation() uint64
	Post(gen uint64, fn func()) bool
}

// State is the resolution state of a tracked write.
type State int

const (
	// Inflight means the send call has not answered yet.
	Inflight State = iota
	// Resolved means the send answer replaced the placeholder.
	Resolved
	// Failed means the send call failed and the row shows as failed.
	Failed
	// Superseded means the row was taken over before the answer arrived,
	// by the push channel or by a retry.
	Superseded
	// Stale means the view the write belonged to was closed.
	Stale
)

func (s State) String() string {
	switch s {
	case Inflight:
		return "inflight"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	case Superseded:
		return "superseded"
	case Stale:
		return "stale"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Write is the bookkeeping for one submit or retry attempt.
type Write struct {
	TempID     string
	ClientID   string
	Request    SendRequest
	Generation uint64
	State      State
	DurableID  string
	Err        error
}

var tempSeq atomic.Uint64

// NextTempID returns a process-wide unique temporary id.
func NextTempID() string {
	return entity.TempPrefix + strconv.FormatUint(tempSeq.Add(1), 10)
}

// Tracker inserts optimistic placeholders and resolves them when the send
// call answers. All methods must run on the scheduler's goroutine; only the
// send calls themselves run elsewhere.
type Tracker struct {
	store  *entity.Store
	rec    *intsync.Reconciler
	sender Sender
	sched  Scheduler
	logger *zap.Logger

	writes  map[string]*Write
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	now     func() time.Time
	notify  func(intsync.Result)
}

// NewTracker creates a tracker writing placeholders into store.
func NewTracker(store *entity.Store, rec *intsync.Reconciler, sender Sender, sched Scheduler, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		store:   store,
		rec:     rec,
		sender:  sender,
		sched:   sched,
		logger:  logger,
		writes:  make(map[string]*Write),
		ctx:     ctx,
		cancel:  cancel,
		timeout: 30 * time.Second,
		now:     time.Now,
		notify:  func(intsync.Result) {},
	}
}

// SetTimeout bounds every send call.
func (t *Tracker) SetTimeout(d time.Duration) { t.timeout = d }

// OnChange registers fn to observe every store mutation made by the tracker.
func (t *Tracker) OnChange(fn func(intsync.Result)) { t.notify = fn }

// Submit validates p, inserts a pending placeholder and starts the send. It
// returns the placeholder's temporary id.
func (t *Tracker) Submit(p entity.Payload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	tempID := NextTempID()
	m := entity.Message{
		ID:             tempID,
		ConversationID: p.ConversationID,
		Direction:      entity.Outgoing,
		Content:        p.Content,
		MediaRef:       p.MediaRef,
		Status:         status.Pending,
		CreatedAt:      t.now(),
	}
	i, _ := t.store.Append(m)
	t.notify(intsync.Result{Outcome: intsync.Appended, Index: i, ID: tempID, Removed: -1})

	w := &Write{
		TempID:   tempID,
		ClientID: uuid.NewString(),
		Request: SendRequest{
			ConversationID: p.ConversationID,
			Content:        p.Content,
			MediaRef:       p.MediaRef,
		},
	}
	w.Request.ClientID = w.ClientID
	t.dispatch(w)
	return tempID, nil
}

// Retry re-sends a failed placeholder. The row keeps its slot and gets a fresh
// temporary id; the client id is reused so the remote side can still
// deduplicate an attempt that did land.
func (t *Tracker) Retry(messageID string) (string, error) {
	row, i, ok := t.store.Get(messageID)
	if !ok || !row.Temporary() || row.Direction != entity.Outgoing || row.Status == status.Pending {
		return "", ErrNotRetryable
	}
	if err := status.Transition(row.Status, status.Pending); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotRetryable, err)
	}

	prev := t.writes[messageID]
	w := &Write{TempID: NextTempID()}
	if prev != nil {
		prev.State = Superseded
		w.ClientID = prev.ClientID
		w.Request = prev.Request
	} else {
		w.ClientID = uuid.NewString()
		w.Request = SendRequest{
			ClientID:       w.ClientID,
			ConversationID: row.ConversationID,
			Content:        row.Content,
			MediaRef:       row.MediaRef,
		}
	}

	row.ID = w.TempID
	row.Status = status.Pending
	if _, ok := t.store.Replace(messageID, row); !ok {
		return "", ErrNotRetryable
	}
	t.notify(intsync.Result{Outcome: intsync.Updated, Index: i, ID: w.TempID, PreviousID: messageID, Removed: -1})

	t.logger.Info("retrying send",
		zap.String("temp_id", w.TempID), zap.String("previous_id", messageID), zap.String("client_id", w.ClientID))
	t.dispatch(w)
	return w.TempID, nil
}

// State returns the state of the write that created tempID.
func (t *Tracker) State(tempID string) (State, bool) {
	w, ok := t.writes[tempID]
	if !ok {
		return 0, false
	}
	return w.State, true
}

// Lookup returns the write that created tempID.
func (t *Tracker) Lookup(tempID string) (Write, bool) {
	w, ok := t.writes[tempID]
	if !ok {
		return Write{}, false
	}
	return *w, true
}

// Invalidate marks every in-flight write stale and forgets settled ones.
// Answers to stale writes are dropped by the scheduler; the sends themselves
// are not cancelled since the remote side may already have accepted them.
func (t *Tracker) Invalidate() {
	for id, w := range t.writes {
		if w.State == Inflight {
			w.State = Stale
			continue
		}
		delete(t.writes, id)
	}
}

// Close cancels all outstanding send calls.
func (t *Tracker) Close() {
	t.cancel()
}

func (t *Tracker) dispatch(w *Write) {
	w.Generation = t.sched.Generation()
	w.State = Inflight
	t.writes[w.TempID] = w

	go func() {
		ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
		defer cancel()
		durable, err := t.sender.Send(ctx, w.Request)
		if !t.sched.Post(w.Generation, func() { t.settle(w, durable, err) }) {
			t.logger.Debug("dropping send answer for closed view",
				zap.String("temp_id", w.TempID), zap.Uint64("generation", w.Generation))
		}
	}()
}

func (t *Tracker) settle(w *Write, durable entity.Message, err error) {
	if w.State != Inflight {
		return
	}
	if err == nil {
		res, rerr := t.rec.Resolve(w.TempID, durable)
		if rerr == nil {
			if !res.Changed() {
				w.State = Superseded
				return
			}
			w.State = Resolved
			w.DurableID = durable.ID
			t.notify(res)
			return
		}
		err = rerr
	}

	w.Err = err
	row, i, ok := t.store.Get(w.TempID)
	if !ok {
		w.State = Superseded
		return
	}
	if terr := status.Transition(row.Status, status.Failed); terr != nil {
		w.State = Superseded
		t.logger.Warn("send failure ignored for settled row",
			zap.String("temp_id", w.TempID), zap.Error(terr), zap.NamedError("send_error", err))
		return
	}
	w.State = Failed
	row.Status = status.Failed
	t.store.Replace(w.TempID, row)
	t.notify(intsync.Result{Outcome: intsync.Updated, Index: i, ID: w.TempID, Removed: -1})
	t.logger.Error("send failed",
		zap.String("temp_id", w.TempID), zap.String("client_id", w.ClientID), zap.Error(err))
}
