package presenter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/outbox"
	intsync "github.com/matheus3301/livesync/internal/sync"
	"github.com/matheus3301/livesync/internal/virtual"
	"go.uber.org/zap"
)

// ErrNoConversation is returned by Submit when no conversation is open.
var ErrNoConversation = errors.New("no conversation open")

// ThreadConfig tunes the message thread view.
type ThreadConfig struct {
	PageSize          int
	Overscan          int
	BottomThreshold   int
	EstimateRowHeight int
	DayRowHeight      int
	SendTimeout       time.Duration
	Ingest            intsync.IngestorConfig
	Location          *time.Location
}

// RowKind distinguishes message rows from derived day separators.
type RowKind int

const (
	MessageRow RowKind = iota
	DayRow
)

// Row is one materialized row of a window.
type Row struct {
	Kind    RowKind
	Key     string
	Index   int
	Offset  int
	Height  int
	Day     time.Time
	Message entity.Message
}

// Snapshot is the immutable state handed to the renderer.
type Snapshot struct {
	ConversationID string
	Generation     uint64
	Loaded         bool
	Rows           []Row
	Window         virtual.Window
	Count          int
	Messages       int
	Pending        int
	AtBottom       bool
	Version        uint64
}

// Thread presents the messages of one open conversation.
type Thread struct {
	loop   *Loop
	source intsync.Source
	cfg    ThreadConfig
	logger *zap.Logger

	gen      atomic.Uint64
	snap     atomic.Pointer[Snapshot]
	base     context.Context
	cancel   context.CancelFunc
	onUpdate func(*Snapshot)

	// Everything below is owned by the loop goroutine.
	conversationID string
	loaded         bool
	store          *entity.Store
	rec            *intsync.Reconciler
	tracker        *outbox.Tracker
	heights        *virtual.Measured
	seps           []int          // store indices preceded by a day row
	known          map[string]int // measured heights by row key
	scrollTop      int
	viewport       int
	wasAtBottom    bool
	appended       bool
	remeasured     bool
	dirty          bool
	stopIngest     context.CancelFunc
}

// NewThread creates the thread presenter and registers it on loop. It must be
// called before the loop runs.
func NewThread(loop *Loop, source intsync.Source, sender outbox.Sender, cfg ThreadConfig, logger *zap.Logger) *Thread {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EstimateRowHeight <= 0 {
		cfg.EstimateRowHeight = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.PageSize > 0 {
		cfg.Ingest.Limit = cfg.PageSize
	}

	base, cancel := context.WithCancel(context.Background())
	t := &Thread{
		loop:    loop,
		source:  source,
		cfg:     cfg,
		logger:  logger.Named("thread"),
		base:    base,
		cancel:  cancel,
		store:   entity.NewStore(),
		heights: virtual.NewMeasured(cfg.EstimateRowHeight, cfg.Overscan),
		known:   make(map[string]int),
	}
	t.rec = intsync.NewReconciler(t.store, t.logger)
	t.tracker = outbox.NewTracker(t.store, t.rec, sender, t, t.logger)
	if cfg.SendTimeout > 0 {
		t.tracker.SetTimeout(cfg.SendTimeout)
	}
	t.tracker.OnChange(t.track)
	t.snap.Store(&Snapshot{})

	loop.Hook(Batch{Before: t.beforeBatch, After: t.afterBatch})
	return t
}

// OnUpdate registers fn to receive every published snapshot. fn runs on the
// loop goroutine and must not block. It must be called before the loop runs.
func (t *Thread) OnUpdate(fn func(*Snapshot)) { t.onUpdate = fn }

// Window returns the latest published snapshot. It is safe to call from any
// goroutine.
func (t *Thread) Window() *Snapshot { return t.snap.Load() }

// Generation implements outbox.Scheduler.
func (t *Thread) Generation() uint64 { return t.gen.Load() }

// Post implements outbox.Scheduler: fn runs on the loop unless the open
// conversation changed since gen was captured.
func (t *Thread) Post(gen uint64, fn func()) bool {
	err := t.loop.Post(func() {
		if t.gen.Load() != gen {
			return
		}
		fn()
	})
	return err == nil
}

// Open switches to conversationID. Callbacks and events belonging to the
// previous conversation are dropped from now on.
func (t *Thread) Open(conversationID string) error {
	return t.loop.Post(func() { t.open(conversationID) })
}

// Submit sends a message to the open conversation and returns its temporary id.
func (t *Thread) Submit(p entity.Payload) (string, error) {
	var (
		id  string
		err error
	)
	if derr := t.loop.Do(func() {
		if t.conversationID == "" {
			err = ErrNoConversation
			return
		}
		if p.ConversationID == "" {
			p.ConversationID = t.conversationID
		}
		if p.ConversationID != t.conversationID {
			err = fmt.Errorf("conversation %s is not open", p.ConversationID)
			return
		}
		id, err = t.tracker.Submit(p)
	}); derr != nil {
		return "", derr
	}
	return id, err
}

// Retry re-sends a failed message in place.
func (t *Thread) Retry(messageID string) (string, error) {
	var (
		id  string
		err error
	)
	if derr := t.loop.Do(func() { id, err = t.tracker.Retry(messageID) }); derr != nil {
		return "", derr
	}
	return id, err
}

// WriteState reports the tracker state of a temporary id.
func (t *Thread) WriteState(tempID string) (outbox.State, bool) {
	var (
		st outbox.State
		ok bool
	)
	if err := t.loop.Do(func() { st, ok = t.tracker.State(tempID) }); err != nil {
		return 0, false
	}
	return st, ok
}

// Scroll moves the viewport by dy.
func (t *Thread) Scroll(dy int) error {
	return t.loop.Post(func() {
		t.scrollTop += dy
		t.dirty = true
	})
}

// ScrollTo moves the viewport top to y.
func (t *Thread) ScrollTo(y int) error {
	return t.loop.Post(func() {
		t.scrollTop = y
		t.dirty = true
	})
}

// ScrollToBottom reveals the newest row.
func (t *Thread) ScrollToBottom() error {
	return t.loop.Post(func() {
		t.scrollTop = virtual.MaxScroll(t.heights.Total(), t.viewport)
		t.dirty = true
	})
}

// Resize sets the viewport height. A viewport resting at the bottom stays there.
func (t *Thread) Resize(height int) error {
	return t.loop.Post(func() {
		if height == t.viewport {
			return
		}
		bottom := t.atBottom()
		t.viewport = max(height, 0)
		if bottom {
			t.scrollTop = virtual.MaxScroll(t.heights.Total(), t.viewport)
		}
		t.dirty = true
	})
}

// Remeasure records the rendered height of the row at index with key. Stale
// reports whose key no longer sits at index are resolved by key or ignored.
// Growth above the viewport shifts the scroll offset so visible rows stay put.
func (t *Thread) Remeasure(index int, key string, height int) error {
	return t.loop.Post(func() { t.remeasure(index, key, height) })
}

// ResetMeasurements forgets all measured heights, for instance after the
// render width changed.
func (t *Thread) ResetMeasurements() error {
	return t.loop.Post(func() {
		clear(t.known)
		t.rebuild(sameIndex)
		t.dirty = true
	})
}

// Close stops the ingestor and abandons outstanding sends.
func (t *Thread) Close() {
	t.cancel()
	t.tracker.Close()
}

func (t *Thread) open(conversationID string) {
	gen := t.gen.Add(1)
	if t.stopIngest != nil {
		t.stopIngest()
		t.stopIngest = nil
	}
	t.tracker.Invalidate()
	t.conversationID = conversationID
	t.loaded = false
	t.store.Reset(nil)
	clear(t.known)
	t.seps = t.seps[:0]
	t.heights.Reset(0)
	t.scrollTop = 0
	t.dirty = true
	if conversationID == "" {
		return
	}

	ctx, cancel := context.WithCancel(t.base)
	t.stopIngest = cancel
	in := intsync.NewIngestor(t.source, intsync.Scope{ConversationID: conversationID},
		&threadHandler{t: t, gen: gen}, t.cfg.Ingest, t.logger)
	go func() {
		err := in.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			t.logger.Error("ingestor stopped", zap.String("conversation", conversationID), zap.Error(err))
		}
	}()
	t.logger.Debug("conversation opened", zap.String("conversation", conversationID), zap.Uint64("generation", gen))
}

// threadHandler forwards ingestor output onto the loop, tagged with the
// generation it was started for.
type threadHandler struct {
	t   *Thread
	gen uint64
}

func (h *threadHandler) HandleReload(r intsync.Reload) error {
	if !h.t.Post(h.gen, func() { h.t.applyReload(r) }) {
		return ErrClosed
	}
	return nil
}

func (h *threadHandler) HandleEvent(ev intsync.ChangeEvent) error {
	if !h.t.Post(h.gen, func() { h.t.applyEvent(ev) }) {
		return ErrClosed
	}
	return nil
}

func (t *Thread) applyReload(r intsync.Reload) {
	top := t.topMessage()
	results := t.rec.Merge(r.Messages)
	if !slices.ContainsFunc(results, func(res intsync.Result) bool { return res.Outcome == intsync.Inserted }) {
		for _, res := range results {
			t.track(res)
		}
	} else {
		// Rows moved under the local tail: lay out once, anchored on the
		// message that was at the top of the viewport.
		for _, res := range results {
			t.rename(res)
			if res.PreviousID != "" && res.PreviousID == top {
				top = res.ID
			}
		}
		t.rebuild(func(int) int {
			_, i, ok := t.store.Get(top)
			if !ok {
				return -1
			}
			return i
		})
		t.appended = true
	}
	t.loaded = true
	t.dirty = true
}

// topMessage returns the id of the message under the viewport top.
func (t *Thread) topMessage() string {
	if t.heights.Len() == 0 {
		return ""
	}
	i, _ := t.rowAt(t.heights.IndexAt(t.scrollTop))
	return t.store.At(i).ID
}

func (t *Thread) applyEvent(ev intsync.ChangeEvent) {
	if ev.Message == nil || ev.Message.ConversationID != t.conversationID {
		return
	}
	res, err := t.rec.Apply(*ev.Message)
	if err != nil {
		return
	}
	t.track(res)
}

// track keeps the row index and measured heights aligned with one store change.
func (t *Thread) track(res intsync.Result) {
	switch res.Outcome {
	case intsync.Ignored:
		return
	case intsync.Appended:
		t.appendRow(res.Index)
		t.appended = true
	case intsync.Inserted:
		at := res.Index
		t.rebuild(func(i int) int {
			if i >= at {
				return i + 1
			}
			return i
		})
		t.appended = true
	case intsync.Updated, intsync.Collapsed:
		t.rename(res)
		if t.daysShifted(res.Index) {
			t.rebuild(sameIndex)
		}
	case intsync.Deduplicated:
		delete(t.known, res.PreviousID)
		removed := res.Removed
		t.rebuild(func(i int) int {
			if i > removed {
				return i - 1
			}
			return i
		})
	}
	t.dirty = true
}

// rename moves a remembered height to the id a row took over.
func (t *Thread) rename(res intsync.Result) {
	if res.PreviousID == "" || res.PreviousID == res.ID {
		return
	}
	if h, ok := t.known[res.PreviousID]; ok {
		t.known[res.ID] = h
		delete(t.known, res.PreviousID)
	}
}

func (t *Thread) appendRow(i int) {
	if t.needsDayRow(i) {
		t.seps = append(t.seps, i)
		t.heights.Insert(t.heights.Len())
		t.restoreHeight(t.heights.Len()-1, t.dayKey(i))
	}
	t.heights.Insert(t.heights.Len())
	t.restoreHeight(t.heights.Len()-1, t.store.At(i).ID)
}

// rebuild recomputes day rows and heights from the store. The viewport keeps
// resting at the bottom if it did; otherwise it stays on the message that was
// at the top, located through remap, which translates store indices from
// before the change to after it.
func (t *Thread) rebuild(remap func(int) int) {
	bottom := t.heights.Len() > 0 && t.atBottom()
	anchor, delta := -1, 0
	if !bottom && t.heights.Len() > 0 {
		i, _ := t.rowAt(t.heights.IndexAt(t.scrollTop))
		delta = t.scrollTop - t.heights.Offset(t.displayIndex(i))
		anchor = remap(i)
	}

	t.seps = t.seps[:0]
	n := t.store.Len()
	for i := range n {
		if t.needsDayRow(i) {
			t.seps = append(t.seps, i)
		}
	}
	t.heights.Reset(n + len(t.seps))
	for d := range t.heights.Len() {
		t.restoreHeight(d, t.keyAt(d))
	}

	switch {
	case bottom:
		t.scrollTop = virtual.MaxScroll(t.heights.Total(), t.viewport)
	case anchor >= 0 && n > 0:
		t.scrollTop = t.heights.Offset(t.displayIndex(min(anchor, n-1))) + delta
	}
}

func sameIndex(i int) int { return i }

func (t *Thread) restoreHeight(d int, key string) {
	if h, ok := t.known[key]; ok {
		t.heights.Set(d, h)
		return
	}
	if t.cfg.DayRowHeight > 0 && isDayKey(key) {
		t.heights.Set(d, t.cfg.DayRowHeight)
	}
}

func (t *Thread) remeasure(index int, key string, height int) {
	d := index
	if d < 0 || d >= t.heights.Len() || t.keyAt(d) != key {
		var ok bool
		if d, ok = t.indexOf(key); !ok {
			return
		}
	}
	top := t.heights.Offset(d)
	delta := t.heights.Set(d, height)
	t.known[key] = height
	if delta == 0 {
		return
	}
	if top < t.scrollTop {
		t.scrollTop += delta
	}
	t.remeasured = true
	t.dirty = true
}

func (t *Thread) atBottom() bool {
	gap := virtual.MaxScroll(t.heights.Total(), t.viewport) - t.scrollTop
	return gap <= t.cfg.BottomThreshold
}

func (t *Thread) beforeBatch() {
	t.wasAtBottom = t.atBottom()
	t.appended = false
	t.remeasured = false
}

func (t *Thread) afterBatch() {
	total := t.heights.Total()
	if t.wasAtBottom && (t.appended || t.remeasured) {
		t.scrollTop = virtual.MaxScroll(total, t.viewport)
	}
	t.scrollTop = virtual.ClampScroll(t.scrollTop, total, t.viewport)
	if !t.dirty {
		return
	}
	t.dirty = false
	t.publish()
}

func (t *Thread) publish() {
	w := t.heights.Window(t.scrollTop, t.viewport)
	rows := make([]Row, 0, w.Len())
	for k, d := 0, w.Start; d < w.End; k, d = k+1, d+1 {
		i, day := t.rowAt(d)
		m := t.store.At(i)
		r := Row{Index: d, Offset: w.Offsets[k], Height: t.heights.Height(d)}
		if day {
			r.Kind = DayRow
			r.Key = t.dayKey(i)
			r.Day = startOfDay(m.CreatedAt, t.cfg.Location)
		} else {
			r.Kind = MessageRow
			r.Key = m.ID
			r.Message = m
		}
		rows = append(rows, r)
	}
	s := &Snapshot{
		ConversationID: t.conversationID,
		Generation:     t.gen.Load(),
		Loaded:         t.loaded,
		Rows:           rows,
		Window:         w,
		Count:          t.heights.Len(),
		Messages:       t.store.Len(),
		Pending:        t.store.PendingCount(),
		AtBottom:       t.atBottom(),
		Version:        t.store.Version(),
	}
	t.snap.Store(s)
	if t.onUpdate != nil {
		t.onUpdate(s)
	}
}

// rowAt maps a display index to a store index, reporting whether the row is
// the day separator preceding that store row.
func (t *Thread) rowAt(d int) (int, bool) {
	// The k-th separator sits at display index seps[k]+k.
	k := sort.Search(len(t.seps), func(k int) bool { return t.seps[k]+k > d })
	if k > 0 && t.seps[k-1]+k-1 == d {
		return t.seps[k-1], true
	}
	return d - k, false
}

// displayIndex maps a store index to the display index of its message row.
func (t *Thread) displayIndex(i int) int {
	return i + sort.SearchInts(t.seps, i+1)
}

func (t *Thread) keyAt(d int) string {
	i, day := t.rowAt(d)
	if day {
		return t.dayKey(i)
	}
	return t.store.At(i).ID
}

func (t *Thread) indexOf(key string) (int, bool) {
	if isDayKey(key) {
		for k, i := range t.seps {
			if t.dayKey(i) == key {
				return i + k, true
			}
		}
		return 0, false
	}
	_, i, ok := t.store.Get(key)
	if !ok {
		return 0, false
	}
	return t.displayIndex(i), true
}

func (t *Thread) needsDayRow(i int) bool {
	if i == 0 {
		return true
	}
	return !sameDay(t.store.At(i).CreatedAt, t.store.At(i-1).CreatedAt, t.cfg.Location)
}

// daysShifted reports whether an in-place change at store index i altered
// which rows need a day separator.
func (t *Thread) daysShifted(i int) bool {
	for _, j := range []int{i, i + 1} {
		if j >= t.store.Len() {
			continue
		}
		k := sort.SearchInts(t.seps, j)
		has := k < len(t.seps) && t.seps[k] == j
		if has != t.needsDayRow(j) {
			return true
		}
	}
	return false
}

const dayKeyPrefix = "day:"

// dayKey names the separator above store row i. The row's id keeps keys
// unique when the same day appears twice.
func (t *Thread) dayKey(i int) string {
	m := t.store.At(i)
	return dayKeyPrefix + m.CreatedAt.In(t.cfg.Location).Format(time.DateOnly) + ":" + m.ID
}

func isDayKey(key string) bool {
	return strings.HasPrefix(key, dayKeyPrefix)
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(ts time.Time, loc *time.Location) time.Time {
	y, m, d := ts.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
