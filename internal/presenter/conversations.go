package presenter

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync/atomic"

	"github.com/matheus3301/livesync/internal/entity"
	intsync "github.com/matheus3301/livesync/internal/sync"
	"github.com/matheus3301/livesync/internal/virtual"
	"go.uber.org/zap"
)

// ConversationsConfig tunes the conversation list.
type ConversationsConfig struct {
	RowHeight int
	Overscan  int
	PageSize  int
	Ingest    intsync.IngestorConfig
}

// ConversationRow is one materialized row of the list.
type ConversationRow struct {
	Index        int
	Offset       int
	Selected     bool
	Conversation entity.Conversation
}

// ListSnapshot is the immutable list state handed to the renderer.
type ListSnapshot struct {
	Loaded   bool
	Rows     []ConversationRow
	Window   virtual.Window
	Count    int
	Selected string
	Unread   int
}

// Conversations presents the conversation list: summaries ordered by their
// last message, newest first, with fixed-height rows.
type Conversations struct {
	loop   *Loop
	source intsync.Source
	cfg    ConversationsConfig
	layout virtual.Fixed
	logger *zap.Logger

	gen      atomic.Uint64
	snap     atomic.Pointer[ListSnapshot]
	base     context.Context
	cancel   context.CancelFunc
	onUpdate func(*ListSnapshot)

	// Owned by the loop goroutine.
	items     []entity.Conversation
	selected  string
	loaded    bool
	scrollTop int
	viewport  int
	dirty     bool
	stop      context.CancelFunc
}

// NewConversations creates the list presenter and registers it on loop.
func NewConversations(loop *Loop, source intsync.Source, cfg ConversationsConfig, logger *zap.Logger) *Conversations {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RowHeight <= 0 {
		cfg.RowHeight = 1
	}
	if cfg.PageSize > 0 {
		cfg.Ingest.Limit = cfg.PageSize
	}
	base, cancel := context.WithCancel(context.Background())
	c := &Conversations{
		loop:   loop,
		source: source,
		cfg:    cfg,
		layout: virtual.Fixed{RowHeight: cfg.RowHeight, Overscan: cfg.Overscan},
		logger: logger.Named("conversations"),
		base:   base,
		cancel: cancel,
	}
	c.snap.Store(&ListSnapshot{})
	loop.Hook(Batch{After: c.afterBatch})
	return c
}

// OnUpdate registers fn to receive every published snapshot, on the loop
// goroutine. It must be called before the loop runs.
func (c *Conversations) OnUpdate(fn func(*ListSnapshot)) { c.onUpdate = fn }

// Window returns the latest published snapshot.
func (c *Conversations) Window() *ListSnapshot { return c.snap.Load() }

// Start subscribes to the list scope. Calling it again restarts the feed.
func (c *Conversations) Start() error {
	return c.loop.Post(func() {
		gen := c.gen.Add(1)
		if c.stop != nil {
			c.stop()
		}
		ctx, cancel := context.WithCancel(c.base)
		c.stop = cancel
		in := intsync.NewIngestor(c.source, intsync.ListScope, &listHandler{c: c, gen: gen}, c.cfg.Ingest, c.logger)
		go func() {
			err := in.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				c.logger.Error("ingestor stopped", zap.Error(err))
			}
		}()
	})
}

// Close stops the feed.
func (c *Conversations) Close() { c.cancel() }

// Select marks the conversation with id as selected and scrolls it into view.
func (c *Conversations) Select(id string) error {
	return c.loop.Post(func() {
		c.selected = id
		c.reveal()
		c.dirty = true
	})
}

// Move shifts the selection by delta rows, clamped to the list.
func (c *Conversations) Move(delta int) error {
	return c.loop.Post(func() {
		if len(c.items) == 0 {
			return
		}
		i := c.position(c.selected)
		if i < 0 {
			i = 0
		} else {
			i = min(max(i+delta, 0), len(c.items)-1)
		}
		c.selected = c.items[i].ID
		c.reveal()
		c.dirty = true
	})
}

// Scroll moves the viewport by dy.
func (c *Conversations) Scroll(dy int) error {
	return c.loop.Post(func() {
		c.scrollTop += dy
		c.dirty = true
	})
}

// Resize sets the viewport height.
func (c *Conversations) Resize(height int) error {
	return c.loop.Post(func() {
		c.viewport = max(height, 0)
		c.reveal()
		c.dirty = true
	})
}

type listHandler struct {
	c   *Conversations
	gen uint64
}

func (h *listHandler) post(fn func()) error {
	return h.c.loop.Post(func() {
		if h.c.gen.Load() == h.gen {
			fn()
		}
	})
}

func (h *listHandler) HandleReload(r intsync.Reload) error {
	return h.post(func() { h.c.reload(r.Conversations) })
}

func (h *listHandler) HandleEvent(ev intsync.ChangeEvent) error {
	return h.post(func() { h.c.patch(*ev.Conversation) })
}

// reload replaces the list with an authoritative page.
func (c *Conversations) reload(convs []entity.Conversation) {
	c.items = c.items[:0]
	for _, conv := range convs {
		if conv.Validate() != nil || c.position(conv.ID) >= 0 {
			continue
		}
		c.items = append(c.items, conv)
	}
	c.sort()
	c.loaded = true
	c.dirty = true
}

// patch applies one summary change. Missing titles keep the known one.
func (c *Conversations) patch(conv entity.Conversation) {
	if i := c.position(conv.ID); i >= 0 {
		if conv.Title == "" {
			conv.Title = c.items[i].Title
		}
		c.items[i] = conv
	} else {
		c.items = append(c.items, conv)
	}
	c.sort()
	c.dirty = true
}

func (c *Conversations) sort() {
	slices.SortStableFunc(c.items, func(a, b entity.Conversation) int {
		if n := b.LastMessageAt.Compare(a.LastMessageAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (c *Conversations) position(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(c.items, func(conv entity.Conversation) bool { return conv.ID == id })
}

// reveal scrolls the selected row into the viewport.
func (c *Conversations) reveal() {
	i := c.position(c.selected)
	if i < 0 || c.viewport <= 0 {
		return
	}
	top := i * c.cfg.RowHeight
	switch {
	case top < c.scrollTop:
		c.scrollTop = top
	case top+c.cfg.RowHeight > c.scrollTop+c.viewport:
		c.scrollTop = top + c.cfg.RowHeight - c.viewport
	}
}

func (c *Conversations) afterBatch() {
	if !c.dirty {
		return
	}
	c.dirty = false
	c.scrollTop = virtual.ClampScroll(c.scrollTop, len(c.items)*c.cfg.RowHeight, c.viewport)

	w := c.layout.Window(len(c.items), c.scrollTop, c.viewport)
	rows := make([]ConversationRow, 0, w.Len())
	for k, i := 0, w.Start; i < w.End; k, i = k+1, i+1 {
		rows = append(rows, ConversationRow{
			Index:        i,
			Offset:       w.Offsets[k],
			Selected:     c.items[i].ID == c.selected,
			Conversation: c.items[i],
		})
	}
	unread := 0
	for _, conv := range c.items {
		unread += conv.UnreadCount
	}
	s := &ListSnapshot{
		Loaded:   c.loaded,
		Rows:     rows,
		Window:   w,
		Count:    len(c.items),
		Selected: c.selected,
		Unread:   unread,
	}
	c.snap.Store(s)
	if c.onUpdate != nil {
		c.onUpdate(s)
	}
}
