package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/presenter"
	"github.com/matheus3301/livesync/internal/tui/ui"
)

// ConversationList draws the visible window of the conversation list. Each
// row is a title line followed, when rows are tall enough, by the preview.
type ConversationList struct {
	*tview.Box
	theme     *ui.Theme
	rowHeight int
	snap      *presenter.ListSnapshot
	height    int
	onResize  func(height int)
}

// NewConversationList creates an empty conversation list whose rows are
// rowHeight lines tall.
func NewConversationList(theme *ui.Theme, rowHeight int) *ConversationList {
	box := tview.NewBox()
	box.SetBorder(true)
	box.SetBorderColor(theme.BorderColor)
	box.SetBackgroundColor(theme.BgColor)
	box.SetTitle(" Conversations ")
	box.SetTitleColor(theme.TitleColor)
	return &ConversationList{Box: box, theme: theme, rowHeight: rowHeight}
}

// SetOnResize sets the callback receiving the viewport height.
func (cl *ConversationList) SetOnResize(fn func(height int)) { cl.onResize = fn }

// Update replaces the snapshot being drawn.
func (cl *ConversationList) Update(s *presenter.ListSnapshot) {
	cl.snap = s
	title := " Conversations "
	if s.Unread > 0 {
		title = fmt.Sprintf(" Conversations [%s](%d unread)[-] ", ui.Tag(cl.theme.UnreadColor), s.Unread)
	}
	cl.SetTitle(title)
}

// SelectedConversation returns the selected row's summary.
func (cl *ConversationList) SelectedConversation() (entity.Conversation, bool) {
	if cl.snap == nil {
		return entity.Conversation{}, false
	}
	for _, r := range cl.snap.Rows {
		if r.Selected {
			return r.Conversation, true
		}
	}
	return entity.Conversation{}, false
}

// Draw implements tview.Primitive.
func (cl *ConversationList) Draw(screen tcell.Screen) {
	cl.DrawForSubclass(screen, cl)
	x, y, w, h := cl.GetInnerRect()
	if w <= 0 || h <= 0 {
		return
	}
	if h != cl.height {
		cl.height = h
		if cl.onResize != nil {
			go cl.onResize(h)
		}
	}

	s := cl.snap
	switch {
	case s == nil || !s.Loaded:
		tview.Print(screen, "loading…", x, y+h/2, w, tview.AlignCenter, cl.theme.DimColor)
		return
	case s.Count == 0:
		tview.Print(screen, "No conversations. Use :new <id> [title]", x, y+h/2, w, tview.AlignCenter, cl.theme.DimColor)
		return
	}

	for _, r := range s.Rows {
		top := y + r.Offset - s.Window.ScrollTop
		title, meta, preview := ConversationLines(r, w)

		fg, bg := cl.theme.FgColor, cl.theme.BgColor
		if r.Selected {
			fg, bg = cl.theme.CursorFg, cl.theme.CursorBg
		}
		lines := []string{title}
		if cl.rowHeight > 1 {
			lines = append(lines, preview)
		}
		for k, line := range lines {
			ly := top + k
			if ly < y || ly >= y+h {
				continue
			}
			if r.Selected {
				style := tcell.StyleDefault.Background(bg)
				for cx := x; cx < x+w; cx++ {
					screen.SetContent(cx, ly, ' ', nil, style)
				}
			}
			color := fg
			if k > 0 && !r.Selected {
				color = cl.theme.DimColor
			}
			tview.Print(screen, tview.Escape(line), x+1, ly, w-2, tview.AlignLeft, color)
			if k == 0 {
				tview.Print(screen, tview.Escape(meta), x+1, ly, w-2, tview.AlignRight, color)
			}
		}
	}
}

// ConversationLines returns the title, the right-aligned metadata and the
// preview of a row at width cells.
func ConversationLines(r presenter.ConversationRow, width int) (string, string, string) {
	c := r.Conversation
	meta := formatTimestamp(c.LastMessageAt)
	if c.UnreadCount > 0 {
		meta = strings.TrimSpace(fmt.Sprintf("(%d) %s", c.UnreadCount, meta))
	}
	name := c.Title
	if name == "" {
		name = c.ID
	}
	if c.UnreadCount > 0 {
		name = "* " + name
	}
	room := max(width-2-Width(meta)-1, 1)
	title := Truncate(sanitizeForTerminal(name), room)
	preview := Truncate(sanitizeForTerminal(c.LastMessagePreview), max(width-2, 1))
	return title, meta, preview
}
