package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/presenter"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/matheus3301/livesync/internal/tui/ui"
)

// ThreadView draws the visible window of a thread snapshot. Rows are drawn
// at the offsets the presenter computed; after drawing, rows whose real
// height differs from the one the presenter assumed are reported back.
type ThreadView struct {
	*tview.Box
	theme *ui.Theme
	snap  *presenter.Snapshot

	width, height int
	reported      map[string]int

	onResize  func(height int)
	onWidth   func()
	onMeasure func(index int, key string, height int)
}

// NewThreadView creates an empty thread view.
func NewThreadView(theme *ui.Theme) *ThreadView {
	box := tview.NewBox()
	box.SetBorder(true)
	box.SetBorderColor(theme.BorderColor)
	box.SetBackgroundColor(theme.BgColor)
	box.SetTitleColor(theme.TitleColor)
	box.SetTitle(" Messages ")
	return &ThreadView{Box: box, theme: theme, reported: make(map[string]int)}
}

// SetOnResize sets the callback receiving the viewport height.
func (v *ThreadView) SetOnResize(fn func(height int)) { v.onResize = fn }

// SetOnWidthChange sets the callback run when wrapped heights become stale.
func (v *ThreadView) SetOnWidthChange(fn func()) { v.onWidth = fn }

// SetOnMeasure sets the callback receiving measured row heights.
func (v *ThreadView) SetOnMeasure(fn func(index int, key string, height int)) { v.onMeasure = fn }

// SetConversation updates the title.
func (v *ThreadView) SetConversation(title string) {
	v.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(title))))
}

// Update replaces the snapshot being drawn.
func (v *ThreadView) Update(s *presenter.Snapshot) {
	if v.snap != nil && s.ConversationID != v.snap.ConversationID {
		clear(v.reported)
	}
	v.snap = s
}

// LastFailed returns the id of the newest failed local write in view.
func (v *ThreadView) LastFailed() (string, bool) {
	if v.snap == nil {
		return "", false
	}
	for i := len(v.snap.Rows) - 1; i >= 0; i-- {
		m := v.snap.Rows[i].Message
		if v.snap.Rows[i].Kind == presenter.MessageRow && m.Status == status.Failed && m.Temporary() {
			return m.ID, true
		}
	}
	return "", false
}

// Draw implements tview.Primitive.
func (v *ThreadView) Draw(screen tcell.Screen) {
	v.DrawForSubclass(screen, v)
	x, y, w, h := v.GetInnerRect()
	if w <= 0 || h <= 0 {
		return
	}
	if w != v.width {
		v.width = w
		clear(v.reported)
		if v.onWidth != nil {
			go v.onWidth()
		}
	}
	if h != v.height {
		v.height = h
		if v.onResize != nil {
			go v.onResize(h)
		}
	}

	s := v.snap
	switch {
	case s == nil || s.ConversationID == "":
		return
	case !s.Loaded:
		tview.Print(screen, "loading…", x, y+h/2, w, tview.AlignCenter, v.theme.DimColor)
		return
	case s.Count == 0:
		tview.Print(screen, "No messages yet", x, y+h/2, w, tview.AlignCenter, v.theme.DimColor)
		return
	}

	for _, r := range s.Rows {
		top := y + r.Offset - s.Window.ScrollTop
		if r.Kind == presenter.DayRow {
			if top >= y && top < y+h {
				label := fmt.Sprintf("── %s ──", r.Day.Format("Mon, 02 Jan 2006"))
				tview.Print(screen, label, x, top, w, tview.AlignCenter, v.theme.DayColor)
			}
			continue
		}

		header, body := MessageLines(r.Message, w)
		if height := 1 + len(body); height != r.Height {
			v.measured(r.Index, r.Key, height)
		}
		align := tview.AlignLeft
		color := v.theme.IncomingColor
		if r.Message.Direction == entity.Outgoing {
			align = tview.AlignRight
			color = v.theme.OutgoingColor
		}
		if top >= y && top < y+h {
			tview.Print(screen, v.headerMarkup(r.Message, header), x, top, w, align, color)
		}
		for k, line := range body {
			ly := top + 1 + k
			if ly >= y && ly < y+h {
				tview.Print(screen, tview.Escape(line), x, ly, w, align, v.theme.FgColor)
			}
		}
	}
}

func (v *ThreadView) measured(index int, key string, height int) {
	if v.onMeasure == nil || v.reported[key] == height {
		return
	}
	v.reported[key] = height
	go v.onMeasure(index, key, height)
}

func (v *ThreadView) headerMarkup(m entity.Message, header string) string {
	mark := StatusMark(m.Status)
	if m.Direction != entity.Outgoing || mark == "" {
		return tview.Escape(header)
	}
	color := v.theme.PendingColor
	switch m.Status {
	case status.Read:
		color = v.theme.ReadColor
	case status.Failed:
		color = v.theme.FailedColor
	}
	return fmt.Sprintf("%s [%s]%s[-]", tview.Escape(header), ui.Tag(color), tview.Escape(mark))
}

// MessageLines returns the header and wrapped body of m at width cells.
func MessageLines(m entity.Message, width int) (string, []string) {
	who := "them"
	if m.Direction == entity.Outgoing {
		who = "you"
	}
	header := who + " · " + m.CreatedAt.Format("15:04")

	var body []string
	if m.Content != nil {
		body = Wrap(sanitizeForTerminal(*m.Content), width)
	}
	if m.MediaRef != nil {
		body = append(body, Truncate("[media] "+*m.MediaRef, width))
	}
	if len(body) == 0 {
		body = []string{""}
	}
	return header, body
}

// StatusMark is the delivery indicator shown next to outgoing messages.
func StatusMark(st status.Status) string {
	switch st {
	case status.Pending:
		return "…"
	case status.Sent:
		return "✓"
	case status.Delivered, status.Read:
		return "✓✓"
	case status.Failed:
		return "✗ failed (r to retry)"
	}
	return ""
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
