package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/livesync/internal/tui/model"
	"github.com/matheus3301/livesync/internal/tui/ui"
)

// StatusBar displays the daemon link, the feed counters and flash messages.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	daemon  string
	unread  int
	pending int
	hints   []string
	flash   *model.FlashMessage
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme, daemon: "connecting"}
}

// SetDaemon updates the daemon link description.
func (sb *StatusBar) SetDaemon(state string) {
	sb.daemon = state
	sb.render()
}

// SetCounts updates the unread and pending counters.
func (sb *StatusBar) SetCounts(unread, pending int) {
	sb.unread = unread
	sb.pending = pending
	sb.render()
}

// SetHints sets the key hints of the front view.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets or clears the transient message.
func (sb *StatusBar) SetFlash(msg model.FlashMessage, ok bool) {
	if ok {
		sb.flash = &msg
	} else {
		sb.flash = nil
	}
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	var b strings.Builder
	fmt.Fprintf(&b, " [::b]livesync[-:-:-] | %s", tview.Escape(sb.daemon))
	if sb.unread > 0 {
		fmt.Fprintf(&b, " | [%s]%d unread[-]", ui.Tag(sb.theme.UnreadColor), sb.unread)
	}
	if sb.pending > 0 {
		fmt.Fprintf(&b, " | [%s]%d sending[-]", ui.Tag(sb.theme.PendingColor), sb.pending)
	}
	fmt.Fprintf(&b, " | %s", time.Now().Format("15:04"))
	if sb.flash != nil {
		color := sb.theme.FlashInfoColor
		switch sb.flash.Level {
		case model.FlashWarn:
			color = sb.theme.FlashWarnColor
		case model.FlashErr:
			color = sb.theme.FlashErrColor
		}
		fmt.Fprintf(&b, " | [%s]%s[-]", ui.Tag(color), tview.Escape(sb.flash.Text))
	} else if len(sb.hints) > 0 {
		fmt.Fprintf(&b, " | [%s]%s[-]", ui.Tag(sb.theme.MenuKeyColor), tview.Escape(strings.Join(sb.hints, " ")))
	}

	_, _ = fmt.Fprint(sb, b.String())
}
