package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/livesync/internal/tui/keys"
	"github.com/matheus3301/livesync/internal/tui/ui"
)

// HelpSection is one titled group of bindings.
type HelpSection struct {
	Title    string
	Bindings []*keys.Action
}

// HelpView displays the key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	return &HelpView{TextView: tv, theme: theme}
}

// Render lists the sections followed by the commands.
func (hv *HelpView) Render(sections []HelpSection, commands []string) {
	hv.Clear()
	kc := ui.Tag(hv.theme.MenuKeyColor)

	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", tview.Escape(s.Title))
		for _, a := range s.Bindings {
			key, desc, ok := strings.Cut(a.Description, ":")
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  [%s]%-8s[-] %s\n", kc, tview.Escape(key), tview.Escape(desc))
		}
	}
	if len(commands) > 0 {
		b.WriteString("\n  [::b]Commands (: mode)[-:-:-]\n\n")
		for _, c := range commands {
			fmt.Fprintf(&b, "  [%s]:%s[-]\n", kc, tview.Escape(c))
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
