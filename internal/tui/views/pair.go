package views

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/rivo/tview"

	"github.com/matheus3301/livesync/internal/tui/ui"
)

// PairView displays the QR code for linking the daemon to WhatsApp.
type PairView struct {
	*tview.TextView
}

// NewPairView creates a new pairing view.
func NewPairView(theme *ui.Theme) *PairView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Link WhatsApp ")
	tv.SetTitleColor(theme.TitleColor)

	return &PairView{TextView: tv}
}

// ShowQR renders a QR code string as a scannable block.
func (pv *PairView) ShowQR(content string) {
	pv.Clear()
	_, _ = fmt.Fprintf(pv, "\n  Scan this QR code with WhatsApp:\n\n%s\n  [::d]Waiting for the phone...", RenderQR(content))
}

// ShowMessage displays a status message.
func (pv *PairView) ShowMessage(msg string) {
	pv.Clear()
	_, _ = fmt.Fprintf(pv, "\n\n%s", tview.Escape(msg))
}

// RenderQR converts content to a compact QR code made of half-block
// characters. Two bitmap rows become one terminal line.
func RenderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
