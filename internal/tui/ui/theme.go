// Package ui holds the shared look of the TUI widgets.
package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	DimColor          tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	CursorFg          tcell.Color
	CursorBg          tcell.Color
	TitleColor        tcell.Color
	OutgoingColor     tcell.Color
	IncomingColor     tcell.Color
	DayColor          tcell.Color
	PendingColor      tcell.Color
	ReadColor         tcell.Color
	FailedColor       tcell.Color
	UnreadColor       tcell.Color
	MenuKeyColor      tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		DimColor:          tcell.ColorGray,
		BorderColor:       tcell.ColorDodgerBlue,
		BorderFocusColor:  tcell.ColorLightSkyBlue,
		CursorFg:          tcell.ColorBlack,
		CursorBg:          tcell.ColorAqua,
		TitleColor:        tcell.ColorFuchsia,
		OutgoingColor:     tcell.ColorAqua,
		IncomingColor:     tcell.ColorPapayaWhip,
		DayColor:          tcell.ColorGray,
		PendingColor:      tcell.ColorGray,
		ReadColor:         tcell.ColorDodgerBlue,
		FailedColor:       tcell.ColorOrangeRed,
		UnreadColor:       tcell.ColorOrange,
		MenuKeyColor:      tcell.ColorDodgerBlue,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorDodgerBlue,
	}
}

// Tag returns c as a tview color tag body such as "#ff8800".
func Tag(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
