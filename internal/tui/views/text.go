package views

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// Wrap breaks s into lines no wider than width terminal cells. Lines break
// at Unicode line break opportunities; a word wider than width is split
// between grapheme clusters. Explicit newlines always break.
func Wrap(s string, width int) []string {
	width = max(width, 1)
	var (
		lines  []string
		line   strings.Builder
		lineW  int
		seg    []string
		segW   []int
		state  = -1
		remain = s
	)
	flush := func() {
		lines = append(lines, strings.TrimRight(line.String(), " "))
		line.Reset()
		lineW = 0
	}
	place := func() {
		visible, total := 0, 0
		for i, w := range segW {
			total += w
			if strings.TrimSpace(seg[i]) != "" {
				visible = total
			}
		}
		if lineW > 0 && lineW+visible > width {
			flush()
		}
		for i, c := range seg {
			if lineW > 0 && lineW+segW[i] > width && strings.TrimSpace(c) != "" {
				flush()
			}
			line.WriteString(c)
			lineW += segW[i]
		}
		seg, segW = seg[:0], segW[:0]
	}

	for remain != "" {
		var (
			cluster    string
			boundaries int
		)
		cluster, remain, boundaries, state = uniseg.StepString(remain, state)
		if cluster == "\n" || cluster == "\r\n" {
			place()
			flush()
			continue
		}
		seg = append(seg, cluster)
		segW = append(segW, boundaries>>uniseg.ShiftWidth)
		if boundaries&uniseg.MaskLine != uniseg.LineDontBreak {
			place()
		}
	}
	place()
	if lineW > 0 || len(lines) == 0 {
		flush()
	}
	return lines
}

// Width returns the number of terminal cells s occupies.
func Width(s string) int {
	return uniseg.StringWidth(s)
}

// Truncate shortens s to at most width cells, marking the cut with an ellipsis.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if uniseg.StringWidth(s) <= width {
		return s
	}
	var (
		b     strings.Builder
		w     int
		state = -1
	)
	for s != "" {
		var (
			cluster    string
			boundaries int
		)
		cluster, s, boundaries, state = uniseg.StepString(s, state)
		cw := boundaries >> uniseg.ShiftWidth
		if w+cw > width-1 {
			break
		}
		b.WriteString(cluster)
		w += cw
	}
	b.WriteString("…")
	return b.String()
}

// sanitizeForTerminal removes codepoints that tcell renders at the wrong
// width: skin tone modifiers, zero width joiners and variation selectors.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
