// Package virtual computes which rows of a long list must be materialized for
// a given scroll offset and viewport height.
package virtual

// Window is the derived, never persisted, range of rows to render.
type Window struct {
	Start       int   // first materialized index
	End         int   // one past the last materialized index
	Offsets     []int // top offset of each row in [Start, End)
	ScrollTop   int   // scroll offset after clamping
	TotalHeight int
}

// Len returns the number of materialized rows.
func (w Window) Len() int { return w.End - w.Start }

// MaxScroll returns the largest valid scroll offset for a list of total height.
func MaxScroll(total, viewport int) int {
	if total <= viewport {
		return 0
	}
	return total - viewport
}

// ClampScroll bounds a scroll offset to the list.
func ClampScroll(scrollTop, total, viewport int) int {
	return min(max(scrollTop, 0), MaxScroll(total, viewport))
}

// Fixed windows lists whose rows all share one height.
type Fixed struct {
	RowHeight int
	Overscan  int
}

// Window returns the rows visible in [scrollTop, scrollTop+viewport) plus
// Overscan rows on each side.
func (f Fixed) Window(count, scrollTop, viewport int) Window {
	if count <= 0 || f.RowHeight <= 0 {
		return Window{}
	}
	total := count * f.RowHeight
	scrollTop = ClampScroll(scrollTop, total, viewport)

	first := scrollTop / f.RowHeight
	last := first
	if viewport > 0 {
		last = (scrollTop + viewport - 1) / f.RowHeight
	}
	start := max(0, first-f.Overscan)
	end := min(count, last+1+f.Overscan)

	offsets := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		offsets = append(offsets, i*f.RowHeight)
	}
	return Window{
		Start:       start,
		End:         end,
		Offsets:     offsets,
		ScrollTop:   scrollTop,
		TotalHeight: total,
	}
}
