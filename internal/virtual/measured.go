package virtual

import (
	"math/bits"
	"slices"
)

// Measured windows lists whose rows have individual heights. Heights live in a
// dense slice; a Fenwick tree over it answers offset and hit-test queries in
// O(log n). Structural edits in the middle of the list only mark the tree
// dirty, and it is rebuilt on the next query.
type Measured struct {
	heights  []int
	tree     []int // 1-based Fenwick tree over heights
	dirty    bool
	estimate int
	overscan int
}

// NewMeasured creates an empty list. Rows that were never measured count as
// estimate high.
func NewMeasured(estimate, overscan int) *Measured {
	return &Measured{
		tree:     []int{0},
		estimate: max(estimate, 1),
		overscan: max(overscan, 0),
	}
}

// Len returns the number of rows.
func (m *Measured) Len() int { return len(m.heights) }

// Height returns the current height of row i.
func (m *Measured) Height(i int) int { return m.heights[i] }

// Reset drops all measurements and sizes the list to n estimated rows.
func (m *Measured) Reset(n int) {
	m.heights = m.heights[:0]
	for range n {
		m.heights = append(m.heights, m.estimate)
	}
	m.dirty = true
}

// Insert adds an estimated row at index i.
func (m *Measured) Insert(i int) {
	if i >= len(m.heights) {
		m.push(m.estimate)
		return
	}
	m.heights = slices.Insert(m.heights, i, m.estimate)
	m.dirty = true
}

// Set records the measured height of row i and returns the change.
func (m *Measured) Set(i, h int) int {
	h = max(h, 0)
	delta := h - m.heights[i]
	if delta == 0 {
		return 0
	}
	m.heights[i] = h
	if !m.dirty {
		for j := i + 1; j < len(m.tree); j += j & -j {
			m.tree[j] += delta
		}
	}
	return delta
}

// Offset returns the top offset of row i, which is the sum of all heights
// before it. Offset(Len()) is the total height.
func (m *Measured) Offset(i int) int {
	m.ensure()
	i = min(max(i, 0), len(m.heights))
	sum := 0
	for ; i > 0; i -= i & -i {
		sum += m.tree[i]
	}
	return sum
}

// Total returns the height of the whole list.
func (m *Measured) Total() int { return m.Offset(len(m.heights)) }

// IndexAt returns the row under list offset y, or -1 for an empty list.
func (m *Measured) IndexAt(y int) int {
	n := len(m.heights)
	if n == 0 {
		return -1
	}
	m.ensure()
	pos, rem := 0, max(y, 0)
	for step := 1 << (bits.Len(uint(n)) - 1); step > 0; step >>= 1 {
		if next := pos + step; next <= n && m.tree[next] <= rem {
			pos = next
			rem -= m.tree[next]
		}
	}
	return min(pos, n-1)
}

// Window returns the rows intersecting [scrollTop, scrollTop+viewport) plus
// the configured overscan on each side.
func (m *Measured) Window(scrollTop, viewport int) Window {
	n := len(m.heights)
	if n == 0 {
		return Window{}
	}
	total := m.Total()
	scrollTop = ClampScroll(scrollTop, total, viewport)

	first := m.IndexAt(scrollTop)
	last := first
	if viewport > 0 {
		last = m.IndexAt(scrollTop + viewport - 1)
	}
	start := max(0, first-m.overscan)
	end := min(n, last+1+m.overscan)

	offsets := make([]int, 0, end-start)
	top := m.Offset(start)
	for i := start; i < end; i++ {
		offsets = append(offsets, top)
		top += m.heights[i]
	}
	return Window{
		Start:       start,
		End:         end,
		Offsets:     offsets,
		ScrollTop:   scrollTop,
		TotalHeight: total,
	}
}

// push appends a row and extends the tree without a rebuild.
func (m *Measured) push(h int) {
	m.heights = append(m.heights, h)
	if m.dirty {
		return
	}
	i := len(m.heights)
	// tree[i] covers heights (i-lowbit(i), i], i.e. prefix(i) - prefix(i-lowbit(i)).
	node := h
	for j, stop := i-1, i-(i&-i); j > stop; j -= j & -j {
		node += m.tree[j]
	}
	m.tree = append(m.tree, node)
}

func (m *Measured) ensure() {
	if !m.dirty && len(m.tree) == len(m.heights)+1 {
		return
	}
	n := len(m.heights)
	if cap(m.tree) < n+1 {
		m.tree = make([]int, n+1)
	} else {
		m.tree = m.tree[:n+1]
		clear(m.tree)
	}
	for i := 1; i <= n; i++ {
		m.tree[i] += m.heights[i-1]
		if parent := i + (i & -i); parent <= n {
			m.tree[parent] += m.tree[i]
		}
	}
	m.dirty = false
}
