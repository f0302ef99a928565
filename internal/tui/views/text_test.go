package views

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  []string
	}{
		{"empty", "", 10, []string{""}},
		{"fits", "hello", 10, []string{"hello"}},
		{"word boundary", "hello world", 5, []string{"hello", "world"}},
		{"long word split", "abcdefgh", 3, []string{"abc", "def", "gh"}},
		{"word after short word", "ab cdefgh", 4, []string{"ab", "cdef", "gh"}},
		{"explicit newline", "one\ntwo", 10, []string{"one", "two"}},
		{"blank line kept", "one\n\ntwo", 10, []string{"one", "", "two"}},
		{"wide runes", "日本語", 4, []string{"日本", "語"}},
		{"zero width clamps to one", "ab", 0, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Wrap(tt.in, tt.width)); diff != "" {
				t.Errorf("Wrap(%q, %d) (-want +got):\n%s", tt.in, tt.width, diff)
			}
		})
	}
}

func TestWrapLinesFitWidth(t *testing.T) {
	in := "The quick brown fox jumps over the lazy dog, then naps for a while 🦊"
	for width := 1; width < 30; width++ {
		for _, line := range Wrap(in, width) {
			if w := Width(line); w > width && width > 1 {
				t.Fatalf("width %d: line %q is %d cells", width, line, w)
			}
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "he…"},
		{"日本語", 4, "日…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestSanitizeForTerminal(t *testing.T) {
	in := "\U0001F44D\U0001F3FB ok\u200d\ufe0f"
	if got := sanitizeForTerminal(in); got != "\U0001F44D ok" {
		t.Errorf("sanitizeForTerminal(%q) = %q", in, got)
	}
}
