package views

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/matheus3301/livesync/internal/entity"
	"github.com/matheus3301/livesync/internal/presenter"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/matheus3301/livesync/internal/tui/ui"
)

func TestMessageLines(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)
	tests := []struct {
		name   string
		msg    entity.Message
		width  int
		header string
		body   []string
	}{
		{
			name:   "outgoing text wraps",
			msg:    entity.Message{Direction: entity.Outgoing, Content: entity.Text("hello there world"), CreatedAt: at},
			width:  11,
			header: "you · 09:30",
			body:   []string{"hello there", "world"},
		},
		{
			name:   "media only",
			msg:    entity.Message{Direction: entity.Incoming, MediaRef: entity.Text("wa:image:1"), CreatedAt: at},
			width:  40,
			header: "them · 09:30",
			body:   []string{"[media] wa:image:1"},
		},
		{
			name:   "caption and media",
			msg:    entity.Message{Direction: entity.Incoming, Content: entity.Text("look"), MediaRef: entity.Text("x"), CreatedAt: at},
			width:  40,
			header: "them · 09:30",
			body:   []string{"look", "[media] x"},
		},
		{
			name:   "empty body keeps one line",
			msg:    entity.Message{Direction: entity.Incoming, Content: entity.Text(""), CreatedAt: at},
			width:  40,
			header: "them · 09:30",
			body:   []string{""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header, body := MessageLines(tt.msg, tt.width)
			if header != tt.header {
				t.Errorf("header = %q, want %q", header, tt.header)
			}
			if diff := cmp.Diff(tt.body, body); diff != "" {
				t.Errorf("body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatusMark(t *testing.T) {
	if StatusMark(status.Pending) == StatusMark(status.Sent) {
		t.Error("pending and sent look the same")
	}
	if !strings.Contains(StatusMark(status.Failed), "retry") {
		t.Errorf("failed mark %q does not mention retry", StatusMark(status.Failed))
	}
}

func TestConversationLines(t *testing.T) {
	row := presenter.ConversationRow{Conversation: entity.Conversation{
		ID:                 "c1",
		LastMessagePreview: "see you tomorrow at the usual place",
		UnreadCount:        2,
	}}
	title, meta, preview := ConversationLines(row, 20)
	if title != "* c1" {
		t.Errorf("title = %q, want the id with an unread marker", title)
	}
	if meta != "(2)" {
		t.Errorf("meta = %q", meta)
	}
	if Width(preview) > 18 || !strings.HasSuffix(preview, "…") {
		t.Errorf("preview = %q, want truncated to 18 cells", preview)
	}
}

func TestLastFailed(t *testing.T) {
	v := NewThreadView(ui.DefaultTheme())
	if _, ok := v.LastFailed(); ok {
		t.Fatal("empty view reported a failed write")
	}
	v.Update(&presenter.Snapshot{ConversationID: "c1", Rows: []presenter.Row{
		{Kind: presenter.MessageRow, Message: entity.Message{ID: entity.TempPrefix + "1", Status: status.Failed}},
		{Kind: presenter.DayRow},
		{Kind: presenter.MessageRow, Message: entity.Message{ID: entity.TempPrefix + "2", Status: status.Failed}},
		{Kind: presenter.MessageRow, Message: entity.Message{ID: "m3", Status: status.Sent}},
	}})
	id, ok := v.LastFailed()
	if !ok || id != entity.TempPrefix+"2" {
		t.Errorf("LastFailed() = %q, %v", id, ok)
	}
}

func TestRenderQR(t *testing.T) {
	out := RenderQR("2@abc,def,ghi")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) < 10 {
		t.Fatalf("QR has %d lines", len(lines))
	}
	if !strings.ContainsAny(out, "█▀▄") {
		t.Error("QR has no blocks")
	}
}
