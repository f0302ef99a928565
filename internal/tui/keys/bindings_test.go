package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/google/go-cmp/cmp"
)

func TestHandleEventPrefersViewBinding(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.AddGlobal(&Action{Name: "quit", Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "global") }})
	r.AddView("thread", &Action{Name: "back", Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "view") }})

	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if !r.HandleEvent("thread", q) {
		t.Fatal("thread view did not handle q")
	}
	if !r.HandleEvent("conversations", q) {
		t.Fatal("conversations view did not handle q")
	}
	if diff := cmp.Diff([]string{"view", "global"}, got); diff != "" {
		t.Errorf("handlers (-want +got):\n%s", diff)
	}
	if r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key reported as handled")
	}
}

func TestMatchesSpecialKeys(t *testing.T) {
	a := &Action{Key: tcell.KeyPgDn}
	if !a.Matches(tcell.NewEventKey(tcell.KeyPgDn, 0, tcell.ModNone)) {
		t.Error("PgDn not matched")
	}
	if a.Matches(tcell.NewEventKey(tcell.KeyRune, 'j', tcell.ModNone)) {
		t.Error("rune matched a special key binding")
	}
}

func TestHintsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal(&Action{Description: "q:quit", Visible: true})
	r.AddGlobal(&Action{Description: "hidden"})
	r.AddView("thread", &Action{Description: "i:compose", Visible: true})
	r.AddView("thread", &Action{Description: "r:retry", Visible: true})

	want := []string{"i:compose", "r:retry", "q:quit"}
	if diff := cmp.Diff(want, r.Hints("thread")); diff != "" {
		t.Errorf("Hints() (-want +got):\n%s", diff)
	}
}
