// Package keys maps key events to named actions per view.
package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Name        string
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings organized by view, in registration order.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

// AddGlobal registers a binding active in every view.
func (r *Registry) AddGlobal(action *Action) {
	r.global = append(r.global, action)
}

// AddView registers a binding active in one view. View bindings take
// precedence over global ones bound to the same key.
func (r *Registry) AddView(view string, action *Action) {
	r.views[view] = append(r.views[view], action)
}

// Bindings returns the bindings active in view, view bindings first.
func (r *Registry) Bindings(view string) []*Action {
	out := make([]*Action, 0, len(r.views[view])+len(r.global))
	out = append(out, r.views[view]...)
	return append(out, r.global...)
}

// Hints returns the visible binding descriptions for view.
func (r *Registry) Hints(view string) []string {
	var hints []string
	for _, a := range r.Bindings(view) {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the first matching action of view.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, a := range r.Bindings(view) {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
