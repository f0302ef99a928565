package wa

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/livesync/internal/bus"
	"go.mau.fi/whatsmeow"
)

// AuthEventType enumerates the steps of QR pairing.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent is one pairing step as streamed to the Pair caller.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// Final reports whether no further events follow e.
func (e AuthEvent) Final() bool { return e.Type != AuthEventQRCode }

// translateQR maps a whatsmeow QR channel item to a pairing step. Items that
// carry nothing for the caller return ok=false.
func translateQR(item whatsmeow.QRChannelItem) (AuthEvent, bool) {
	switch {
	case item.Event == "code":
		return AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}, true
	case item.Event == "success":
		return AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}, true
	case item.Event == "timeout":
		return AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}, true
	case item.Error != nil:
		return AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}, true
	case strings.HasPrefix(item.Event, "err"):
		return AuthEvent{Type: AuthEventAuthFailed, Message: item.Event}, true
	}
	return AuthEvent{}, false
}

// busEvent mirrors a pairing step onto the daemon bus.
func busEvent(e AuthEvent) bus.Event {
	ev := bus.Event{Timestamp: time.Now()}
	switch e.Type {
	case AuthEventQRCode:
		ev.Kind, ev.Payload = KindQRCode, e.QRCode
	case AuthEventAuthenticated:
		ev.Kind = KindAuthenticated
	default:
		ev.Kind, ev.Payload = KindAuthFailed, e.Message
	}
	return ev
}

// StartQRAuth begins pairing and streams its steps until a final one, or
// until ctx ends. The returned channel is closed when the flow stops.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)
	emit := func(e AuthEvent) bool {
		a.bus.Publish(busEvent(e))
		select {
		case out <- e:
			return !e.Final()
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		// Connect must follow GetQRChannel.
		if err := a.Connect(); err != nil {
			emit(AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
			return
		}
		for item := range qrChan {
			e, ok := translateQR(item)
			if !ok {
				continue
			}
			if !emit(e) {
				return
			}
		}
	}()

	return out, nil
}
