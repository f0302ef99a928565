package wa

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mau.fi/whatsmeow"
)

func TestTranslateQR(t *testing.T) {
	tests := []struct {
		name   string
		item   whatsmeow.QRChannelItem
		want   AuthEvent
		wantOK bool
	}{
		{"code", whatsmeow.QRChannelItem{Event: "code", Code: "2@abc"}, AuthEvent{Type: AuthEventQRCode, QRCode: "2@abc"}, true},
		{"success", whatsmeow.QRChannelItem{Event: "success"}, AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}, true},
		{"timeout", whatsmeow.QRChannelItem{Event: "timeout"}, AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}, true},
		{"error", whatsmeow.QRChannelItem{Event: "error", Error: errors.New("boom")}, AuthEvent{Type: AuthEventAuthFailed, Message: "boom"}, true},
		{"outdated", whatsmeow.QRChannelItem{Event: "err-client-outdated"}, AuthEvent{Type: AuthEventAuthFailed, Message: "err-client-outdated"}, true},
		{"unknown", whatsmeow.QRChannelItem{Event: "something"}, AuthEvent{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translateQR(tt.item)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("translateQR() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAuthEventFinal(t *testing.T) {
	if (AuthEvent{Type: AuthEventQRCode}).Final() {
		t.Error("QR code step should not be final")
	}
	for _, typ := range []AuthEventType{AuthEventAuthenticated, AuthEventAuthFailed, AuthEventTimeout} {
		if !(AuthEvent{Type: typ}).Final() {
			t.Errorf("%s should be final", typ)
		}
	}
}

func TestBusEventKinds(t *testing.T) {
	tests := []struct {
		in       AuthEvent
		wantKind string
		wantData any
	}{
		{AuthEvent{Type: AuthEventQRCode, QRCode: "qr"}, KindQRCode, "qr"},
		{AuthEvent{Type: AuthEventAuthenticated}, KindAuthenticated, nil},
		{AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}, KindAuthFailed, "QR code timeout"},
	}
	for _, tt := range tests {
		ev := busEvent(tt.in)
		if ev.Kind != tt.wantKind {
			t.Errorf("busEvent(%s).Kind = %q, want %q", tt.in.Type, ev.Kind, tt.wantKind)
		}
		if ev.Payload != tt.wantData {
			t.Errorf("busEvent(%s).Payload = %v, want %v", tt.in.Type, ev.Payload, tt.wantData)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	}
}
