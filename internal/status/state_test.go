package status

import (
	"errors"
	"testing"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Pending, Sent},
		{Pending, Delivered},
		{Pending, Failed},
		{Sent, Delivered},
		{Sent, Read},
		{Delivered, Read},
		{Failed, Pending},
		{Read, Read},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if err := Transition(tt.from, tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Sent, Pending},
		{Read, Delivered},
		{Delivered, Sent},
		{Failed, Sent},
		{Sent, Failed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			if err == nil {
				t.Fatalf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error %v does not wrap ErrInvalidTransition", err)
			}
			var te *TransitionError
			if !errors.As(err, &te) || te.From != tt.from || te.To != tt.to {
				t.Errorf("error = %#v, want TransitionError{%s, %s}", err, tt.from, tt.to)
			}
		})
	}
}

func TestMergeNeverRegresses(t *testing.T) {
	tests := []struct {
		current, incoming, want Status
	}{
		{Pending, Sent, Sent},
		{Sent, Pending, Sent},
		{Read, Delivered, Read},
		{Delivered, Read, Read},
		{Pending, Failed, Failed},
		{Sent, Failed, Sent},
		{Failed, Sent, Failed},
		{Sent, Status("bogus"), Sent},
	}
	for _, tt := range tests {
		if got := Merge(tt.current, tt.incoming); got != tt.want {
			t.Errorf("Merge(%s, %s) = %s, want %s", tt.current, tt.incoming, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	if s, err := Parse("delivered"); err != nil || s != Delivered {
		t.Errorf("Parse(delivered) = %q, %v", s, err)
	}
	if _, err := Parse("received"); err == nil {
		t.Error("Parse(received) should fail")
	}
}

func TestSettled(t *testing.T) {
	for _, s := range []Status{Delivered, Read, Failed} {
		if !s.Settled() {
			t.Errorf("%s should be settled", s)
		}
	}
	for _, s := range []Status{Pending, Sent} {
		if s.Settled() {
			t.Errorf("%s should not be settled", s)
		}
	}
}
