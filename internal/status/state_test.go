package status

import (
	"testing"
	"time"

	"github.com/rafaelmv/wacrm/internal/bus"
)

func TestValidTransitionChain(t *testing.T) {
	m := NewMachine(nil)
	for _, s := range []State{Connecting, Ready, Reconnecting, Connecting, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if !m.IsReady() {
		t.Error("machine should be ready")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Reconnecting); err == nil {
		t.Error("Booting -> Reconnecting should be rejected")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING after rejected transition", m.Current())
	}
}

func TestTransitionPublishesStatusChange(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)

	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	if err := m.Transition(AuthRequired); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatal("payload is not StatusChange")
		}
		if change.From != Booting || change.To != AuthRequired {
			t.Errorf("change = %+v, want Booting->AuthRequired", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status change event")
	}
}

func TestReadyClearsQR(t *testing.T) {
	m := NewMachine(nil)
	m.SetQR("data:image/png;base64,abc")

	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}
	if m.QR() == "" {
		t.Fatal("QR should survive Connecting")
	}
	if err := m.Transition(Ready); err != nil {
		t.Fatal(err)
	}
	if m.QR() != "" {
		t.Error("QR should be cleared on Ready")
	}
}
