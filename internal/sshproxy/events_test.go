package sshproxy

import (
	"fmt"
	"testing"
)

func TestEventBuffer_Wraps(t *testing.T) {
	var b eventBuffer
	for i := 0; i < eventBufferSize+5; i++ {
		b.record(ConnectionEvent{Type: EventReused, Details: fmt.Sprintf("%d", i)})
	}

	history := b.history()
	if len(history) != eventBufferSize {
		t.Fatalf("len(history) = %d, want %d", len(history), eventBufferSize)
	}
	if history[0].Details != "5" {
		t.Errorf("oldest = %q, want 5", history[0].Details)
	}
	if last := history[len(history)-1].Details; last != fmt.Sprintf("%d", eventBufferSize+4) {
		t.Errorf("newest = %q", last)
	}
}

func TestEventBuffer_Empty(t *testing.T) {
	var b eventBuffer
	if b.history() != nil {
		t.Error("expected nil history for empty buffer")
	}
}

func TestEventLog_PerSession(t *testing.T) {
	el := newEventLog()
	el.record("a", EventConnected, "u@h:22", "")
	el.record("a", EventDisconnected, "u@h:22", "connection closed")
	el.record("b", EventConnectFailed, "u@h:2222", "refused")

	a := el.get("a")
	if len(a) != 2 || a[0].Type != EventConnected || a[1].Type != EventDisconnected {
		t.Errorf("session a events = %+v", a)
	}
	if b := el.get("b"); len(b) != 1 || b[0].Target != "u@h:2222" {
		t.Errorf("session b events = %+v", b)
	}

	el.remove("a")
	if el.get("a") != nil {
		t.Error("expected events removed")
	}
}
