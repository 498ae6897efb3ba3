package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig(), nil, nil, clockwork.NewFakeClock(), uuid.New(), uuid.New())
}

// TestNotifyNeverBlocks fills the notice buffer past capacity and relies on
// the test timeout to catch a blocking send.
func TestNotifyNeverBlocks(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < cap(e.notices)+10; i++ {
		e.Notify("connectivity", "reconnecting")
	}
	if got := len(e.notices); got != cap(e.notices) {
		t.Fatalf("buffered notices = %d, want %d", got, cap(e.notices))
	}
}

// TestConnectedTracksControllerState checks that write gating follows the
// reconnection controller.
func TestConnectedTracksControllerState(t *testing.T) {
	e := newTestEngine()
	if !e.Connected() {
		t.Fatal("fresh engine should report connected")
	}
	e.NoteOffline("reported offline")
	if e.Connected() {
		t.Fatal("engine still connected after offline report")
	}
}
