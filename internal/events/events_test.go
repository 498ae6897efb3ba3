package events

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

// TestDecodeSessionChange checks that a sessions-row notification decodes
// into exactly one typed record carrying the envelope's op and row id.
func TestDecodeSessionChange(t *testing.T) {
	sessionID := uuid.New()
	turnID := uuid.New()
	raw := fmt.Sprintf(`{
		"table": "sessions",
		"op": "UPDATE",
		"row_id": %q,
		"session_id": %q,
		"payload": {"status": "IN_PROGRESS", "player_order": [%q], "current_turn_id": %q}
	}`, sessionID, sessionID, turnID, turnID)

	change, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if change.SessionID != sessionID {
		t.Fatalf("session id = %s, want %s", change.SessionID, sessionID)
	}
	if change.Session == nil {
		t.Fatal("session record missing")
	}
	if change.Player != nil || change.State != nil || change.Action != nil {
		t.Fatal("more than one record decoded")
	}
	if change.Session.Op != OpUpdate {
		t.Fatalf("op = %s, want %s", change.Session.Op, OpUpdate)
	}
	if change.Session.Status != "IN_PROGRESS" {
		t.Fatalf("status = %q", change.Session.Status)
	}
	if change.Session.CurrentTurnID == nil || *change.Session.CurrentTurnID != turnID {
		t.Fatalf("current turn = %v, want %s", change.Session.CurrentTurnID, turnID)
	}
}

// TestDecodeStateChange checks that a player_states notification keys the
// record by the row's player id.
func TestDecodeStateChange(t *testing.T) {
	sessionID := uuid.New()
	playerID := uuid.New()
	raw := fmt.Sprintf(`{
		"table": "player_states",
		"op": "UPDATE",
		"row_id": %q,
		"session_id": %q,
		"payload": {"dice": [2,2,2,5,6], "locked": [false,false,false,false,false], "rolls_remaining": 2, "scorecard": {"free_tris": 16}}
	}`, playerID, sessionID)

	change, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if change.State == nil {
		t.Fatal("state record missing")
	}
	if change.State.PlayerID != playerID {
		t.Fatalf("player id = %s, want %s", change.State.PlayerID, playerID)
	}
	if got := change.State.Scorecard["free_tris"]; got != 16 {
		t.Fatalf("scorecard entry = %d, want 16", got)
	}
}

// TestDecodeUnknownTable ensures untracked tables surface a typed error so
// callers can drop the notification with a warning.
func TestDecodeUnknownTable(t *testing.T) {
	raw := fmt.Sprintf(`{"table": "audit_meta", "op": "INSERT", "row_id": %q, "session_id": %q, "payload": {}}`,
		uuid.New(), uuid.New())
	_, err := Decode([]byte(raw))
	var unknown ErrUnknownTable
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want ErrUnknownTable", err)
	}
	if unknown.Table != "audit_meta" {
		t.Fatalf("table = %q", unknown.Table)
	}
}

// TestDecodeMalformedPayload ensures a payload that does not match its
// table's record type fails instead of half-decoding.
func TestDecodeMalformedPayload(t *testing.T) {
	raw := fmt.Sprintf(`{"table": "player_states", "op": "UPDATE", "row_id": %q, "session_id": %q, "payload": {"dice": "not-an-array"}}`,
		uuid.New(), uuid.New())
	if _, err := Decode([]byte(raw)); err == nil {
		t.Fatal("expected decode error")
	}
}
