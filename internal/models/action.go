package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType defines the kind of accepted mutation recorded in the action log.
type ActionType string

const (
	ActionTypeRoll       ActionType = "ROLL"
	ActionTypeLockToggle ActionType = "LOCK_TOGGLE"
	ActionTypeAnnounce   ActionType = "ANNOUNCE"
	ActionTypeScore      ActionType = "SCORE"
	ActionTypeTurnPass   ActionType = "TURN_PASS"
	ActionTypeComplete   ActionType = "COMPLETE"
)

// ActionEntry is one append-only action-log row. The log is the audit trail
// for accepted mutations and the source for re-deriving announcements.
type ActionEntry struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	PlayerID  uuid.UUID       `json:"player_id"`
	Type      ActionType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
