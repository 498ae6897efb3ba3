package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the lifecycle status of a game session.
type SessionStatus string

const (
	SessionStatusWaiting    SessionStatus = "WAITING"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// DiceMode defines where the physical dice live.
type DiceMode string

const (
	DiceModePhysical DiceMode = "PHYSICAL"
	DiceModeVirtual  DiceMode = "VIRTUAL"
)

// Session represents one shared game record. The current-turn player id is
// the single-writer token: only that player's dice/score writes are accepted.
type Session struct {
	ID            uuid.UUID     `json:"id"`
	JoinCode      string        `json:"join_code"`
	Status        SessionStatus `json:"status"`
	PlayerOrder   []uuid.UUID   `json:"player_order"`
	CurrentTurnID *uuid.UUID    `json:"current_turn_id,omitempty"`
	DiceMode      DiceMode      `json:"dice_mode"`
	WinnerID      *uuid.UUID    `json:"winner_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NextInTurnOrder returns the player after current in turn order, wrapping
// to the first entry. Returns uuid.Nil when current is not in the order.
func (s *Session) NextInTurnOrder(current uuid.UUID) uuid.UUID {
	for i, id := range s.PlayerOrder {
		if id == current {
			return s.PlayerOrder[(i+1)%len(s.PlayerOrder)]
		}
	}
	return uuid.Nil
}
