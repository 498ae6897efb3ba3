package models

import (
	"time"

	"github.com/google/uuid"
)

// NumDice is the number of dice rolled each turn.
const NumDice = 5

// MaxRolls is the number of rolls a player gets per turn.
const MaxRolls = 3

// Scorecard maps "<column>_<category>" keys to locked-in values.
// Entries are append-only: a key, once present, is never overwritten.
type Scorecard map[string]int

// Clone returns a copy of the scorecard.
func (c Scorecard) Clone() Scorecard {
	out := make(Scorecard, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// PlayerState holds the turn-scoped mutable state for one player.
// Only the turn owner writes to their own row; other clients treat it as
// a read-only mirror.
type PlayerState struct {
	PlayerID       uuid.UUID     `json:"player_id"`
	SessionID      uuid.UUID     `json:"session_id"`
	Dice           [NumDice]int  `json:"dice"`
	Locked         [NumDice]bool `json:"locked"`
	RollsRemaining int           `json:"rolls_remaining"`
	Scorecard      Scorecard     `json:"scorecard"`
	Announcement   *string       `json:"announcement,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewPlayerState returns the default state a player gets on join and
// whenever the turn passes to them.
func NewPlayerState(sessionID, playerID uuid.UUID) *PlayerState {
	return &PlayerState{
		PlayerID:       playerID,
		SessionID:      sessionID,
		RollsRemaining: MaxRolls,
		Scorecard:      make(Scorecard),
	}
}
