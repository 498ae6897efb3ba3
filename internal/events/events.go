// Package events defines the change-notification envelope shared by the
// store triggers and the realtime channel, and its strict per-entity
// decodings.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table identifies the entity a change notification refers to.
type Table string

const (
	TableSession     Table = "sessions"
	TablePlayer      Table = "players"
	TablePlayerState Table = "player_states"
	TableActionLog   Table = "action_log"
)

// Op identifies the row operation.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Envelope is the raw notification payload emitted by the store triggers.
// Payload is decoded into a per-entity record before any handler logic runs.
type Envelope struct {
	Table     Table           `json:"table"`
	Op        Op              `json:"op"`
	RowID     uuid.UUID       `json:"row_id"`
	SessionID uuid.UUID       `json:"session_id"`
	EmittedAt time.Time       `json:"emitted_at"`
	Payload   json.RawMessage `json:"payload"`
}

// SessionChange is a decoded sessions-row notification.
type SessionChange struct {
	Op            Op
	SessionID     uuid.UUID
	Status        string      `json:"status"`
	PlayerOrder   []uuid.UUID `json:"player_order"`
	CurrentTurnID *uuid.UUID  `json:"current_turn_id"`
	WinnerID      *uuid.UUID  `json:"winner_id"`
}

// PlayerChange is a decoded players-row notification.
type PlayerChange struct {
	Op               Op
	PlayerID         uuid.UUID
	DisplayName      string     `json:"display_name"`
	TurnIndex        int        `json:"turn_index"`
	IsHost           bool       `json:"is_host"`
	ConnectionStatus string     `json:"connection_status"`
	LastSeenAt       *time.Time `json:"last_seen_at"`
}

// PlayerStateChange is a decoded player_states-row notification.
type PlayerStateChange struct {
	Op             Op
	PlayerID       uuid.UUID
	Dice           []int          `json:"dice"`
	Locked         []bool         `json:"locked"`
	RollsRemaining int            `json:"rolls_remaining"`
	Scorecard      map[string]int `json:"scorecard"`
	Announcement   *string        `json:"announcement"`
}

// ActionInsert is a decoded action_log insert notification.
type ActionInsert struct {
	ActionID  uuid.UUID
	PlayerID  uuid.UUID       `json:"player_id"`
	Type      string          `json:"action_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Change is the decoded form of an Envelope: exactly one field is non-nil.
type Change struct {
	SessionID uuid.UUID
	Session   *SessionChange
	Player    *PlayerChange
	State     *PlayerStateChange
	Action    *ActionInsert
}

// ErrUnknownTable is returned for notifications from tables the engine does
// not track; callers drop these with a warning rather than failing.
type ErrUnknownTable struct {
	Table Table
}

func (e ErrUnknownTable) Error() string {
	return fmt.Sprintf("unknown notification table %q", e.Table)
}

// Decode parses a raw notification payload into a typed Change.
func Decode(data []byte) (Change, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Change{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope converts an Envelope into a typed Change.
func DecodeEnvelope(env Envelope) (Change, error) {
	change := Change{SessionID: env.SessionID}

	switch env.Table {
	case TableSession:
		var sc SessionChange
		if err := json.Unmarshal(env.Payload, &sc); err != nil {
			return Change{}, fmt.Errorf("unmarshal session payload: %w", err)
		}
		sc.Op = env.Op
		sc.SessionID = env.RowID
		change.Session = &sc

	case TablePlayer:
		var pc PlayerChange
		if err := json.Unmarshal(env.Payload, &pc); err != nil {
			return Change{}, fmt.Errorf("unmarshal player payload: %w", err)
		}
		pc.Op = env.Op
		pc.PlayerID = env.RowID
		change.Player = &pc

	case TablePlayerState:
		var psc PlayerStateChange
		if err := json.Unmarshal(env.Payload, &psc); err != nil {
			return Change{}, fmt.Errorf("unmarshal player state payload: %w", err)
		}
		psc.Op = env.Op
		psc.PlayerID = env.RowID
		change.State = &psc

	case TableActionLog:
		var ai ActionInsert
		if err := json.Unmarshal(env.Payload, &ai); err != nil {
			return Change{}, fmt.Errorf("unmarshal action payload: %w", err)
		}
		ai.ActionID = env.RowID
		change.Action = &ai

	default:
		return Change{}, ErrUnknownTable{Table: env.Table}
	}

	return change, nil
}
