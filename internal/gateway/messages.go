package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jamblive/jamblive/internal/models"
)

// Command is an inbound client frame.
type Command struct {
	Type     string `json:"type"`
	Index    int    `json:"index,omitempty"`
	Column   string `json:"column,omitempty"`
	Category string `json:"category,omitempty"`
	Value    int    `json:"value,omitempty"`
}

// Inbound command types.
const (
	CmdRoll         = "roll"
	CmdToggleLock   = "toggle_lock"
	CmdAnnounce     = "announce"
	CmdAttemptScore = "attempt_score"
	CmdReconnectNow = "reconnect_now"
	CmdSnapshot     = "snapshot"
)

// Event is an outbound frame to the client.
type Event struct {
	Type    string          `json:"type"`
	Kind    string          `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
	Command string          `json:"command,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
}

// Outbound event types.
const (
	EventNotice   = "notice"
	EventResult   = "result"
	EventSnapshot = "snapshot"
)

// PlayerView is the per-player slice of a snapshot.
type PlayerView struct {
	ID               uuid.UUID        `json:"id"`
	DisplayName      string           `json:"display_name"`
	TurnIndex        int              `json:"turn_index"`
	IsHost           bool             `json:"is_host"`
	ConnectionStatus string           `json:"connection_status"`
	Dice             []int            `json:"dice"`
	Locked           []bool           `json:"locked"`
	RollsRemaining   int              `json:"rolls_remaining"`
	Scorecard        models.Scorecard `json:"scorecard"`
	Announcement     *string          `json:"announcement,omitempty"`
	GrandTotal       int              `json:"grand_total"`
}

// Snapshot is the full session view pushed to a client.
type Snapshot struct {
	SessionID     uuid.UUID            `json:"session_id"`
	JoinCode      string               `json:"join_code"`
	Status        string               `json:"status"`
	DiceMode      string               `json:"dice_mode"`
	CurrentTurnID *uuid.UUID           `json:"current_turn_id,omitempty"`
	WinnerID      *uuid.UUID           `json:"winner_id,omitempty"`
	Phase         string               `json:"phase"`
	Connection    string               `json:"connection"`
	Fillable      map[string]bool      `json:"fillable,omitempty"`
	Players       []PlayerView         `json:"players"`
	RecentActions []models.ActionEntry `json:"recent_actions,omitempty"`
}
