package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus defines the damped liveness verdict for a player.
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "CONNECTED"
	ConnectionStatusDisconnected ConnectionStatus = "DISCONNECTED"
)

// Player represents one seat in a session.
type Player struct {
	ID               uuid.UUID        `json:"id"`
	SessionID        uuid.UUID        `json:"session_id"`
	DisplayName      string           `json:"display_name"`
	TurnIndex        int              `json:"turn_index"`
	IsHost           bool             `json:"is_host"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	LastSeenAt       *time.Time       `json:"last_seen_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}
