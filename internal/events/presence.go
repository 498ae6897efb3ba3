package events

import (
	"time"

	"github.com/google/uuid"
)

// Heartbeat is the ephemeral liveness beat each client publishes on the
// session presence subject. It never touches durable storage.
type Heartbeat struct {
	ClientID  uuid.UUID `json:"client_id"`
	SessionID uuid.UUID `json:"session_id"`
	SentAt    time.Time `json:"sent_at"`
	Leaving   bool      `json:"leaving,omitempty"`
}

// PresenceSnapshot is the membership view the channel hands to the presence
// tracker: the set of client ids seen within the liveness window.
type PresenceSnapshot struct {
	SessionID uuid.UUID
	Present   map[uuid.UUID]time.Time
	TakenAt   time.Time
}
