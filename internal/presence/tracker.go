// Package presence turns raw heartbeat membership into damped
// connected/disconnected verdicts for the remote players of a session.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/jamblive/jamblive/internal/events"
	"github.com/jamblive/jamblive/internal/models"
)

// StatusWriter persists verdict flips so clients observing only row
// changes still see them.
type StatusWriter interface {
	SetConnectionStatus(ctx context.Context, playerID uuid.UUID, status models.ConnectionStatus, seenAt time.Time) error
}

// Config holds the damping windows.
type Config struct {
	// GraceWindow is how long a player may be missing from presence
	// snapshots before being marked disconnected. Absorbs sub-second
	// presence churn.
	GraceWindow time.Duration
	// WarmupWindow is how long after a (re)subscribe all known players
	// are treated as provisionally connected, since a fresh subscription
	// takes time to receive a full presence sync.
	WarmupWindow time.Duration
}

// DefaultConfig returns the default damping windows.
func DefaultConfig() Config {
	return Config{
		GraceWindow:  10 * time.Second,
		WarmupWindow: 5 * time.Second,
	}
}

type verdict struct {
	status       models.ConnectionStatus
	missingSince *time.Time
}

// Tracker reconciles presence snapshots into per-player verdicts.
// The local player is never judged here: local connection status is driven
// only by local signals.
type Tracker struct {
	cfg     Config
	clock   clockwork.Clock
	writer  StatusWriter
	localID uuid.UUID

	mu          sync.Mutex
	known       map[uuid.UUID]*verdict
	warmupUntil time.Time
	unstable    bool
}

// NewTracker creates a tracker for the given local player.
func NewTracker(cfg Config, clock clockwork.Clock, writer StatusWriter, localID uuid.UUID) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := &Tracker{
		cfg:     cfg,
		clock:   clock,
		writer:  writer,
		localID: localID,
		known:   make(map[uuid.UUID]*verdict),
	}
	t.beginWarmup()
	return t
}

// TrackPlayer registers a player. New players start connected.
func (t *Tracker) TrackPlayer(id uuid.UUID) {
	if id == t.localID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.known[id]; !ok {
		t.known[id] = &verdict{status: models.ConnectionStatusConnected}
	}
}

// ForgetPlayer drops a player that left the session.
func (t *Tracker) ForgetPlayer(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.known, id)
}

// Verdict returns the current status for a tracked player.
func (t *Tracker) Verdict(id uuid.UUID) (models.ConnectionStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.known[id]
	if !ok {
		return "", false
	}
	return v.status, true
}

// NoteChannelStatus tells the tracker whether the local link is mid
// reconnect. While it is, missing peers are not flipped: the instability
// is ours, not theirs. A fresh connected status restarts the warm-up.
func (t *Tracker) NoteChannelStatus(stable bool) {
	t.mu.Lock()
	wasUnstable := t.unstable
	t.unstable = !stable
	t.mu.Unlock()
	if stable && wasUnstable {
		t.beginWarmup()
	}
}

// BeginWarmup restarts the provisional window, called on every
// (re)subscribe.
func (t *Tracker) BeginWarmup() {
	t.beginWarmup()
}

func (t *Tracker) beginWarmup() {
	t.mu.Lock()
	t.warmupUntil = t.clock.Now().Add(t.cfg.WarmupWindow)
	for _, v := range t.known {
		v.missingSince = nil
	}
	t.mu.Unlock()
}

// HandlePresence reconciles one membership snapshot into verdicts,
// persisting every flip. Re-flipping to the same value is a no-op.
func (t *Tracker) HandlePresence(ctx context.Context, snapshot events.PresenceSnapshot) {
	now := t.clock.Now()

	t.mu.Lock()
	type flip struct {
		id     uuid.UUID
		status models.ConnectionStatus
	}
	var flips []flip

	warming := now.Before(t.warmupUntil)
	for id, v := range t.known {
		if id == t.localID {
			continue
		}
		if _, here := snapshot.Present[id]; here || warming {
			v.missingSince = nil
			if v.status != models.ConnectionStatusConnected {
				v.status = models.ConnectionStatusConnected
				flips = append(flips, flip{id, v.status})
			}
			continue
		}
		if t.unstable {
			// Local link is flapping; do not blame the peer.
			continue
		}
		if v.missingSince == nil {
			missing := now
			v.missingSince = &missing
			continue
		}
		if now.Sub(*v.missingSince) > t.cfg.GraceWindow && v.status != models.ConnectionStatusDisconnected {
			v.status = models.ConnectionStatusDisconnected
			flips = append(flips, flip{id, v.status})
		}
	}
	t.mu.Unlock()

	for _, f := range flips {
		if err := t.writer.SetConnectionStatus(ctx, f.id, f.status, now); err != nil {
			log.Error().Err(err).
				Str("player_id", f.id.String()).
				Str("status", string(f.status)).
				Msg("failed to persist presence verdict")
			continue
		}
		log.Info().
			Str("player_id", f.id.String()).
			Str("status", string(f.status)).
			Msg("presence verdict flipped")
	}
}
