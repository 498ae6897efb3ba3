// Package engine composes one player's live attachment to one game
// session: the sync gateway, realtime channel, presence tracker,
// reconnection controller and turn coordinator, wired together and torn
// down as a unit.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/jamblive/jamblive/internal/events"
	"github.com/jamblive/jamblive/internal/models"
	"github.com/jamblive/jamblive/internal/presence"
	"github.com/jamblive/jamblive/internal/realtime"
	"github.com/jamblive/jamblive/internal/reconnect"
	"github.com/jamblive/jamblive/internal/scorecard"
	"github.com/jamblive/jamblive/internal/store"
	"github.com/jamblive/jamblive/internal/turn"
)

// Config carries the per-session tuning for every composed component.
type Config struct {
	Presence  presence.Config
	Reconnect reconnect.Config
	TiePolicy scorecard.TiePolicy
}

// DefaultConfig returns the default engine tuning.
func DefaultConfig() Config {
	return Config{
		Presence:  presence.DefaultConfig(),
		Reconnect: reconnect.DefaultConfig(),
		TiePolicy: scorecard.TieFirstInTurnOrder,
	}
}

// Notice is a user-facing event surfaced to whatever UI is attached.
type Notice struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Engine is one player's session attachment. Create with NewEngine, start
// with Start, release with Close. All methods are safe for concurrent use.
type Engine struct {
	cfg       Config
	sessionID uuid.UUID
	playerID  uuid.UUID

	store   *store.Gateway
	channel *realtime.Channel
	clock   clockwork.Clock

	coordinator *turn.Coordinator
	tracker     *presence.Tracker
	controller  *reconnect.Controller

	notices chan Notice

	mu  sync.Mutex
	sub *realtime.Subscription

	runCancel context.CancelFunc
	closeOnce sync.Once
}

// NewEngine wires the components for one (session, player) pair. The store
// gateway and channel are shared; everything else is owned by the engine.
func NewEngine(cfg Config, gw *store.Gateway, channel *realtime.Channel, clock clockwork.Clock, sessionID, playerID uuid.UUID) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	e := &Engine{
		cfg:       cfg,
		sessionID: sessionID,
		playerID:  playerID,
		store:     gw,
		channel:   channel,
		clock:     clock,
		notices:   make(chan Notice, 64),
	}
	e.tracker = presence.NewTracker(cfg.Presence, clock, statusWriter{gw}, playerID)
	e.coordinator = turn.NewCoordinator(sessionID, playerID, gw, turn.OnlinePolicy{Conn: e}, cfg.TiePolicy, e)
	e.controller = reconnect.NewController(cfg.Reconnect, clock, e, e, e, func(s reconnect.State) {
		switch s {
		case reconnect.StateConnected:
			e.Notify("connectivity", "connected")
		case reconnect.StateReconnecting:
			e.Notify("connectivity", "reconnecting")
		case reconnect.StateDisconnected:
			e.Notify("connectivity", "connection lost")
		}
	})
	return e
}

// Start subscribes to the session, loads the initial snapshot and begins
// the reconnection loop. The engine is live until Close.
func (e *Engine) Start(ctx context.Context) error {
	// Subscriptions must outlive the startup call; they are bound to the
	// engine's own lifetime and released in Close.
	runCtx, cancel := context.WithCancel(context.Background())
	e.runCancel = cancel

	sub, err := e.subscribe(runCtx)
	if err != nil {
		cancel()
		return err
	}
	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()

	if err := e.Rehydrate(ctx); err != nil {
		sub.Unsubscribe()
		cancel()
		return err
	}
	if err := e.store.SetConnectionStatus(ctx, e.playerID, models.ConnectionStatusConnected, e.clock.Now()); err != nil {
		log.Warn().Err(err).Msg("failed to mark local player connected")
	}

	go e.controller.Run(runCtx)

	log.Info().
		Str("session_id", e.sessionID.String()).
		Str("player_id", e.playerID.String()).
		Msg("engine started")
	return nil
}

// Close tears the attachment down: leave beat, listener close, reconnect
// loop stop and a best-effort disconnected mark. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		sub := e.sub
		e.sub = nil
		e.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		e.controller.Close()
		if e.runCancel != nil {
			e.runCancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.store.SetConnectionStatus(ctx, e.playerID, models.ConnectionStatusDisconnected, e.clock.Now()); err != nil {
			log.Warn().Err(err).Msg("failed to mark local player disconnected")
		}
		close(e.notices)
		log.Info().Str("session_id", e.sessionID.String()).Msg("engine closed")
	})
}

// Notices returns the stream of user-facing events. Closed by Close.
func (e *Engine) Notices() <-chan Notice { return e.notices }

// Notify pushes a notice without blocking, dropping when the UI lags.
func (e *Engine) Notify(kind, message string) {
	select {
	case e.notices <- Notice{Kind: kind, Message: message}:
	default:
		log.Debug().Str("kind", kind).Msg("notice dropped, consumer lagging")
	}
}

// Gameplay pass-throughs.

func (e *Engine) Roll(ctx context.Context) error { return e.coordinator.Roll(ctx) }

func (e *Engine) ToggleLock(ctx context.Context, index int) error {
	return e.coordinator.ToggleLock(ctx, index)
}

func (e *Engine) Announce(ctx context.Context, category scorecard.Category) error {
	return e.coordinator.Announce(ctx, category)
}

func (e *Engine) AttemptScore(ctx context.Context, column scorecard.Column, category scorecard.Category, value int) error {
	return e.coordinator.AttemptScore(ctx, column, category, value)
}

func (e *Engine) Coordinator() *turn.Coordinator { return e.coordinator }

// ReconnectNow restarts the reconnection loop after manual exhaustion.
func (e *Engine) ReconnectNow() { e.controller.ReconnectNow() }

// NoteOffline reports an externally observed connectivity loss, such as a
// client-side offline event, and wakes the recovery loop.
func (e *Engine) NoteOffline(reason string) { e.controller.NoteOffline(reason) }

// ConnectionState reports the reconnection controller's view of the link.
func (e *Engine) ConnectionState() reconnect.State { return e.controller.State() }

// Exhausted reports whether automatic reconnection has given up.
func (e *Engine) Exhausted() bool { return e.controller.Exhausted() }

// Connected reports whether writes should currently be allowed.
func (e *Engine) Connected() bool {
	return e.controller.State() == reconnect.StateConnected
}

// Reachable probes the store, used between reconnection attempts.
func (e *Engine) Reachable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return e.store.Ping(probeCtx) == nil
}

// Resubscribe replaces the live subscription with a fresh one. The old
// handle is torn down first so its late events cannot shadow the new one.
func (e *Engine) Resubscribe(ctx context.Context) error {
	e.mu.Lock()
	old := e.sub
	e.sub = nil
	e.mu.Unlock()
	if old != nil {
		old.Unsubscribe()
	}

	sub, err := e.subscribe(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()

	e.tracker.BeginWarmup()
	return nil
}

// Rehydrate reloads the authoritative snapshot and refreshes the tracked
// player set.
func (e *Engine) Rehydrate(ctx context.Context) error {
	if err := e.coordinator.Rehydrate(ctx); err != nil {
		return err
	}
	players, err := e.store.GetPlayers(ctx, e.sessionID)
	if err != nil {
		return err
	}
	for _, p := range players {
		e.tracker.TrackPlayer(p.ID)
	}
	return nil
}

func (e *Engine) subscribe(ctx context.Context) (*realtime.Subscription, error) {
	return e.channel.Subscribe(ctx, e.sessionID, e.playerID, realtime.Handlers{
		OnChange:   e.handleChange,
		OnPresence: e.handlePresence,
		OnStatus:   e.handleStatus,
		OnReady:    func() { e.Notify("channel", "live") },
	})
}

func (e *Engine) handleChange(change events.Change) {
	switch {
	case change.Session != nil:
		// Completion is announced by the coordinator's one-shot guard.
		e.coordinator.HandleSessionChange(*change.Session)

	case change.Player != nil:
		pc := change.Player
		if pc.Op == events.OpDelete {
			e.tracker.ForgetPlayer(pc.PlayerID)
			e.Notify("player_left", pc.DisplayName+" left")
			return
		}
		e.tracker.TrackPlayer(pc.PlayerID)
		if pc.Op == events.OpInsert {
			e.Notify("player_joined", pc.DisplayName+" joined")
		}

	case change.State != nil:
		e.coordinator.HandleStateChange(*change.State)

	case change.Action != nil:
		if change.Action.PlayerID != e.playerID {
			e.Notify("opponent_action", change.Action.Type)
		}
	}
}

func (e *Engine) handlePresence(snapshot events.PresenceSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	e.tracker.HandlePresence(ctx, snapshot)
}

func (e *Engine) handleStatus(status realtime.Status) {
	e.tracker.NoteChannelStatus(status == realtime.StatusConnected)
	switch status {
	case realtime.StatusUnstable:
		e.controller.NoteOffline("change feed unstable")
	case realtime.StatusClosed:
		// A deliberate teardown closes while the controller is already
		// reconnecting or stopped, which NoteOffline ignores.
		e.controller.NoteOffline("change feed closed")
	}
}

// statusWriter adapts the store gateway to the tracker's writer interface.
type statusWriter struct {
	gw *store.Gateway
}

func (w statusWriter) SetConnectionStatus(ctx context.Context, playerID uuid.UUID, status models.ConnectionStatus, seenAt time.Time) error {
	return w.gw.SetConnectionStatus(ctx, playerID, status, seenAt)
}
