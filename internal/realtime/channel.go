// Package realtime delivers the live view of one game session: row-change
// notifications from the store's LISTEN/NOTIFY channel, presence membership
// built from NATS heartbeats, and connection lifecycle transitions.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/jamblive/jamblive/internal/events"
)

// NotifyChannel is the Postgres channel the store triggers publish on.
const NotifyChannel = "jamb_changes"

// Config holds subscription tuning.
type Config struct {
	DatabaseURL       string
	NatsURL           string
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration // beats older than this drop out of snapshots
	SweepInterval     time.Duration // how often presence snapshots are emitted
	PingInterval      time.Duration // listener keepalive
	MinReconnect      time.Duration
	MaxReconnect      time.Duration
}

// DefaultConfig returns the default subscription tuning.
func DefaultConfig() Config {
	return Config{
		NatsURL:           nats.DefaultURL,
		HeartbeatInterval: 2 * time.Second,
		LivenessWindow:    6 * time.Second,
		SweepInterval:     time.Second,
		PingInterval:      90 * time.Second,
		MinReconnect:      time.Second,
		MaxReconnect:      30 * time.Second,
	}
}

// Handlers receives subscription events. Nil handlers are skipped. Handlers
// run on the subscription goroutine; keep them short.
type Handlers struct {
	OnChange   func(events.Change)
	OnPresence func(events.PresenceSnapshot)
	OnStatus   func(Status)
	// OnReady fires once, the first time the subscription reaches
	// connected. It gates UI transitions that must wait for a provably
	// live channel, not merely a row change.
	OnReady func()
}

// Channel creates subscriptions for game sessions.
type Channel struct {
	cfg   Config
	nc    *nats.Conn
	clock clockwork.Clock
}

// NewChannel connects the shared NATS side of the channel. The Postgres
// listener is per-subscription.
func NewChannel(cfg Config, clock clockwork.Clock) (*Channel, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	nc, err := nats.Connect(cfg.NatsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.MinReconnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("presence transport disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("presence transport reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect presence transport: %w", err)
	}
	return &Channel{cfg: cfg, nc: nc, clock: clock}, nil
}

// Close releases the shared NATS connection.
func (c *Channel) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

func presenceSubject(sessionID uuid.UUID) string {
	return fmt.Sprintf("jamb.presence.%s.beat", sessionID)
}

// Subscription is one live attachment to a session. At most one logically
// active subscription is authoritative at a time; events raised after
// Unsubscribe are dropped, so a torn-down handle cannot leak stale state
// into a newer one.
type Subscription struct {
	ID        uuid.UUID
	sessionID uuid.UUID
	clientID  uuid.UUID

	cfg      Config
	clock    clockwork.Clock
	handlers Handlers

	listener *pq.Listener
	natsSub  *nats.Subscription
	nc       *nats.Conn

	beats          chan events.Heartbeat
	listenerEvents chan pq.ListenerEventType

	readyOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu     sync.Mutex
	status Status
}

// Subscribe attaches to a session's change feed and presence subject and
// starts publishing the local heartbeat. The returned subscription is live
// until Unsubscribe or ctx cancellation.
func (c *Channel) Subscribe(ctx context.Context, sessionID, clientID uuid.UUID, handlers Handlers) (*Subscription, error) {
	s := &Subscription{
		ID:             uuid.New(),
		sessionID:      sessionID,
		clientID:       clientID,
		cfg:            c.cfg,
		clock:          c.clock,
		handlers:       handlers,
		nc:             c.nc,
		beats:          make(chan events.Heartbeat, 64),
		listenerEvents: make(chan pq.ListenerEventType, 8),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		status:         StatusConnecting,
	}

	s.listener = pq.NewListener(c.cfg.DatabaseURL, c.cfg.MinReconnect, c.cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Warn().Err(err).Str("subscription_id", s.ID.String()).Msg("listener event")
			}
			select {
			case s.listenerEvents <- ev:
			case <-s.stop:
			}
		})
	if err := s.listener.Listen(NotifyChannel); err != nil {
		_ = s.listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", NotifyChannel, err)
	}

	natsSub, err := c.nc.Subscribe(presenceSubject(sessionID), func(msg *nats.Msg) {
		var beat events.Heartbeat
		if err := json.Unmarshal(msg.Data, &beat); err != nil {
			log.Warn().Err(err).Msg("dropping malformed heartbeat")
			return
		}
		select {
		case s.beats <- beat:
		case <-s.stop:
		}
	})
	if err != nil {
		_ = s.listener.Close()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}
	s.natsSub = natsSub

	go s.run(ctx)

	log.Info().
		Str("subscription_id", s.ID.String()).
		Str("session_id", sessionID.String()).
		Msg("subscribed to session channel")
	return s, nil
}

// Status returns the current lifecycle state.
func (s *Subscription) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Unsubscribe tears the subscription down. Safe to call any number of
// times from any state.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		// Best-effort leave beat so peers see the departure before the
		// liveness window expires. Never blocks teardown.
		leave, err := json.Marshal(events.Heartbeat{
			ClientID:  s.clientID,
			SessionID: s.sessionID,
			SentAt:    s.clock.Now(),
			Leaving:   true,
		})
		if err == nil {
			_ = s.nc.Publish(presenceSubject(s.sessionID), leave)
		}
		close(s.stop)
		<-s.done
	})
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if s.natsSub != nil {
			_ = s.natsSub.Unsubscribe()
		}
		_ = s.listener.Close()
		s.setStatus(StatusClosed)
		log.Info().Str("subscription_id", s.ID.String()).Msg("subscription closed")
	}()

	heartbeat := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sweep := s.clock.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	ping := s.clock.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	present := make(map[uuid.UUID]time.Time)
	s.publishHeartbeat()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return

		case ev := <-s.listenerEvents:
			switch ev {
			case pq.ListenerEventConnected, pq.ListenerEventReconnected:
				s.setStatus(StatusConnected)
				s.readyOnce.Do(func() {
					if s.handlers.OnReady != nil {
						s.handlers.OnReady()
					}
				})
			case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
				s.setStatus(StatusUnstable)
			}

		case note := <-s.listener.Notify:
			if note == nil {
				// nil marks a dropped connection; the listener is
				// already reconnecting underneath.
				s.setStatus(StatusUnstable)
				continue
			}
			change, err := events.Decode([]byte(note.Extra))
			if err != nil {
				log.Warn().Err(err).Msg("dropping undecodable change notification")
				continue
			}
			if change.SessionID != s.sessionID {
				continue
			}
			if s.closedNow() {
				return
			}
			if s.handlers.OnChange != nil {
				s.handlers.OnChange(change)
			}

		case beat := <-s.beats:
			if beat.SessionID != s.sessionID {
				continue
			}
			if beat.Leaving {
				delete(present, beat.ClientID)
				continue
			}
			present[beat.ClientID] = beat.SentAt

		case <-sweep.Chan():
			now := s.clock.Now()
			snapshot := events.PresenceSnapshot{
				SessionID: s.sessionID,
				Present:   make(map[uuid.UUID]time.Time, len(present)),
				TakenAt:   now,
			}
			for id, seen := range present {
				if now.Sub(seen) > s.cfg.LivenessWindow {
					delete(present, id)
					continue
				}
				snapshot.Present[id] = seen
			}
			if s.handlers.OnPresence != nil {
				s.handlers.OnPresence(snapshot)
			}

		case <-heartbeat.Chan():
			s.publishHeartbeat()

		case <-ping.Chan():
			if err := s.listener.Ping(); err != nil {
				log.Warn().Err(err).Msg("listener ping failed")
				s.setStatus(StatusUnstable)
			}
		}
	}
}

func (s *Subscription) publishHeartbeat() {
	beat, err := json.Marshal(events.Heartbeat{
		ClientID:  s.clientID,
		SessionID: s.sessionID,
		SentAt:    s.clock.Now(),
	})
	if err != nil {
		return
	}
	if err := s.nc.Publish(presenceSubject(s.sessionID), beat); err != nil {
		log.Warn().Err(err).Msg("heartbeat publish failed")
	}
}

func (s *Subscription) setStatus(status Status) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()
	if changed && s.handlers.OnStatus != nil {
		s.handlers.OnStatus(status)
	}
}

func (s *Subscription) closedNow() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
