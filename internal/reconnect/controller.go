// Package reconnect owns local connectivity state: detecting loss, retrying
// the channel subscription with bounded backoff, and triggering full state
// rehydration once the link is back.
package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the local connectivity state.
type State string

const (
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
	StateReconnecting State = "RECONNECTING"
)

// Prober reports whether the network is actually reachable. Attempts are
// skipped, not failed, while it returns false.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// Resubscriber re-establishes the realtime subscription.
type Resubscriber interface {
	Resubscribe(ctx context.Context) error
}

// Rehydrator re-fetches the full authoritative state. It runs
// unconditionally after every successful reconnect: buffered deltas are
// never trusted across an offline gap.
type Rehydrator interface {
	Rehydrate(ctx context.Context) error
}

// Config holds the retry policy.
type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxAttempts bounds automatic retries; once exhausted the controller
	// goes quiet until ReconnectNow.
	MaxAttempts int
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		MaxAttempts:    8,
	}
}

// Controller drives the disconnected -> reconnecting -> connected loop.
type Controller struct {
	cfg     Config
	clock   clockwork.Clock
	prober  Prober
	resub   Resubscriber
	rehyd   Rehydrator
	onState func(State)

	wakeCh chan struct{}

	mu        sync.Mutex
	state     State
	attempts  int
	exhausted bool
	started   bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewController builds a controller starting in the connected state.
// onState may be nil.
func NewController(cfg Config, clock clockwork.Clock, prober Prober, resub Resubscriber, rehyd Rehydrator, onState func(State)) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		cfg:     cfg,
		clock:   clock,
		prober:  prober,
		resub:   resub,
		rehyd:   rehyd,
		onState: onState,
		wakeCh:  make(chan struct{}, 1),
		state:   StateConnected,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// State returns the current connectivity state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Exhausted reports whether automatic retries have given up; recovery then
// requires ReconnectNow.
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// NoteOffline records a local connectivity loss (reported offline, channel
// closed or errored, heartbeat failure) and wakes the recovery loop.
func (c *Controller) NoteOffline(reason string) {
	c.mu.Lock()
	if c.state == StateConnected {
		c.state = StateDisconnected
		c.attempts = 0
		c.exhausted = false
		c.mu.Unlock()
		log.Warn().Str("reason", reason).Msg("connection lost")
		c.notify(StateDisconnected)
		c.wake()
		return
	}
	c.mu.Unlock()
}

// ReconnectNow short-circuits the backoff timer and retries immediately,
// clearing an exhausted retry budget.
func (c *Controller) ReconnectNow() {
	c.mu.Lock()
	c.attempts = 0
	c.exhausted = false
	if c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.wake()
}

// Close stops the recovery loop. Idempotent and safe from any state,
// including a controller whose Run was never started.
func (c *Controller) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started {
			<-c.done
		}
	})
}

// Run drives recovery until ctx is cancelled or Close is called.
func (c *Controller) Run(ctx context.Context) {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	defer close(c.done)

	timer := c.clock.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.Chan()
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-c.wakeCh:
		case <-timer.Chan():
		}

		c.mu.Lock()
		state := c.state
		exhausted := c.exhausted
		c.mu.Unlock()
		if state == StateConnected || exhausted {
			continue
		}

		c.setState(StateReconnecting)

		if !c.prober.Reachable(ctx) {
			// Still offline: skip the attempt, do not burn the budget.
			c.setState(StateDisconnected)
			timer.Reset(c.cfg.InitialBackoff)
			continue
		}

		if err := c.resub.Resubscribe(ctx); err != nil {
			c.mu.Lock()
			c.attempts++
			attempts := c.attempts
			if attempts >= c.cfg.MaxAttempts {
				c.exhausted = true
			}
			exhausted := c.exhausted
			c.mu.Unlock()

			c.setState(StateDisconnected)
			if exhausted {
				// Give up quietly; a manual reconnect restarts the budget.
				log.Error().Err(err).Int("attempts", attempts).Msg("reconnect attempts exhausted")
				continue
			}
			backoff := c.backoffFor(attempts)
			log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", backoff).Msg("reconnect attempt failed")
			timer.Reset(backoff)
			continue
		}

		// Subscription is live again; rehydrate before reporting
		// connected so the caller never sees stale local state.
		if err := c.rehyd.Rehydrate(ctx); err != nil {
			log.Error().Err(err).Msg("rehydration failed after reconnect")
			c.setState(StateDisconnected)
			timer.Reset(c.cfg.InitialBackoff)
			continue
		}

		c.mu.Lock()
		c.attempts = 0
		c.exhausted = false
		c.mu.Unlock()
		c.setState(StateConnected)
		log.Info().Msg("reconnected and rehydrated")
	}
}

func (c *Controller) backoffFor(attempt int) time.Duration {
	backoff := c.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if backoff > c.cfg.MaxBackoff {
		backoff = c.cfg.MaxBackoff
	}
	return backoff
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notify(s)
	}
}

func (c *Controller) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Controller) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}
