// Package turn owns turn state: who may write, how a score commit flows,
// when the turn advances and when the game completes. Every client mirrors
// the same state machine from the same event stream.
package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jamblive/jamblive/internal/dice"
	"github.com/jamblive/jamblive/internal/events"
	"github.com/jamblive/jamblive/internal/models"
	"github.com/jamblive/jamblive/internal/scorecard"
	"github.com/jamblive/jamblive/internal/store"
)

// Phase is the local client's position in the turn state machine.
type Phase string

const (
	PhaseIdle       Phase = "IDLE_WAITING_FOR_TURN"
	PhaseRolling    Phase = "MY_TURN_ROLLING"
	PhaseCommitting Phase = "MY_TURN_COMMITTING"
	PhaseSpectating Phase = "SPECTATING_OPPONENT_TURN"
)

// Rejection reasons surfaced to the UI as inline refusals.
var (
	ErrOutOfTurn       = errors.New("not your turn")
	ErrCommitInFlight  = errors.New("commit already in flight")
	ErrNoRollsLeft     = errors.New("no rolls remaining")
	ErrMustRollFirst   = errors.New("roll before scoring")
	ErrIllegalValue    = errors.New("illegal score value")
	ErrCellNotFillable = errors.New("cell not fillable")
	ErrAlreadyFilled   = errors.New("already filled")
	ErrAnnounceWindow  = errors.New("announcement window closed")
	ErrAnnouncePending = errors.New("announcement already outstanding")
	ErrAdvancePending  = errors.New("turn advance still pending")
	ErrGameOver        = errors.New("game is over")
)

// Store is what the coordinator needs from the sync gateway.
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetPlayers(ctx context.Context, sessionID uuid.UUID) ([]models.Player, error)
	GetPlayerStates(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]*models.PlayerState, error)
	WriteDiceState(ctx context.Context, sessionID, playerID uuid.UUID, dice [models.NumDice]int, locked [models.NumDice]bool, rollsRemaining int) error
	WriteScorecardCell(ctx context.Context, sessionID, playerID uuid.UUID, cellKey string, value int) error
	SetAnnouncement(ctx context.Context, sessionID, playerID uuid.UUID, category *string) error
	AdvanceTurn(ctx context.Context, sessionID, owner uuid.UUID) (uuid.UUID, error)
	CompleteSession(ctx context.Context, sessionID, winnerID uuid.UUID) error
	AppendAction(ctx context.Context, sessionID, playerID uuid.UUID, actionType models.ActionType, payload any) (*models.ActionEntry, error)
	TailActions(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ActionEntry, error)
}

// Notifier is the toast sink for connectivity and opponent-action notices.
// Implementations must not block.
type Notifier interface {
	Notify(kind, message string)
}

// Coordinator mirrors the session's turn state for one local player.
type Coordinator struct {
	sessionID uuid.UUID
	localID   uuid.UUID
	store     Store
	policy    InteractionPolicy
	notifier  Notifier
	tiePolicy scorecard.TiePolicy
	rollFn    func(dice.State) (dice.State, error)

	mu        sync.Mutex
	phase     Phase
	session   *models.Session
	states    map[uuid.UUID]*models.PlayerState
	local     dice.State
	actions   []models.ActionEntry
	completed bool // one-shot completion announce guard
	// advancePending marks a committed score whose turn-advance write has
	// not landed yet. The score and the advance are two independent
	// writes; until the advance lands (or another client's session update
	// shows the turn moved) every further mutation is refused, so a
	// transient advance failure can never yield two cells in one turn.
	advancePending bool
}

// NewCoordinator builds a coordinator in the idle phase. notifier may be
// nil.
func NewCoordinator(sessionID, localID uuid.UUID, st Store, policy InteractionPolicy, tiePolicy scorecard.TiePolicy, notifier Notifier) *Coordinator {
	return &Coordinator{
		sessionID: sessionID,
		localID:   localID,
		store:     st,
		policy:    policy,
		notifier:  notifier,
		tiePolicy: tiePolicy,
		rollFn:    dice.Roll,
		phase:     PhaseIdle,
		states:    make(map[uuid.UUID]*models.PlayerState),
		local:     dice.Reset(),
	}
}

// SetRollSource replaces the die-face source, for deterministic replay.
func (c *Coordinator) SetRollSource(src dice.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollFn = func(s dice.State) (dice.State, error) {
		return dice.RollWithSource(s, src)
	}
}

// Phase returns the current local phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// TurnOwner returns the current turn owner, or uuid.Nil when no turn is
// active.
func (c *Coordinator) TurnOwner() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.session.CurrentTurnID == nil {
		return uuid.Nil
	}
	return *c.session.CurrentTurnID
}

// DiceState returns the local player's dice view.
func (c *Coordinator) DiceState() dice.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// ScorecardFor returns a copy of a player's scorecard.
func (c *Coordinator) ScorecardFor(playerID uuid.UUID) models.Scorecard {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[playerID]; ok {
		return st.Scorecard.Clone()
	}
	return models.Scorecard{}
}

// RecentActions returns the action-log tail from the last rehydration,
// oldest first.
func (c *Coordinator) RecentActions() []models.ActionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ActionEntry(nil), c.actions...)
}

// Announcement returns the local player's outstanding announcement.
func (c *Coordinator) Announcement() *scorecard.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localAnnouncementLocked()
}

func (c *Coordinator) localAnnouncementLocked() *scorecard.Category {
	st, ok := c.states[c.localID]
	if !ok || st.Announcement == nil {
		return nil
	}
	cat := scorecard.Category(*st.Announcement)
	return &cat
}

// FillableCells returns the UI highlight flags for the local player's card.
func (c *Coordinator) FillableCells() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]bool)
	st, ok := c.states[c.localID]
	if !ok || c.phase != PhaseRolling || c.local.RollsRemaining == models.MaxRolls {
		return out
	}
	ann := c.localAnnouncementLocked()
	for _, col := range scorecard.Columns {
		for _, cat := range scorecard.Categories {
			if scorecard.IsCellFillable(col, cat, st.Scorecard, ann) {
				out[scorecard.CellKey(col, cat)] = true
			}
		}
	}
	return out
}

// Roll consumes one roll of the local player's unlocked dice and persists
// the result.
func (c *Coordinator) Roll(ctx context.Context) error {
	if err := c.RetryAdvance(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.authorizeMutationLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.local.RollsRemaining <= 0 {
		c.mu.Unlock()
		return ErrNoRollsLeft
	}
	prev := c.local
	next, err := c.rollFn(c.local)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.local = next
	c.mu.Unlock()

	if err := c.store.WriteDiceState(ctx, c.sessionID, c.localID, next.Values, next.Locked, next.RollsRemaining); err != nil {
		c.mu.Lock()
		c.local = prev
		c.mu.Unlock()
		return c.mapStoreErr(err)
	}
	if _, err := c.store.AppendAction(ctx, c.sessionID, c.localID, models.ActionTypeRoll, map[string]any{
		"dice":            next.Values,
		"rolls_remaining": next.RollsRemaining,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to append roll action")
	}
	return nil
}

// ToggleLock flips one die lock and persists the mask.
func (c *Coordinator) ToggleLock(ctx context.Context, index int) error {
	if err := c.RetryAdvance(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.authorizeMutationLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	prev := c.local
	next := dice.ToggleLock(c.local, index)
	c.local = next
	c.mu.Unlock()

	if err := c.store.WriteDiceState(ctx, c.sessionID, c.localID, next.Values, next.Locked, next.RollsRemaining); err != nil {
		c.mu.Lock()
		c.local = prev
		c.mu.Unlock()
		return c.mapStoreErr(err)
	}
	if _, err := c.store.AppendAction(ctx, c.sessionID, c.localID, models.ActionTypeLockToggle, map[string]any{
		"index":  index,
		"locked": next.Locked,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to append lock action")
	}
	return nil
}

// Announce pre-commits to a category for the announce column. Allowed only
// before rolling or immediately after the first roll, only while the
// announce column still has that category open, and only when no other
// announcement is outstanding.
func (c *Coordinator) Announce(ctx context.Context, category scorecard.Category) error {
	if err := c.RetryAdvance(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.authorizeMutationLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.local.RollsRemaining < models.MaxRolls-1 {
		c.mu.Unlock()
		return ErrAnnounceWindow
	}
	if c.localAnnouncementLocked() != nil {
		c.mu.Unlock()
		return ErrAnnouncePending
	}
	st, ok := c.states[c.localID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("local state missing")
	}
	eligible := false
	for _, open := range scorecard.EligibleAnnouncements(st.Scorecard) {
		if open == category {
			eligible = true
			break
		}
	}
	if !eligible {
		c.mu.Unlock()
		return ErrCellNotFillable
	}
	c.mu.Unlock()

	name := string(category)
	if err := c.store.SetAnnouncement(ctx, c.sessionID, c.localID, &name); err != nil {
		return c.mapStoreErr(err)
	}
	if _, err := c.store.AppendAction(ctx, c.sessionID, c.localID, models.ActionTypeAnnounce, map[string]any{
		"category": category,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to append announce action")
	}

	c.mu.Lock()
	if st, ok := c.states[c.localID]; ok {
		st.Announcement = &name
	}
	c.mu.Unlock()
	return nil
}

// AttemptScore is the single commit entry point: it validates locally,
// writes the scorecard cell, then advances the turn or completes the game.
// A rejected attempt leaves the store untouched; a failed commit rolls the
// local phase back so the score is never silently dropped.
func (c *Coordinator) AttemptScore(ctx context.Context, column scorecard.Column, category scorecard.Category, value int) error {
	if err := c.RetryAdvance(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	if c.phase == PhaseCommitting {
		c.mu.Unlock()
		return ErrCommitInFlight
	}
	if err := c.authorizeMutationLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.local.RollsRemaining == models.MaxRolls {
		c.mu.Unlock()
		return ErrMustRollFirst
	}
	if !scorecard.IsLegalTotal(category, value) {
		c.mu.Unlock()
		return ErrIllegalValue
	}
	st, ok := c.states[c.localID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("local state missing")
	}
	if !scorecard.IsCellFillable(column, category, st.Scorecard, c.localAnnouncementLocked()) {
		c.mu.Unlock()
		return ErrCellNotFillable
	}
	c.phase = PhaseCommitting
	c.mu.Unlock()

	cellKey := scorecard.CellKey(column, category)
	if err := c.store.WriteScorecardCell(ctx, c.sessionID, c.localID, cellKey, value); err != nil {
		c.mu.Lock()
		c.phase = PhaseRolling
		c.mu.Unlock()
		return c.mapStoreErr(err)
	}

	if _, err := c.store.AppendAction(ctx, c.sessionID, c.localID, models.ActionTypeScore, map[string]any{
		"cell":  cellKey,
		"value": value,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to append score action")
	}

	c.mu.Lock()
	st.Scorecard[cellKey] = value
	st.Announcement = nil
	c.mu.Unlock()

	if done := c.maybeComplete(ctx); done {
		c.mu.Lock()
		c.phase = PhaseIdle
		c.local = dice.Reset()
		c.mu.Unlock()
		return nil
	}

	// Score landed; the turn-advance is a second independent write. A
	// duplicate advance is absorbed by the owner guard in the store. A
	// transient failure leaves the commit pending: the phase stays in
	// committing and RetryAdvance re-issues the advance alone, because the
	// store still names this player as owner and a second cell must not
	// land in the same turn.
	if _, err := c.store.AdvanceTurn(ctx, c.sessionID, c.localID); err != nil && !errors.Is(err, store.ErrNotYourTurn) {
		c.mu.Lock()
		c.advancePending = true
		c.mu.Unlock()
		return fmt.Errorf("score saved but turn advance failed: %w", err)
	}
	if _, err := c.store.AppendAction(ctx, c.sessionID, c.localID, models.ActionTypeTurnPass, nil); err != nil {
		log.Warn().Err(err).Msg("failed to append turn pass action")
	}

	c.mu.Lock()
	c.phase = PhaseIdle
	c.local = dice.Reset()
	c.mu.Unlock()
	return nil
}

// RetryAdvance re-issues the turn-advance write left pending by a failed
// commit. No-op when nothing is pending. Every mutator calls this first,
// so the next user action drives the retry.
func (c *Coordinator) RetryAdvance(ctx context.Context) error {
	c.mu.Lock()
	if !c.advancePending {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if _, err := c.store.AdvanceTurn(ctx, c.sessionID, c.localID); err != nil && !errors.Is(err, store.ErrNotYourTurn) {
		return fmt.Errorf("%w: %v", ErrAdvancePending, err)
	}
	if _, err := c.store.AppendAction(ctx, c.sessionID, c.localID, models.ActionTypeTurnPass, nil); err != nil {
		log.Warn().Err(err).Msg("failed to append turn pass action")
	}

	c.mu.Lock()
	c.advancePending = false
	c.phase = PhaseIdle
	c.local = dice.Reset()
	c.mu.Unlock()
	return nil
}

// AdvancePending reports whether a committed score is still waiting for
// its turn-advance write.
func (c *Coordinator) AdvancePending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advancePending
}

// maybeComplete checks the freshly fetched cards and, when the game is
// over, writes status and winner exactly once.
func (c *Coordinator) maybeComplete(ctx context.Context) bool {
	states, err := c.store.GetPlayerStates(ctx, c.sessionID)
	if err != nil {
		log.Error().Err(err).Msg("completion check failed")
		return false
	}
	cards := make(map[uuid.UUID]models.Scorecard, len(states))
	for id, st := range states {
		cards[id] = st.Scorecard
	}
	if !scorecard.IsGameComplete(cards) {
		return false
	}

	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return true
	}
	c.completed = true
	order := []uuid.UUID{}
	if c.session != nil {
		order = c.session.PlayerOrder
	}
	c.mu.Unlock()

	winner := scorecard.Winner(cards, order, c.tiePolicy)
	err = c.store.CompleteSession(ctx, c.sessionID, winner)
	if err != nil && !errors.Is(err, store.ErrAlreadyCompleted) {
		log.Error().Err(err).Msg("failed to write completion")
		c.mu.Lock()
		c.completed = false
		c.mu.Unlock()
		return true
	}
	if err == nil {
		if _, err := c.store.AppendAction(ctx, c.sessionID, c.localID, models.ActionTypeComplete, map[string]any{
			"winner_id": winner,
		}); err != nil {
			log.Warn().Err(err).Msg("failed to append completion action")
		}
		c.notify("game_over", "game complete")
	}
	return true
}

// HandleSessionChange applies an incoming session row change, moving the
// local phase to match the new turn owner.
func (c *Coordinator) HandleSessionChange(change events.SessionChange) {
	completedNow := false
	defer func() {
		// Outside the lock; redelivered completed-status notifications
		// never re-announce.
		if completedNow {
			c.notify("game_over", "game complete")
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		c.session = &models.Session{ID: change.SessionID}
	}
	c.session.Status = models.SessionStatus(change.Status)
	c.session.PlayerOrder = change.PlayerOrder
	c.session.CurrentTurnID = change.CurrentTurnID
	c.session.WinnerID = change.WinnerID

	if change.CurrentTurnID == nil || *change.CurrentTurnID != c.localID {
		// The turn moved off this player, so any pending advance landed.
		c.advancePending = false
	}

	if c.session.Status == models.SessionStatusCompleted {
		if !c.completed {
			c.completed = true
			completedNow = true
		}
		c.phase = PhaseIdle
		return
	}
	if c.session.Status != models.SessionStatusInProgress {
		c.phase = PhaseIdle
		return
	}

	switch {
	case change.CurrentTurnID != nil && *change.CurrentTurnID == c.localID:
		if c.phase == PhaseIdle || c.phase == PhaseSpectating {
			c.local = dice.Reset()
			c.phase = PhaseRolling
			c.notifyLocked("turn", "your turn")
		}
	case change.CurrentTurnID != nil:
		if c.phase != PhaseSpectating {
			// Display-only reset; all write paths are gated by phase.
			c.local = dice.Reset()
			c.phase = PhaseSpectating
		}
	}
}

// HandleStateChange applies an incoming player-state row change. Replays
// of the same stream are idempotent: scorecard entries merge append-only.
func (c *Coordinator) HandleStateChange(change events.PlayerStateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[change.PlayerID]
	if !ok {
		st = models.NewPlayerState(c.sessionID, change.PlayerID)
		c.states[change.PlayerID] = st
	}
	copy(st.Dice[:], change.Dice)
	copy(st.Locked[:], change.Locked)
	st.RollsRemaining = change.RollsRemaining
	st.Announcement = change.Announcement
	for key, value := range change.Scorecard {
		if _, present := st.Scorecard[key]; !present {
			st.Scorecard[key] = value
		}
	}
}

// Rehydrate replaces every local view with a full snapshot from the store.
func (c *Coordinator) Rehydrate(ctx context.Context) error {
	session, err := c.store.GetSession(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("rehydrate session: %w", err)
	}
	states, err := c.store.GetPlayerStates(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("rehydrate player states: %w", err)
	}
	actions, err := c.store.TailActions(ctx, c.sessionID, 50)
	if err != nil {
		log.Warn().Err(err).Msg("rehydrate action tail failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
	c.states = states
	c.actions = actions
	c.completed = session.Status == models.SessionStatusCompleted
	if session.Status != models.SessionStatusInProgress ||
		session.CurrentTurnID == nil || *session.CurrentTurnID != c.localID {
		c.advancePending = false
	}

	switch {
	case session.Status != models.SessionStatusInProgress:
		c.phase = PhaseIdle
	case session.CurrentTurnID != nil && *session.CurrentTurnID == c.localID:
		if st, ok := states[c.localID]; ok {
			c.local = dice.State{
				Values:         st.Dice,
				Locked:         st.Locked,
				RollsRemaining: st.RollsRemaining,
			}
		} else {
			c.local = dice.Reset()
		}
		if c.phase != PhaseCommitting {
			c.phase = PhaseRolling
		}
	default:
		c.local = dice.Reset()
		c.phase = PhaseSpectating
	}
	return nil
}

func (c *Coordinator) authorizeMutationLocked() error {
	if c.completed {
		return ErrGameOver
	}
	if c.phase == PhaseCommitting {
		return ErrCommitInFlight
	}
	if c.phase != PhaseRolling {
		return ErrOutOfTurn
	}
	return c.policy.AuthorizeMutation()
}

func (c *Coordinator) mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrCellTaken):
		return ErrAlreadyFilled
	case errors.Is(err, store.ErrNotYourTurn):
		return ErrOutOfTurn
	default:
		return err
	}
}

func (c *Coordinator) notify(kind, message string) {
	if c.notifier != nil {
		c.notifier.Notify(kind, message)
	}
}

func (c *Coordinator) notifyLocked(kind, message string) {
	if c.notifier != nil {
		go c.notifier.Notify(kind, message)
	}
}
