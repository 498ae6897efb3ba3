package turn

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/jamblive/jamblive/internal/events"
	"github.com/jamblive/jamblive/internal/models"
	"github.com/jamblive/jamblive/internal/scorecard"
	"github.com/jamblive/jamblive/internal/store"
)

// fakeStore mirrors the gateway's guard semantics in memory.
type fakeStore struct {
	mu            sync.Mutex
	session       *models.Session
	states        map[uuid.UUID]*models.PlayerState
	actions       []models.ActionEntry
	completeCalls int
	advanceCalls  int
	failAdvance   int // next N AdvanceTurn calls fail after the owner check
}

func newFakeStore(sessionID uuid.UUID, players ...uuid.UUID) *fakeStore {
	first := players[0]
	fs := &fakeStore{
		session: &models.Session{
			ID:            sessionID,
			Status:        models.SessionStatusInProgress,
			PlayerOrder:   players,
			CurrentTurnID: &first,
			DiceMode:      models.DiceModeVirtual,
		},
		states: make(map[uuid.UUID]*models.PlayerState),
	}
	for _, id := range players {
		fs.states[id] = models.NewPlayerState(sessionID, id)
	}
	return fs
}

func (f *fakeStore) GetSession(context.Context, uuid.UUID) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := *f.session
	return &s, nil
}

func (f *fakeStore) GetPlayers(context.Context, uuid.UUID) ([]models.Player, error) {
	return nil, nil
}

func (f *fakeStore) GetPlayerStates(context.Context, uuid.UUID) (map[uuid.UUID]*models.PlayerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]*models.PlayerState, len(f.states))
	for id, st := range f.states {
		cp := *st
		cp.Scorecard = st.Scorecard.Clone()
		out[id] = &cp
	}
	return out, nil
}

func (f *fakeStore) WriteDiceState(_ context.Context, _, playerID uuid.UUID, dice [models.NumDice]int, locked [models.NumDice]bool, rolls int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.CurrentTurnID == nil || *f.session.CurrentTurnID != playerID {
		return store.ErrNotYourTurn
	}
	st := f.states[playerID]
	st.Dice = dice
	st.Locked = locked
	st.RollsRemaining = rolls
	return nil
}

func (f *fakeStore) WriteScorecardCell(_ context.Context, _, playerID uuid.UUID, cellKey string, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.CurrentTurnID == nil || *f.session.CurrentTurnID != playerID {
		return store.ErrNotYourTurn
	}
	st := f.states[playerID]
	if _, taken := st.Scorecard[cellKey]; taken {
		return store.ErrCellTaken
	}
	st.Scorecard[cellKey] = value
	st.Announcement = nil
	return nil
}

func (f *fakeStore) SetAnnouncement(_ context.Context, _, playerID uuid.UUID, category *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[playerID].Announcement = category
	return nil
}

func (f *fakeStore) AdvanceTurn(_ context.Context, _, owner uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.CurrentTurnID == nil || *f.session.CurrentTurnID != owner {
		return uuid.Nil, store.ErrNotYourTurn
	}
	if f.failAdvance > 0 {
		f.failAdvance--
		return uuid.Nil, errors.New("write timed out")
	}
	f.advanceCalls++
	next := f.session.NextInTurnOrder(owner)
	f.session.CurrentTurnID = &next
	st := f.states[next]
	st.Dice = [models.NumDice]int{}
	st.Locked = [models.NumDice]bool{}
	st.RollsRemaining = models.MaxRolls
	return next, nil
}

func (f *fakeStore) CompleteSession(_ context.Context, _, winnerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session.Status == models.SessionStatusCompleted {
		return store.ErrAlreadyCompleted
	}
	f.completeCalls++
	f.session.Status = models.SessionStatusCompleted
	f.session.WinnerID = &winnerID
	f.session.CurrentTurnID = nil
	return nil
}

func (f *fakeStore) AppendAction(_ context.Context, sessionID, playerID uuid.UUID, actionType models.ActionType, _ any) (*models.ActionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := models.ActionEntry{ID: uuid.New(), SessionID: sessionID, PlayerID: playerID, Type: actionType}
	f.actions = append(f.actions, entry)
	return &entry, nil
}

func (f *fakeStore) TailActions(context.Context, uuid.UUID, int) ([]models.ActionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ActionEntry(nil), f.actions...), nil
}

type seqSource struct {
	faces []int
	pos   int
}

func (s *seqSource) Face() (int, error) {
	face := s.faces[s.pos%len(s.faces)]
	s.pos++
	return face, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	sessionID := uuid.New()
	a, b := uuid.New(), uuid.New()
	fs := newFakeStore(sessionID, a, b)
	coord := NewCoordinator(sessionID, a, fs, LocalPolicy{}, scorecard.TieFirstInTurnOrder, nil)
	if err := coord.Rehydrate(context.Background()); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	return coord, fs, a, b
}

// TestScoreCommitAdvancesTurn walks the happy path: roll, commit a tris for
// 16, verify the scorecard entry, the turn handoff and the dice reset.
func TestScoreCommitAdvancesTurn(t *testing.T) {
	coord, fs, a, b := newTestCoordinator(t)
	ctx := context.Background()

	if coord.Phase() != PhaseRolling {
		t.Fatalf("phase = %s, want %s", coord.Phase(), PhaseRolling)
	}

	coord.SetRollSource(&seqSource{faces: []int{2, 2, 2, 5, 6}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if got := coord.DiceState().Values; got != [models.NumDice]int{2, 2, 2, 5, 6} {
		t.Fatalf("dice = %v", got)
	}

	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 16); err != nil {
		t.Fatalf("attempt score: %v", err)
	}

	if got := fs.states[a].Scorecard["free_tris"]; got != 16 {
		t.Fatalf("scorecard entry = %d, want 16", got)
	}
	if fs.session.CurrentTurnID == nil || *fs.session.CurrentTurnID != b {
		t.Fatalf("turn owner = %v, want %v", fs.session.CurrentTurnID, b)
	}
	if fs.states[b].RollsRemaining != models.MaxRolls {
		t.Fatal("next player's rolls not reset")
	}
	st := coord.DiceState()
	if st.RollsRemaining != models.MaxRolls || st.Locked != [models.NumDice]bool{} {
		t.Fatalf("local dice not reset: %+v", st)
	}
	if coord.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want %s", coord.Phase(), PhaseIdle)
	}
}

// TestRacedCellRejectsAndRollsBack simulates another client filling the
// same cell first: the commit must surface already-filled and return the
// phase to rolling, not overwrite.
func TestRacedCellRejectsAndRollsBack(t *testing.T) {
	coord, fs, a, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.SetRollSource(&seqSource{faces: []int{2}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}

	// Racing write lands first.
	fs.mu.Lock()
	fs.states[a].Scorecard["free_tris"] = 16
	fs.mu.Unlock()

	err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 16)
	if err != ErrAlreadyFilled {
		t.Fatalf("AttemptScore error = %v, want %v", err, ErrAlreadyFilled)
	}
	if coord.Phase() != PhaseRolling {
		t.Fatalf("phase = %s, want %s after rollback", coord.Phase(), PhaseRolling)
	}
	if fs.states[a].Scorecard["free_tris"] != 16 {
		t.Fatal("raced value was overwritten")
	}
}

// TestOutOfTurnMutationsRejectedLocally ensures spectators never reach the
// store.
func TestOutOfTurnMutationsRejectedLocally(t *testing.T) {
	coord, fs, _, b := newTestCoordinator(t)
	ctx := context.Background()

	coord.HandleSessionChange(events.SessionChange{
		SessionID:     fs.session.ID,
		Status:        string(models.SessionStatusInProgress),
		PlayerOrder:   fs.session.PlayerOrder,
		CurrentTurnID: &b,
	})
	if coord.Phase() != PhaseSpectating {
		t.Fatalf("phase = %s, want %s", coord.Phase(), PhaseSpectating)
	}

	if err := coord.Roll(ctx); err != ErrOutOfTurn {
		t.Fatalf("Roll error = %v, want %v", err, ErrOutOfTurn)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 16); err != ErrOutOfTurn {
		t.Fatalf("AttemptScore error = %v, want %v", err, ErrOutOfTurn)
	}
	if len(fs.actions) != 0 {
		t.Fatal("rejected mutations reached the store")
	}
}

// TestIllegalValueNeverSent ensures score values outside the category's
// legal set are refused before any network write.
func TestIllegalValueNeverSent(t *testing.T) {
	coord, fs, a, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.SetRollSource(&seqSource{faces: []int{2}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 17); err != ErrIllegalValue {
		t.Fatalf("AttemptScore error = %v, want %v", err, ErrIllegalValue)
	}
	if len(fs.states[a].Scorecard) != 0 {
		t.Fatal("illegal value reached the scorecard")
	}
}

// TestOfflinePolicyBlocksCommit ensures the online policy refuses commits
// while disconnected.
func TestOfflinePolicyBlocksCommit(t *testing.T) {
	sessionID := uuid.New()
	a, b := uuid.New(), uuid.New()
	fs := newFakeStore(sessionID, a, b)
	conn := &stubConn{}
	coord := NewCoordinator(sessionID, a, fs, OnlinePolicy{Conn: conn}, scorecard.TieFirstInTurnOrder, nil)
	if err := coord.Rehydrate(context.Background()); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	ctx := context.Background()

	conn.connected = true
	coord.SetRollSource(&seqSource{faces: []int{2}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}

	conn.connected = false
	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 16); err != ErrOffline {
		t.Fatalf("AttemptScore error = %v, want %v", err, ErrOffline)
	}
}

type stubConn struct{ connected bool }

func (s *stubConn) Connected() bool { return s.connected }

// TestAnnouncementProtocol covers the announce window and single
// outstanding announcement rules.
func TestAnnouncementProtocol(t *testing.T) {
	coord, fs, a, _ := newTestCoordinator(t)
	ctx := context.Background()

	// Announce before rolling.
	if err := coord.Announce(ctx, scorecard.CategoryPoker); err != nil {
		t.Fatalf("announce before roll: %v", err)
	}
	if fs.states[a].Announcement == nil || *fs.states[a].Announcement != "poker" {
		t.Fatalf("announcement not persisted: %v", fs.states[a].Announcement)
	}

	// A second outstanding announcement is rejected.
	if err := coord.Announce(ctx, scorecard.CategoryJamb); err != ErrAnnouncePending {
		t.Fatalf("second announce error = %v, want %v", err, ErrAnnouncePending)
	}

	// The announce column only accepts the announced category.
	coord.SetRollSource(&seqSource{faces: []int{6, 6, 6, 6, 1}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnAnnounce, scorecard.CategoryJamb, 0); err != ErrCellNotFillable {
		t.Fatalf("wrong category error = %v, want %v", err, ErrCellNotFillable)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnAnnounce, scorecard.CategoryPoker, 64); err != nil {
		t.Fatalf("announced commit: %v", err)
	}
	if fs.states[a].Announcement != nil {
		t.Fatal("announcement not cleared after fill")
	}
}

// TestAnnounceWindowClosesAfterSecondRoll ensures announcements are only
// accepted before rolling or right after the first roll.
func TestAnnounceWindowClosesAfterSecondRoll(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	src := &seqSource{faces: []int{3}}
	coord.SetRollSource(src)
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("first roll: %v", err)
	}
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("second roll: %v", err)
	}
	if err := coord.Announce(ctx, scorecard.CategoryPoker); err != ErrAnnounceWindow {
		t.Fatalf("announce error = %v, want %v", err, ErrAnnounceWindow)
	}
}

// TestCompletionAnnouncedExactlyOnce fills the final cell and verifies the
// completion write fires once with the right winner.
func TestCompletionAnnouncedExactlyOnce(t *testing.T) {
	coord, fs, a, b := newTestCoordinator(t)
	ctx := context.Background()

	// Pre-fill both cards except A's last free cell.
	fs.mu.Lock()
	for _, col := range scorecard.Columns {
		for _, cat := range scorecard.Categories {
			key := scorecard.CellKey(col, cat)
			if key != "free_tris" {
				fs.states[a].Scorecard[key] = 2
			}
			fs.states[b].Scorecard[key] = 1
		}
	}
	fs.mu.Unlock()
	if err := coord.Rehydrate(ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	coord.SetRollSource(&seqSource{faces: []int{2, 2, 2, 5, 6}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 16); err != nil {
		t.Fatalf("final commit: %v", err)
	}

	if fs.completeCalls != 1 {
		t.Fatalf("completion written %d times, want 1", fs.completeCalls)
	}
	if fs.session.WinnerID == nil || *fs.session.WinnerID != a {
		t.Fatalf("winner = %v, want %v", fs.session.WinnerID, a)
	}
	if fs.advanceCalls != 0 {
		t.Fatal("turn advanced after completion")
	}
	if err := coord.Roll(ctx); err != ErrGameOver {
		t.Fatalf("post-game roll error = %v, want %v", err, ErrGameOver)
	}
}

// TestStateChangeReplayIsIdempotent ensures duplicate notifications never
// change an existing scorecard value.
func TestStateChangeReplayIsIdempotent(t *testing.T) {
	coord, _, a, _ := newTestCoordinator(t)

	change := events.PlayerStateChange{
		PlayerID:       a,
		Dice:           []int{2, 2, 2, 5, 6},
		Locked:         []bool{false, false, false, false, false},
		RollsRemaining: 2,
		Scorecard:      map[string]int{"free_tris": 16},
	}
	coord.HandleStateChange(change)
	if got := coord.ScorecardFor(a)["free_tris"]; got != 16 {
		t.Fatalf("scorecard entry = %d, want 16", got)
	}

	// Duplicate delivery with a corrupted value must not overwrite.
	change.Scorecard = map[string]int{"free_tris": 99}
	coord.HandleStateChange(change)
	if got := coord.ScorecardFor(a)["free_tris"]; got != 16 {
		t.Fatalf("replay overwrote entry: %d", got)
	}
}

// TestDownColumnOrderingEnforced ensures the ordered column refuses a
// mid-sheet cell on a fresh card.
func TestDownColumnOrderingEnforced(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	coord.SetRollSource(&seqSource{faces: []int{2}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnDown, scorecard.CategoryTris, 16); err != ErrCellNotFillable {
		t.Fatalf("AttemptScore error = %v, want %v", err, ErrCellNotFillable)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnDown, scorecard.CategoryOnes, 0); err != nil {
		t.Fatalf("first-in-order cell refused: %v", err)
	}
}

// TestFailedAdvanceBlocksSecondCommit drives a commit whose turn-advance
// write fails after the score has landed. Until the advance goes through,
// no second cell may commit in the same turn; the next action retries the
// advance alone.
func TestFailedAdvanceBlocksSecondCommit(t *testing.T) {
	coord, fs, a, b := newTestCoordinator(t)
	ctx := context.Background()

	fs.mu.Lock()
	fs.failAdvance = 1
	fs.mu.Unlock()

	coord.SetRollSource(&seqSource{faces: []int{2, 2, 2, 5, 6}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 16); err == nil {
		t.Fatal("commit with failing advance returned nil")
	}
	if !coord.AdvancePending() {
		t.Fatal("advance not marked pending")
	}
	if coord.Phase() != PhaseCommitting {
		t.Fatalf("phase = %s, want %s while advance is pending", coord.Phase(), PhaseCommitting)
	}

	// The retry lands on the next attempt, so the turn has moved and the
	// second commit is refused outright.
	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryPoker, 0); err != ErrOutOfTurn {
		t.Fatalf("second AttemptScore error = %v, want %v", err, ErrOutOfTurn)
	}
	if coord.AdvancePending() {
		t.Fatal("advance still pending after successful retry")
	}

	fs.mu.Lock()
	entries := len(fs.states[a].Scorecard)
	owner := fs.session.CurrentTurnID
	fs.mu.Unlock()
	if entries != 1 {
		t.Fatalf("scorecard entries after the turn = %d, want 1", entries)
	}
	if owner == nil || *owner != b {
		t.Fatalf("turn owner = %v, want %v", owner, b)
	}
}

// TestPendingAdvanceRefusesMutationsUntilItLands keeps the advance write
// failing across the retry and verifies every mutation is refused while
// the commit stays unresolved.
func TestPendingAdvanceRefusesMutationsUntilItLands(t *testing.T) {
	coord, fs, a, _ := newTestCoordinator(t)
	ctx := context.Background()

	fs.mu.Lock()
	fs.failAdvance = 2
	fs.mu.Unlock()

	coord.SetRollSource(&seqSource{faces: []int{2, 2, 2, 5, 6}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 16); err == nil {
		t.Fatal("commit with failing advance returned nil")
	}

	// Second failure: the retry surfaces the pending advance, nothing else
	// runs.
	if err := coord.Roll(ctx); !errors.Is(err, ErrAdvancePending) {
		t.Fatalf("Roll error = %v, want %v", err, ErrAdvancePending)
	}
	if !coord.AdvancePending() {
		t.Fatal("pending flag cleared despite failed retry")
	}
	fs.mu.Lock()
	entries := len(fs.states[a].Scorecard)
	fs.mu.Unlock()
	if entries != 1 {
		t.Fatalf("scorecard entries = %d, want 1", entries)
	}

	// Third call succeeds and resolves the commit.
	if err := coord.RetryAdvance(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if coord.AdvancePending() {
		t.Fatal("advance still pending after successful retry")
	}
	if coord.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want %s", coord.Phase(), PhaseIdle)
	}
}

// TestSessionChangeClearsPendingAdvance covers the other resolution path:
// a session notification showing the turn moved off this player proves
// the advance landed, so the pending state clears without a retry.
func TestSessionChangeClearsPendingAdvance(t *testing.T) {
	coord, fs, _, b := newTestCoordinator(t)
	ctx := context.Background()

	fs.mu.Lock()
	fs.failAdvance = 1
	fs.mu.Unlock()

	coord.SetRollSource(&seqSource{faces: []int{2, 2, 2, 5, 6}})
	if err := coord.Roll(ctx); err != nil {
		t.Fatalf("roll: %v", err)
	}
	if err := coord.AttemptScore(ctx, scorecard.ColumnFree, scorecard.CategoryTris, 16); err == nil {
		t.Fatal("commit with failing advance returned nil")
	}

	coord.HandleSessionChange(events.SessionChange{
		SessionID:     fs.session.ID,
		Status:        string(models.SessionStatusInProgress),
		PlayerOrder:   fs.session.PlayerOrder,
		CurrentTurnID: &b,
	})
	if coord.AdvancePending() {
		t.Fatal("pending advance survived an observed turn handoff")
	}
	if coord.Phase() != PhaseSpectating {
		t.Fatalf("phase = %s, want %s", coord.Phase(), PhaseSpectating)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (r *recordingNotifier) Notify(kind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

func (r *recordingNotifier) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// TestCompletionNoticeFiresOnce delivers the completed-status session
// change twice and verifies the game-over notice is raised only on the
// transition, not on every redelivery.
func TestCompletionNoticeFiresOnce(t *testing.T) {
	sessionID := uuid.New()
	a, b := uuid.New(), uuid.New()
	fs := newFakeStore(sessionID, a, b)
	rec := &recordingNotifier{}
	coord := NewCoordinator(sessionID, a, fs, LocalPolicy{}, scorecard.TieFirstInTurnOrder, rec)

	change := events.SessionChange{
		SessionID:   sessionID,
		Status:      string(models.SessionStatusCompleted),
		PlayerOrder: fs.session.PlayerOrder,
		WinnerID:    &a,
	}
	coord.HandleSessionChange(change)
	coord.HandleSessionChange(change)

	if got := rec.count("game_over"); got != 1 {
		t.Fatalf("game_over notices = %d, want 1", got)
	}
}

// TestRehydrateMatchesStoreSnapshot mutates the store behind the
// coordinator's back and verifies a rehydrate reproduces the store's
// state exactly: every scorecard, the turn owner and the dice view.
func TestRehydrateMatchesStoreSnapshot(t *testing.T) {
	coord, fs, a, b := newTestCoordinator(t)
	ctx := context.Background()

	// Writes the coordinator never saw.
	fs.mu.Lock()
	fs.states[a].Scorecard["down_ones"] = 3
	fs.states[a].Scorecard["free_tris"] = 16
	fs.states[b].Scorecard["up_jamb"] = 60
	fs.states[b].Dice = [models.NumDice]int{1, 3, 5, 2, 4}
	fs.states[b].RollsRemaining = 1
	fs.session.CurrentTurnID = &b
	fs.mu.Unlock()

	if err := coord.Rehydrate(ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	snap, err := fs.GetPlayerStates(ctx, fs.session.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, id := range []uuid.UUID{a, b} {
		if got := coord.ScorecardFor(id); !reflect.DeepEqual(got, snap[id].Scorecard) {
			t.Fatalf("scorecard for %v = %v, want %v", id, got, snap[id].Scorecard)
		}
	}
	if coord.TurnOwner() != b {
		t.Fatalf("turn owner = %v, want %v", coord.TurnOwner(), b)
	}
	if coord.Phase() != PhaseSpectating {
		t.Fatalf("phase = %s, want %s", coord.Phase(), PhaseSpectating)
	}

	// Hand the turn back with mid-turn dice and verify the local view
	// adopts them verbatim.
	fs.mu.Lock()
	fs.session.CurrentTurnID = &a
	fs.states[a].Dice = [models.NumDice]int{6, 6, 1, 2, 3}
	fs.states[a].Locked = [models.NumDice]bool{true, true, false, false, false}
	fs.states[a].RollsRemaining = 1
	fs.mu.Unlock()

	if err := coord.Rehydrate(ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	st := coord.DiceState()
	if st.Values != [models.NumDice]int{6, 6, 1, 2, 3} ||
		st.Locked != [models.NumDice]bool{true, true, false, false, false} ||
		st.RollsRemaining != 1 {
		t.Fatalf("dice view diverges from the store: %+v", st)
	}
	if coord.Phase() != PhaseRolling {
		t.Fatalf("phase = %s, want %s", coord.Phase(), PhaseRolling)
	}
}
