package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jamblive/jamblive/internal/models"
)

const stateColumns = `player_id, session_id, dice, locked, rolls_remaining, scorecard, announcement, updated_at`

// GetPlayerState fetches one player's state row.
func (g *Gateway) GetPlayerState(ctx context.Context, sessionID, playerID uuid.UUID) (*models.PlayerState, error) {
	row := g.pool.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM player_states WHERE session_id = $1 AND player_id = $2`,
		sessionID, playerID)
	return scanPlayerState(row)
}

// GetPlayerStates fetches every state row in a session, keyed by player.
// Rehydration always goes through here rather than any local cache.
func (g *Gateway) GetPlayerStates(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]*models.PlayerState, error) {
	rows, err := g.pool.Query(ctx, `SELECT `+stateColumns+` FROM player_states WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query player states: %w", err)
	}
	defer rows.Close()

	states := make(map[uuid.UUID]*models.PlayerState)
	for rows.Next() {
		st, err := scanPlayerState(rows)
		if err != nil {
			return nil, err
		}
		states[st.PlayerID] = st
	}
	return states, rows.Err()
}

// WriteDiceState persists the turn owner's dice, locks and roll counter.
// The session row is re-read first so an out-of-turn writer is rejected.
func (g *Gateway) WriteDiceState(ctx context.Context, sessionID, playerID uuid.UUID, dice [models.NumDice]int, locked [models.NumDice]bool, rollsRemaining int) error {
	if err := g.requireTurnOwner(ctx, sessionID, playerID); err != nil {
		return err
	}
	_, err := g.pool.Exec(ctx, `
		UPDATE player_states
		SET dice = $3, locked = $4, rolls_remaining = $5, updated_at = now()
		WHERE session_id = $1 AND player_id = $2`,
		sessionID, playerID, dice[:], locked[:], rollsRemaining)
	if err != nil {
		return fmt.Errorf("write dice state: %w", err)
	}
	return nil
}

// WriteScorecardCell appends one scorecard entry. The state row is re-read
// immediately before the write: an already-present key aborts with
// ErrCellTaken instead of overwriting, which is what resolves the
// two-rapid-clicks race in favor of exactly one writer.
func (g *Gateway) WriteScorecardCell(ctx context.Context, sessionID, playerID uuid.UUID, cellKey string, value int) error {
	if err := g.requireTurnOwner(ctx, sessionID, playerID); err != nil {
		return err
	}

	return g.withTx(ctx, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT scorecard FROM player_states WHERE session_id = $1 AND player_id = $2 FOR UPDATE`,
			sessionID, playerID).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read scorecard: %w", err)
		}

		card := make(models.Scorecard)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &card); err != nil {
				return fmt.Errorf("decode scorecard: %w", err)
			}
		}
		if _, taken := card[cellKey]; taken {
			return ErrCellTaken
		}
		card[cellKey] = value

		updated, err := json.Marshal(card)
		if err != nil {
			return fmt.Errorf("encode scorecard: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE player_states
			SET scorecard = $3, announcement = NULL, updated_at = now()
			WHERE session_id = $1 AND player_id = $2`,
			sessionID, playerID, updated)
		if err != nil {
			return fmt.Errorf("write scorecard cell: %w", err)
		}
		return nil
	})
}

// SetAnnouncement records or clears the pending announced category.
func (g *Gateway) SetAnnouncement(ctx context.Context, sessionID, playerID uuid.UUID, category *string) error {
	if err := g.requireTurnOwner(ctx, sessionID, playerID); err != nil {
		return err
	}
	_, err := g.pool.Exec(ctx, `
		UPDATE player_states SET announcement = $3, updated_at = now()
		WHERE session_id = $1 AND player_id = $2`,
		sessionID, playerID, category)
	if err != nil {
		return fmt.Errorf("set announcement: %w", err)
	}
	return nil
}

// requireTurnOwner re-reads the session row and rejects writers that no
// longer hold the turn.
func (g *Gateway) requireTurnOwner(ctx context.Context, sessionID, playerID uuid.UUID) error {
	session, err := g.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.CurrentTurnID == nil || *session.CurrentTurnID != playerID {
		return ErrNotYourTurn
	}
	return nil
}

func insertPlayerState(ctx context.Context, tx pgx.Tx, sessionID, playerID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO player_states (player_id, session_id, dice, locked, rolls_remaining, scorecard)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		playerID, sessionID, []int{0, 0, 0, 0, 0}, []bool{false, false, false, false, false},
		models.MaxRolls, []byte(`{}`))
	if err != nil {
		return fmt.Errorf("insert player state: %w", err)
	}
	return nil
}

func scanPlayerState(row pgx.Row) (*models.PlayerState, error) {
	var (
		st     models.PlayerState
		dice   []int
		locked []bool
		raw    []byte
	)
	err := row.Scan(&st.PlayerID, &st.SessionID, &dice, &locked, &st.RollsRemaining,
		&raw, &st.Announcement, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan player state: %w", err)
	}
	copy(st.Dice[:], dice)
	copy(st.Locked[:], locked)
	st.Scorecard = make(models.Scorecard)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &st.Scorecard); err != nil {
			return nil, fmt.Errorf("decode scorecard: %w", err)
		}
	}
	return &st, nil
}
