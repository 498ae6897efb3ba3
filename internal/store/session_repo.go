package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jamblive/jamblive/internal/models"
)

const sessionColumns = `id, join_code, status, player_order, current_turn_id, dice_mode, winner_id, created_at, updated_at`

// MaxPlayers is the seat limit per session.
const MaxPlayers = 6

// CreateSession creates a new waiting session with a fresh join code and
// seats the creating player as host.
func (g *Gateway) CreateSession(ctx context.Context, hostName string, mode models.DiceMode) (*models.Session, *models.Player, error) {
	code, err := newJoinCode()
	if err != nil {
		return nil, nil, err
	}

	sessionID := uuid.New()
	hostID := uuid.New()

	err = g.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, join_code, status, player_order, dice_mode)
			VALUES ($1, $2, $3, $4, $5)`,
			sessionID, code, models.SessionStatusWaiting, []uuid.UUID{hostID}, mode)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if err := insertPlayer(ctx, tx, sessionID, hostID, hostName, 0, true); err != nil {
			return err
		}
		return insertPlayerState(ctx, tx, sessionID, hostID)
	})
	if err != nil {
		return nil, nil, err
	}

	session, err := g.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	host, err := g.GetPlayer(ctx, hostID)
	if err != nil {
		return nil, nil, err
	}
	return session, host, nil
}

// GetSession fetches one session snapshot.
func (g *Gateway) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetSessionByJoinCode resolves a join code to its session.
func (g *Gateway) GetSessionByJoinCode(ctx context.Context, code string) (*models.Session, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE join_code = $1`, code)
	return scanSession(row)
}

// StartGame moves a waiting session to in-progress and puts the first
// player in turn order on the clock.
func (g *Gateway) StartGame(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	session, err := g.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusWaiting {
		return nil, ErrSessionStarted
	}
	if len(session.PlayerOrder) == 0 {
		return nil, fmt.Errorf("session %s has no players", sessionID)
	}

	first := session.PlayerOrder[0]
	tag, err := g.pool.Exec(ctx, `
		UPDATE sessions SET status = $2, current_turn_id = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		sessionID, models.SessionStatusInProgress, first, models.SessionStatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("start game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrSessionStarted
	}
	return g.GetSession(ctx, sessionID)
}

// AdvanceTurn passes the turn from owner to the next player in order and
// resets that player's turn-scoped dice state. The write is guarded: it
// only lands while owner still holds the turn, so a duplicate advance from
// a redelivered notification is a no-op.
func (g *Gateway) AdvanceTurn(ctx context.Context, sessionID, owner uuid.UUID) (uuid.UUID, error) {
	session, err := g.GetSession(ctx, sessionID)
	if err != nil {
		return uuid.Nil, err
	}
	if session.CurrentTurnID == nil || *session.CurrentTurnID != owner {
		return uuid.Nil, ErrNotYourTurn
	}
	next := session.NextInTurnOrder(owner)
	if next == uuid.Nil {
		return uuid.Nil, fmt.Errorf("player %s not in turn order", owner)
	}

	err = g.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE sessions SET current_turn_id = $3, updated_at = now()
			WHERE id = $1 AND current_turn_id = $2`,
			sessionID, owner, next)
		if err != nil {
			return fmt.Errorf("advance turn: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotYourTurn
		}
		// Fresh turn: three rolls, nothing locked, no announcement carryover.
		_, err = tx.Exec(ctx, `
			UPDATE player_states
			SET dice = $3, locked = $4, rolls_remaining = $5, updated_at = now()
			WHERE session_id = $1 AND player_id = $2`,
			sessionID, next, []int{0, 0, 0, 0, 0}, []bool{false, false, false, false, false}, models.MaxRolls)
		if err != nil {
			return fmt.Errorf("reset next player state: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return next, nil
}

// CompleteSession writes the completed status and winner exactly once.
// A racing completion from another client surfaces as ErrAlreadyCompleted.
func (g *Gateway) CompleteSession(ctx context.Context, sessionID, winnerID uuid.UUID) error {
	tag, err := g.pool.Exec(ctx, `
		UPDATE sessions SET status = $2, winner_id = $3, current_turn_id = NULL, updated_at = now()
		WHERE id = $1 AND status <> $2`,
		sessionID, models.SessionStatusCompleted, winnerID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

// DeleteSession removes a session and, through cascade, its players, states
// and action log.
func (g *Gateway) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.JoinCode, &s.Status, &s.PlayerOrder, &s.CurrentTurnID,
		&s.DiceMode, &s.WinnerID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}
