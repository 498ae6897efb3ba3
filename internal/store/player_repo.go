package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jamblive/jamblive/internal/models"
	"github.com/rs/zerolog/log"
)

const playerColumns = `id, session_id, display_name, turn_index, is_host, connection_status, last_seen_at, created_at`

// JoinSession seats a new player in a waiting session and creates their
// default state row. The session must not be full or already started.
func (g *Gateway) JoinSession(ctx context.Context, code, displayName string) (*models.Session, *models.Player, error) {
	session, err := g.GetSessionByJoinCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.SessionStatusWaiting {
		return nil, nil, ErrSessionStarted
	}
	if len(session.PlayerOrder) >= MaxPlayers {
		return nil, nil, ErrSessionFull
	}

	playerID := uuid.New()
	err = g.withTx(ctx, func(tx pgx.Tx) error {
		// Guard against a racing join filling the last seat.
		tag, err := tx.Exec(ctx, `
			UPDATE sessions SET player_order = player_order || $2, updated_at = now()
			WHERE id = $1 AND status = $3 AND cardinality(player_order) < $4`,
			session.ID, []uuid.UUID{playerID}, models.SessionStatusWaiting, MaxPlayers)
		if err != nil {
			return fmt.Errorf("append to turn order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrSessionFull
		}
		if err := insertPlayer(ctx, tx, session.ID, playerID, displayName, len(session.PlayerOrder), false); err != nil {
			return err
		}
		return insertPlayerState(ctx, tx, session.ID, playerID)
	})
	if err != nil {
		return nil, nil, err
	}

	session, err = g.GetSession(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	player, err := g.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	return session, player, nil
}

// LeaveSession removes a player. Their state row cascades away; the host
// flag moves to the next remaining seat; an emptied session is deleted.
func (g *Gateway) LeaveSession(ctx context.Context, sessionID, playerID uuid.UUID) error {
	return g.withTx(ctx, func(tx pgx.Tx) error {
		var wasHost bool
		err := tx.QueryRow(ctx, `DELETE FROM players WHERE id = $1 AND session_id = $2 RETURNING is_host`,
			playerID, sessionID).Scan(&wasHost)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("delete player: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE sessions SET player_order = array_remove(player_order, $2), updated_at = now()
			WHERE id = $1`,
			sessionID, playerID)
		if err != nil {
			return fmt.Errorf("remove from turn order: %w", err)
		}

		var remaining int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM players WHERE session_id = $1`, sessionID).Scan(&remaining); err != nil {
			return fmt.Errorf("count remaining players: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
				return fmt.Errorf("delete empty session: %w", err)
			}
			log.Info().Str("session_id", sessionID.String()).Msg("deleted empty session")
			return nil
		}

		if wasHost {
			_, err = tx.Exec(ctx, `
				UPDATE players SET is_host = TRUE
				WHERE id = (
					SELECT id FROM players WHERE session_id = $1 ORDER BY turn_index LIMIT 1
				)`,
				sessionID)
			if err != nil {
				return fmt.Errorf("hand off host: %w", err)
			}
		}
		return nil
	})
}

// GetPlayer fetches one player row.
func (g *Gateway) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	row := g.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	return scanPlayer(row)
}

// GetPlayers fetches every player in a session in turn order.
func (g *Gateway) GetPlayers(ctx context.Context, sessionID uuid.UUID) ([]models.Player, error) {
	rows, err := g.pool.Query(ctx, `SELECT `+playerColumns+` FROM players WHERE session_id = $1 ORDER BY turn_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// SetConnectionStatus persists a presence verdict for a player. The write
// is idempotent: re-flipping to the current value changes no row.
func (g *Gateway) SetConnectionStatus(ctx context.Context, playerID uuid.UUID, status models.ConnectionStatus, seenAt time.Time) error {
	_, err := g.pool.Exec(ctx, `
		UPDATE players SET connection_status = $2, last_seen_at = $3
		WHERE id = $1 AND connection_status <> $2`,
		playerID, status, seenAt)
	if err != nil {
		return fmt.Errorf("set connection status: %w", err)
	}
	return nil
}

func insertPlayer(ctx context.Context, tx pgx.Tx, sessionID, playerID uuid.UUID, name string, turnIndex int, host bool) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO players (id, session_id, display_name, turn_index, is_host, connection_status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		playerID, sessionID, name, turnIndex, host, models.ConnectionStatusConnected)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var p models.Player
	err := row.Scan(&p.ID, &p.SessionID, &p.DisplayName, &p.TurnIndex, &p.IsHost,
		&p.ConnectionStatus, &p.LastSeenAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan player: %w", err)
	}
	return &p, nil
}
