package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jamblive/jamblive/internal/models"
)

const actionColumns = `id, session_id, player_id, action_type, payload, created_at`

// AppendAction records one accepted mutation in the append-only action log.
func (g *Gateway) AppendAction(ctx context.Context, sessionID, playerID uuid.UUID, actionType models.ActionType, payload any) (*models.ActionEntry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode action payload: %w", err)
	}

	entry := models.ActionEntry{
		ID:        uuid.New(),
		SessionID: sessionID,
		PlayerID:  playerID,
		Type:      actionType,
		Payload:   data,
	}
	err = g.pool.QueryRow(ctx, `
		INSERT INTO action_log (id, session_id, player_id, action_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		entry.ID, sessionID, playerID, actionType, data).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append action: %w", err)
	}
	return &entry, nil
}

// TailActions fetches the most recent limit entries, oldest first. Used
// during rehydration to re-derive announcements and recent history.
func (g *Gateway) TailActions(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ActionEntry, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT `+actionColumns+` FROM (
			SELECT `+actionColumns+` FROM action_log
			WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		) tail ORDER BY created_at ASC`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query action tail: %w", err)
	}
	defer rows.Close()

	var entries []models.ActionEntry
	for rows.Next() {
		var e models.ActionEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.PlayerID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
