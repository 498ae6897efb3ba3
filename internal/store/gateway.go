// Package store is the sync gateway: the only component that issues writes
// to the remote record or reads full snapshots from it. It holds no
// gameplay logic; it guards each mutation by re-reading the row it is about
// to update so racing writers surface as typed errors instead of lost data.
package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Gateway wraps the Postgres pool behind the repository methods the engine
// components depend on.
type Gateway struct {
	pool *pgxpool.Pool
}

// NewGateway connects a gateway to the given Postgres DSN.
func NewGateway(ctx context.Context, dsn string) (*Gateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("connected to game store")
	return &Gateway{pool: pool}, nil
}

// NewGatewayFromPool wraps an existing pool, for tests and shared wiring.
func NewGatewayFromPool(pool *pgxpool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// Ping checks connectivity to the store, used as the reachability probe
// during reconnection.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// Close releases the underlying pool. Safe to call more than once.
func (g *Gateway) Close() {
	if g.pool != nil {
		g.pool.Close()
	}
}

// withTx runs fn inside a transaction, rolling back on error.
func (g *Gateway) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// joinCodeAlphabet omits easily confused characters.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const joinCodeLength = 6

// newJoinCode generates a random join code from the unambiguous alphabet.
func newJoinCode() (string, error) {
	code := make([]byte, joinCodeLength)
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
