// Package dice implements the pure dice-state transitions for a turn.
//
// Every transition is a pure function of the previous state, so the same
// event stream replays to an identical state on every client.
package dice

import (
	crand "crypto/rand"
	"fmt"

	"github.com/jamblive/jamblive/internal/models"
)

// Source yields uniform die faces in [1, Sides].
type Source interface {
	Face() (int, error)
}

// Sides is the number of faces on a die.
const Sides = 6

// State is the dice state for one in-progress turn.
type State struct {
	Values         [models.NumDice]int
	Locked         [models.NumDice]bool
	RollsRemaining int
	// History holds the dice vector after each roll this turn,
	// oldest first.
	History [][models.NumDice]int
}

// Reset returns a fresh turn state: three rolls, nothing locked.
func Reset() State {
	return State{RollsRemaining: models.MaxRolls}
}

// Roll replaces every unlocked slot with a fresh draw and decrements the
// roll counter. Rolling with no rolls remaining returns the state unchanged.
func Roll(s State) (State, error) {
	return RollWithSource(s, cryptoSource{})
}

// RollWithSource is Roll with an explicit face source, for deterministic
// replay in tests.
func RollWithSource(s State, src Source) (State, error) {
	if s.RollsRemaining <= 0 {
		return s, nil
	}
	next := s
	for i := range next.Values {
		if next.Locked[i] {
			continue
		}
		face, err := src.Face()
		if err != nil {
			return s, fmt.Errorf("draw die face: %w", err)
		}
		next.Values[i] = face
	}
	next.RollsRemaining--
	next.History = append(append([][models.NumDice]int(nil), s.History...), next.Values)
	return next, nil
}

// ToggleLock flips the lock bit at index. Locking is only meaningful
// between the first and last roll; outside that window, and for an
// out-of-range index, the state is returned unchanged.
func ToggleLock(s State, index int) State {
	if index < 0 || index >= models.NumDice {
		return s
	}
	if s.RollsRemaining <= 0 || s.RollsRemaining >= models.MaxRolls {
		return s
	}
	next := s
	next.Locked[index] = !next.Locked[index]
	return next
}

// cryptoSource draws faces from crypto/rand with rejection sampling so
// every face is equally likely.
type cryptoSource struct{}

func (cryptoSource) Face() (int, error) {
	// 252 is the largest multiple of 6 below 256; bytes at or above it
	// are rejected to avoid modulo bias.
	const limit = 256 - 256%Sides
	var b [1]byte
	for {
		if _, err := crand.Read(b[:]); err != nil {
			return 0, err
		}
		if int(b[0]) < limit {
			return int(b[0])%Sides + 1, nil
		}
	}
}
