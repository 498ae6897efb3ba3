package scorecard

import (
	"github.com/google/uuid"
	"github.com/jamblive/jamblive/internal/models"
)

// IsCellFillable reports whether the given cell may be filled next, given
// the player's current card and any outstanding announcement.
//
// The down column fills in fixed sheet order, the up column in reverse, the
// free column accepts any empty category, and the announce column only
// accepts the announced category while the announcement is outstanding.
func IsCellFillable(column Column, category Category, card models.Scorecard, announcement *Category) bool {
	if !ValidColumn(column) || !ValidCategory(category) {
		return false
	}
	if _, taken := card[CellKey(column, category)]; taken {
		return false
	}

	switch column {
	case ColumnDown:
		return nextInSequence(Categories, column, card) == category
	case ColumnUp:
		return nextInSequence(reversed(Categories), column, card) == category
	case ColumnFree:
		return true
	case ColumnAnnounce:
		return announcement != nil && *announcement == category
	}
	return false
}

// EligibleAnnouncements returns the announce-column categories still open
// for announcement on the given card.
func EligibleAnnouncements(card models.Scorecard) []Category {
	var open []Category
	for _, cat := range Categories {
		if _, taken := card[CellKey(ColumnAnnounce, cat)]; !taken {
			open = append(open, cat)
		}
	}
	return open
}

// IsComplete reports whether a single card has every cell filled.
func IsComplete(card models.Scorecard) bool {
	return len(card) >= NumCells
}

// IsGameComplete reports whether every player's card is full.
func IsGameComplete(cards map[uuid.UUID]models.Scorecard) bool {
	if len(cards) == 0 {
		return false
	}
	for _, card := range cards {
		if !IsComplete(card) {
			return false
		}
	}
	return true
}

// TiePolicy decides between players with equal totals. Earlier position in
// the slice passed to Winner wins under FirstInTurnOrder.
type TiePolicy int

const (
	// TieFirstInTurnOrder awards ties to the player earliest in turn order.
	TieFirstInTurnOrder TiePolicy = iota
	// TieLastInTurnOrder awards ties to the player latest in turn order.
	TieLastInTurnOrder
)

// Winner returns the winning player id: highest grand total, ties broken by
// policy over the turn order.
func Winner(cards map[uuid.UUID]models.Scorecard, order []uuid.UUID, policy TiePolicy) uuid.UUID {
	winner := uuid.Nil
	best := -1
	for _, id := range order {
		card, ok := cards[id]
		if !ok {
			continue
		}
		total := GrandTotal(card)
		switch {
		case total > best:
			winner, best = id, total
		case total == best && policy == TieLastInTurnOrder:
			winner = id
		}
	}
	return winner
}

// nextInSequence returns the first category in seq without an entry in the
// column, or "" when the column is full.
func nextInSequence(seq []Category, column Column, card models.Scorecard) Category {
	for _, cat := range seq {
		if _, taken := card[CellKey(column, cat)]; !taken {
			return cat
		}
	}
	return ""
}

func reversed(seq []Category) []Category {
	out := make([]Category, len(seq))
	for i, cat := range seq {
		out[len(seq)-1-i] = cat
	}
	return out
}
