package scorecard

import "github.com/jamblive/jamblive/internal/models"

// Scoring constants for the lower section.
const (
	trisBonus     = 10
	straightSmall = 35
	straightLarge = 45
	fullBonus     = 30
	pokerBonus    = 40
	jambBonus     = 50
	upperBonusAt  = 60
	upperBonus    = 30
)

// ScoreFor returns the score the given dice are worth in a category.
// It is a deterministic function of the five dice values.
func ScoreFor(category Category, dice [models.NumDice]int) int {
	counts := faceCounts(dice)

	if face, ok := upperFace[category]; ok {
		return counts[face] * face
	}

	switch category {
	case CategoryMax, CategoryMin:
		sum := 0
		for _, v := range dice {
			sum += v
		}
		return sum
	case CategoryTris:
		if face := bestFaceWithCount(counts, 3); face > 0 {
			return 3*face + trisBonus
		}
	case CategoryStraight:
		small, large := true, true
		for face := 1; face <= 5; face++ {
			if counts[face] == 0 {
				small = false
			}
		}
		for face := 2; face <= 6; face++ {
			if counts[face] == 0 {
				large = false
			}
		}
		if large {
			return straightLarge
		}
		if small {
			return straightSmall
		}
	case CategoryFull:
		if triple, pair := bestFullHouse(counts); triple > 0 {
			return 3*triple + 2*pair + fullBonus
		}
	case CategoryPoker:
		if face := bestFaceWithCount(counts, 4); face > 0 {
			return 4*face + pokerBonus
		}
	case CategoryJamb:
		if face := bestFaceWithCount(counts, 5); face > 0 {
			return 5*face + jambBonus
		}
	}
	return 0
}

// IsLegalTotal reports whether value is a possible score for the category.
// Illegal values are rejected locally and never sent to the store.
func IsLegalTotal(category Category, value int) bool {
	if face, ok := upperFace[category]; ok {
		return value >= 0 && value <= models.NumDice*face && value%face == 0
	}

	switch category {
	case CategoryMax, CategoryMin:
		return value >= models.NumDice && value <= models.NumDice*6
	case CategoryTris:
		if value == 0 {
			return true
		}
		for face := 1; face <= 6; face++ {
			if value == 3*face+trisBonus {
				return true
			}
		}
	case CategoryStraight:
		return value == 0 || value == straightSmall || value == straightLarge
	case CategoryFull:
		if value == 0 {
			return true
		}
		for triple := 1; triple <= 6; triple++ {
			for pair := 1; pair <= 6; pair++ {
				if value == 3*triple+2*pair+fullBonus {
					return true
				}
			}
		}
	case CategoryPoker:
		if value == 0 {
			return true
		}
		for face := 1; face <= 6; face++ {
			if value == 4*face+pokerBonus {
				return true
			}
		}
	case CategoryJamb:
		if value == 0 {
			return true
		}
		for face := 1; face <= 6; face++ {
			if value == 5*face+jambBonus {
				return true
			}
		}
	}
	return false
}

// ColumnTotal returns the total for one column of a scorecard. The upper
// section earns a bonus at or above the threshold, and the middle section
// is worth (max-min) x ones once all three cells are present.
func ColumnTotal(column Column, card models.Scorecard) int {
	upper := 0
	for cat := range upperFace {
		if v, ok := card[CellKey(column, cat)]; ok {
			upper += v
		}
	}
	total := upper
	if upper >= upperBonusAt {
		total += upperBonus
	}

	max, hasMax := card[CellKey(column, CategoryMax)]
	min, hasMin := card[CellKey(column, CategoryMin)]
	ones, hasOnes := card[CellKey(column, CategoryOnes)]
	if hasMax && hasMin && hasOnes {
		total += (max - min) * ones
	}

	for _, cat := range []Category{CategoryTris, CategoryStraight, CategoryFull, CategoryPoker, CategoryJamb} {
		if v, ok := card[CellKey(column, cat)]; ok {
			total += v
		}
	}
	return total
}

// GrandTotal returns a player's total across all columns.
func GrandTotal(card models.Scorecard) int {
	total := 0
	for _, column := range Columns {
		total += ColumnTotal(column, card)
	}
	return total
}

func faceCounts(dice [models.NumDice]int) [7]int {
	var counts [7]int
	for _, v := range dice {
		if v >= 1 && v <= 6 {
			counts[v]++
		}
	}
	return counts
}

// bestFaceWithCount returns the highest face occurring at least n times,
// or 0 when none does.
func bestFaceWithCount(counts [7]int, n int) int {
	for face := 6; face >= 1; face-- {
		if counts[face] >= n {
			return face
		}
	}
	return 0
}

// bestFullHouse returns the best triple/pair split, or zeros when the dice
// hold no full house. Five of a kind counts as a full house of that face.
func bestFullHouse(counts [7]int) (triple, pair int) {
	triple = bestFaceWithCount(counts, 3)
	if triple == 0 {
		return 0, 0
	}
	if counts[triple] >= 5 {
		return triple, triple
	}
	for face := 6; face >= 1; face-- {
		if face != triple && counts[face] >= 2 {
			return triple, face
		}
	}
	return 0, 0
}
