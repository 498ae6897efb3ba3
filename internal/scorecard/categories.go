// Package scorecard implements the Jamb scorecard rules: column ordering,
// cell fillability, legal score totals, derived totals and game completion.
package scorecard

import "fmt"

// Column defines one of the four scoring columns.
type Column string

const (
	ColumnDown     Column = "down"
	ColumnUp       Column = "up"
	ColumnFree     Column = "free"
	ColumnAnnounce Column = "announce"
)

// Columns lists all columns in display order.
var Columns = []Column{ColumnDown, ColumnUp, ColumnFree, ColumnAnnounce}

// Category defines one input row of the scorecard.
type Category string

const (
	CategoryOnes     Category = "ones"
	CategoryTwos     Category = "twos"
	CategoryThrees   Category = "threes"
	CategoryFours    Category = "fours"
	CategoryFives    Category = "fives"
	CategorySixes    Category = "sixes"
	CategoryMax      Category = "max"
	CategoryMin      Category = "min"
	CategoryTris     Category = "tris"
	CategoryStraight Category = "straight"
	CategoryFull     Category = "full"
	CategoryPoker    Category = "poker"
	CategoryJamb     Category = "jamb"
)

// Categories lists every input category in top-to-bottom sheet order. The
// "down" column fills in this order, the "up" column in reverse.
var Categories = []Category{
	CategoryOnes, CategoryTwos, CategoryThrees, CategoryFours,
	CategoryFives, CategorySixes,
	CategoryMax, CategoryMin,
	CategoryTris, CategoryStraight, CategoryFull, CategoryPoker, CategoryJamb,
}

// NumCells is the number of cells on a complete scorecard.
var NumCells = len(Columns) * len(Categories)

// upperFace maps upper-section categories to their die face.
var upperFace = map[Category]int{
	CategoryOnes:   1,
	CategoryTwos:   2,
	CategoryThrees: 3,
	CategoryFours:  4,
	CategoryFives:  5,
	CategorySixes:  6,
}

// ValidColumn reports whether c names a known column.
func ValidColumn(c Column) bool {
	for _, col := range Columns {
		if col == c {
			return true
		}
	}
	return false
}

// ValidCategory reports whether c names a known input category.
func ValidCategory(c Category) bool {
	for _, cat := range Categories {
		if cat == c {
			return true
		}
	}
	return false
}

// CellKey builds the scorecard map key for a column/category pair.
func CellKey(column Column, category Category) string {
	return fmt.Sprintf("%s_%s", column, category)
}
