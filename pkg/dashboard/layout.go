package dashboard

import (
	"fmt"

	"github.com/FleetAI/fleet-console/pkg/types"
)

// NextPosition returns the first free w x h slot on a grid with the given column
// count, scanning rows top to bottom and columns left to right.
func NextPosition(occupied []types.Position, columns, w, h int) types.Position {
	if columns <= 0 {
		columns = types.DefaultLayout().Columns
	}
	if w > columns {
		w = columns
	}
	for y := 0; ; y++ {
		for x := 0; x+w <= columns; x++ {
			candidate := types.Position{X: x, Y: y, W: w, H: h}
			if !overlapsAny(candidate, occupied) {
				return candidate
			}
		}
	}
}

func overlapsAny(p types.Position, occupied []types.Position) bool {
	for _, o := range occupied {
		if p.Overlaps(o) {
			return true
		}
	}
	return false
}

// CheckPosition verifies that a position fits inside the grid width.
func CheckPosition(p types.Position, columns int) error {
	if p.X < 0 || p.Y < 0 {
		return fmt.Errorf("position (%d,%d) must be non-negative", p.X, p.Y)
	}
	if p.W < 2 || p.H < 2 {
		return fmt.Errorf("size %dx%d is below the 2x2 minimum", p.W, p.H)
	}
	if columns > 0 && p.X+p.W > columns {
		return fmt.Errorf("widget spans columns %d-%d but the grid has %d", p.X, p.X+p.W-1, columns)
	}
	return nil
}

// CheckOverlap rejects a widget whose rectangle intersects another widget in
// widgets. The widget itself, matched by id, is skipped.
func CheckOverlap(w types.Widget, widgets []types.Widget) error {
	for _, other := range widgets {
		if other.ID == w.ID {
			continue
		}
		if w.Position.Overlaps(other.Position) {
			return fmt.Errorf("position (%d,%d) %dx%d overlaps widget %d %q at (%d,%d) %dx%d",
				w.Position.X, w.Position.Y, w.Position.W, w.Position.H,
				other.ID, other.Title, other.Position.X, other.Position.Y, other.Position.W, other.Position.H)
		}
	}
	return nil
}
