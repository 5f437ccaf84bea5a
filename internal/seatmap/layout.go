package seatmap

import (
	"fmt"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// FrontRows is the number of rows counted as the front section of a bus.
const FrontRows = 3

// Layout is the seat arrangement of a bus: Capacity seats numbered from 1,
// filled row by row, SeatsPerRow per row.
type Layout struct {
	Capacity    int
	SeatsPerRow int
}

// Seat describes one seat position for display.
type Seat struct {
	Number   int    `json:"number"`
	Row      int    `json:"row"`
	Position int    `json:"position"`
	Window   bool   `json:"is_window"`
	Label    string `json:"display"`
}

// NewLayout returns a layout; a non-positive row width defaults to
// model.DefaultSeatsPerRow.
func NewLayout(capacity, seatsPerRow int) Layout {
	if seatsPerRow <= 0 {
		seatsPerRow = model.DefaultSeatsPerRow
	}
	return Layout{Capacity: capacity, SeatsPerRow: seatsPerRow}
}

// LayoutOf returns the layout of a schedule's bus.
func LayoutOf(s model.Schedule) Layout { return NewLayout(s.Capacity, s.RowWidth()) }

// Contains reports whether n is a seat of the layout.
func (l Layout) Contains(n int) bool { return n >= 1 && n <= l.Capacity }

// All returns every seat of the layout.
func (l Layout) All() Set {
	var s Set
	for n := 1; n <= l.Capacity; n++ {
		s.Add(n)
	}
	return s
}

// Row returns the 1-based row of seat n.
func (l Layout) Row(n int) int { return (n-1)/l.SeatsPerRow + 1 }

// Position returns the 1-based position of seat n within its row.
func (l Layout) Position(n int) int { return (n-1)%l.SeatsPerRow + 1 }

// Window reports whether seat n is at either end of its row.
func (l Layout) Window(n int) bool {
	p := l.Position(n)
	return p == 1 || p == l.SeatsPerRow
}

// Front reports whether seat n lies in the first FrontRows rows.
func (l Layout) Front(n int) bool { return l.Row(n) <= FrontRows }

// Describe returns the display description of seat n.
func (l Layout) Describe(n int) Seat {
	kind := "Aisle"
	if l.Window(n) {
		kind = "Window"
	}
	letter := rune('A' + l.Position(n) - 1)
	return Seat{
		Number:   n,
		Row:      l.Row(n),
		Position: l.Position(n),
		Window:   l.Window(n),
		Label:    fmt.Sprintf("Row %d, Seat %c (%s)", l.Row(n), letter, kind),
	}
}
