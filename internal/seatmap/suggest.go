package seatmap

import (
	"fmt"
	"sort"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Preferences steer Suggest towards window or front seats.
type Preferences struct {
	Window bool
	Front  bool
}

// Suggest picks count seats out of free.  When more than one seat is asked
// for, the lowest-numbered run of adjacent seats within a single row wins;
// otherwise seats are ranked by preference, then by lower seat number.
// The result is sorted ascending.
func (l Layout) Suggest(free Set, count int, p Preferences) ([]int, error) {
	if count < 1 {
		return nil, model.ErrEmptySelection
	}
	members := free.Members()
	avail := members[:0:0]
	for _, n := range members {
		if l.Contains(n) {
			avail = append(avail, n)
		}
	}
	if len(avail) < count {
		return nil, fmt.Errorf("want %d seats, %d free: %w", count, len(avail), model.ErrInsufficientSeats)
	}
	if count > 1 {
		if run := l.contiguous(avail, count); run != nil {
			return run, nil
		}
	}
	ranked := append([]int(nil), avail...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return l.score(ranked[i], p) > l.score(ranked[j], p)
	})
	out := append([]int(nil), ranked[:count]...)
	sort.Ints(out)
	return out, nil
}

func (l Layout) score(n int, p Preferences) float64 {
	s := float64(l.Capacity-n) * 0.1
	if p.Window && l.Window(n) {
		s += 10
	}
	if p.Front && l.Front(n) {
		s += 5
	}
	return s
}

// contiguous expects avail sorted ascending.
func (l Layout) contiguous(avail []int, count int) []int {
	for i := 0; i+count <= len(avail); i++ {
		group := avail[i : i+count]
		first, last := group[0], group[count-1]
		if l.Row(first) == l.Row(last) && last-first == count-1 {
			return append([]int(nil), group...)
		}
	}
	return nil
}
