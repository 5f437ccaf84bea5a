// Package seatmap answers which seats of a schedule are free.  Set is a
// plain bitset over seat numbers, Layout describes the physical bus, and
// View combines the ledger's non-terminal reservations into an occupancy
// map, optionally served from a generation-stamped cache.
package seatmap

import (
	"encoding/binary"
	"errors"
	"math/bits"
)

// Set is a set of positive seat numbers backed by a bitmap.  The zero value
// is an empty set ready to use.  Set is not safe for concurrent mutation.
type Set struct {
	words []uint64
}

// NewSet returns a set containing seats.  Non-positive numbers are ignored.
func NewSet(seats ...int) Set {
	var s Set
	for _, n := range seats {
		s.Add(n)
	}
	return s
}

// Add inserts n and reports whether it was absent.
func (s *Set) Add(n int) bool {
	if n <= 0 {
		return false
	}
	w, b := n/64, uint(n%64)
	for len(s.words) <= w {
		s.words = append(s.words, 0)
	}
	if s.words[w]&(1<<b) != 0 {
		return false
	}
	s.words[w] |= 1 << b
	return true
}

// Has reports whether n is in the set.
func (s Set) Has(n int) bool {
	if n <= 0 {
		return false
	}
	w := n / 64
	return w < len(s.words) && s.words[w]&(1<<uint(n%64)) != 0
}

// Len returns the number of seats in the set.
func (s Set) Len() int {
	total := 0
	for _, w := range s.words {
		total += bits.OnesCount64(w)
	}
	return total
}

// Members returns the seats in ascending order.
func (s Set) Members() []int {
	out := make([]int, 0, s.Len())
	for i, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			out = append(out, i*64+b)
			w &^= 1 << uint(b)
		}
	}
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	return Set{words: append([]uint64(nil), s.words...)}
}

// Difference returns the seats of s that are not in o.
func (s Set) Difference(o Set) Set {
	out := append([]uint64(nil), s.words...)
	for i := 0; i < len(out) && i < len(o.words); i++ {
		out[i] &^= o.words[i]
	}
	return Set{words: out}
}

// MarshalBinary packs the set as [4 bytes word count][8 bytes per word].
func (s Set) MarshalBinary() ([]byte, error) {
	out := make([]byte, 4+8*len(s.words))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(s.words)))
	for i, w := range s.words {
		binary.BigEndian.PutUint64(out[4+8*i:], w)
	}
	return out, nil
}

var errShortSet = errors.New("seatmap: truncated set encoding")

// UnmarshalBinary restores a set written by MarshalBinary.
func (s *Set) UnmarshalBinary(b []byte) error {
	if len(b) < 4 {
		return errShortSet
	}
	n := int(binary.BigEndian.Uint32(b[0:4]))
	if len(b) != 4+8*n {
		return errShortSet
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(b[4+8*i:])
	}
	s.words = words
	return nil
}
