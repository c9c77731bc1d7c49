// internal/state/bitset.go
package state

import (
	"encoding/json"
	"math/bits"
)

// MaxReserves bounds reserve ids; each id is one slot in the
// membership sets carried by every user configuration.
const MaxReserves = 128

// ReserveSet is a fixed 128-slot set of reserve ids. The zero value
// is the empty set.
type ReserveSet struct {
	words [2]uint64
}

func (s *ReserveSet) Set(id uint8) {
	s.words[id>>6] |= 1 << (id & 63)
}

func (s *ReserveSet) Clear(id uint8) {
	s.words[id>>6] &^= 1 << (id & 63)
}

func (s *ReserveSet) Has(id uint8) bool {
	return s.words[id>>6]&(1<<(id&63)) != 0
}

func (s *ReserveSet) IsEmpty() bool {
	return s.words[0] == 0 && s.words[1] == 0
}

func (s *ReserveSet) Count() int {
	return bits.OnesCount64(s.words[0]) + bits.OnesCount64(s.words[1])
}

// Each calls fn for every set id in ascending order. fn returning
// false stops the walk.
func (s *ReserveSet) Each(fn func(id uint8) bool) {
	for w := 0; w < 2; w++ {
		word := s.words[w]
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			if !fn(uint8(w<<6 | bit)) {
				return
			}
			word &= word - 1
		}
	}
}

// Slots returns the set ids in ascending order.
func (s *ReserveSet) Slots() []uint8 {
	out := make([]uint8, 0, s.Count())
	s.Each(func(id uint8) bool {
		out = append(out, id)
		return true
	})
	return out
}

// Words exposes the raw 128-bit value for persistence.
func (s *ReserveSet) Words() (lo, hi uint64) {
	return s.words[0], s.words[1]
}

// SetFromWords rebuilds the set from its persisted form.
func SetFromWords(lo, hi uint64) ReserveSet {
	return ReserveSet{words: [2]uint64{lo, hi}}
}

// JSON form is the two raw words, low first.

func (s ReserveSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.words)
}

func (s *ReserveSet) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &s.words)
}
