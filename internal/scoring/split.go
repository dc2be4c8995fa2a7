package scoring

import (
	"fmt"
)

// PrizeSplit is the share of the prize pool, in whole percent, paid to
// first, second and third place. The three shares must sum to 100.
type PrizeSplit struct {
	First  int `json:"first_place_percentage"`
	Second int `json:"second_place_percentage"`
	Third  int `json:"third_place_percentage"`
}

// DefaultSplit returns the 70/20/10 distribution new challenges start with.
func DefaultSplit() PrizeSplit {
	return PrizeSplit{First: 70, Second: 20, Third: 10}
}

func SplitFrom(p [3]int) PrizeSplit {
	return PrizeSplit{First: p[0], Second: p[1], Third: p[2]}
}

// IsZero reports whether no share was supplied at all.
func (s PrizeSplit) IsZero() bool {
	return s.First == 0 && s.Second == 0 && s.Third == 0
}

func (s PrizeSplit) Sum() int {
	return s.First + s.Second + s.Third
}

// Validate checks that the shares sum to 100 and none are negative.
func (s PrizeSplit) Validate() error {
	for _, v := range s.asList() {
		if v < 0 {
			return fmt.Errorf("negative percentage: %d", v)
		}
	}
	if s.Sum() != 100 {
		return fmt.Errorf("prize percentages sum to %d, must sum to 100", s.Sum())
	}
	return nil
}

func (s PrizeSplit) asList() [3]int {
	return [3]int{s.First, s.Second, s.Third}
}
