// Package core holds the record types, validation and aggregation rules of the
// tracker.
package core

import (
	"fmt"
	"strconv"
	"strings"
)

const maxWholeUnits = (1<<63 - 1) / 100

// ParseMoney reads a non-negative amount written as whole units with an
// optional dot and fraction, as in "12", "12.3" or "0.05". Digits past the
// second decimal round half-up. Zero is a valid amount.
func ParseMoney(s string) (Money, error) {
	whole, frac, hasDot := strings.Cut(strings.TrimSpace(s), ".")
	if whole == "" && (!hasDot || frac == "") {
		return Money{}, ErrInvalidAmount
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return Money{}, ErrInvalidAmount
	}

	var units int64
	if whole != "" {
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil || v > maxWholeUnits {
			return Money{}, ErrInvalidAmount
		}
		units = v
	}

	frac += "000"
	cents := units*100 + int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if frac[2] >= '5' {
		cents++
	}
	return Money{Cents: cents}, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Units returns the value in whole currency units as a float64 for display.
// Use cents for calculations.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}

// String formats the amount with two decimals and a leading sign when negative.
func (m Money) String() string {
	cents := m.Cents
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + strconv.FormatInt(cents/100, 10) + "." + fmt.Sprintf("%02d", cents%100)
}
