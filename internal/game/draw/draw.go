// Package draw derives round outcomes from round identifiers.
//
// The derivation is deterministic: SHA-256 of the round id, first 4
// bytes read as a big-endian unsigned integer, reduced mod 10. Anyone
// holding a round id can precompute its outcome, which makes this
// suitable for demonstration play only. Real-stakes settlement needs a
// committed-then-revealed or server-secret-seeded scheme instead.
package draw

import (
	"crypto/sha256"
	"encoding/binary"
)

// Color outcomes.
const (
	ColorViolet = "violet"
	ColorGreen  = "green"
	ColorRed    = "red"
)

// Size outcomes.
const (
	SizeBig   = "big"
	SizeSmall = "small"
)

// Source tags the generation method persisted with each result.
const Source = "sha256-v1"

// Outcome is the derived result for one round.
type Outcome struct {
	Number int
	Color  string
	Size   string
}

// Derive computes the outcome for a round id.
// Number 0 and 5 map to violet; 1, 3, 7, 9 to green; the remaining even
// numbers to red. Numbers 5-9 are big, 0-4 small.
func Derive(roundID string) Outcome {
	digest := sha256.Sum256([]byte(roundID))
	n := int(binary.BigEndian.Uint32(digest[:4]) % 10)
	return Outcome{
		Number: n,
		Color:  colorOf(n),
		Size:   sizeOf(n),
	}
}

func colorOf(n int) string {
	switch n {
	case 0, 5:
		return ColorViolet
	case 1, 3, 7, 9:
		return ColorGreen
	default:
		return ColorRed
	}
}

func sizeOf(n int) string {
	if n >= 5 {
		return SizeBig
	}
	return SizeSmall
}

// ValidSelection reports whether label is a bettable outcome.
func ValidSelection(label string) bool {
	switch label {
	case ColorViolet, ColorGreen, ColorRed, SizeBig, SizeSmall:
		return true
	}
	return false
}

// Matches reports whether a bet on label wins against the outcome.
func Matches(label string, o Outcome) bool {
	return label == o.Color || label == o.Size
}
