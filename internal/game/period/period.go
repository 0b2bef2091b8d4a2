// Package period implements the round clock for the club game.
//
// Time is sliced into fixed-width windows in a fixed civil time zone.
// Round ids are pure functions of wall-clock time: no stored counter is
// involved, so a process resuming after downtime derives the same round
// id a continuously-running one would have reached.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRoundID is returned for malformed round identifiers.
var ErrInvalidRoundID = errors.New("invalid round id")

const (
	// WindowSeconds is the fixed width of one round window.
	WindowSeconds = 30

	// WindowsPerDay is the highest window index a day can reach.
	// The index resets to 1 at local midnight and is never clamped
	// within the day.
	WindowsPerDay = 24 * 60 * 60 / WindowSeconds

	dateLayout = "20060102"
)

// zone is the fixed civil time zone the clock runs in (UTC+5:30).
var zone = time.FixedZone("UTC+05:30", 5*3600+30*60)

// RoundIDAt returns the round id for the window containing t.
// The id has the form "YYYYMMDD-NNNN" where NNNN is the 1-based window
// index since local midnight, zero-padded to 4 digits.
func RoundIDAt(t time.Time) string {
	lt := t.In(zone)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, zone)
	elapsed := int(lt.Sub(midnight) / time.Second)
	index := elapsed/WindowSeconds + 1
	return fmt.Sprintf("%s-%04d", lt.Format(dateLayout), index)
}

// Current returns the round id for the window containing the current
// wall-clock time.
func Current() string {
	return RoundIDAt(time.Now())
}

// AtOffset returns the round id n windows away from the window
// containing t. Negative offsets walk backwards; offsets crossing local
// midnight roll into the adjacent date.
func AtOffset(t time.Time, n int) string {
	return RoundIDAt(t.Add(time.Duration(n) * WindowSeconds * time.Second))
}

// Parse validates a round id and returns its local civil date and
// window index.
func Parse(roundID string) (date time.Time, index int, err error) {
	parts := strings.Split(roundID, "-")
	if len(parts) != 2 || len(parts[1]) != 4 {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidRoundID, roundID)
	}

	date, err = time.ParseInLocation(dateLayout, parts[0], zone)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidRoundID, roundID)
	}

	index, err = strconv.Atoi(parts[1])
	if err != nil || index < 1 || index > WindowsPerDay {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidRoundID, roundID)
	}

	return date, index, nil
}

// WindowStart returns the wall-clock time at which the round's window
// opened.
func WindowStart(roundID string) (time.Time, error) {
	date, index, err := Parse(roundID)
	if err != nil {
		return time.Time{}, err
	}
	return date.Add(time.Duration(index-1) * WindowSeconds * time.Second), nil
}

// WindowEnd returns the wall-clock time at which the round's window
// closes. A round may only be settled at or after this instant.
func WindowEnd(roundID string) (time.Time, error) {
	start, err := WindowStart(roundID)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(WindowSeconds * time.Second), nil
}

// Elapsed reports whether the round's window has fully elapsed at t.
func Elapsed(roundID string, t time.Time) (bool, error) {
	end, err := WindowEnd(roundID)
	if err != nil {
		return false, err
	}
	return !t.Before(end), nil
}
