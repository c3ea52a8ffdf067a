// Package duration formats durations the way they are shown to people:
// whole hours plus remaining minutes.
package duration

import (
	"fmt"
	"time"
)

// FormatMinutes formats a number of minutes.
// Below one hour only minutes are shown ("45min").
// From one hour on, whole hours are floored and the remainder is shown
// as minutes ("1h 5min"), with an exact hour shown as hours only ("2h").
// Negative values are treated as zero.
func FormatMinutes(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	hours, rest := minutes/60, minutes%60
	switch {
	case hours == 0:
		return fmt.Sprintf("%dmin", rest)
	case rest == 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dh %dmin", hours, rest)
	}
}

// Format floors the duration to whole minutes and formats it with FormatMinutes.
func Format(d time.Duration) string {
	return FormatMinutes(int(d / time.Minute))
}
