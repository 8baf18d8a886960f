package schedule

import (
	"fmt"
	"math"
	"time"
)

const clockLayout = "15:04"

// ParseClock validates an HH:MM value
func ParseClock(value string) error {
	if _, err := time.Parse(clockLayout, value); err != nil || len(value) != 5 {
		return fmt.Errorf("invalid time of day %q, expected HH:MM", value)
	}
	return nil
}

// IsWithinActiveHours compares the local HH:MM of now against the window.
// Both bounds are inclusive. Windows crossing midnight are not supported.
func IsWithinActiveHours(now time.Time, start, end string) bool {
	current := now.Format(clockLayout)
	return current >= start && current <= end
}

// NextWindowStart returns today's start when the window has not ended yet,
// otherwise tomorrow's start.
func NextWindowStart(now time.Time, start, end string) time.Time {
	startClock, err := time.Parse(clockLayout, start)
	if err != nil {
		return now
	}

	today := time.Date(now.Year(), now.Month(), now.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, now.Location())

	if now.Format(clockLayout) <= end {
		return today
	}
	return today.AddDate(0, 0, 1)
}

// StartOfDay returns local midnight for now's date
func StartOfDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// NextMidnight returns the next local midnight after now
func NextMidnight(now time.Time) time.Time {
	return StartOfDay(now).AddDate(0, 0, 1)
}

// SecondsUntil returns the whole seconds from now to target, rounded up and
// never below one.
func SecondsUntil(now, target time.Time) int {
	secs := int(math.Ceil(target.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
