package cyclecalc

import (
	"time"

	"github.com/flexprice/flexcore/internal/types"
)

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func durationMinutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func durationHours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}

// alignToAnchor snaps effectiveStart back to the most recent calendar
// boundary implied by cfg.Anchor, so that windows are calendar-anchored
// rather than drifting from the raw effective-start timestamp.
//
//   - month/year: Anchor is a day-of-month (1-31, clamped to the month's
//     length).
//   - week: Anchor is a day-of-week (0=Sunday..6=Saturday).
//   - day: Anchor is an hour-of-day (0-23).
//   - minute: windows are minute-aligned; Anchor is unused.
func alignToAnchor(effectiveStart int64, cfg types.BillingConfig) int64 {
	t := fromMillis(effectiveStart)

	switch cfg.Interval {
	case types.IntervalMonth, types.IntervalYear:
		day := cfg.Anchor
		if day <= 0 {
			day = t.Day()
		}
		last := lastDayOfMonth(t.Year(), t.Month())
		if day > last {
			day = last
		}
		aligned := time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, time.UTC)
		if aligned.After(t) {
			aligned = aligned.AddDate(0, -1, 0)
			last = lastDayOfMonth(aligned.Year(), aligned.Month())
			d := cfg.Anchor
			if d > last {
				d = last
			}
			aligned = time.Date(aligned.Year(), aligned.Month(), d, 0, 0, 0, 0, time.UTC)
		}
		return toMillis(aligned)

	case types.IntervalWeek:
		targetDow := time.Weekday(cfg.Anchor % 7)
		delta := int(t.Weekday() - targetDow)
		if delta < 0 {
			delta += 7
		}
		aligned := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -delta)
		return toMillis(aligned)

	case types.IntervalDay:
		hour := cfg.Anchor % 24
		aligned := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
		if aligned.After(t) {
			aligned = aligned.AddDate(0, 0, -1)
		}
		return toMillis(aligned)

	case types.IntervalMinute:
		aligned := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
		return toMillis(aligned)

	default:
		return effectiveStart
	}
}

func lastDayOfMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.Add(-24 * time.Hour)
	return lastOfThis.Day()
}
