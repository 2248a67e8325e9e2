// utils/dates.go
package utils

import (
	"fmt"
	"time"
)

func BeginningOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func DaysBetween(start, end time.Time) int {
	start = BeginningOfDay(start)
	end = BeginningOfDay(end)
	return int(end.Sub(start).Hours() / 24)
}

// FractionalDays is the exact span in days, used for average durations.
func FractionalDays(start, end time.Time) float64 {
	return end.Sub(start).Hours() / 24
}

// AnalyticsRanges maps the dashboard range selector onto a lookback.
var AnalyticsRanges = map[string]func(time.Time) time.Time{
	"7d":  func(t time.Time) time.Time { return t.AddDate(0, 0, -7) },
	"30d": func(t time.Time) time.Time { return t.AddDate(0, 0, -30) },
	"90d": func(t time.Time) time.Time { return t.AddDate(0, 0, -90) },
	"1y":  func(t time.Time) time.Time { return t.AddDate(-1, 0, 0) },
}

// DefaultAnalyticsRange is used when the caller sends none.
const DefaultAnalyticsRange = "30d"

// RangeWindow returns [from, now] for the named range.
func RangeWindow(name string, now time.Time) (from, to time.Time, err error) {
	if name == "" {
		name = DefaultAnalyticsRange
	}
	back, ok := AnalyticsRanges[name]
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("unknown range %q (use 7d, 30d, 90d or 1y)", name)
	}
	return back(now), now, nil
}

// PreviousWindow is the window of equal length ending where [from, to] starts.
func PreviousWindow(from, to time.Time) (time.Time, time.Time) {
	return from.Add(-to.Sub(from)), from
}
