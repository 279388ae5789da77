package coordinator

import (
	"fmt"
	"time"

	"timetagger-sensors/internal/domain"
)

// WindowStarts returns the lower bound of each refresh window for now, in
// now's location: midnight today, midnight on Monday, midnight on the 1st.
func WindowStarts(now time.Time) map[domain.Window]time.Time {
	y, m, d := now.Date()
	loc := now.Location()
	weekday := (int(now.Weekday()) + 6) % 7
	return map[domain.Window]time.Time{
		domain.WindowToday: time.Date(y, m, d, 0, 0, 0, 0, loc),
		domain.WindowWeek:  time.Date(y, m, d-weekday, 0, 0, 0, 0, loc),
		domain.WindowMonth: time.Date(y, m, 1, 0, 0, 0, 0, loc),
	}
}

// UTCTimestamp converts t to integer Unix seconds.
func UTCTimestamp(t time.Time) int64 {
	return t.UTC().Unix()
}

var wallClockLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseWallClock parses RFC3339 input, or a wall-clock value without an
// offset which is taken as UTC, never as local time.
func ParseWallClock(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range wallClockLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC3339 or YYYY-MM-DD[THH:MM:SS]", s)
}
