package util

import (
	"strconv"
	"time"
)

// ParseTime accepts RFC3339, RFC3339Nano and unix seconds. Results are UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns def if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// AlignFromTo widens [from, to] to whole bars of the given spacing, so a
// range query returns every bar that overlaps it.
func AlignFromTo(from, to time.Time, bar time.Duration) (time.Time, time.Time) {
	if bar <= 0 {
		return from, to
	}
	from = from.Truncate(bar)
	if t := to.Truncate(bar); !t.Equal(to) {
		to = t.Add(bar)
	}
	return from, to
}
