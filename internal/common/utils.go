package common

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ErrInvalidTime is returned when a timestamp matches none of the accepted formats.
var ErrInvalidTime = errors.New("invalid time format; use ISO-8601 / RFC3339 or unix seconds")

// ParseTime accepts ISO-8601 timestamps (zone-less values are read as UTC) or unix seconds.
// The result is always in UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTime
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, ErrInvalidTime
}
