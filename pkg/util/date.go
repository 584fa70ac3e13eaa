package util

import (
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar date format used in forecast queries.
const DateLayout = "2006-01-02"

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ResolveSlot fills in a forecast date and hour, defaulting to the slot that
// contains now. The date must use DateLayout; the hour must be 0-23.
func ResolveSlot(date string, hour *int, now time.Time) (string, int, error) {
	d := now.Format(DateLayout)
	if date != "" {
		t, err := time.ParseInLocation(DateLayout, date, now.Location())
		if err != nil {
			return "", 0, fmt.Errorf("date %q: expected YYYY-MM-DD", date)
		}
		d = t.Format(DateLayout)
	}

	h := now.Hour()
	if hour != nil {
		if *hour < 0 || *hour > 23 {
			return "", 0, fmt.Errorf("hour %d: expected 0-23", *hour)
		}
		h = *hour
	}
	return d, h, nil
}

// SlotStart returns the wall-clock start of hour on date in loc.
func SlotStart(date string, hour int, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, loc), nil
}
