package core

import (
	"fmt"
	"time"
)

// TimeLayout is the ISO-8601 wire representation for start/stop timestamps:
// timestamps are typed time values in memory and strings on the
// wire/CRDT storage.
const TimeLayout = time.RFC3339

// ParseTimestamp coerces a CRDT-stored string into a typed time.Time.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Accept a bare date, e.g. "2025-01-31", the form used by the
		// original tscat_crdt test fixtures (tests/test_api.py).
		if t2, err2 := time.Parse("2006-01-02", s); err2 == nil {
			return t2, nil
		}
		return time.Time{}, fmt.Errorf("core: invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatTimestamp serializes a typed time.Time into the CRDT-safe string
// representation written on every scalar set.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
