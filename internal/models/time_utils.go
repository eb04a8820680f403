package models

import "time"

// ServerTime normalizes a timestamp to what the stores can round-trip:
// UTC with microsecond precision (Postgres timestamptz resolution).
func ServerTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
