// Package timestamp converts the Unix-millisecond values stored on envelopes.
// Zero means unset.
package timestamp

import (
	"fmt"
	"time"

	"github.com/Elon-Abulafia/PipeRT/errors"
)

// latest is the largest accepted value, the start of year 3000 UTC
var latest = time.Date(3000, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

const layout = "2006-01-02T15:04:05.000Z07:00"

// Now returns the current time in Unix milliseconds
func Now() int64 { return time.Now().UnixMilli() }

// ToUnixMs maps the zero time to 0
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs maps 0 to the zero time
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders ms in UTC with millisecond precision, "" when unset
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).UTC().Format(layout)
}

// Between is end minus start; unset bounds give 0
func Between(start, end int64) time.Duration {
	if start == 0 || end == 0 {
		return 0
	}
	return time.Duration(end-start) * time.Millisecond
}

// Validate accepts 0 and values up to the year 3000
func Validate(ms int64) error {
	if ms < 0 || ms > latest {
		return fmt.Errorf("%w: timestamp %d out of range", errors.ErrInvalidData, ms)
	}
	return nil
}
