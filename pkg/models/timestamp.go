package models

import (
	"time"
)

// DefaultTimeField is the event-time column of the transaction schema.
const DefaultTimeField = "TIMESTAMP"

// Layouts accepted for string timestamps, tried in order. The last one is
// the day-first reception-log format emitted by the upstream producers.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
}

// NormalizeTimestamps rewrites batch[i][field] to a time.Time or nil, in
// place, and returns how many values became null. Normalization is lossy
// on purpose: UTC offsets are dropped and the wall-clock reading kept, so
// 2024-01-01T10:00:00+05:00 and 2024-01-01T10:00:00Z normalize to the
// same instant. Unparseable values become null rather than failing the
// batch.
func NormalizeTimestamps(b *Batch, field string) int {
	if b == nil {
		return 0
	}
	nulled := 0
	for _, rec := range b.Records {
		v, present := rec[field]
		if !present || v == nil {
			continue
		}
		t, ok := ParseTimestamp(v)
		if !ok {
			rec[field] = nil
			nulled++
			continue
		}
		rec[field] = t
	}
	return nulled
}

// ParseTimestamp interprets a raw scalar as an event time. time.Time
// values and zoned strings have their offset stripped (wall clock kept);
// integers are epoch seconds, milliseconds or microseconds, picked by
// magnitude.
func ParseTimestamp(v interface{}) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return stripOffset(tv), true
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, tv); err == nil {
				return stripOffset(t), true
			}
		}
		return time.Time{}, false
	case int:
		return fromEpoch(int64(tv)), true
	case int64:
		return fromEpoch(tv), true
	case float64:
		return fromEpoch(int64(tv)), true
	default:
		return time.Time{}, false
	}
}

// stripOffset rebuilds t's wall-clock reading in UTC, discarding whatever
// zone it carried.
func stripOffset(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func fromEpoch(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11: // seconds until year ~5138
		return time.Unix(n, 0).UTC()
	case abs < 1e14: // milliseconds
		return time.UnixMilli(n).UTC()
	default: // microseconds
		return time.UnixMicro(n).UTC()
	}
}
