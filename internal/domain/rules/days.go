package rules

import (
	"fmt"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

func DayKey(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(dayLayout)
}

// DayBounds returns the UTC half-open range [start, end) of the calendar
// day that contains t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC()
}

func ParseDay(raw string) (time.Time, error) {
	day, err := time.ParseInLocation(dayLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", raw, err)
	}
	return day, nil
}

// ArchiveKey lays ledger exports out as <prefix>/YYYY/MM/DD.jsonl.
func ArchiveKey(prefix string, day time.Time) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "ledger"
	}
	day = day.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d.jsonl", prefix, day.Year(), int(day.Month()), day.Day())
}
