package model

import (
	"fmt"
	"time"
)

// WeekBucketFor returns the ISO-week bucket key ("2026-W34") that the
// given instant falls into. Clips and montages are grouped by this key.
func WeekBucketFor(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// CurrentWeekBucket returns the bucket for the current instant.
func CurrentWeekBucket() string {
	return WeekBucketFor(time.Now())
}
