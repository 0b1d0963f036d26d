// Package classify assigns items to time buckets. Classification is a pure
// function of the extracted deadline and the current time; buckets are
// recomputed on every read and never persisted, so membership is always
// consistent with the clock without a background re-bucketing job.
package classify

import (
	"time"

	"github.com/flowstate/flowstate/internal/model"
)

// Bucket classifies a deadline relative to now. Both times are interpreted
// in loc for the calendar-day comparisons.
//
// A deadline exactly at now is DueToday, not Overdue: the boundary is
// inclusive on the earlier bucket only at its lower edge.
func Bucket(deadline *time.Time, now time.Time, loc *time.Location) model.Bucket {
	if loc == nil {
		loc = time.UTC
	}
	if deadline == nil {
		return model.BucketUnscheduled
	}
	due := deadline.In(loc)
	now = now.In(loc)

	if due.Before(now) {
		return model.BucketOverdue
	}
	if sameDay(due, now) {
		return model.BucketDueToday
	}
	// Within the next 7 calendar days.
	weekEdge := startOfDay(now).AddDate(0, 0, 8)
	if due.Before(weekEdge) {
		return model.BucketDueThisWeek
	}
	return model.BucketUpcoming
}

// Item classifies an item using its extracted deadline.
func Item(item model.Item, now time.Time, loc *time.Location) model.Bucket {
	if item.Deadline == nil {
		return model.BucketUnscheduled
	}
	due := item.Deadline.DueAt
	return Bucket(&due, now, loc)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
