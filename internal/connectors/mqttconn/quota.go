package mqttconn

import (
	"sync"
	"time"
)

// DailyQuota caps the number of mqtt:publish calls per local day,
// resetting at midnight. Adapted from a daily LLM-token accumulator
// into a generic daily call-count budget for outbound publishes.
type DailyQuota struct {
	mu       sync.Mutex
	count    int64
	limit    int64
	resetDay int
	loc      *time.Location
}

// NewDailyQuota creates an accumulator using loc for midnight
// detection; a nil loc uses time.Local. The daily publish limit starts
// at 0, which disables the limit; this constructor takes no limit.
func NewDailyQuota(loc *time.Location) *DailyQuota {
	if loc == nil {
		loc = time.Local
	}
	return &DailyQuota{
		limit:    0,
		resetDay: time.Now().In(loc).YearDay(),
		loc:      loc,
	}
}

// Allow records one call and reports whether it is within the daily
// limit. A zero limit always allows.
func (q *DailyQuota) Allow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.maybeReset()
	if q.limit > 0 && q.count >= q.limit {
		return false
	}
	q.count++
	return true
}

func (q *DailyQuota) maybeReset() {
	today := time.Now().In(q.loc).YearDay()
	if today != q.resetDay {
		q.count = 0
		q.resetDay = today
	}
}
