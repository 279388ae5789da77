package sensor

import (
	"time"

	"timetagger-sensors/internal/domain"
)

const (
	secondsPerHour = 3600
	secondsPerDay  = 86400

	// workdaysPerWeek caps the weekly target once the weekend is reached.
	workdaysPerWeek = 5
)

// SumHours returns the total tracked hours across records.
//
// A record without an end is not counted. A record without a start counts
// from midnight UTC of its end's day. Inverted spans count as zero.
func SumHours(records []domain.Record) float64 {
	var total int64
	for _, r := range records {
		if r.T2 == nil {
			continue
		}
		t2 := *r.T2
		t1 := utcDayStart(t2)
		if r.T1 != nil {
			t1 = *r.T1
		}
		if d := t2 - t1; d > 0 {
			total += d
		}
	}
	return float64(total) / secondsPerHour
}

func utcDayStart(ts int64) int64 {
	return ts - ((ts%secondsPerDay)+secondsPerDay)%secondsPerDay
}

// Weekday returns the ISO-style weekday of t, Monday=0 through Sunday=6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// WeekTarget returns the hours expected from Monday through now.
func WeekTarget(now time.Time, dailyTarget float64) float64 {
	return float64(min(Weekday(now)+1, workdaysPerWeek)) * dailyTarget
}

// MonthlyTarget returns the hours expected from the 1st of now's month through
// today inclusive, counting Monday to Friday only.
func MonthlyTarget(now time.Time, dailyTarget float64) float64 {
	return float64(WorkdaysThisMonth(now)) * dailyTarget
}

// WorkdaysThisMonth counts Monday to Friday days from the 1st through now's day.
func WorkdaysThisMonth(now time.Time) int {
	y, m, d := now.Date()
	n := 0
	for day := 1; day <= d; day++ {
		if Weekday(time.Date(y, m, day, 12, 0, 0, 0, now.Location())) < workdaysPerWeek {
			n++
		}
	}
	return n
}
