// Package markethours knows the NSE session and trading-day calendar. The
// backfill uses it to tell a chunk that legitimately has no candles
// (weekends, holidays) from one where the API returned nothing for days the
// exchange was open.
package markethours

import "time"

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session hours in IST
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30

	// SessionMinutes is the number of 1-minute candles in a full session.
	SessionMinutes = (CloseHour*60 + CloseMinute) - (OpenHour*60 + OpenMinute)
)

// IsWeekday returns true if the calendar date of t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if the calendar date of t is a weekday and not
// a holiday. Pass IST times or the UTC-midnight dates of model.Day.
func IsTradingDay(t time.Time) bool {
	return IsWeekday(t) && !IsHoliday(t)
}

// TradingDays counts trading days in the inclusive date range [start, end].
// Returns 0 when end is before start.
func TradingDays(start, end time.Time) int {
	d := dateOnly(start)
	last := dateOnly(end)
	n := 0
	for !d.After(last) {
		if IsTradingDay(d) {
			n++
		}
		d = d.AddDate(0, 0, 1)
	}
	return n
}

// InSession returns true if t falls within 9:15–15:30 IST on a trading day.
func InSession(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// SessionOpen returns the open time (9:15 IST) of the calendar date of day.
func SessionOpen(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, OpenHour, OpenMinute, 0, 0, IST)
}

// SessionClose returns the close time (15:30 IST) of the calendar date of day.
func SessionClose(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, CloseHour, CloseMinute, 0, 0, IST)
}

// Today returns the current IST calendar date as UTC midnight.
func Today(now time.Time) time.Time {
	return dateOnly(now.In(IST))
}

// dateOnly keeps the calendar date of t in its own location, as UTC midnight.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
