package markethours

import "time"

type monthDay struct {
	month time.Month
	day   int
}

// NSE trading holidays by year.
// Source: NSE India holiday circulars; later years are provisional.
var nseHolidays = map[int][]monthDay{
	2024: {
		{time.January, 22},  // Special holiday
		{time.January, 26},  // Republic Day
		{time.March, 8},     // Mahashivratri
		{time.March, 25},    // Holi
		{time.March, 29},    // Good Friday
		{time.April, 11},    // Id-ul-Fitr
		{time.April, 17},    // Ram Navami
		{time.May, 1},       // Maharashtra Day
		{time.May, 20},      // General elections (Mumbai)
		{time.June, 17},     // Bakri Id
		{time.July, 17},     // Muharram
		{time.August, 15},   // Independence Day
		{time.October, 2},   // Mahatma Gandhi Jayanti
		{time.November, 1},  // Diwali Laxmi Pujan
		{time.November, 15}, // Gurunanak Jayanti
		{time.November, 20}, // Maharashtra assembly elections
		{time.December, 25}, // Christmas
	},
	2025: {
		{time.February, 26}, // Mahashivratri
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr
		{time.April, 10},    // Mahavir Jayanti
		{time.April, 14},    // Dr. Ambedkar Jayanti
		{time.April, 18},    // Good Friday
		{time.May, 1},       // Maharashtra Day
		{time.August, 15},   // Independence Day
		{time.August, 27},   // Ganesh Chaturthi
		{time.October, 2},   // Mahatma Gandhi Jayanti / Dussehra
		{time.October, 21},  // Diwali Laxmi Pujan
		{time.October, 22},  // Diwali Balipratipada
		{time.November, 5},  // Gurunanak Jayanti
		{time.December, 25}, // Christmas
	},
	2026: {
		{time.January, 26},  // Republic Day
		{time.February, 17}, // Mahashivratri
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr
		{time.April, 2},     // Ram Navami
		{time.April, 6},     // Mahavir Jayanti
		{time.April, 10},    // Good Friday
		{time.April, 14},    // Dr. Ambedkar Jayanti
		{time.May, 1},       // Maharashtra Day
		{time.June, 7},      // Bakri Id
		{time.July, 6},      // Muharram
		{time.August, 15},   // Independence Day
		{time.August, 16},   // Janmashtami
		{time.September, 5}, // Milad-un-Nabi
		{time.October, 2},   // Mahatma Gandhi Jayanti
		{time.October, 20},  // Dussehra
		{time.November, 5},  // Diwali Laxmi Pujan
		{time.November, 6},  // Diwali Balipratipada
		{time.November, 19}, // Gurunanak Jayanti
		{time.December, 25}, // Christmas
	},
}

// holidaySet is keyed by YYYYMMDD.
var holidaySet map[int]bool

func init() {
	holidaySet = make(map[int]bool, 64)
	for year, days := range nseHolidays {
		for _, h := range days {
			holidaySet[dateKey(year, h.month, h.day)] = true
		}
	}
}

// IsHoliday returns true if the calendar date of t is an NSE holiday.
func IsHoliday(t time.Time) bool {
	y, m, d := t.Date()
	return holidaySet[dateKey(y, m, d)]
}

// HasCalendar reports whether holidays are known for year. Trading-day
// counts for other years only exclude weekends.
func HasCalendar(year int) bool {
	_, ok := nseHolidays[year]
	return ok
}

func dateKey(year int, month time.Month, day int) int {
	return year*10000 + int(month)*100 + day
}
