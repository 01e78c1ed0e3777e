package calendar

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// DayType groups dates for similarity matching.
type DayType int

const (
	Monday DayType = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

const (
	// PreHolidayMonday is a Monday whose following day is a holiday.
	PreHolidayMonday DayType = 10
	// PostHolidayFriday is a Friday whose previous day is a holiday.
	PostHolidayFriday DayType = 14
	Holiday           DayType = 16
)

// BaselineShift maps a special day type onto its plain weekday: 10->Monday, 14->Friday, 16->Sunday.
const BaselineShift = 10

// IsSpecial reports whether d is one of the holiday-related codes.
func (d DayType) IsSpecial() bool {
	return d == PreHolidayMonday || d == PostHolidayFriday || d == Holiday
}

func (d DayType) String() string {
	switch d {
	case Monday:
		return "monday"
	case Tuesday:
		return "tuesday"
	case Wednesday:
		return "wednesday"
	case Thursday:
		return "thursday"
	case Friday:
		return "friday"
	case Saturday:
		return "saturday"
	case Sunday:
		return "sunday"
	case PreHolidayMonday:
		return "pre_holiday_monday"
	case PostHolidayFriday:
		return "post_holiday_friday"
	case Holiday:
		return "holiday"
	default:
		return fmt.Sprintf("daytype(%d)", int(d))
	}
}

// CivilDate strips t to its calendar date in t's own location, returned as midnight UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekdayOf returns the Monday-based weekday of t's civil date.
func WeekdayOf(t time.Time) DayType {
	return DayType((int(t.Weekday()) + 6) % 7)
}

// Classify assigns the day type of t's civil date. Holidays win over the pre/post-holiday
// codes, which win over the plain weekday.
func Classify(t time.Time, hc HolidayCalendar) DayType {
	date := CivilDate(t)
	if hc.IsHoliday(date) {
		return Holiday
	}

	wd := WeekdayOf(date)
	switch {
	case wd == Monday && hc.IsHoliday(date.AddDate(0, 0, 1)):
		return PreHolidayMonday
	case wd == Friday && hc.IsHoliday(date.AddDate(0, 0, -1)):
		return PostHolidayFriday
	}
	return wd
}

// SeasonalEncodings returns the distance in days from day 183 of t's year, once on the civil
// date and once on the date shifted back 91 days. Together they describe the season without
// a discontinuity at the turn of the year.
func SeasonalEncodings(t time.Time) (enc1, enc2 int) {
	date := CivilDate(t)
	return seasonalDistance(date), seasonalDistance(date.AddDate(0, 0, -91))
}

func seasonalDistance(date time.Time) int {
	// day of year counted from the prior Dec-31
	dist := date.YearDay() - 183
	if dist < 0 {
		return -dist
	}
	return dist
}

var cet = mustLoad("CET")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("calendar: load %s: %v", name, err))
	}
	return loc
}

// DSTOffset returns the daylight-saving offset in hours (0 or 1) in effect at t in CET.
func DSTOffset(t time.Time) float64 {
	if t.In(cet).IsDST() {
		return 1
	}
	return 0
}

// DateHelper encodes t's civil date as yyyymmdd.
func DateHelper(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// DateHelperFloat is DateHelper plus hour/25; its fractional part is zero only at hour 0.
func DateHelperFloat(t time.Time) float64 {
	return float64(DateHelper(t)) + float64(t.Hour())/25
}
