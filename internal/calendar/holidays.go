package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/rickar/cal/v2"
)

// HolidayCalendar answers holiday lookups for one region.
type HolidayCalendar interface {
	// IsHoliday reports whether date's civil date is a public holiday.
	IsHoliday(date time.Time) bool
	Region() string
}

func fixed(name string, month time.Month, day int) *cal.Holiday {
	return &cal.Holiday{Name: name, Type: cal.ObservancePublic, Month: month, Day: day, Func: cal.CalcDayOfMonth}
}

func easter(name string, offset int) *cal.Holiday {
	return &cal.Holiday{Name: name, Type: cal.ObservancePublic, Offset: offset, Func: cal.CalcEasterOffset}
}

var (
	newYear        = fixed("Neujahrestag", time.January, 1)
	berchtoldsTag  = fixed("Berchtoldstag", time.January, 2)
	goodFriday     = easter("Karfreitag", -2)
	easterMonday   = easter("Ostermontag", 1)
	labourDay      = fixed("Tag der Arbeit", time.May, 1)
	ascension      = easter("Auffahrt", 39)
	whitMonday     = easter("Pfingstmontag", 50)
	corpusChristi  = easter("Fronleichnam", 60)
	nationalDay    = fixed("Nationalfeiertag", time.August, 1)
	assumption     = fixed("Mariä Himmelfahrt", time.August, 15)
	allSaints      = fixed("Allerheiligen", time.November, 1)
	immaculateConc = fixed("Mariä Empfängnis", time.December, 8)
	christmas      = fixed("Weihnachten", time.December, 25)
	stStephen      = fixed("Stephanstag", time.December, 26)
)

var national = []*cal.Holiday{newYear, ascension, nationalDay, christmas}

// cantonal holidays in the supply area, on top of the national ones
var cantonal = map[string][]*cal.Holiday{
	"SG": {goodFriday, easterMonday, whitMonday, allSaints, stStephen},
	"AR": {goodFriday, easterMonday, whitMonday, stStephen},
	"AI": {goodFriday, easterMonday, whitMonday, corpusChristi, assumption, allSaints, immaculateConc, stStephen},
	"TG": {berchtoldsTag, goodFriday, easterMonday, labourDay, whitMonday, stStephen},
	"ZH": {berchtoldsTag, goodFriday, easterMonday, labourDay, whitMonday, stStephen},
}

// SwissCalendar is the public holiday calendar of Switzerland, optionally narrowed to a canton.
type SwissCalendar struct {
	canton string
	cal    *cal.BusinessCalendar
}

// NewSwissCalendar builds the calendar for canton ("" for national holidays only).
func NewSwissCalendar(canton string) (*SwissCalendar, error) {
	canton = strings.ToUpper(strings.TrimSpace(canton))

	c := cal.NewBusinessCalendar()
	c.AddHoliday(national...)
	if canton != "" {
		extra, ok := cantonal[canton]
		if !ok {
			return nil, fmt.Errorf("unsupported canton %q", canton)
		}
		c.AddHoliday(extra...)
	}

	return &SwissCalendar{canton: canton, cal: c}, nil
}

func (s *SwissCalendar) IsHoliday(date time.Time) bool {
	actual, _, _ := s.cal.IsHoliday(CivilDate(date))
	return actual
}

func (s *SwissCalendar) Region() string {
	if s.canton == "" {
		return "CH"
	}
	return "CH-" + s.canton
}

// SupportedCantons lists the cantons NewSwissCalendar accepts.
func SupportedCantons() []string {
	return []string{"AI", "AR", "SG", "TG", "ZH"}
}
