package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	// Embedded zone database: team zones must resolve even on hosts without tzdata.
	_ "time/tzdata"

	"standupbot/internal/domain"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// ParseWeekday accepts the seven English day names (any case) and their
// three-letter abbreviations.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown weekday %q", domain.ErrInvalidScheduleSpec, name)
	}
	return d, nil
}

var reClock = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*([AaPp])\.?\s*[Mm]\.?\s*$`)

// ParseClock parses a 12-hour wall-clock time such as "9:00 AM" or "12:30pm"
// into a 24-hour hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: invalid time %q (want h:mm AM/PM)", domain.ErrInvalidScheduleSpec, s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h < 1 || h > 12 || mm > 59 {
		return 0, 0, fmt.Errorf("%w: time out of range %q", domain.ErrInvalidScheduleSpec, s)
	}
	pm := strings.EqualFold(m[3], "p")
	switch {
	case h == 12 && !pm:
		h = 0
	case h != 12 && pm:
		h += 12
	}
	return h, mm, nil
}

// LoadZone resolves an IANA zone name. An empty name resolves fallback.
func LoadZone(tz, fallback string) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		name = strings.TrimSpace(fallback)
	}
	if name == "" {
		name = domain.DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", domain.ErrInvalidScheduleSpec, name)
	}
	return loc, nil
}
