package recurrence

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// The standard 5-field parser plus descriptors. CRON_TZ prefixes are always accepted.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Rule is an hour/minute recurrence evaluated in Location. Daily rules have
// Weekday == nil.
type Rule struct {
	Weekday  *time.Weekday
	Hour     int
	Minute   int
	Location *time.Location

	sched cron.Schedule
}

// Weekly builds the rule for (day, clock) in tz. tz may be empty, in which
// case fallback is used.
func Weekly(day, clock, tz, fallback string) (Rule, error) {
	wd, err := ParseWeekday(day)
	if err != nil {
		return Rule{}, err
	}
	r, err := Daily(clock, tz, fallback)
	if err != nil {
		return Rule{}, err
	}
	r.Weekday = &wd
	return r.compile()
}

// Daily builds a rule that fires every day at clock in tz.
func Daily(clock, tz, fallback string) (Rule, error) {
	h, m, err := ParseClock(clock)
	if err != nil {
		return Rule{}, err
	}
	loc, err := LoadZone(tz, fallback)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Hour: h, Minute: m, Location: loc}.compile()
}

func (r Rule) compile() (Rule, error) {
	sched, err := parser.Parse(r.Spec())
	if err != nil {
		return Rule{}, fmt.Errorf("compile %q: %w", r.Spec(), err)
	}
	r.sched = sched
	return r, nil
}

// Spec renders the rule as a robfig/cron expression with a CRON_TZ prefix.
func (r Rule) Spec() string {
	dow := "*"
	if r.Weekday != nil {
		dow = fmt.Sprintf("%d", int(*r.Weekday))
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s", r.Location.String(), r.Minute, r.Hour, dow)
}

// Schedule exposes the rule to a cron runner.
func (r Rule) Schedule() cron.Schedule { return r.sched }

// Next returns the first matching instant strictly after t.
func (r Rule) Next(t time.Time) time.Time {
	if r.sched == nil {
		return time.Time{}
	}
	return r.sched.Next(t)
}

// NextN previews the next n firings after t.
func (r Rule) NextN(t time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		t = r.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
