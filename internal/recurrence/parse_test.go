package recurrence

import (
	"errors"
	"testing"
	"time"

	"standupbot/internal/domain"
)

func TestParseClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		hour   int
		minute int
	}{
		{raw: "9:00 AM", hour: 9},
		{raw: "09:30 am", hour: 9, minute: 30},
		{raw: "12:00 AM", hour: 0},
		{raw: "12:15 PM", hour: 12, minute: 15},
		{raw: "1:05PM", hour: 13, minute: 5},
		{raw: " 11:59 p.m. ", hour: 23, minute: 59},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			h, m, err := ParseClock(tt.raw)
			if err != nil {
				t.Fatalf("ParseClock(%q) error: %v", tt.raw, err)
			}
			if h != tt.hour || m != tt.minute {
				t.Fatalf("ParseClock(%q) = %d:%02d, want %d:%02d", tt.raw, h, m, tt.hour, tt.minute)
			}
		})
	}
}

func TestParseClockInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "9:00", "13:00 PM", "0:30 AM", "9:60 AM", "nine AM", "21:00"} {
		if _, _, err := ParseClock(raw); !errors.Is(err, domain.ErrInvalidScheduleSpec) {
			t.Fatalf("ParseClock(%q) err = %v, want ErrInvalidScheduleSpec", raw, err)
		}
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()
	if d, err := ParseWeekday("Wednesday"); err != nil || d != time.Wednesday {
		t.Fatalf("ParseWeekday(Wednesday) = %v, %v", d, err)
	}
	if d, err := ParseWeekday("fri"); err != nil || d != time.Friday {
		t.Fatalf("ParseWeekday(fri) = %v, %v", d, err)
	}
	if _, err := ParseWeekday("Someday"); !errors.Is(err, domain.ErrInvalidScheduleSpec) {
		t.Fatalf("err = %v, want ErrInvalidScheduleSpec", err)
	}
}

func TestLoadZone(t *testing.T) {
	t.Parallel()
	loc, err := LoadZone("", "")
	if err != nil || loc.String() != domain.DefaultTimezone {
		t.Fatalf("LoadZone default = %v, %v", loc, err)
	}
	if _, err := LoadZone("Mars/Olympus", ""); !errors.Is(err, domain.ErrInvalidScheduleSpec) {
		t.Fatalf("err = %v, want ErrInvalidScheduleSpec", err)
	}
}
