package domain

import (
	"strings"
	"time"
)

// DefaultTimezone is used when a team has no timezone configured.
const DefaultTimezone = "GMT"

type Question struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Type     string   `json:"type"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

// StandupConfig is the per-team standup definition. Days and Times are
// human-entered ("Monday", "9:00 AM") and interpreted in the team timezone.
type StandupConfig struct {
	Questions     []Question `json:"questions"`
	Days          []string   `json:"days"`
	Times         []string   `json:"times"`
	ReminderTimes []string   `json:"reminder_times"`
}

// Team is identified by its messaging channel id.
type Team struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Members   []string      `json:"members"`
	Timezone  string        `json:"timezone"`
	Standup   StandupConfig `json:"standup"`
	Archived  bool          `json:"archived"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Schedulable reports whether the team should have active triggers.
func (t Team) Schedulable() bool {
	return !t.Archived && len(t.Standup.Days) > 0 && len(t.Standup.Times) > 0
}

// Zone returns the configured timezone or fallback when unset.
func (t Team) Zone(fallback string) string {
	if tz := strings.TrimSpace(t.Timezone); tz != "" {
		return tz
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return DefaultTimezone
}

// Clone returns a deep copy so callers can hold an immutable snapshot.
func (t Team) Clone() Team {
	cp := t
	cp.Members = append([]string(nil), t.Members...)
	cp.Standup = t.Standup.Clone()
	return cp
}

func (c StandupConfig) Clone() StandupConfig {
	cp := StandupConfig{
		Days:          append([]string(nil), c.Days...),
		Times:         append([]string(nil), c.Times...),
		ReminderTimes: append([]string(nil), c.ReminderTimes...),
	}
	if c.Questions != nil {
		cp.Questions = make([]Question, len(c.Questions))
		for i, q := range c.Questions {
			q.Options = append([]string(nil), q.Options...)
			cp.Questions[i] = q
		}
	}
	return cp
}

// Question looks up a question by id.
func (c StandupConfig) Question(id string) (Question, bool) {
	for _, q := range c.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// HasMember reports whether id is on the roster.
func (t Team) HasMember(id string) bool {
	for _, m := range t.Members {
		if m == id {
			return true
		}
	}
	return false
}
