package registry

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"standupbot/internal/domain"
	"standupbot/internal/task/engine"
)

// ErrStaleGeneration is returned when a caller refers to a generation that
// has been replaced or canceled.
var ErrStaleGeneration = errors.New("stale schedule generation")

// Cron is the subset of *cron.Cron the registry uses.
type Cron interface {
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
	Remove(id cron.EntryID)
}

// Executor runs firings off the cron goroutine.
type Executor interface {
	Enqueue(t engine.Task) error
}

// Occurrence is one firing of a team's standup trigger.
type Occurrence struct {
	ID         string
	TeamID     string
	Generation uint64
	// Team is the configuration snapshot taken when the trigger was registered.
	Team     domain.Team
	At       time.Time
	Location *time.Location
}

// Date is the occurrence's calendar date in the team timezone.
func (o Occurrence) Date() string { return o.At.In(o.Location).Format("2006-01-02") }

// OccurrenceID derives a stable id from the per-generation seed and the
// scheduled minute. Two firings of one trigger never share an id.
func OccurrenceID(seed string, at time.Time) string {
	return seed + "-" + at.UTC().Format("20060102T1504Z")
}

// OnceFunc runs a one-shot entry. gen is the team generation that owned the
// entry when it fired.
type OnceFunc func(ctx context.Context, gen uint64) error

// Handler executes an occurrence. It runs on a task engine worker.
type Handler func(ctx context.Context, occ Occurrence) error

type Config struct {
	DefaultTimezone string
	// TaskTimeout bounds a single occurrence or checkpoint execution.
	TaskTimeout time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

// Result summarizes one Schedule call.
type Result struct {
	Generation uint64
	Registered int
	Skipped    int
	// Carried counts pending one-shots moved from the replaced generation.
	Carried int
}

// Info is a read-only view of a team's live entries.
type Info struct {
	TeamID      string      `json:"team_id"`
	Generation  uint64      `json:"generation"`
	Timezone    string      `json:"timezone"`
	Specs       []string    `json:"specs"`
	Next        []time.Time `json:"next"`
	Checkpoints []time.Time `json:"checkpoints"`
}
