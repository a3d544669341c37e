// Package reminder schedules and runs reminder checkpoints: one-shot
// firings after a standup occurrence that DM every member who has not
// responded yet.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"standupbot/internal/domain"
	"standupbot/internal/participation"
	"standupbot/internal/recurrence"
	"standupbot/internal/registry"
	"standupbot/internal/task/engine"
	logx "standupbot/pkg/logx"
)

// Scheduler is the registry surface the escalator needs.
type Scheduler interface {
	Current(teamID string, gen uint64) bool
	ScheduleOnce(teamID string, gen uint64, at time.Time, name string, fn registry.OnceFunc) error
}

// lateCheckpoint is how far past the occurrence a checkpoint may land before
// Plan warns. Reminder times at or before the standup time resolve to the
// next day.
const lateCheckpoint = 12 * time.Hour

// Checkpoint identifies one reminder pass over an occurrence.
type Checkpoint struct {
	TeamID       string
	OccurrenceID string
	Generation   uint64
	Date         string
	At           time.Time
	// Team is the snapshot from the occurrence, used when the store is unreachable.
	Team domain.Team
}

type Result struct {
	Missed int
	Sent   int
	Failed int
}

type Escalator struct {
	reg       Scheduler
	teams     domain.TeamStore
	instances domain.InstanceStore
	msg       domain.Messenger
	log       logx.Logger
	defaultTZ string
}

func New(reg Scheduler, teams domain.TeamStore, instances domain.InstanceStore, msg domain.Messenger, defaultTZ string, log logx.Logger) *Escalator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Escalator{reg: reg, teams: teams, instances: instances, msg: msg, log: log, defaultTZ: defaultTZ}
}

// Plan registers one checkpoint per configured reminder time, at the first
// instant after the occurrence whose wall clock in the team timezone matches.
// It returns the number of checkpoints registered.
func (e *Escalator) Plan(ctx context.Context, occ registry.Occurrence) int {
	team := occ.Team
	log := e.log.With(logx.String("team", occ.TeamID), logx.String("occurrence", occ.ID))

	planned := 0
	seen := map[int64]bool{}
	for _, clock := range team.Standup.ReminderTimes {
		rule, err := recurrence.Daily(clock, team.Timezone, e.defaultTZ)
		if err != nil {
			log.Warn("skipping invalid reminder time", logx.String("time", clock), logx.Err(err))
			continue
		}
		at := rule.Next(occ.At)
		if at.IsZero() || seen[at.Unix()] {
			continue
		}
		seen[at.Unix()] = true
		if at.After(occ.At.Add(lateCheckpoint)) {
			log.Warn("reminder lands long after the standup, check reminder_times",
				logx.String("clock", clock), logx.Time("at", at), logx.Duration("after", at.Sub(occ.At)))
		}

		cp := Checkpoint{
			TeamID:       occ.TeamID,
			OccurrenceID: occ.ID,
			Generation:   occ.Generation,
			Date:         occ.Date(),
			At:           at,
			Team:         team,
		}
		err = e.reg.ScheduleOnce(occ.TeamID, occ.Generation, at, "reminder."+occ.TeamID, func(ctx context.Context, gen uint64) error {
			cp := cp
			cp.Generation = gen
			_, err := e.Checkpoint(ctx, cp)
			return err
		})
		if errors.Is(err, registry.ErrStaleGeneration) {
			log.Debug("team rescheduled while planning reminders")
			return planned
		}
		if err != nil {
			log.Warn("reminder not scheduled", logx.Err(err))
			continue
		}
		planned++
		log.Debug("reminder planned", logx.Time("at", at))
	}
	return planned
}

// Checkpoint DMs every member of the current roster without a response.
// A missing instance counts everyone as missed. Errors returned before any
// DM went out may be retried; later ones are marked engine.NoRetry.
func (e *Escalator) Checkpoint(ctx context.Context, cp Checkpoint) (Result, error) {
	var res Result
	if !e.reg.Current(cp.TeamID, cp.Generation) {
		return res, nil
	}
	log := e.log.With(logx.String("team", cp.TeamID), logx.String("occurrence", cp.OccurrenceID))

	team, err := e.teams.Find(ctx, cp.TeamID)
	switch {
	case errors.Is(err, domain.ErrTeamNotFound):
		log.Info("team gone, reminder dropped")
		return res, nil
	case err != nil:
		log.Warn("team lookup failed, using snapshot roster", logx.Err(err))
		team = cp.Team
	}

	var instp *domain.Instance
	inst, err := e.instances.FindByOccurrence(ctx, cp.TeamID, cp.OccurrenceID)
	switch {
	case errors.Is(err, domain.ErrMissingInstance):
		log.Warn("no instance for occurrence, reminding everyone", logx.Err(err))
	case err != nil:
		return res, fmt.Errorf("reminder %s: %w", cp.OccurrenceID, err)
	default:
		instp = &inst
	}

	rep := participation.Status(team, instp)
	res.Missed = len(rep.Missed)
	text := Text(team, cp.Date)
	for _, m := range rep.Missed {
		if !e.reg.Current(cp.TeamID, cp.Generation) {
			log.Info("team rescheduled mid-checkpoint, stopping reminders", logx.Int("sent", res.Sent))
			break
		}
		if err := e.msg.PostDirectMessage(ctx, m.MemberID, text); err != nil {
			if ctx.Err() != nil {
				if res.Sent > 0 {
					return res, engine.NoRetry(ctx.Err())
				}
				return res, ctx.Err()
			}
			res.Failed++
			log.Warn("reminder not delivered", logx.String("member", m.MemberID), logx.Err(err))
			continue
		}
		res.Sent++
	}
	log.Info("reminder checkpoint done", logx.Int("missed", res.Missed), logx.Int("sent", res.Sent), logx.Int("failed", res.Failed), logx.String("rate", rep.RateString()))
	return res, nil
}

// Text is the reminder DM body.
func Text(team domain.Team, date string) string {
	return fmt.Sprintf("Reminder: please submit your standup responses for %q (%s). Reply to the standup message in the team chat.", team.Name, date)
}
