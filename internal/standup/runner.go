// Package standup executes standup occurrences: it posts the prompt, records
// the instance and hands off to reminder planning.
package standup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"standupbot/internal/domain"
	"standupbot/internal/registry"
	logx "standupbot/pkg/logx"
)

// Generations reports whether a registry generation is still live.
type Generations interface {
	Current(teamID string, gen uint64) bool
}

// Planner registers reminder checkpoints for a fired occurrence.
type Planner interface {
	Plan(ctx context.Context, occ registry.Occurrence) int
}

type Runner struct {
	gens      Generations
	instances domain.InstanceStore
	msg       domain.Messenger
	planner   Planner
	log       logx.Logger
	now       func() time.Time
}

func NewRunner(gens Generations, instances domain.InstanceStore, msg domain.Messenger, planner Planner, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{gens: gens, instances: instances, msg: msg, planner: planner, log: log, now: time.Now}
}

// Fire handles one occurrence. It is registry.Handler-compatible.
//
// A prompt that cannot be delivered does not stop the occurrence: the
// instance is still recorded with an empty message ref and reminders are
// still planned.
func (r *Runner) Fire(ctx context.Context, occ registry.Occurrence) error {
	log := r.log.With(logx.String("team", occ.TeamID), logx.String("occurrence", occ.ID), logx.Uint64("gen", occ.Generation))
	if !r.gens.Current(occ.TeamID, occ.Generation) {
		log.Debug("stale occurrence skipped")
		return nil
	}

	_, err := r.instances.FindByOccurrence(ctx, occ.TeamID, occ.ID)
	if err == nil {
		log.Info("occurrence already recorded, skipping")
		return nil
	}
	if !errors.Is(err, domain.ErrMissingInstance) {
		log.Warn("instance lookup failed", logx.Err(err))
	}

	ref, err := r.msg.PostMessage(ctx, occ.Team.ID, PromptText(occ.Team, occ.Date()))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("standup prompt not delivered", logx.Err(err))
		ref = domain.MessageRef{}
	}
	// Cancel or a team delete may land while the post is in flight.
	if !r.gens.Current(occ.TeamID, occ.Generation) {
		log.Warn("occurrence retired during post, not recorded", logx.String("message", ref.MessageID))
		return nil
	}

	inst := domain.Instance{
		OccurrenceID: occ.ID,
		TeamID:       occ.TeamID,
		Date:         occ.Date(),
		FiredAt:      occ.At,
		Message:      ref,
		CreatedAt:    r.now(),
	}
	var storeErr error
	switch err := r.instances.CreateInstance(ctx, inst); {
	case errors.Is(err, domain.ErrInstanceExists):
		log.Info("instance already created")
		return nil
	case err != nil:
		storeErr = fmt.Errorf("record occurrence %s: %w", occ.ID, err)
		log.Error("instance not recorded", logx.Err(err))
	}

	if r.gens.Current(occ.TeamID, occ.Generation) && r.planner != nil {
		n := r.planner.Plan(ctx, occ)
		log.Info("standup fired", logx.String("date", inst.Date), logx.String("message", ref.MessageID), logx.Int("reminders", n))
	}
	return storeErr
}

// PromptText renders the standup prompt posted to the team chat.
func PromptText(team domain.Team, date string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📢 Standup for %q (%s)\n", team.Name, date)
	if len(team.Standup.Questions) == 0 {
		b.WriteString("Reply to this message with your update.")
		return b.String()
	}
	b.WriteString("Reply to this message with one answer per line:\n")
	for i, q := range team.Standup.Questions {
		fmt.Fprintf(&b, "%d. %s", i+1, q.Text)
		if !q.Required {
			b.WriteString(" (optional)")
		}
		if len(q.Options) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(q.Options, " / "))
		}
		if i < len(team.Standup.Questions)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
