// Package reconcile keeps the job registry in step with the team store: a
// sweep schedules every team once the change feed is subscribed, then feed
// events are applied as they arrive.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"standupbot/internal/domain"
	"standupbot/internal/registry"
	rtsup "standupbot/internal/runtime/supervisor"
	logx "standupbot/pkg/logx"
)

// ErrFeedClosed is returned by Run when the change feed ends while the
// context is still live. Callers restart Run.
var ErrFeedClosed = errors.New("change feed closed")

type Registry interface {
	Schedule(team domain.Team) (registry.Result, error)
	Cancel(teamID string) bool
}

type Config struct {
	DefaultTimezone string
	// Shards is the number of per-team-key workers. Events for one team always
	// land on the same shard.
	Shards int
}

type Reconciler struct {
	cfg       Config
	teams     domain.TeamStore
	instances domain.InstanceStore
	feed      domain.ChangeFeed
	reg       Registry
	log       logx.Logger

	mu      sync.Mutex
	knownTZ map[string]string
	primed  *subscription
}

type subscription struct {
	events <-chan domain.ChangeEvent
	cancel context.CancelFunc
}

func New(cfg Config, teams domain.TeamStore, instances domain.InstanceStore, feed domain.ChangeFeed, reg Registry, log logx.Logger) *Reconciler {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if strings.TrimSpace(cfg.DefaultTimezone) == "" {
		cfg.DefaultTimezone = domain.DefaultTimezone
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reconciler{cfg: cfg, teams: teams, instances: instances, feed: feed, reg: reg, log: log, knownTZ: map[string]string{}}
}

// Bootstrap schedules every stored team. A store failure is returned; a
// single team failing to schedule is logged and skipped.
func (r *Reconciler) Bootstrap(ctx context.Context) (int, error) {
	teams, err := r.teams.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("bootstrap: load teams: %w", err)
	}
	scheduled := 0
	for _, t := range teams {
		if _, err := r.reg.Schedule(t); err != nil {
			r.log.Warn("bootstrap: schedule failed", logx.String("team", t.ID), logx.Err(err))
			continue
		}
		r.remember(t.ID, t.Timezone)
		scheduled++
	}
	r.log.Info("bootstrap complete", logx.Int("teams", len(teams)), logx.Int("scheduled", scheduled))
	return scheduled, nil
}

// Prime subscribes to the change feed and then sweeps the store, so changes
// committed during the sweep wait on the subscription. The next Run consumes
// that subscription. A store failure releases it and is returned.
func (r *Reconciler) Prime(ctx context.Context) (int, error) {
	sub, err := r.subscribe(ctx)
	if err != nil {
		return 0, err
	}
	n, err := r.Bootstrap(ctx)
	if err != nil {
		sub.cancel()
		return 0, err
	}
	r.mu.Lock()
	if r.primed != nil {
		r.primed.cancel()
	}
	r.primed = sub
	r.mu.Unlock()
	return n, nil
}

func (r *Reconciler) subscribe(ctx context.Context) (*subscription, error) {
	c, cancel := context.WithCancel(ctx)
	events, err := r.feed.Changes(c)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe change feed: %w", err)
	}
	return &subscription{events: events, cancel: cancel}, nil
}

// Run consumes the change feed until ctx is done or the feed closes. It
// takes over the subscription left by Prime; otherwise it subscribes and
// re-sweeps the store, since events may have been missed in between.
func (r *Reconciler) Run(ctx context.Context) error {
	r.mu.Lock()
	sub := r.primed
	r.primed = nil
	r.mu.Unlock()
	if sub == nil {
		var err error
		if sub, err = r.subscribe(ctx); err != nil {
			return err
		}
		if _, err := r.Bootstrap(ctx); err != nil {
			r.log.Warn("resync after resubscribe failed", logx.Err(err))
		}
	}
	defer sub.cancel()
	events := sub.events

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	shards := make([]chan domain.ChangeEvent, r.cfg.Shards)
	for i := range shards {
		ch := make(chan domain.ChangeEvent, 64)
		shards[i] = ch
		sup.Go0(fmt.Sprintf("reconcile.shard.%d", i), func(c context.Context) {
			for ev := range ch {
				if err := r.Apply(c, ev); err != nil {
					r.log.Warn("change event dropped", logx.String("team", ev.TeamID), logx.String("op", string(ev.Op)), logx.Err(err))
				}
			}
		})
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		_ = sup.Wait(context.Background())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrFeedClosed
			}
			select {
			case shards[r.shardFor(ev.TeamID)] <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Reconciler) shardFor(teamID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(teamID))
	return int(h.Sum32() % uint32(r.cfg.Shards))
}

// Apply handles one change event. The team is always re-fetched; the event
// only says which team changed.
func (r *Reconciler) Apply(ctx context.Context, ev domain.ChangeEvent) error {
	log := r.log.With(logx.String("team", ev.TeamID), logx.String("op", string(ev.Op)))
	switch ev.Op {
	case domain.OpDelete:
		r.reg.Cancel(ev.TeamID)
		r.forget(ev.TeamID)
		n, err := r.instances.DeleteAllForTeam(ctx, ev.TeamID)
		if err != nil {
			return fmt.Errorf("delete instances: %w", err)
		}
		log.Info("team removed", logx.Int("instances", n))
		return nil

	case domain.OpInsert, domain.OpUpdate:
		team, err := r.teams.Find(ctx, ev.TeamID)
		if err != nil {
			return fmt.Errorf("fetch team: %w", err)
		}
		if ev.Op == domain.OpUpdate {
			r.reconcileTimezone(ctx, &team, ev.PrevTimezone, log)
		}
		res, err := r.reg.Schedule(team)
		if err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
		r.remember(team.ID, team.Timezone)
		log.Debug("team rescheduled", logx.Uint64("gen", res.Generation), logx.Int("entries", res.Registered))
		return nil

	default:
		return fmt.Errorf("unknown change op %q", ev.Op)
	}
}

// reconcileTimezone fills an empty timezone from the previous row, then the
// last value seen here, then the default, and persists the result silently.
func (r *Reconciler) reconcileTimezone(ctx context.Context, team *domain.Team, prev string, log logx.Logger) {
	if strings.TrimSpace(team.Timezone) != "" {
		return
	}
	tz := strings.TrimSpace(prev)
	if tz == "" {
		r.mu.Lock()
		tz = r.knownTZ[team.ID]
		r.mu.Unlock()
	}
	if tz == "" {
		tz = r.cfg.DefaultTimezone
	}
	if err := r.teams.SetTimezone(ctx, team.ID, tz); err != nil {
		log.Warn("timezone not persisted", logx.String("tz", tz), logx.Err(err))
	} else {
		log.Info("timezone restored", logx.String("tz", tz))
	}
	team.Timezone = tz
}

func (r *Reconciler) remember(teamID, tz string) {
	if strings.TrimSpace(tz) == "" {
		return
	}
	r.mu.Lock()
	r.knownTZ[teamID] = tz
	r.mu.Unlock()
}

func (r *Reconciler) forget(teamID string) {
	r.mu.Lock()
	delete(r.knownTZ, teamID)
	r.mu.Unlock()
}
