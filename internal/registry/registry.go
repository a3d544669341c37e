package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"standupbot/internal/domain"
	"standupbot/internal/recurrence"
	"standupbot/internal/task/engine"
	logx "standupbot/pkg/logx"
)

type Registry struct {
	cfg  Config
	cron Cron
	exec Executor
	log  logx.Logger

	gen atomic.Uint64

	mu      sync.Mutex
	teams   map[string]*slot
	handler Handler
}

// slot holds one team's live generation. A slot removed from the map by
// Cancel is marked dead and never reused.
type slot struct {
	mu      sync.Mutex
	dead    bool
	gen     uint64
	team    domain.Team
	rules   []recurrence.Rule
	entries []cron.EntryID
	once    map[cron.EntryID]oneShot
}

type oneShot struct {
	at   time.Time
	name string
	fn   OnceFunc
}

func New(cfg Config, c Cron, exec Executor, log logx.Logger) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if strings.TrimSpace(cfg.DefaultTimezone) == "" {
		cfg.DefaultTimezone = domain.DefaultTimezone
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{cfg: cfg, cron: c, exec: exec, log: log, teams: map[string]*slot{}}
}

// SetHandler installs the occurrence handler. Firings before this call are dropped.
func (r *Registry) SetHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Schedule atomically replaces every entry of team.ID with one recurring
// entry per valid (day, time) pair. Invalid pairs are logged and skipped.
// Pending one-shots move to the new generation at their original instant
// unless the team is no longer schedulable.
func (r *Registry) Schedule(team domain.Team) (Result, error) {
	if strings.TrimSpace(team.ID) == "" {
		return Result{}, errors.New("registry: team id is required")
	}
	s := r.lockSlot(team.ID)
	defer s.mu.Unlock()

	pending := r.clearLocked(s)
	gen := r.gen.Add(1)
	s.gen = gen
	s.team = team.Clone()

	log := r.log.With(logx.String("team", team.ID), logx.Uint64("gen", gen))
	res := Result{Generation: gen}
	if !team.Schedulable() {
		log.Info("team has no active schedule", logx.Bool("archived", team.Archived), logx.Int("dropped_one_shots", len(pending)))
		return res, nil
	}

	seed := uuid.NewString()
	snap := team.Clone()
	seen := map[string]bool{}
	for _, day := range team.Standup.Days {
		for _, clock := range team.Standup.Times {
			rule, err := recurrence.Weekly(day, clock, team.Timezone, r.cfg.DefaultTimezone)
			if err != nil {
				res.Skipped++
				log.Warn("skipping invalid schedule pair", logx.String("day", day), logx.String("time", clock), logx.String("tz", team.Timezone), logx.Err(err))
				continue
			}
			spec := rule.Spec()
			if seen[spec] {
				continue
			}
			seen[spec] = true

			id := r.cron.Schedule(rule.Schedule(), r.occurrenceJob(team.ID, gen, seed, snap, rule.Location))
			s.entries = append(s.entries, id)
			s.rules = append(s.rules, rule)
			res.Registered++
		}
	}

	now := r.cfg.Now()
	for _, o := range pending {
		if !o.at.After(now) {
			continue
		}
		r.addOnceLocked(s, team.ID, o)
		res.Carried++
	}

	log.Info("team scheduled", logx.Int("entries", res.Registered), logx.Int("skipped", res.Skipped), logx.Int("one_shots", res.Carried), logx.String("tz", team.Zone(r.cfg.DefaultTimezone)))
	return res, nil
}

// Cancel removes every entry of teamID. Canceling an unknown team is a no-op.
func (r *Registry) Cancel(teamID string) bool {
	r.mu.Lock()
	s := r.teams[teamID]
	delete(r.teams, teamID)
	r.mu.Unlock()
	if s == nil {
		return false
	}

	s.mu.Lock()
	s.dead = true
	r.clearLocked(s)
	s.mu.Unlock()

	r.log.Info("team canceled", logx.String("team", teamID))
	return true
}

// Current reports whether gen is the live generation of teamID.
func (r *Registry) Current(teamID string, gen uint64) bool {
	r.mu.Lock()
	s := r.teams[teamID]
	r.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead && s.gen == gen
}

// ScheduleOnce registers a one-shot entry owned by generation gen of teamID.
// The entry follows the team into later generations, is removed by Cancel
// and after it fires. fn receives the generation live at firing time.
func (r *Registry) ScheduleOnce(teamID string, gen uint64, at time.Time, name string, fn OnceFunc) error {
	r.mu.Lock()
	s := r.teams[teamID]
	r.mu.Unlock()
	if s == nil {
		return ErrStaleGeneration
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead || s.gen != gen {
		return ErrStaleGeneration
	}
	r.addOnceLocked(s, teamID, oneShot{at: at, name: name, fn: fn})
	r.log.Debug("one-shot scheduled", logx.String("team", teamID), logx.String("name", name), logx.Time("at", at))
	return nil
}

// addOnceLocked binds o to the slot's current generation. s.mu must be held.
func (r *Registry) addOnceLocked(s *slot, teamID string, o oneShot) {
	gen := s.gen
	var id cron.EntryID
	job := cron.FuncJob(func() {
		s.mu.Lock()
		live := !s.dead && s.gen == gen
		if _, ok := s.once[id]; ok {
			delete(s.once, id)
			r.cron.Remove(id)
		}
		s.mu.Unlock()
		if !live {
			return
		}
		// RetryMax 0 defers to the engine's configured retry policy.
		r.enqueue(engine.Task{
			Name:    o.name,
			Timeout: r.cfg.TaskTimeout,
			Run: func(ctx context.Context) error {
				if !r.Current(teamID, gen) {
					return nil
				}
				return o.fn(ctx, gen)
			},
		})
	})
	id = r.cron.Schedule(recurrence.Once(o.at), job)
	if s.once == nil {
		s.once = map[cron.EntryID]oneShot{}
	}
	s.once[id] = o
}

// Describe returns diagnostics for teamID.
func (r *Registry) Describe(teamID string, preview int) (Info, bool) {
	r.mu.Lock()
	s := r.teams[teamID]
	r.mu.Unlock()
	if s == nil {
		return Info{}, false
	}

	now := r.cfg.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return Info{}, false
	}
	info := Info{TeamID: teamID, Generation: s.gen, Timezone: s.team.Zone(r.cfg.DefaultTimezone)}
	for _, rule := range s.rules {
		info.Specs = append(info.Specs, rule.Spec())
		info.Next = append(info.Next, rule.NextN(now, preview)...)
	}
	for _, o := range s.once {
		info.Checkpoints = append(info.Checkpoints, o.at)
	}
	sort.Slice(info.Next, func(i, j int) bool { return info.Next[i].Before(info.Next[j]) })
	sort.Slice(info.Checkpoints, func(i, j int) bool { return info.Checkpoints[i].Before(info.Checkpoints[j]) })
	if preview > 0 && len(info.Next) > preview {
		info.Next = info.Next[:preview]
	}
	return info, true
}

// Teams lists team ids with a live slot.
func (r *Registry) Teams() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.teams))
	for id := range r.teams {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

// Len is the number of teams with a live slot.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.teams)
}

// lockSlot returns the team's slot with its lock held, creating it if needed.
func (r *Registry) lockSlot(teamID string) *slot {
	for {
		r.mu.Lock()
		s := r.teams[teamID]
		if s == nil {
			s = &slot{}
			r.teams[teamID] = s
		}
		r.mu.Unlock()

		s.mu.Lock()
		if !s.dead {
			return s
		}
		// Canceled between lookup and lock; Cancel already removed it from the map.
		s.mu.Unlock()
	}
}

// clearLocked removes every cron entry of s and returns the one-shots that
// had not fired yet, ordered by instant.
func (r *Registry) clearLocked(s *slot) []oneShot {
	for _, id := range s.entries {
		r.cron.Remove(id)
	}
	pending := make([]oneShot, 0, len(s.once))
	for id, o := range s.once {
		r.cron.Remove(id)
		pending = append(pending, o)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].at.Before(pending[j].at) })
	s.entries = nil
	s.rules = nil
	s.once = nil
	return pending
}

func (r *Registry) occurrenceJob(teamID string, gen uint64, seed string, snap domain.Team, loc *time.Location) cron.Job {
	return cron.FuncJob(func() {
		if !r.Current(teamID, gen) {
			return
		}
		r.mu.Lock()
		h := r.handler
		r.mu.Unlock()
		if h == nil {
			r.log.Warn("occurrence fired without handler", logx.String("team", teamID))
			return
		}

		at := r.cfg.Now().In(loc).Truncate(time.Minute)
		occ := Occurrence{
			ID:         OccurrenceID(seed, at),
			TeamID:     teamID,
			Generation: gen,
			Team:       snap.Clone(),
			At:         at,
			Location:   loc,
		}
		r.enqueue(engine.Task{
			Name:    "standup." + teamID,
			Timeout: r.cfg.TaskTimeout,
			Opt:     engine.TaskOptions{RetryMax: -1},
			Run: func(ctx context.Context) error {
				if !r.Current(teamID, gen) {
					return nil
				}
				return h(ctx, occ)
			},
		})
	})
}

func (r *Registry) enqueue(t engine.Task) {
	if r.exec == nil {
		return
	}
	if err := r.exec.Enqueue(t); err != nil {
		r.log.Warn("enqueue failed", logx.String("task", t.Name), logx.Err(err))
	}
}
