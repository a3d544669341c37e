package reminder

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"standupbot/internal/domain"
	"standupbot/internal/domain/domaintest"
	"standupbot/internal/registry"
	"standupbot/internal/task/engine"
	logx "standupbot/pkg/logx"
)

type once struct {
	at   time.Time
	name string
	fn   registry.OnceFunc
}

type fakeScheduler struct {
	mu    sync.Mutex
	gen   uint64
	onces []once
}

func (f *fakeScheduler) Current(_ string, gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return gen == f.gen
}

func (f *fakeScheduler) ScheduleOnce(_ string, gen uint64, at time.Time, name string, fn registry.OnceFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen {
		return registry.ErrStaleGeneration
	}
	f.onces = append(f.onces, once{at: at, name: name, fn: fn})
	return nil
}

func (f *fakeScheduler) bump() {
	f.mu.Lock()
	f.gen++
	f.mu.Unlock()
}

func nyTeam() domain.Team {
	return domain.Team{
		ID:       "T1",
		Name:     "Core",
		Members:  []string{"A", "B", "C"},
		Timezone: "America/New_York",
		Standup: domain.StandupConfig{
			Days:          []string{"Monday"},
			Times:         []string{"9:00 AM"},
			ReminderTimes: []string{"9:30 AM"},
		},
	}
}

func nyOccurrence(gen uint64) registry.Occurrence {
	ny, _ := time.LoadLocation("America/New_York")
	return registry.Occurrence{
		ID:         "seed-20240610T1300Z",
		TeamID:     "T1",
		Generation: gen,
		Team:       nyTeam(),
		At:         time.Date(2024, 6, 10, 9, 0, 0, 0, ny),
		Location:   ny,
	}
}

type fixture struct {
	sched     *fakeScheduler
	teams     *domaintest.MockTeamStore
	instances *domaintest.MockInstanceStore
	msg       *domaintest.MockMessenger
	esc       *Escalator
}

func newFixture() *fixture {
	f := &fixture{
		sched:     &fakeScheduler{gen: 1},
		teams:     new(domaintest.MockTeamStore),
		instances: new(domaintest.MockInstanceStore),
		msg:       new(domaintest.MockMessenger),
	}
	f.esc = New(f.sched, f.teams, f.instances, f.msg, "GMT", logx.Nop())
	return f
}

func TestPlanNewYorkExample(t *testing.T) {
	f := newFixture()
	occ := nyOccurrence(1)
	occ.Team.Standup.ReminderTimes = []string{"9:30 AM", "not a time", "09:30 am", "8:00 AM"}

	n := f.esc.Plan(context.Background(), occ)
	require.Equal(t, 2, n)
	require.Len(t, f.sched.onces, 2)
	assert.True(t, f.sched.onces[0].at.Equal(time.Date(2024, 6, 10, 13, 30, 0, 0, time.UTC)))
	// 8:00 AM already passed on the occurrence day: next morning.
	assert.True(t, f.sched.onces[1].at.Equal(time.Date(2024, 6, 11, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "reminder.T1", f.sched.onces[0].name)
}

func TestPlanStaleGeneration(t *testing.T) {
	f := newFixture()
	assert.Zero(t, f.esc.Plan(context.Background(), nyOccurrence(0)))
	assert.Empty(t, f.sched.onces)
}

func TestCheckpointRemindsOnlyMissedMembers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	occ := nyOccurrence(1)

	f.teams.On("Find", mock.Anything, "T1").Return(nyTeam(), nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", occ.ID).Return(domain.Instance{
		OccurrenceID: occ.ID,
		TeamID:       "T1",
		Responses:    []domain.Response{{MemberID: "A"}, {MemberID: "B"}},
	}, nil)
	f.msg.On("PostDirectMessage", mock.Anything, "C", mock.AnythingOfType("string")).Return(nil).Once()

	require.Equal(t, 1, f.esc.Plan(ctx, occ))
	require.NoError(t, f.sched.onces[0].fn(ctx, 1))

	f.msg.AssertExpectations(t)
	f.msg.AssertNumberOfCalls(t, "PostDirectMessage", 1)
}

func TestCheckpointZeroMissedSendsNothing(t *testing.T) {
	f := newFixture()
	f.teams.On("Find", mock.Anything, "T1").Return(nyTeam(), nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "occ").Return(domain.Instance{
		Responses: []domain.Response{{MemberID: "A"}, {MemberID: "B"}, {MemberID: "C"}},
	}, nil)

	res, err := f.esc.Checkpoint(context.Background(), Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	f.msg.AssertNotCalled(t, "PostDirectMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckpointMissingInstanceRemindsEveryone(t *testing.T) {
	f := newFixture()
	f.teams.On("Find", mock.Anything, "T1").Return(nyTeam(), nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "occ").Return(domain.Instance{}, domain.ErrMissingInstance)
	f.msg.On("PostDirectMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := f.esc.Checkpoint(context.Background(), Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1})
	require.NoError(t, err)
	assert.Equal(t, Result{Missed: 3, Sent: 3}, res)
}

func TestCheckpointUsesCurrentRoster(t *testing.T) {
	f := newFixture()
	team := nyTeam()
	team.Members = []string{"A", "D"}
	f.teams.On("Find", mock.Anything, "T1").Return(team, nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "occ").Return(domain.Instance{
		Responses: []domain.Response{{MemberID: "A"}, {MemberID: "C"}},
	}, nil)
	f.msg.On("PostDirectMessage", mock.Anything, "D", mock.Anything).Return(nil).Once()

	res, err := f.esc.Checkpoint(context.Background(), Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1, Team: nyTeam()})
	require.NoError(t, err)
	assert.Equal(t, Result{Missed: 1, Sent: 1}, res)
	f.msg.AssertExpectations(t)
}

func TestCheckpointFallsBackToSnapshot(t *testing.T) {
	f := newFixture()
	f.teams.On("Find", mock.Anything, "T1").Return(domain.Team{}, errors.New("connection refused"))
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "occ").Return(domain.Instance{
		Responses: []domain.Response{{MemberID: "A"}},
	}, nil)
	f.msg.On("PostDirectMessage", mock.Anything, "B", mock.Anything).Return(errors.New("blocked")).Once()
	f.msg.On("PostDirectMessage", mock.Anything, "C", mock.Anything).Return(nil).Once()

	res, err := f.esc.Checkpoint(context.Background(), Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1, Team: nyTeam()})
	require.NoError(t, err)
	assert.Equal(t, Result{Missed: 2, Sent: 1, Failed: 1}, res)
}

func TestCheckpointStaleGenerationDoesNothing(t *testing.T) {
	f := newFixture()
	f.sched.bump()

	res, err := f.esc.Checkpoint(context.Background(), Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	f.teams.AssertNotCalled(t, "Find", mock.Anything, mock.Anything)
	f.msg.AssertNotCalled(t, "PostDirectMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckpointStopsWhenRescheduledMidway(t *testing.T) {
	f := newFixture()
	f.teams.On("Find", mock.Anything, "T1").Return(nyTeam(), nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "occ").Return(domain.Instance{}, nil)
	f.msg.On("PostDirectMessage", mock.Anything, "A", mock.Anything).Run(func(mock.Arguments) { f.sched.bump() }).Return(nil).Once()

	res, err := f.esc.Checkpoint(context.Background(), Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	f.msg.AssertNumberOfCalls(t, "PostDirectMessage", 1)
}

func TestCheckpointTeamDeleted(t *testing.T) {
	f := newFixture()
	f.teams.On("Find", mock.Anything, "T1").Return(domain.Team{}, domain.ErrTeamNotFound)

	res, err := f.esc.Checkpoint(context.Background(), Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestPlanWarnsOnLateCheckpoint(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture()
	f.esc = New(f.sched, f.teams, f.instances, f.msg, "GMT", logx.NewWriter(&buf, "warn"))

	occ := nyOccurrence(1)
	require.Equal(t, 1, f.esc.Plan(context.Background(), occ))
	assert.Empty(t, buf.String())

	occ.Team.Standup.ReminderTimes = []string{"8:00 AM"}
	require.Equal(t, 1, f.esc.Plan(context.Background(), occ))
	assert.Contains(t, buf.String(), "reminder lands long after the standup")
	assert.Contains(t, buf.String(), `"clock":"8:00 AM"`)
}

func TestCheckpointRunsUnderRescheduledGeneration(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	occ := nyOccurrence(1)
	require.Equal(t, 1, f.esc.Plan(ctx, occ))

	// Roster edit: the registry moved the checkpoint to generation 2.
	f.sched.bump()
	team := nyTeam()
	team.Members = append(team.Members, "D")
	f.teams.On("Find", mock.Anything, "T1").Return(team, nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", occ.ID).Return(domain.Instance{
		Responses: []domain.Response{{MemberID: "A"}, {MemberID: "B"}, {MemberID: "C"}},
	}, nil)
	f.msg.On("PostDirectMessage", mock.Anything, "D", mock.Anything).Return(nil).Once()

	require.NoError(t, f.sched.onces[0].fn(ctx, 2))
	f.msg.AssertExpectations(t)
}

func TestCheckpointStoreErrorIsRetryable(t *testing.T) {
	f := newFixture()
	f.teams.On("Find", mock.Anything, "T1").Return(nyTeam(), nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "occ").Return(domain.Instance{}, errors.New("database is locked"))

	_, err := f.esc.Checkpoint(context.Background(), Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1})
	require.Error(t, err)
	assert.False(t, engine.IsNoRetry(err))
	f.msg.AssertNotCalled(t, "PostDirectMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckpointInterruptedAfterDMIsNotRetried(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.teams.On("Find", mock.Anything, "T1").Return(nyTeam(), nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "occ").Return(domain.Instance{}, nil)
	f.msg.On("PostDirectMessage", mock.Anything, "A", mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(nil).Once()
	f.msg.On("PostDirectMessage", mock.Anything, "B", mock.Anything).Return(context.Canceled).Once()

	res, err := f.esc.Checkpoint(ctx, Checkpoint{TeamID: "T1", OccurrenceID: "occ", Generation: 1})
	require.Error(t, err)
	assert.True(t, engine.IsNoRetry(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Sent)
}
