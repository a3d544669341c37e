package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"standupbot/internal/domain"
	"standupbot/internal/domain/domaintest"
	"standupbot/internal/registry"
	logx "standupbot/pkg/logx"
)

type fakeSchedules map[string]registry.Info

func (f fakeSchedules) Describe(teamID string, preview int) (registry.Info, bool) {
	info, ok := f[teamID]
	if ok && len(info.Next) > preview {
		info.Next = info.Next[:preview]
	}
	return info, ok
}

func (f fakeSchedules) Len() int { return len(f) }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fixture struct {
	teams     *domaintest.MockTeamStore
	instances *domaintest.MockInstanceStore
	h         *Handler
	srv       http.Handler
}

func newFixture(store Pinger) *fixture {
	f := &fixture{teams: new(domaintest.MockTeamStore), instances: new(domaintest.MockInstanceStore)}
	next := []time.Time{
		time.Date(2024, 6, 10, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 12, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 17, 13, 0, 0, 0, time.UTC),
	}
	f.h = NewHandler(Deps{
		Teams:     f.teams,
		Instances: f.instances,
		Schedules: fakeSchedules{"T1": {TeamID: "T1", Generation: 7, Timezone: "America/New_York", Next: next}},
		Store:     store,
		Log:       logx.Nop(),
	})
	f.srv = f.h.Routes()
	return f
}

func (f *fixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(pinger{})
	rec, _ := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := f.get(t, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_READY", body["error"].(map[string]any)["code"])

	f.h.SetReady(true)
	rec, body = f.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["scheduled_teams"])
}

func TestReadinessReportsStoreFailure(t *testing.T) {
	f := newFixture(pinger{err: errors.New("db down")})
	f.h.SetReady(true)
	rec, body := f.get(t, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "STORE_UNAVAILABLE", body["error"].(map[string]any)["code"])
}

func TestSchedule(t *testing.T) {
	f := newFixture(nil)
	rec, body := f.get(t, "/teams/T1/schedule?next=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 7, body["generation"])
	assert.Len(t, body["next"], 2)

	rec, _ = f.get(t, "/teams/nope/schedule")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParticipation(t *testing.T) {
	f := newFixture(nil)
	team := domain.Team{ID: "T1", Members: []string{"A", "B", "C"}}
	inst := domain.Instance{OccurrenceID: "occ1", TeamID: "T1", Responses: []domain.Response{
		{MemberID: "A", RespondedAt: time.Now()},
		{MemberID: "B", RespondedAt: time.Now()},
	}}
	f.teams.On("Find", mock.Anything, "T1").Return(team, nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "occ1").Return(inst, nil)
	f.instances.On("FindByOccurrence", mock.Anything, "T1", "gone").Return(domain.Instance{}, domain.ErrMissingInstance)

	rec, body := f.get(t, "/teams/T1/participation/occ1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "66.67%", body["rate_text"])
	assert.Len(t, body["missed"], 1)

	rec, body = f.get(t, "/teams/T1/participation/gone")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "INSTANCE_NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestAggregateAndInstances(t *testing.T) {
	f := newFixture(nil)
	team := domain.Team{ID: "T1", Members: []string{"A", "B"}}
	list := []domain.Instance{
		{OccurrenceID: "o1", Responses: []domain.Response{{MemberID: "A"}, {MemberID: "B"}}},
		{OccurrenceID: "o2"},
	}
	f.teams.On("Find", mock.Anything, "T1").Return(team, nil)
	f.teams.On("Find", mock.Anything, "T9").Return(domain.Team{}, domain.ErrTeamNotFound)
	f.instances.On("ListForTeam", mock.Anything, "T1", 5).Return(list, nil)
	f.instances.On("ListForTeam", mock.Anything, "T1", defaultHistory).Return(nil, errors.New("boom"))

	rec, body := f.get(t, "/teams/T1/participation?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 50, body["rate"])
	assert.EqualValues(t, 2, body["instances"])

	rec, _ = f.get(t, "/teams/T9/participation")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.get(t, "/teams/T1/instances?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["instances"], 2)

	rec, _ = f.get(t, "/teams/T1/instances")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer("", 0, newFixture(nil).srv, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	off := newFixture(nil)
	rec := httptest.NewRecorder()
	off.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	on := NewHandler(Deps{Pprof: true}).Routes()
	rec = httptest.NewRecorder()
	on.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
