// Package domaintest provides testify mocks of the domain ports.
package domaintest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"standupbot/internal/domain"
)

type MockTeamStore struct {
	mock.Mock
}

func (m *MockTeamStore) Find(ctx context.Context, id string) (domain.Team, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Team), args.Error(1)
}

func (m *MockTeamStore) FindAll(ctx context.Context) ([]domain.Team, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Team), args.Error(1)
}

func (m *MockTeamStore) SetTimezone(ctx context.Context, id, tz string) error {
	return m.Called(ctx, id, tz).Error(0)
}

type MockInstanceStore struct {
	mock.Mock
}

func (m *MockInstanceStore) CreateInstance(ctx context.Context, inst domain.Instance) error {
	return m.Called(ctx, inst).Error(0)
}

func (m *MockInstanceStore) FindByOccurrence(ctx context.Context, teamID, occurrenceID string) (domain.Instance, error) {
	args := m.Called(ctx, teamID, occurrenceID)
	return args.Get(0).(domain.Instance), args.Error(1)
}

func (m *MockInstanceStore) FindByMessage(ctx context.Context, ref domain.MessageRef) (domain.Instance, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(domain.Instance), args.Error(1)
}

func (m *MockInstanceStore) AppendResponse(ctx context.Context, teamID, occurrenceID string, resp domain.Response) error {
	return m.Called(ctx, teamID, occurrenceID, resp).Error(0)
}

func (m *MockInstanceStore) DeleteAllForTeam(ctx context.Context, teamID string) (int, error) {
	args := m.Called(ctx, teamID)
	return args.Int(0), args.Error(1)
}

func (m *MockInstanceStore) ListForTeam(ctx context.Context, teamID string, limit int) ([]domain.Instance, error) {
	args := m.Called(ctx, teamID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Instance), args.Error(1)
}

type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) PostMessage(ctx context.Context, channelID, content string) (domain.MessageRef, error) {
	args := m.Called(ctx, channelID, content)
	return args.Get(0).(domain.MessageRef), args.Error(1)
}

func (m *MockMessenger) PostDirectMessage(ctx context.Context, memberID, content string) error {
	return m.Called(ctx, memberID, content).Error(0)
}

func (m *MockMessenger) ReplyInThread(ctx context.Context, ref domain.MessageRef, content string) error {
	return m.Called(ctx, ref, content).Error(0)
}

var (
	_ domain.TeamStore     = (*MockTeamStore)(nil)
	_ domain.InstanceStore = (*MockInstanceStore)(nil)
	_ domain.Messenger     = (*MockMessenger)(nil)
)
