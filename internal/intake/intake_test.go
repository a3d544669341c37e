package intake

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"standupbot/internal/domain"
	"standupbot/internal/domain/domaintest"
	kit "standupbot/internal/transport"
	logx "standupbot/pkg/logx"
)

func questions() []domain.Question {
	return []domain.Question{
		{ID: "y", Text: "Yesterday?", Type: "text", Required: true},
		{ID: "t", Text: "Today?", Type: "text", Required: true},
		{ID: "b", Text: "Blockers?", Type: "text"},
	}
}

func coreTeam() domain.Team {
	return domain.Team{ID: "-1001", Name: "Core", Members: []string{"7", "8"}, Standup: domain.StandupConfig{Questions: questions()}}
}

func moodTeam() domain.Team {
	return domain.Team{ID: "-1002", Name: "Ops", Members: []string{"7"}, Standup: domain.StandupConfig{Questions: []domain.Question{
		{ID: "m", Text: "Mood?", Type: "choice", Options: []string{"On track", "At risk", "Blocked"}, Required: true},
		{ID: "n", Text: "Notes?", Type: "text"},
	}}}
}

type fixture struct {
	teams     *domaintest.MockTeamStore
	instances *domaintest.MockInstanceStore
	msg       *domaintest.MockMessenger
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		teams:     new(domaintest.MockTeamStore),
		instances: new(domaintest.MockInstanceStore),
		msg:       new(domaintest.MockMessenger),
	}
	f.svc = New(f.teams, f.instances, f.msg, logx.Nop())
	f.svc.now = func() time.Time { return time.Date(2024, 6, 10, 13, 5, 0, 0, time.UTC) }
	f.teams.On("Find", mock.Anything, "-1001").Return(coreTeam(), nil)
	f.teams.On("Find", mock.Anything, "-1002").Return(moodTeam(), nil)
	return f
}

func TestSubmitValidates(t *testing.T) {
	tests := []struct {
		name    string
		answers []domain.Answer
		wantErr error
	}{
		{"unknown question", []domain.Answer{{QuestionID: "y", Value: "a"}, {QuestionID: "zzz", Value: "b"}}, domain.ErrUnknownQuestion},
		{"missing required", []domain.Answer{{QuestionID: "y", Value: "a"}}, domain.ErrMissingAnswer},
		{"blank required", []domain.Answer{{QuestionID: "y", Value: "a"}, {QuestionID: "t", Value: "  "}}, domain.ErrMissingAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.Submit(context.Background(), "-1001", "occ", "7", tt.answers)
			assert.ErrorIs(t, err, tt.wantErr)
			f.instances.AssertNotCalled(t, "AppendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSubmitRecords(t *testing.T) {
	f := newFixture()
	f.instances.On("AppendResponse", mock.Anything, "-1001", "occ", mock.MatchedBy(func(r domain.Response) bool {
		return r.MemberID == "7" && len(r.Answers) == 2 && r.Answers[0].QuestionType == "text"
	})).Return(nil).Once()

	resp, err := f.svc.Submit(context.Background(), "-1001", "occ", "7", []domain.Answer{
		{QuestionID: "y", Value: "reviewed PRs"},
		{QuestionID: "t", Value: "ship intake"},
		{QuestionID: "b", Value: ""},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Answers, 2)
	f.instances.AssertExpectations(t)
}

func TestSubmitRejectsValueOutsideOptions(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Submit(context.Background(), "-1002", "occ", "7", []domain.Answer{{QuestionID: "m", Value: "purple"}})
	require.ErrorIs(t, err, domain.ErrInvalidOption)
	assert.Contains(t, err.Error(), "On track / At risk / Blocked")
	f.instances.AssertNotCalled(t, "AppendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitStoresCanonicalOption(t *testing.T) {
	f := newFixture()
	f.instances.On("AppendResponse", mock.Anything, "-1002", "occ", mock.MatchedBy(func(r domain.Response) bool {
		return len(r.Answers) == 2 && r.Answers[0].Value == "At risk" && r.Answers[1].Value == "anything goes"
	})).Return(nil).Once()

	_, err := f.svc.Submit(context.Background(), "-1002", "occ", "7", []domain.Answer{
		{QuestionID: "m", Value: "  at RISK "},
		{QuestionID: "n", Value: "anything goes"},
	})
	require.NoError(t, err)
	f.instances.AssertExpectations(t)
}

func TestSubmitDuplicateIsRejected(t *testing.T) {
	f := newFixture()
	f.instances.On("AppendResponse", mock.Anything, "-1001", "occ", mock.Anything).Return(domain.ErrDuplicateResponse)

	_, err := f.svc.Submit(context.Background(), "-1001", "occ", "7", []domain.Answer{{QuestionID: "y", Value: "a"}, {QuestionID: "t", Value: "b"}})
	assert.ErrorIs(t, err, domain.ErrDuplicateResponse)
}

func TestParseAnswers(t *testing.T) {
	got := ParseAnswers(questions(), "1. fixed bug\n\n2) write tests\nnone\nreally none")
	require.Len(t, got, 3)
	assert.Equal(t, "fixed bug", got[0].Value)
	assert.Equal(t, "write tests", got[1].Value)
	assert.Equal(t, "none\nreally none", got[2].Value)
	assert.Equal(t, "b", got[2].QuestionID)

	assert.Nil(t, ParseAnswers(questions(), "  \n "))
	assert.Len(t, ParseAnswers(questions(), "only one"), 1)
}

func reply(text string) *kit.Message {
	return &kit.Message{ID: 501, ChatID: -1001, FromID: 7, FromUsername: "ann", Text: text, ReplyToID: 500}
}

func TestHandleReplyRecordsAndAcknowledges(t *testing.T) {
	f := newFixture()
	inst := domain.Instance{OccurrenceID: "occ", TeamID: "-1001", Date: "2024-06-10"}
	f.instances.On("FindByMessage", mock.Anything, domain.MessageRef{ChannelID: "-1001", MessageID: "500"}).Return(inst, nil)
	f.instances.On("AppendResponse", mock.Anything, "-1001", "occ", mock.Anything).Return(nil).Once()
	f.msg.On("ReplyInThread", mock.Anything, domain.MessageRef{ChannelID: "-1001", MessageID: "501"}, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "@ann") && strings.Contains(s, "recorded")
	})).Return(nil).Once()

	require.NoError(t, f.svc.HandleReply(context.Background(), reply("did x\ndoing y")))
	f.instances.AssertExpectations(t)
	f.msg.AssertExpectations(t)
}

func TestHandleReplyDuplicate(t *testing.T) {
	f := newFixture()
	inst := domain.Instance{OccurrenceID: "occ", TeamID: "-1001", Date: "2024-06-10"}
	f.instances.On("FindByMessage", mock.Anything, mock.Anything).Return(inst, nil)
	f.instances.On("AppendResponse", mock.Anything, "-1001", "occ", mock.Anything).Return(domain.ErrDuplicateResponse)
	f.msg.On("ReplyInThread", mock.Anything, mock.Anything, "You have already submitted your standup for 2024-06-10.").Return(nil).Once()

	require.NoError(t, f.svc.HandleReply(context.Background(), reply("a\nb")))
	f.msg.AssertExpectations(t)
}

func TestHandleReplyMissingAnswer(t *testing.T) {
	f := newFixture()
	f.instances.On("FindByMessage", mock.Anything, mock.Anything).Return(domain.Instance{OccurrenceID: "occ", TeamID: "-1001"}, nil)
	f.msg.On("ReplyInThread", mock.Anything, mock.Anything, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "Today?")
	})).Return(nil).Once()

	require.NoError(t, f.svc.HandleReply(context.Background(), reply("just one line")))
	f.msg.AssertExpectations(t)
}

func TestHandleReplyInvalidOption(t *testing.T) {
	f := newFixture()
	f.instances.On("FindByMessage", mock.Anything, mock.Anything).Return(domain.Instance{OccurrenceID: "occ", TeamID: "-1002"}, nil)
	f.msg.On("ReplyInThread", mock.Anything, mock.Anything, mock.MatchedBy(func(s string) bool {
		return strings.HasPrefix(s, "⚠️") && strings.Contains(s, "not one of the options")
	})).Return(nil).Once()

	require.NoError(t, f.svc.HandleReply(context.Background(), reply("sideways")))
	f.instances.AssertNotCalled(t, "AppendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.msg.AssertExpectations(t)
}

func TestHandleReplyIgnoresUnrelatedMessages(t *testing.T) {
	f := newFixture()
	f.instances.On("FindByMessage", mock.Anything, mock.Anything).Return(domain.Instance{}, domain.ErrMissingInstance)

	require.NoError(t, f.svc.HandleReply(context.Background(), &kit.Message{ChatID: -1001, Text: "hello"}))
	require.NoError(t, f.svc.HandleReply(context.Background(), reply("a\nb")))
	f.msg.AssertNotCalled(t, "ReplyInThread", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleReplyForumThread(t *testing.T) {
	f := newFixture()
	m := reply("a\nb")
	m.ThreadID = 3
	f.instances.On("FindByMessage", mock.Anything, domain.MessageRef{ChannelID: "-1001:3", MessageID: "500"}).Return(domain.Instance{}, domain.ErrMissingInstance)
	f.instances.On("FindByMessage", mock.Anything, domain.MessageRef{ChannelID: "-1001", MessageID: "500"}).
		Return(domain.Instance{OccurrenceID: "occ", TeamID: "-1001"}, nil)
	f.instances.On("AppendResponse", mock.Anything, "-1001", "occ", mock.Anything).Return(nil)
	f.msg.On("ReplyInThread", mock.Anything, domain.MessageRef{ChannelID: "-1001", MessageID: "501"}, mock.Anything).Return(nil).Once()

	require.NoError(t, f.svc.HandleReply(context.Background(), m))
	f.msg.AssertExpectations(t)
}

func TestRunConsumesUntilClosed(t *testing.T) {
	f := newFixture()
	f.instances.On("FindByMessage", mock.Anything, mock.Anything).Return(domain.Instance{OccurrenceID: "occ", TeamID: "-1001", Date: "2024-06-10"}, nil)
	f.instances.On("AppendResponse", mock.Anything, "-1001", "occ", mock.Anything).Return(nil).Once()
	f.msg.On("ReplyInThread", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	updates := make(chan kit.Update, 3)
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: reply("a\nb")}
	updates <- kit.Update{Kind: kit.UpdateMessage}
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -1001, Text: "chatter"}}
	close(updates)

	require.NoError(t, f.svc.Run(context.Background(), updates))
	f.instances.AssertExpectations(t)
	f.msg.AssertExpectations(t)
}
