// Package intake records member answers. In the chat, members answer by
// replying to the standup prompt, one line per question.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"standupbot/internal/domain"
	kit "standupbot/internal/transport"
	logx "standupbot/pkg/logx"
)

type Service struct {
	teams     domain.TeamStore
	instances domain.InstanceStore
	msg       domain.Messenger
	log       logx.Logger
	now       func() time.Time
	timeout   time.Duration
}

func New(teams domain.TeamStore, instances domain.InstanceStore, msg domain.Messenger, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{teams: teams, instances: instances, msg: msg, log: log, now: time.Now, timeout: 15 * time.Second}
}

// Submit validates answers against the team's current questions and appends
// the response. Blank optional answers are dropped. Answers to questions with
// options are matched case-insensitively and stored as the option text.
func (s *Service) Submit(ctx context.Context, teamID, occurrenceID, memberID string, answers []domain.Answer) (domain.Response, error) {
	team, err := s.teams.Find(ctx, teamID)
	if err != nil {
		return domain.Response{}, err
	}

	resp := domain.Response{MemberID: memberID, RespondedAt: s.now()}
	given := map[string]bool{}
	for _, a := range answers {
		q, ok := team.Standup.Question(a.QuestionID)
		if !ok {
			return domain.Response{}, fmt.Errorf("question %q: %w", a.QuestionID, domain.ErrUnknownQuestion)
		}
		a.Value = strings.TrimSpace(a.Value)
		if a.Value == "" || given[q.ID] {
			continue
		}
		if len(q.Options) > 0 {
			opt, ok := matchOption(q.Options, a.Value)
			if !ok {
				return domain.Response{}, fmt.Errorf("question %q expects one of %s: %w", q.Text, strings.Join(q.Options, " / "), domain.ErrInvalidOption)
			}
			a.Value = opt
		}
		given[q.ID] = true
		a.QuestionType = q.Type
		resp.Answers = append(resp.Answers, a)
	}
	for _, q := range team.Standup.Questions {
		if q.Required && !given[q.ID] {
			return domain.Response{}, fmt.Errorf("question %q: %w", q.Text, domain.ErrMissingAnswer)
		}
	}

	if err := s.instances.AppendResponse(ctx, teamID, occurrenceID, resp); err != nil {
		return domain.Response{}, err
	}
	s.log.Info("response recorded", logx.String("team", teamID), logx.String("occurrence", occurrenceID), logx.String("member", memberID), logx.Int("answers", len(resp.Answers)))
	return resp, nil
}

func matchOption(options []string, v string) (string, bool) {
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), v) {
			return o, true
		}
	}
	return "", false
}

// HandleReply treats a chat reply to a standup prompt as a submission and
// acknowledges it in the thread. Messages that are not replies to a known
// prompt are ignored.
func (s *Service) HandleReply(ctx context.Context, m *kit.Message) error {
	if m == nil || m.ReplyToID == 0 {
		return nil
	}
	inst, channelID, err := s.findPrompt(ctx, m)
	if errors.Is(err, domain.ErrMissingInstance) {
		return nil
	}
	if err != nil {
		return err
	}

	team, err := s.teams.Find(ctx, inst.TeamID)
	if err != nil {
		return err
	}
	member := strconv.FormatInt(m.FromID, 10)
	_, err = s.Submit(ctx, inst.TeamID, inst.OccurrenceID, member, ParseAnswers(team.Standup.Questions, m.Text))

	var ack string
	switch {
	case err == nil:
		ack = "✅ Thanks" + mention(m) + ", your standup is recorded."
	case errors.Is(err, domain.ErrDuplicateResponse):
		ack = "You have already submitted your standup for " + inst.Date + "."
	case errors.Is(err, domain.ErrMissingAnswer), errors.Is(err, domain.ErrUnknownQuestion), errors.Is(err, domain.ErrInvalidOption):
		ack = "⚠️ " + err.Error() + ". Please reply to the standup message again with one answer per line."
	default:
		return err
	}
	ref := domain.MessageRef{ChannelID: channelID, MessageID: strconv.Itoa(m.ID)}
	if aerr := s.msg.ReplyInThread(ctx, ref, ack); aerr != nil {
		s.log.Warn("ack not delivered", logx.String("member", member), logx.Err(aerr))
	}
	return nil
}

// findPrompt looks the replied-to message up under the forum-thread channel id
// first, then the plain chat id.
func (s *Service) findPrompt(ctx context.Context, m *kit.Message) (domain.Instance, string, error) {
	candidates := []string{strconv.FormatInt(m.ChatID, 10)}
	if m.ThreadID != 0 {
		candidates = append([]string{fmt.Sprintf("%d:%d", m.ChatID, m.ThreadID)}, candidates...)
	}
	for _, ch := range candidates {
		inst, err := s.instances.FindByMessage(ctx, domain.MessageRef{ChannelID: ch, MessageID: strconv.Itoa(m.ReplyToID)})
		if err == nil {
			return inst, ch, nil
		}
		if !errors.Is(err, domain.ErrMissingInstance) {
			return domain.Instance{}, "", err
		}
	}
	return domain.Instance{}, "", domain.ErrMissingInstance
}

// Run consumes transport updates until ctx is done or updates closes.
func (s *Service) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			hctx, cancel := context.WithTimeout(ctx, s.timeout)
			if err := s.HandleReply(hctx, up.Message); err != nil {
				s.log.Warn("reply not handled", logx.Int64("chat", up.Message.ChatID), logx.Int("message", up.Message.ID), logx.Err(err))
			}
			cancel()
		}
	}
}

// ParseAnswers maps non-empty lines to questions in order. Lines beyond the
// last question are folded into the last answer.
func ParseAnswers(questions []domain.Question, text string) []domain.Answer {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(questions) == 0 || len(lines) == 0 {
		return nil
	}
	n := min(len(lines), len(questions))
	out := make([]domain.Answer, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Answer{QuestionID: questions[i].ID, QuestionType: questions[i].Type, Value: stripNumber(lines[i])})
	}
	if extra := lines[n:]; len(extra) > 0 {
		last := &out[n-1]
		last.Value += "\n" + strings.Join(extra, "\n")
	}
	return out
}

// stripNumber removes a leading "1." or "1)" the member may have copied from the prompt.
func stripNumber(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

func mention(m *kit.Message) string {
	if m.FromUsername == "" {
		return ""
	}
	return " @" + m.FromUsername
}
