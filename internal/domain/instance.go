package domain

import "time"

type Answer struct {
	QuestionID   string `json:"question_id"`
	QuestionType string `json:"question_type"`
	Value        string `json:"value"`
}

type Response struct {
	MemberID    string    `json:"member_id"`
	Answers     []Answer  `json:"answers"`
	RespondedAt time.Time `json:"responded_at"`
}

// MessageRef points at a posted prompt so replies can be threaded.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

func (r MessageRef) IsZero() bool { return r.ChannelID == "" && r.MessageID == "" }

// Instance is one standup occurrence of a team. Responses are append-only.
type Instance struct {
	OccurrenceID string     `json:"occurrence_id"`
	TeamID       string     `json:"team_id"`
	Date         string     `json:"date"`
	FiredAt      time.Time  `json:"fired_at"`
	Message      MessageRef `json:"message"`
	Responses    []Response `json:"responses"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Responded reports whether member has a recorded response.
func (i Instance) Responded(member string) bool {
	for _, r := range i.Responses {
		if r.MemberID == member {
			return true
		}
	}
	return false
}
