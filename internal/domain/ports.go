package domain

import (
	"context"
	"time"
)

// TeamStore is the authoritative source of team configuration.
type TeamStore interface {
	// Find returns ErrTeamNotFound when id is unknown.
	Find(ctx context.Context, id string) (Team, error)
	FindAll(ctx context.Context) ([]Team, error)
	// SetTimezone persists tz without emitting a change event.
	SetTimezone(ctx context.Context, id, tz string) error
}

type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent carries only the team id plus what the feed could cheaply
// provide. Consumers re-fetch the team before acting.
type ChangeEvent struct {
	Op           ChangeOp  `json:"op"`
	TeamID       string    `json:"team_id"`
	PrevTimezone string    `json:"prev_timezone,omitempty"`
	At           time.Time `json:"at"`
}

// ChangeFeed streams team configuration changes until ctx is done.
type ChangeFeed interface {
	Changes(ctx context.Context) (<-chan ChangeEvent, error)
}

type InstanceStore interface {
	// CreateInstance returns ErrInstanceExists for a repeated (team, occurrence).
	CreateInstance(ctx context.Context, inst Instance) error
	FindByOccurrence(ctx context.Context, teamID, occurrenceID string) (Instance, error)
	FindByMessage(ctx context.Context, ref MessageRef) (Instance, error)
	// AppendResponse returns ErrDuplicateResponse if the member already responded.
	AppendResponse(ctx context.Context, teamID, occurrenceID string, resp Response) error
	DeleteAllForTeam(ctx context.Context, teamID string) (int, error)
	ListForTeam(ctx context.Context, teamID string, limit int) ([]Instance, error)
}

// Messenger delivers standup prompts and reminders. Ids are platform ids
// encoded as strings.
type Messenger interface {
	PostMessage(ctx context.Context, channelID, content string) (MessageRef, error)
	PostDirectMessage(ctx context.Context, memberID, content string) error
	ReplyInThread(ctx context.Context, ref MessageRef, content string) error
}
