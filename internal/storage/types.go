package storage

import (
	"context"
	"errors"
	"time"

	"standupbot/internal/domain"
)

var ErrTeamExists = errors.New("team already exists")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	FeedPoll    time.Duration // sqlite only; change log poll interval
	MaxConns    int32         // postgres only; 0 means pool default
}

// Store is the full persistence API.
type Store interface {
	domain.TeamStore
	domain.InstanceStore
	domain.ChangeFeed

	CreateTeam(ctx context.Context, t domain.Team) error
	UpdateTeam(ctx context.Context, t domain.Team) error
	DeleteTeam(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50
