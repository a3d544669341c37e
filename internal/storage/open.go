package storage

import (
	"context"
	"errors"
	"strings"

	"standupbot/internal/eventbus"
	logx "standupbot/pkg/logx"
)

// Open initializes the configured store and applies its schema.
// Changes observed by the sqlite feed are mirrored onto bus; it may be nil.
func Open(ctx context.Context, cfg Config, log logx.Logger, bus eventbus.Bus) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log, bus)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
