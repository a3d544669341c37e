package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"standupbot/internal/domain"
	"standupbot/internal/eventbus"
	logx "standupbot/pkg/logx"
)

const (
	feedBuffer       = 256
	defaultFeedPoll  = 500 * time.Millisecond
	feedRetention    = 24 * time.Hour
	feedPruneEvery   = 10 * time.Minute
	feedMaxFailures  = 5
	feedSelectChange = `SELECT seq, op, team_id, prev_timezone, created_at FROM team_changes WHERE seq > ? ORDER BY seq LIMIT ?`
)

// tableFeed tails the team_changes log written by the teams triggers. Each
// subscriber keeps its own cursor, starting at the newest row when it
// subscribes. Observed changes are mirrored onto bus when one is set.
type tableFeed struct {
	db   *sql.DB
	bus  eventbus.Bus
	poll time.Duration
	log  logx.Logger
}

func (f *tableFeed) Changes(ctx context.Context) (<-chan domain.ChangeEvent, error) {
	var cursor int64
	if err := f.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM team_changes`).Scan(&cursor); err != nil {
		return nil, fmt.Errorf("change feed cursor: %w", err)
	}
	poll := f.poll
	if poll <= 0 {
		poll = defaultFeedPoll
	}

	out := make(chan domain.ChangeEvent, feedBuffer)
	go func() {
		defer close(out)
		tick := time.NewTicker(poll)
		defer tick.Stop()
		lastPrune := time.Now()
		fails := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}

			evs, next, err := f.fetch(ctx, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fails++
				f.log.Warn("change feed poll failed", logx.Int("fails", fails), logx.Err(err))
				if fails >= feedMaxFailures {
					return
				}
				continue
			}
			fails = 0
			cursor = next
			for _, ev := range evs {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if f.bus != nil {
					f.bus.Publish(eventbus.Event{Type: eventbus.TypeTeamChanged, Time: ev.At, Data: ev})
				}
			}

			if time.Since(lastPrune) >= feedPruneEvery {
				lastPrune = time.Now()
				f.prune(ctx)
			}
		}
	}()
	return out, nil
}

func (f *tableFeed) fetch(ctx context.Context, cursor int64) ([]domain.ChangeEvent, int64, error) {
	rows, err := f.db.QueryContext(ctx, feedSelectChange, cursor, feedBuffer)
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()

	var out []domain.ChangeEvent
	for rows.Next() {
		var (
			seq     int64
			op      string
			ev      domain.ChangeEvent
			created string
		)
		if err := rows.Scan(&seq, &op, &ev.TeamID, &ev.PrevTimezone, &created); err != nil {
			return nil, cursor, err
		}
		ev.Op = domain.ChangeOp(op)
		if ev.At, err = parseTime(created); err != nil || ev.At.IsZero() {
			ev.At = time.Now()
		}
		out = append(out, ev)
		cursor = seq
	}
	return out, cursor, rows.Err()
}

func (f *tableFeed) prune(ctx context.Context) {
	cutoff := fmtTime(time.Now().Add(-feedRetention))
	res, err := f.db.ExecContext(ctx, `DELETE FROM team_changes WHERE created_at < ?`, cutoff)
	if err != nil {
		f.log.Warn("change log prune failed", logx.Err(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		f.log.Debug("change log pruned", logx.Int64("rows", n))
	}
}
