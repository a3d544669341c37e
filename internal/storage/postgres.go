package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"standupbot/internal/domain"
	logx "standupbot/pkg/logx"
)

//go:embed migrations/postgres.sql
var postgresSchema string

const notifyChannel = "team_changes"

type postgresStore struct {
	db  *pgxpool.Pool
	log logx.Logger
}

var _ Store = (*postgresStore)(nil)

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*postgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	st := &postgresStore{db: pool, log: log}
	// Without arguments pgx uses the simple protocol, which allows the multi-statement schema.
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("db", pcfg.ConnConfig.Database))
	return st, nil
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *postgresStore) Close() error {
	s.db.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const pgTeamCols = `id, name, timezone, members, standup, archived, updated_at`

func (s *postgresStore) CreateTeam(ctx context.Context, t domain.Team) error {
	members, standup, err := encodeTeam(t)
	if err != nil {
		return err
	}
	updated := t.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO teams (`+pgTeamCols+`) VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7)`,
		t.ID, t.Name, t.Timezone, members, standup, t.Archived, updated,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create team %s: %w", t.ID, ErrTeamExists)
	}
	if err != nil {
		return fmt.Errorf("create team %s: %w", t.ID, err)
	}
	return nil
}

func (s *postgresStore) UpdateTeam(ctx context.Context, t domain.Team) error {
	members, standup, err := encodeTeam(t)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE teams SET name = $2, timezone = $3, members = $4::jsonb, standup = $5::jsonb, archived = $6, updated_at = now()
		 WHERE id = $1`,
		t.ID, t.Name, t.Timezone, members, standup, t.Archived,
	)
	if err != nil {
		return fmt.Errorf("update team %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update team %s: %w", t.ID, domain.ErrTeamNotFound)
	}
	return nil
}

func (s *postgresStore) DeleteTeam(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete team %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete team %s: %w", id, domain.ErrTeamNotFound)
	}
	return nil
}

// SetTimezone writes inside a transaction flagged standup.silent, which the
// notify trigger skips.
func (s *postgresStore) SetTimezone(ctx context.Context, id, tz string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT set_config('standup.silent', 'on', true)`); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE teams SET timezone = $2 WHERE id = $1`, id, tz)
		if err != nil {
			return fmt.Errorf("set timezone %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("set timezone %s: %w", id, domain.ErrTeamNotFound)
		}
		return nil
	})
}

func scanPgTeam(row pgx.Row) (domain.Team, error) {
	var (
		t                domain.Team
		members, standup []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Timezone, &members, &standup, &t.Archived, &t.UpdatedAt); err != nil {
		return domain.Team{}, err
	}
	if err := decodeTeam(&t, members, standup); err != nil {
		return domain.Team{}, err
	}
	return t, nil
}

func (s *postgresStore) Find(ctx context.Context, id string) (domain.Team, error) {
	t, err := scanPgTeam(s.db.QueryRow(ctx, `SELECT `+pgTeamCols+` FROM teams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Team{}, fmt.Errorf("team %s: %w", id, domain.ErrTeamNotFound)
	}
	return t, err
}

func (s *postgresStore) FindAll(ctx context.Context) ([]domain.Team, error) {
	rows, err := s.db.Query(ctx, `SELECT `+pgTeamCols+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var out []domain.Team
	for rows.Next() {
		t, err := scanPgTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *postgresStore) CreateInstance(ctx context.Context, inst domain.Instance) error {
	created := inst.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO instances (team_id, occurrence_id, date, fired_at, channel_id, message_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (team_id, occurrence_id) DO NOTHING`,
			inst.TeamID, inst.OccurrenceID, inst.Date, inst.FiredAt,
			inst.Message.ChannelID, inst.Message.MessageID, created,
		)
		if err != nil {
			return fmt.Errorf("create instance %s: %w", inst.OccurrenceID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("create instance %s: %w", inst.OccurrenceID, domain.ErrInstanceExists)
		}
		for _, r := range inst.Responses {
			if err := insertPgResponse(ctx, tx, inst.TeamID, inst.OccurrenceID, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertPgResponse(ctx context.Context, tx pgx.Tx, teamID, occID string, r domain.Response) error {
	answers, err := encodeAnswers(r.Answers)
	if err != nil {
		return err
	}
	respondedAt := r.RespondedAt
	if respondedAt.IsZero() {
		respondedAt = time.Now()
	}
	tag, err := tx.Exec(ctx,
		`INSERT INTO responses (team_id, occurrence_id, member_id, answers, responded_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT (team_id, occurrence_id, member_id) DO NOTHING`,
		teamID, occID, r.MemberID, answers, respondedAt,
	)
	if err != nil {
		return fmt.Errorf("append response %s/%s: %w", occID, r.MemberID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("member %s on %s: %w", r.MemberID, occID, domain.ErrDuplicateResponse)
	}
	return nil
}

func (s *postgresStore) AppendResponse(ctx context.Context, teamID, occurrenceID string, resp domain.Response) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM instances WHERE team_id = $1 AND occurrence_id = $2)`,
			teamID, occurrenceID,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("occurrence %s: %w", occurrenceID, domain.ErrMissingInstance)
		}
		return insertPgResponse(ctx, tx, teamID, occurrenceID, resp)
	})
}

const pgInstanceCols = `team_id, occurrence_id, date, fired_at, channel_id, message_id, created_at`

func scanPgInstance(row pgx.Row) (domain.Instance, error) {
	var inst domain.Instance
	err := row.Scan(&inst.TeamID, &inst.OccurrenceID, &inst.Date, &inst.FiredAt,
		&inst.Message.ChannelID, &inst.Message.MessageID, &inst.CreatedAt)
	return inst, err
}

func (s *postgresStore) loadResponses(ctx context.Context, inst *domain.Instance) error {
	rows, err := s.db.Query(ctx,
		`SELECT member_id, answers, responded_at FROM responses
		 WHERE team_id = $1 AND occurrence_id = $2 ORDER BY id`,
		inst.TeamID, inst.OccurrenceID,
	)
	if err != nil {
		return fmt.Errorf("load responses %s: %w", inst.OccurrenceID, err)
	}
	defer rows.Close()

	inst.Responses = []domain.Response{}
	for rows.Next() {
		var (
			r       domain.Response
			answers []byte
		)
		if err := rows.Scan(&r.MemberID, &answers, &r.RespondedAt); err != nil {
			return err
		}
		if r.Answers, err = decodeAnswers(answers); err != nil {
			return err
		}
		inst.Responses = append(inst.Responses, r)
	}
	return rows.Err()
}

func (s *postgresStore) findInstance(ctx context.Context, where string, args ...any) (domain.Instance, error) {
	inst, err := scanPgInstance(s.db.QueryRow(ctx, `SELECT `+pgInstanceCols+` FROM instances WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Instance{}, domain.ErrMissingInstance
	}
	if err != nil {
		return domain.Instance{}, err
	}
	if err := s.loadResponses(ctx, &inst); err != nil {
		return domain.Instance{}, err
	}
	return inst, nil
}

func (s *postgresStore) FindByOccurrence(ctx context.Context, teamID, occurrenceID string) (domain.Instance, error) {
	inst, err := s.findInstance(ctx, `team_id = $1 AND occurrence_id = $2`, teamID, occurrenceID)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("occurrence %s: %w", occurrenceID, err)
	}
	return inst, nil
}

func (s *postgresStore) FindByMessage(ctx context.Context, ref domain.MessageRef) (domain.Instance, error) {
	if ref.IsZero() {
		return domain.Instance{}, domain.ErrMissingInstance
	}
	inst, err := s.findInstance(ctx, `channel_id = $1 AND message_id = $2`, ref.ChannelID, ref.MessageID)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("message %s/%s: %w", ref.ChannelID, ref.MessageID, err)
	}
	return inst, nil
}

// DeleteAllForTeam removes instances; responses follow through ON DELETE CASCADE.
func (s *postgresStore) DeleteAllForTeam(ctx context.Context, teamID string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM instances WHERE team_id = $1`, teamID)
	if err != nil {
		return 0, fmt.Errorf("delete instances %s: %w", teamID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *postgresStore) ListForTeam(ctx context.Context, teamID string, limit int) ([]domain.Instance, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+pgInstanceCols+` FROM instances WHERE team_id = $1 ORDER BY fired_at DESC LIMIT $2`,
		teamID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list instances %s: %w", teamID, err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Instance, error) {
		return scanPgInstance(r)
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadResponses(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Changes holds one pooled connection in LISTEN mode until ctx is done. The
// channel closes when the connection fails; callers resubscribe.
func (s *postgresStore) Changes(ctx context.Context) (<-chan domain.ChangeEvent, error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	out := make(chan domain.ChangeEvent, feedBuffer)
	go func() {
		defer close(out)
		defer func() {
			uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, _ = conn.Exec(uctx, "UNLISTEN *")
			cancel()
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("change feed interrupted", logx.Err(err))
				}
				return
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				s.log.Warn("bad change payload", logx.String("payload", n.Payload), logx.Err(err))
				continue
			}
			ev.At = time.Now()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
