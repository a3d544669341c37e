package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"standupbot/internal/domain"
	"standupbot/internal/eventbus"
	logx "standupbot/pkg/logx"
)

//go:embed migrations/sqlite.sql
var sqliteSchema string

type sqliteStore struct {
	*tableFeed
	db  *sql.DB
	log logx.Logger
}

var _ Store = (*sqliteStore)(nil)

func openSQLite(ctx context.Context, cfg Config, log logx.Logger, bus eventbus.Bus) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := newSQLiteStore(db, log, bus)
	st.poll = cfg.FeedPoll
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func newSQLiteStore(db *sql.DB, log logx.Logger, bus eventbus.Bus) *sqliteStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqliteStore{tableFeed: &tableFeed{db: db, bus: bus, log: log}, db: db, log: log}
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const sqliteTeamCols = `id, name, timezone, members, standup, archived, updated_at`

func (s *sqliteStore) CreateTeam(ctx context.Context, t domain.Team) error {
	members, standup, err := encodeTeam(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO teams(`+sqliteTeamCols+`) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Name, t.Timezone, members, standup, t.Archived, fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create team %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("create team %s: %w", t.ID, ErrTeamExists)
	}
	return nil
}

func (s *sqliteStore) UpdateTeam(ctx context.Context, t domain.Team) error {
	members, standup, err := encodeTeam(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET name = ?, timezone = ?, members = ?, standup = ?, archived = ?, updated_at = ? WHERE id = ?`,
		t.Name, t.Timezone, members, standup, t.Archived, fmtTime(time.Now()), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update team %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update team %s: %w", t.ID, domain.ErrTeamNotFound)
	}
	return nil
}

func (s *sqliteStore) DeleteTeam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM teams WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete team %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete team %s: %w", id, domain.ErrTeamNotFound)
	}
	return nil
}

// SetTimezone marks the team in silent_writes for the duration of the
// transaction so the update trigger records nothing.
func (s *sqliteStore) SetTimezone(ctx context.Context, id, tz string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO silent_writes(team_id) VALUES(?)`, id); err != nil {
		return fmt.Errorf("set timezone %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE teams SET timezone = ? WHERE id = ?`, tz, id)
	if err != nil {
		return fmt.Errorf("set timezone %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set timezone %s: %w", id, domain.ErrTeamNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM silent_writes WHERE team_id = ?`, id); err != nil {
		return fmt.Errorf("set timezone %s: %w", id, err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTeam(row rowScanner) (domain.Team, error) {
	var (
		t                domain.Team
		members, standup string
		updated          string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Timezone, &members, &standup, &t.Archived, &updated); err != nil {
		return domain.Team{}, err
	}
	if err := decodeTeam(&t, []byte(members), []byte(standup)); err != nil {
		return domain.Team{}, err
	}
	ts, err := parseTime(updated)
	if err != nil {
		return domain.Team{}, fmt.Errorf("team %s updated_at: %w", t.ID, err)
	}
	t.UpdatedAt = ts
	return t, nil
}

func (s *sqliteStore) Find(ctx context.Context, id string) (domain.Team, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTeamCols+` FROM teams WHERE id = ?`, id)
	t, err := scanSQLiteTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Team{}, fmt.Errorf("team %s: %w", id, domain.ErrTeamNotFound)
	}
	return t, err
}

func (s *sqliteStore) FindAll(ctx context.Context) ([]domain.Team, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteTeamCols+` FROM teams ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var out []domain.Team
	for rows.Next() {
		t, err := scanSQLiteTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateInstance(ctx context.Context, inst domain.Instance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO instances(team_id, occurrence_id, date, fired_at, channel_id, message_id, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(team_id, occurrence_id) DO NOTHING`,
		inst.TeamID, inst.OccurrenceID, inst.Date, fmtTime(inst.FiredAt),
		inst.Message.ChannelID, inst.Message.MessageID, fmtTime(inst.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create instance %s: %w", inst.OccurrenceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("create instance %s: %w", inst.OccurrenceID, domain.ErrInstanceExists)
	}
	for _, r := range inst.Responses {
		if err := insertSQLiteResponse(ctx, tx, inst.TeamID, inst.OccurrenceID, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertSQLiteResponse(ctx context.Context, tx *sql.Tx, teamID, occID string, r domain.Response) error {
	answers, err := encodeAnswers(r.Answers)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO responses(team_id, occurrence_id, member_id, answers, responded_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(team_id, occurrence_id, member_id) DO NOTHING`,
		teamID, occID, r.MemberID, answers, fmtTime(r.RespondedAt),
	)
	if err != nil {
		return fmt.Errorf("append response %s/%s: %w", occID, r.MemberID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("member %s on %s: %w", r.MemberID, occID, domain.ErrDuplicateResponse)
	}
	return nil
}

func (s *sqliteStore) AppendResponse(ctx context.Context, teamID, occurrenceID string, resp domain.Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM instances WHERE team_id = ? AND occurrence_id = ?`, teamID, occurrenceID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("occurrence %s: %w", occurrenceID, domain.ErrMissingInstance)
	}
	if err != nil {
		return err
	}
	if err := insertSQLiteResponse(ctx, tx, teamID, occurrenceID, resp); err != nil {
		return err
	}
	return tx.Commit()
}

const sqliteInstanceCols = `team_id, occurrence_id, date, fired_at, channel_id, message_id, created_at`

func scanSQLiteInstance(row rowScanner) (domain.Instance, error) {
	var (
		inst           domain.Instance
		fired, created string
	)
	err := row.Scan(&inst.TeamID, &inst.OccurrenceID, &inst.Date, &fired,
		&inst.Message.ChannelID, &inst.Message.MessageID, &created)
	if err != nil {
		return domain.Instance{}, err
	}
	if inst.FiredAt, err = parseTime(fired); err != nil {
		return domain.Instance{}, err
	}
	if inst.CreatedAt, err = parseTime(created); err != nil {
		return domain.Instance{}, err
	}
	return inst, nil
}

func (s *sqliteStore) loadResponses(ctx context.Context, inst *domain.Instance) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, answers, responded_at FROM responses
		 WHERE team_id = ? AND occurrence_id = ? ORDER BY id`,
		inst.TeamID, inst.OccurrenceID,
	)
	if err != nil {
		return fmt.Errorf("load responses %s: %w", inst.OccurrenceID, err)
	}
	defer rows.Close()

	inst.Responses = []domain.Response{}
	for rows.Next() {
		var (
			r        domain.Response
			answers  string
			respAtTx string
		)
		if err := rows.Scan(&r.MemberID, &answers, &respAtTx); err != nil {
			return err
		}
		if r.Answers, err = decodeAnswers([]byte(answers)); err != nil {
			return err
		}
		if r.RespondedAt, err = parseTime(respAtTx); err != nil {
			return err
		}
		inst.Responses = append(inst.Responses, r)
	}
	return rows.Err()
}

func (s *sqliteStore) findInstance(ctx context.Context, where string, args ...any) (domain.Instance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteInstanceCols+` FROM instances WHERE `+where, args...)
	inst, err := scanSQLiteInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *sqliteStore) FindByOccurrence(ctx context.Context, teamID, occurrenceID string) (domain.Instance, error) {
	inst, err := s.findInstance(ctx, `team_id = ? AND occurrence_id = ?`, teamID, occurrenceID)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("occurrence %s: %w", occurrenceID, err)
	}
	return inst, nil
}

func (s *sqliteStore) FindByMessage(ctx context.Context, ref domain.MessageRef) (domain.Instance, error) {
	if ref.IsZero() {
		return domain.Instance{}, domain.ErrMissingInstance
	}
	inst, err := s.findInstance(ctx, `channel_id = ? AND message_id = ?`, ref.ChannelID, ref.MessageID)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("message %s/%s: %w", ref.ChannelID, ref.MessageID, err)
	}
	return inst, nil
}

func (s *sqliteStore) DeleteAllForTeam(ctx context.Context, teamID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM responses WHERE team_id = ?`, teamID); err != nil {
		return 0, fmt.Errorf("delete responses %s: %w", teamID, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM instances WHERE team_id = ?`, teamID)
	if err != nil {
		return 0, fmt.Errorf("delete instances %s: %w", teamID, err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sqliteStore) ListForTeam(ctx context.Context, teamID string, limit int) ([]domain.Instance, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteInstanceCols+` FROM instances WHERE team_id = ? ORDER BY fired_at DESC LIMIT ?`,
		teamID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list instances %s: %w", teamID, err)
	}
	var out []domain.Instance
	for rows.Next() {
		inst, err := scanSQLiteInstance(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inst)
	}
	err = rows.Err()
	// One connection: rows must be released before loading responses.
	rows.Close()
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
