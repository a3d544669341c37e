package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"standupbot/internal/domain"
)

// Members, standup config and answers are stored as JSON documents.

func encodeTeam(t domain.Team) (members, standup string, err error) {
	m := t.Members
	if m == nil {
		m = []string{}
	}
	mb, err := json.Marshal(m)
	if err != nil {
		return "", "", fmt.Errorf("encode members: %w", err)
	}
	sb, err := json.Marshal(t.Standup)
	if err != nil {
		return "", "", fmt.Errorf("encode standup: %w", err)
	}
	return string(mb), string(sb), nil
}

func decodeTeam(t *domain.Team, members, standup []byte) error {
	if len(members) > 0 {
		if err := json.Unmarshal(members, &t.Members); err != nil {
			return fmt.Errorf("decode members of %s: %w", t.ID, err)
		}
	}
	if len(standup) > 0 {
		if err := json.Unmarshal(standup, &t.Standup); err != nil {
			return fmt.Errorf("decode standup of %s: %w", t.ID, err)
		}
	}
	return nil
}

func encodeAnswers(a []domain.Answer) (string, error) {
	if a == nil {
		a = []domain.Answer{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(b), nil
}

func decodeAnswers(b []byte) ([]domain.Answer, error) {
	var out []domain.Answer
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return out, nil
}

// SQLite keeps timestamps as fixed-width UTC text so they sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
