// Package participation classifies a team's roster against an instance's
// responses. It performs no I/O.
package participation

import (
	"fmt"
	"math"
	"time"

	"standupbot/internal/domain"
)

type MemberStatus struct {
	MemberID    string    `json:"member_id"`
	RespondedAt time.Time `json:"responded_at,omitempty"`
}

type Report struct {
	TeamID       string         `json:"team_id"`
	OccurrenceID string         `json:"occurrence_id,omitempty"`
	Responded    []MemberStatus `json:"responded"`
	Missed       []MemberStatus `json:"missed"`
	Rate         float64        `json:"rate"`
	Total        int            `json:"total"`
}

// RateString formats the rate the way reports show it, e.g. "66.67%".
func (r Report) RateString() string { return fmt.Sprintf("%.2f%%", r.Rate) }

// MissedIDs returns the member ids in Missed, in roster order.
func (r Report) MissedIDs() []string {
	out := make([]string, 0, len(r.Missed))
	for _, m := range r.Missed {
		out = append(out, m.MemberID)
	}
	return out
}

// Status partitions team.Members into responded and missed for inst.
// A nil instance means nobody responded. Responses from members who are no
// longer on the roster do not count.
func Status(team domain.Team, inst *domain.Instance) Report {
	rep := Report{
		TeamID:    team.ID,
		Responded: []MemberStatus{},
		Missed:    []MemberStatus{},
	}
	answered := map[string]time.Time{}
	if inst != nil {
		rep.OccurrenceID = inst.OccurrenceID
		for _, resp := range inst.Responses {
			if _, dup := answered[resp.MemberID]; !dup {
				answered[resp.MemberID] = resp.RespondedAt
			}
		}
	}

	seen := map[string]bool{}
	for _, m := range team.Members {
		if seen[m] {
			continue
		}
		seen[m] = true
		if at, ok := answered[m]; ok {
			rep.Responded = append(rep.Responded, MemberStatus{MemberID: m, RespondedAt: at})
		} else {
			rep.Missed = append(rep.Missed, MemberStatus{MemberID: m})
		}
	}
	rep.Total = len(seen)
	if rep.Total > 0 {
		rep.Rate = round2(float64(len(rep.Responded)) / float64(rep.Total) * 100)
	}
	return rep
}

// Aggregate is the mean rate over instances, rounded to two decimals.
func Aggregate(team domain.Team, instances []domain.Instance) float64 {
	if len(instances) == 0 {
		return 0
	}
	var sum float64
	for i := range instances {
		sum += Status(team, &instances[i]).Rate
	}
	return round2(sum / float64(len(instances)))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
