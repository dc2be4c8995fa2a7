package scoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

// Standing is one participant's position inputs within a challenge.
type Standing struct {
	ParticipationID uuid.UUID  `json:"participation_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Points          int        `json:"points"`
	LastTailAt      *time.Time `json:"last_tail_at,omitempty"`
	JoinedAt        time.Time  `json:"joined_at"`
	Rank            int        `json:"rank"`
}

// FromParticipations converts stored participation rows. A nil rank becomes 0.
func FromParticipations(ps []*store.Participation) []Standing {
	out := make([]Standing, 0, len(ps))
	for _, p := range ps {
		s := Standing{
			ParticipationID: p.ID,
			UserID:          p.UserID,
			Points:          p.TotalPoints,
			LastTailAt:      p.LastTailAt,
			JoinedAt:        p.JoinedAt,
		}
		if p.Rank != nil {
			s.Rank = *p.Rank
		}
		out = append(out, s)
	}
	return out
}

// less orders by points desc, then earliest last tail (never-tailed last),
// then earliest join, then participation id.
func less(a, b Standing) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	switch {
	case a.LastTailAt != nil && b.LastTailAt == nil:
		return true
	case a.LastTailAt == nil && b.LastTailAt != nil:
		return false
	case a.LastTailAt != nil && !a.LastTailAt.Equal(*b.LastTailAt):
		return a.LastTailAt.Before(*b.LastTailAt)
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ParticipationID.String() < b.ParticipationID.String()
}

// OrderStandings sorts in place into leaderboard order.
func OrderStandings(standings []Standing) {
	sort.SliceStable(standings, func(i, j int) bool {
		return less(standings[i], standings[j])
	})
}

// AssignRanks orders the standings and stamps each with its 1-based position.
// The returned map is keyed by participation id.
func AssignRanks(standings []Standing) map[uuid.UUID]int {
	OrderStandings(standings)
	ranks := make(map[uuid.UUID]int, len(standings))
	for i := range standings {
		standings[i].Rank = i + 1
		ranks[standings[i].ParticipationID] = i + 1
	}
	return ranks
}

// ValidateRanks checks that ranks are exactly 1..N and that points never
// increase as rank increases.
func ValidateRanks(standings []Standing) error {
	byRank := make([]Standing, len(standings))
	copy(byRank, standings)
	sort.Slice(byRank, func(i, j int) bool { return byRank[i].Rank < byRank[j].Rank })

	for i, s := range byRank {
		if s.Rank != i+1 {
			return fmt.Errorf("rank %d at position %d: ranks must be 1..%d without gaps or duplicates", s.Rank, i+1, len(byRank))
		}
		if i > 0 && s.Points > byRank[i-1].Points {
			return fmt.Errorf("rank %d has %d points, more than rank %d with %d", s.Rank, s.Points, byRank[i-1].Rank, byRank[i-1].Points)
		}
	}
	return nil
}
