package scoring

import (
	"math"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

// Payout is the prize owed to one participant.
type Payout struct {
	UserID     uuid.UUID `json:"user_id"`
	Place      int       `json:"place"`
	Points     int       `json:"points"`
	Percentage float64   `json:"percentage"`
	Amount     float64   `json:"amount"`
}

const paidPlaces = 3

// ComputePayouts distributes pool over the top three places.
//
// With store.TieTiebreaker the leaderboard order alone decides each place.
// With store.TieSplit every group tied on points pools the percentages of the
// places it occupies and shares them equally, so a three-way tie for second
// splits second and third place three ways. Participants without points are
// never paid. Amounts are rounded to cents.
func ComputePayouts(pool float64, split PrizeSplit, policy store.TieHandling, standings []Standing) []Payout {
	ordered := make([]Standing, 0, len(standings))
	for _, s := range standings {
		if s.Points > 0 {
			ordered = append(ordered, s)
		}
	}
	OrderStandings(ordered)

	pcts := split.asList()
	var out []Payout

	if policy != store.TieSplit {
		for i := 0; i < len(ordered) && i < paidPlaces; i++ {
			out = append(out, newPayout(pool, ordered[i], i+1, float64(pcts[i])))
		}
		return out
	}

	for pos := 0; pos < len(ordered) && pos < paidPlaces; {
		end := pos + 1
		for end < len(ordered) && ordered[end].Points == ordered[pos].Points {
			end++
		}
		var groupPct int
		for place := pos; place < end && place < paidPlaces; place++ {
			groupPct += pcts[place]
		}
		share := float64(groupPct) / float64(end-pos)
		for i := pos; i < end; i++ {
			out = append(out, newPayout(pool, ordered[i], pos+1, share))
		}
		pos = end
	}
	return out
}

func newPayout(pool float64, s Standing, place int, pct float64) Payout {
	return Payout{
		UserID:     s.UserID,
		Place:      place,
		Points:     s.Points,
		Percentage: pct,
		Amount:     roundCents(pool * pct / 100),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
