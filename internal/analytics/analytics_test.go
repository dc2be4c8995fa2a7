package analytics

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *store.MemoryStore
	agg   *Aggregator
	ch    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := store.NewMemoryStore()
	agg := NewAggregator(ms, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	agg.now = func() time.Time { return now }

	c := &store.Challenge{Title: "June", Status: store.ChallengeActive, TieHandling: store.TieSplit}
	require.NoError(t, ms.CreateChallenge(context.Background(), c))
	return &fixture{store: ms, agg: agg, ch: c.ID}
}

func (f *fixture) bet(t *testing.T, challengeID uuid.UUID, book store.Sportsbook, league store.League, created time.Time) *store.Bet {
	t.Helper()
	b := &store.Bet{
		ChallengeID:       challengeID,
		Title:             string(book) + " " + string(league),
		TailLink:          "https://example.com/slip",
		Sportsbook:        book,
		League:            league,
		TailWindowMinutes: 30,
		TailWindowEndsAt:  created.Add(30 * time.Minute),
		Status:            store.BetOpen,
		CreatedAt:         created,
	}
	require.NoError(t, f.store.CreateBet(context.Background(), b))
	return b
}

func (f *fixture) tail(t *testing.T, b *store.Bet, at time.Time) {
	t.Helper()
	valid := b.WithinWindow(at)
	pts := 0
	if valid {
		pts = 1
	}
	require.NoError(t, f.store.CreateTail(context.Background(), &store.Tail{
		BetID:         b.ID,
		UserID:        uuid.New(),
		ClickedAt:     at,
		PointsAwarded: pts,
		IsValid:       valid,
	}))
}

func TestParseTimeRange(t *testing.T) {
	r, err := ParseTimeRange("")
	require.NoError(t, err)
	assert.Equal(t, RangeAll, r)

	r, err = ParseTimeRange("7d")
	require.NoError(t, err)
	assert.Equal(t, Range7d, r)

	_, err = ParseTimeRange("90d")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	assert.Nil(t, RangeAll.Since(now))
	assert.Equal(t, now.Add(-24*time.Hour), *Range24h.Since(now))
}

func TestReportEmpty(t *testing.T) {
	f := newFixture(t)

	rep, err := f.agg.Report(context.Background(), nil, RangeAll)
	require.NoError(t, err)
	assert.Zero(t, rep.TotalTails.AllTime)
	assert.Zero(t, rep.TailWindowConversion)
	assert.Zero(t, rep.AverageTailsPerBet)
	assert.Zero(t, rep.MedianMinutesTo10Tails)
	assert.NotNil(t, rep.TopSportsbooks)
	assert.NotNil(t, rep.BetPerformance)
}

func TestReportWindowsAndConversion(t *testing.T) {
	f := newFixture(t)
	old := f.bet(t, f.ch, store.SportsbookPrizePicks, store.LeagueNBA, now.Add(-10*24*time.Hour))
	recent := f.bet(t, f.ch, store.SportsbookUnderdog, store.LeagueNFL, now.Add(-2*time.Hour))

	f.tail(t, old, old.CreatedAt.Add(5*time.Minute))  // valid, 10 days ago
	f.tail(t, old, old.CreatedAt.Add(40*time.Minute)) // late, 10 days ago
	f.tail(t, recent, recent.CreatedAt.Add(time.Minute))
	f.tail(t, recent, recent.CreatedAt.Add(2*time.Minute))
	f.tail(t, recent, recent.CreatedAt.Add(90*time.Minute))

	rep, err := f.agg.Report(context.Background(), &f.ch, RangeAll)
	require.NoError(t, err)

	assert.Equal(t, Windowed{Last24h: 3, Last7d: 3, Last30d: 5, AllTime: 5}, rep.TotalTails)
	assert.Equal(t, int64(5), rep.UniqueTailers.AllTime)
	assert.InDelta(t, 3.0/5.0, rep.TailWindowConversion, 1e-9)
	assert.InDelta(t, 2.5, rep.AverageTailsPerBet, 1e-9)

	require.Len(t, rep.TopSportsbooks, 2)
	assert.Equal(t, SportsbookCount{Sportsbook: "underdog", Count: 3}, rep.TopSportsbooks[0])
	assert.Equal(t, LeagueCount{League: "nfl", Count: 3}, rep.TopLeagues[0])

	require.Len(t, rep.BetPerformance, 2)
	assert.Equal(t, recent.ID, rep.BetPerformance[0].BetID)
	assert.Equal(t, int64(2), rep.BetPerformance[0].InWindowTails)
	assert.Equal(t, int64(1), rep.BetPerformance[0].OutOfWindowTails)
	assert.InDelta(t, 2.0/3.0, rep.BetPerformance[0].ConversionRate, 1e-9)

	// restricting the range narrows everything except the windowed counts
	rep, err = f.agg.Report(context.Background(), &f.ch, Range24h)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rep.TotalTails.AllTime)
	assert.InDelta(t, 2.0/3.0, rep.TailWindowConversion, 1e-9)
	assert.Equal(t, int64(0), rep.BetPerformance[1].InWindowTails+rep.BetPerformance[1].OutOfWindowTails)
}

func TestReportScopedToChallenge(t *testing.T) {
	f := newFixture(t)
	other := &store.Challenge{Title: "Other", Status: store.ChallengeActive, TieHandling: store.TieSplit}
	require.NoError(t, f.store.CreateChallenge(context.Background(), other))

	mine := f.bet(t, f.ch, store.SportsbookFanDuel, store.LeagueNHL, now.Add(-time.Hour))
	theirs := f.bet(t, other.ID, store.SportsbookBetMGM, store.LeagueMLB, now.Add(-time.Hour))
	f.tail(t, mine, now.Add(-50*time.Minute))
	f.tail(t, theirs, now.Add(-50*time.Minute))
	f.tail(t, theirs, now.Add(-45*time.Minute))

	rep, err := f.agg.Report(context.Background(), &f.ch, RangeAll)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.TotalTails.AllTime)

	all, err := f.agg.Report(context.Background(), nil, RangeAll)
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.TotalTails.AllTime)
}

func TestMedianMinutesToTenTails(t *testing.T) {
	f := newFixture(t)
	fast := f.bet(t, f.ch, store.SportsbookDraftKings, store.LeagueNBA, now.Add(-3*time.Hour))
	slow := f.bet(t, f.ch, store.SportsbookDraftKings, store.LeagueNBA, now.Add(-3*time.Hour))
	short := f.bet(t, f.ch, store.SportsbookDraftKings, store.LeagueNBA, now.Add(-3*time.Hour))

	for i := 1; i <= 10; i++ {
		f.tail(t, fast, fast.CreatedAt.Add(time.Duration(i)*time.Minute))
		f.tail(t, slow, slow.CreatedAt.Add(time.Duration(i)*3*time.Minute))
	}
	f.tail(t, short, short.CreatedAt.Add(time.Minute))

	rep, err := f.agg.Report(context.Background(), &f.ch, RangeAll)
	require.NoError(t, err)
	// 10 and 30 minutes; the bet with one tail does not count
	assert.InDelta(t, 20.0, rep.MedianMinutesTo10Tails, 1e-9)
}

func TestSnapshotWritesCacheRows(t *testing.T) {
	f := newFixture(t)
	b := f.bet(t, f.ch, store.SportsbookOther, store.LeagueGolf, now.Add(-time.Hour))
	f.tail(t, b, now.Add(-55*time.Minute))

	entries, err := f.agg.Snapshot(context.Background(), &f.ch)
	require.NoError(t, err)

	saved := f.store.Snapshots()
	require.Len(t, saved, len(entries))
	byMetric := map[string]float64{}
	for _, e := range saved {
		assert.Equal(t, f.ch, *e.ChallengeID)
		assert.Equal(t, now, e.CalculatedAt)
		if e.TimeRange == string(RangeAll) {
			byMetric[e.Metric] = e.Value
		}
	}
	assert.Equal(t, 1.0, byMetric["total_tails"])
	assert.Equal(t, 1.0, byMetric["unique_tailers"])
	assert.Equal(t, 1.0, byMetric["tail_window_conversion_rate"])
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 3.0, median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
}

func TestReportUnknownChallenge(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()

	_, err := f.agg.Report(context.Background(), &missing, RangeAll)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.agg.Snapshot(context.Background(), &missing)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	assert.Empty(t, f.store.Snapshots())
}
