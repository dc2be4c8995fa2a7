package tails

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/hermes"
	"github.com/MikeSquared-Agency/Tailgate/internal/metrics"
	"github.com/MikeSquared-Agency/Tailgate/internal/scoring"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

type MockHermes struct {
	mock.Mock
}

func (m *MockHermes) Publish(subject string, data interface{}) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func (m *MockHermes) Close() {}

var posted = time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store     *store.MemoryStore
	recorder  *Recorder
	challenge *store.Challenge
	bet       *store.Bet
	clock     time.Time
}

func newFixture(t *testing.T, h hermes.Client) *fixture {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()

	host, err := ms.GetOrCreateUser(ctx, store.ExternalIdentity{ExternalID: "host", Username: "host", DisplayName: "Host"})
	require.NoError(t, err)
	c := &store.Challenge{Title: "March", Status: store.ChallengeActive, TieHandling: store.TieSplit, CreatedBy: host.ID,
		FirstPlacePercentage: 70, SecondPlacePercentage: 20, ThirdPlacePercentage: 10}
	require.NoError(t, ms.CreateChallenge(ctx, c))

	b := &store.Bet{
		ChallengeID:       c.ID,
		Title:             "Celtics -4.5",
		TailLink:          "https://sportsbook.example/slip/1",
		Sportsbook:        store.SportsbookDraftKings,
		League:            store.LeagueNBA,
		TailWindowMinutes: 30,
		TailWindowEndsAt:  posted.Add(30 * time.Minute),
		Status:            store.BetOpen,
		PostedBy:          host.ID,
		CreatedAt:         posted,
	}
	require.NoError(t, ms.CreateBet(ctx, b))

	f := &fixture{store: ms, challenge: c, bet: b, clock: posted.Add(5 * time.Minute)}
	f.recorder = NewRecorder(ms, h, metrics.New(prometheus.NewRegistry()), slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.recorder.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) member(t *testing.T, name string) uuid.UUID {
	t.Helper()
	u, err := f.store.GetOrCreateUser(context.Background(), store.ExternalIdentity{ExternalID: name, Username: name, DisplayName: name})
	require.NoError(t, err)
	return u.ID
}

func TestRecordWithinWindowAwardsPoint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.member(t, "alice")

	res, err := f.recorder.Record(ctx, RecordRequest{BetID: f.bet.ID, UserID: user, IPAddress: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.PointsAwarded)
	assert.True(t, res.WithinWindow)
	assert.True(t, res.Tail.IsValid)
	assert.Equal(t, msgPointEarned, res.Message)

	p, err := f.store.GetParticipation(ctx, user, f.challenge.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.TotalPoints)
	require.NotNil(t, p.Rank)
	assert.Equal(t, 1, *p.Rank)
}

func TestRecordEmitsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	f := newFixture(t, nil)
	f.recorder.tracer = tp.Tracer("tailgate/tails")
	user := f.member(t, "traced")

	_, err := f.recorder.Record(context.Background(), RecordRequest{BetID: f.bet.ID, UserID: user})
	require.NoError(t, err)

	spans := sr.Ended()
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"Recorder.Record", "Recorder.RecalculateRanks"}, names)

	var record, rerank sdktrace.ReadOnlySpan
	for _, s := range spans {
		switch s.Name() {
		case "Recorder.Record":
			record = s
		case "Recorder.RecalculateRanks":
			rerank = s
		}
	}
	require.NotNil(t, record)
	require.NotNil(t, rerank)
	assert.Equal(t, record.SpanContext().SpanID(), rerank.Parent().SpanID())
	assert.Contains(t, record.Attributes(), attribute.String("bet_id", f.bet.ID.String()))
	assert.Contains(t, record.Attributes(), attribute.String("user_id", user.String()))
	assert.NotEqual(t, codes.Error, record.Status().Code)
}

func TestRecordAtWindowEndStillCounts(t *testing.T) {
	f := newFixture(t, nil)
	f.clock = f.bet.TailWindowEndsAt

	res, err := f.recorder.Record(context.Background(), RecordRequest{BetID: f.bet.ID, UserID: f.member(t, "edge")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PointsAwarded)
}

func TestRecordAfterWindowStoresInvalidTail(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.member(t, "late")
	f.clock = f.bet.TailWindowEndsAt.Add(time.Second)

	res, err := f.recorder.Record(ctx, RecordRequest{BetID: f.bet.ID, UserID: user})
	require.NoError(t, err)

	assert.Equal(t, 0, res.PointsAwarded)
	assert.False(t, res.WithinWindow)
	assert.Equal(t, msgNoPoints, res.Message)

	stored, err := f.store.GetTailForUser(ctx, f.bet.ID, user)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.IsValid)
	assert.Equal(t, 0, stored.PointsAwarded)

	p, err := f.store.GetParticipation(ctx, user, f.challenge.ID)
	require.NoError(t, err)
	assert.Nil(t, p, "late tails must not create participation")
}

func TestRecordTwiceIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.member(t, "alice")

	_, err := f.recorder.Record(ctx, RecordRequest{BetID: f.bet.ID, UserID: user})
	require.NoError(t, err)

	_, err = f.recorder.Record(ctx, RecordRequest{BetID: f.bet.ID, UserID: user})
	assert.ErrorIs(t, err, ErrAlreadyTailed)
	assert.Equal(t, apperr.KindAlreadyExists, apperr.KindOf(err))

	p, err := f.store.GetParticipation(ctx, user, f.challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalPoints)
}

func TestRecordUnknownBet(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.recorder.Record(context.Background(), RecordRequest{BetID: uuid.New(), UserID: f.member(t, "a")})
	assert.ErrorIs(t, err, ErrBetNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRecordClosedBetChecksStatusBeforeDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.member(t, "alice")

	_, err := f.recorder.Record(ctx, RecordRequest{BetID: f.bet.ID, UserID: user})
	require.NoError(t, err)
	_, err = f.store.UpdateBetStatus(ctx, f.bet.ID, store.BetClosed)
	require.NoError(t, err)

	_, err = f.recorder.Record(ctx, RecordRequest{BetID: f.bet.ID, UserID: user})
	assert.ErrorIs(t, err, ErrBetClosed)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestRecordPublishesEvents(t *testing.T) {
	h := &MockHermes{}
	f := newFixture(t, h)
	h.On("Publish", hermes.SubjectRanksRecalculated(f.challenge.ID.String()), mock.AnythingOfType("hermes.RanksRecalculatedEvent")).Return(nil)
	h.On("Publish", hermes.SubjectTailRecorded(f.bet.ID.String()), mock.AnythingOfType("hermes.TailRecordedEvent")).Return(nil)

	_, err := f.recorder.Record(context.Background(), RecordRequest{BetID: f.bet.ID, UserID: f.member(t, "alice")})
	require.NoError(t, err)

	h.AssertExpectations(t)
}

func TestRanksStayContiguousAfterEveryAward(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Three bets so members can accumulate different totals.
	bets := []uuid.UUID{f.bet.ID}
	for i := 0; i < 2; i++ {
		b := *f.bet
		require.NoError(t, f.store.CreateBet(ctx, &b))
		bets = append(bets, b.ID)
	}

	members := []uuid.UUID{f.member(t, "a"), f.member(t, "b"), f.member(t, "c"), f.member(t, "d")}
	plan := map[int][]int{0: {0, 1, 2}, 1: {0, 1}, 2: {0}, 3: {2}}

	for m, betIdx := range plan {
		for _, bi := range betIdx {
			f.clock = f.clock.Add(time.Second)
			_, err := f.recorder.Record(ctx, RecordRequest{BetID: bets[bi], UserID: members[m]})
			require.NoError(t, err)

			ps, err := f.store.ListParticipations(ctx, f.challenge.ID)
			require.NoError(t, err)
			require.NoError(t, scoring.ValidateRanks(scoring.FromParticipations(ps)))
		}
	}

	board, err := f.recorder.Leaderboard(ctx, f.challenge.ID, 0)
	require.NoError(t, err)
	require.Len(t, board, 4)
	assert.Equal(t, members[0], board[0].UserID)
	assert.Equal(t, 3, board[0].TotalPoints)
}

func TestRecalculateRanksMatchesPoints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a, b, c := f.member(t, "a"), f.member(t, "b"), f.member(t, "c")

	for user, pts := range map[uuid.UUID]int{a: 156, b: 142, c: 98} {
		_, err := f.store.AddParticipationPoints(ctx, user, f.challenge.ID, pts, posted)
		require.NoError(t, err)
	}

	standings, err := f.recorder.RecalculateRanks(ctx, f.challenge.ID)
	require.NoError(t, err)
	require.Len(t, standings, 3)

	want := map[uuid.UUID]int{a: 1, b: 2, c: 3}
	for user, rank := range want {
		p, err := f.store.GetParticipation(ctx, user, f.challenge.ID)
		require.NoError(t, err)
		require.NotNil(t, p.Rank)
		assert.Equal(t, rank, *p.Rank)
	}
}

func TestUserStatsWithoutParticipation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.member(t, "late")
	f.clock = f.bet.TailWindowEndsAt.Add(time.Hour)

	_, err := f.recorder.Record(ctx, RecordRequest{BetID: f.bet.ID, UserID: user})
	require.NoError(t, err)

	stats, err := f.recorder.UserStats(ctx, user, f.challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalPoints)
	assert.Equal(t, int64(1), stats.TotalTails)
	assert.Equal(t, int64(0), stats.ValidTails)
	assert.Nil(t, stats.Rank)

	tails, err := f.recorder.UserTails(ctx, user, &f.challenge.ID)
	require.NoError(t, err)
	require.Len(t, tails, 1)
	assert.Equal(t, f.bet.Title, tails[0].BetTitle)
}

func TestLeaderboardLimitIsCapped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.store.AddParticipationPoints(ctx, f.member(t, uuid.NewString()), f.challenge.ID, i+1, posted)
		require.NoError(t, err)
	}

	board, err := f.recorder.Leaderboard(ctx, f.challenge.ID, 2)
	require.NoError(t, err)
	assert.Len(t, board, 2)

	board, err = f.recorder.Leaderboard(ctx, f.challenge.ID, 5000)
	require.NoError(t, err)
	assert.Len(t, board, 3)
}

func TestStandingsUnknownChallenge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	missing := uuid.New()

	_, err := f.recorder.Leaderboard(ctx, missing, 0)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.recorder.UserStats(ctx, f.member(t, "lost"), missing)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}
