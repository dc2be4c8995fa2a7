package challenges

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/config"
	"github.com/MikeSquared-Agency/Tailgate/internal/metrics"
	"github.com/MikeSquared-Agency/Tailgate/internal/notify"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
	"github.com/MikeSquared-Agency/Tailgate/internal/tails"
)

var clock = time.Date(2026, 5, 2, 20, 0, 0, 0, time.UTC)

type harness struct {
	store    *store.MemoryStore
	svc      *Service
	recorder *tails.Recorder
	host     *store.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ms := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	rec := tails.NewRecorder(ms, nil, m, logger)
	svc := NewService(ms, rec, notify.NewNotifier(ms, nil, logger), nil, m, config.Default().Tails, logger)
	svc.now = func() time.Time { return clock }

	host, err := ms.GetOrCreateUser(context.Background(), store.ExternalIdentity{ExternalID: "host", Username: "host", DisplayName: "Host"})
	require.NoError(t, err)
	return &harness{store: ms, svc: svc, recorder: rec, host: host}
}

func intp(v int) *int { return &v }

func (h *harness) challenge(t *testing.T, active bool) *store.Challenge {
	t.Helper()
	c, err := h.svc.CreateChallenge(context.Background(), h.host.ID, CreateChallengeInput{
		Title:          "May Madness",
		StartDate:      clock,
		EndDate:        clock.Add(30 * 24 * time.Hour),
		TotalPrizePool: 1000,
	})
	require.NoError(t, err)
	if active {
		c, err = h.svc.StartChallenge(context.Background(), c.ID, h.host.ID)
		require.NoError(t, err)
	}
	return c
}

func betInput(challengeID uuid.UUID) CreateBetInput {
	return CreateBetInput{
		ChallengeID: challengeID,
		Title:       "Knicks +3.5",
		TailLink:    "https://app.prizepicks.com/slip/abc",
		Sportsbook:  "prizepicks",
		League:      "nba",
	}
}

func TestCreateChallengeDefaults(t *testing.T) {
	h := newHarness(t)
	c := h.challenge(t, false)

	assert.Equal(t, store.ChallengeDraft, c.Status)
	assert.Equal(t, store.TieSplit, c.TieHandling)
	assert.Equal(t, [3]int{70, 20, 10}, c.Percentages())
}

func TestCreateChallengeValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := CreateChallengeInput{Title: "X", StartDate: clock, EndDate: clock.Add(time.Hour)}

	cases := map[string]func(in *CreateChallengeInput){
		"percentages over 100": func(in *CreateChallengeInput) {
			in.FirstPlacePercentage, in.SecondPlacePercentage, in.ThirdPlacePercentage = intp(60), intp(30), intp(20)
		},
		"partial percentages": func(in *CreateChallengeInput) { in.FirstPlacePercentage = intp(90) },
		"start after end":     func(in *CreateChallengeInput) { in.StartDate = clock.Add(2 * time.Hour) },
		"start equals end":    func(in *CreateChallengeInput) { in.EndDate = in.StartDate },
		"missing title":       func(in *CreateChallengeInput) { in.Title = "  " },
		"negative pool":       func(in *CreateChallengeInput) { in.TotalPrizePool = -1 },
		"oversized pool":      func(in *CreateChallengeInput) { in.TotalPrizePool = 1e8 },
		"bad tie handling":    func(in *CreateChallengeInput) { in.TieHandling = "coinflip" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := h.svc.CreateChallenge(ctx, h.host.ID, in)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestCreateChallengeCustomSplit(t *testing.T) {
	h := newHarness(t)
	c, err := h.svc.CreateChallenge(context.Background(), h.host.ID, CreateChallengeInput{
		Title: "Winner takes all", StartDate: clock, EndDate: clock.Add(time.Hour),
		FirstPlacePercentage: intp(100), SecondPlacePercentage: intp(0), ThirdPlacePercentage: intp(0),
		TieHandling: "tiebreaker",
	})
	require.NoError(t, err)
	assert.Equal(t, [3]int{100, 0, 0}, c.Percentages())
	assert.Equal(t, store.TieTiebreaker, c.TieHandling)
}

func TestStartChallengeTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.challenge(t, false)

	_, err := h.svc.StartChallenge(ctx, c.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotCreator)

	_, err = h.svc.StartChallenge(ctx, uuid.New(), h.host.ID)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	started, err := h.svc.StartChallenge(ctx, c.ID, h.host.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ChallengeActive, started.Status)

	_, err = h.svc.StartChallenge(ctx, c.ID, h.host.ID)
	assert.ErrorIs(t, err, ErrChallengeNotDraft)
}

func TestEndChallengeRequiresActive(t *testing.T) {
	h := newHarness(t)
	c := h.challenge(t, false)

	_, _, err := h.svc.EndChallenge(context.Background(), c.ID, h.host.ID)
	assert.ErrorIs(t, err, ErrChallengeNotActive)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
}

func TestEndChallengePaysAndNotifiesWinners(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.challenge(t, true)

	users := map[string]uuid.UUID{}
	for name, pts := range map[string]int{"a": 156, "b": 142, "c": 98} {
		u, err := h.store.GetOrCreateUser(ctx, store.ExternalIdentity{ExternalID: name, Username: name, DisplayName: name})
		require.NoError(t, err)
		users[name] = u.ID
		_, err = h.store.AddParticipationPoints(ctx, u.ID, c.ID, pts, clock)
		require.NoError(t, err)
	}

	ended, payouts, err := h.svc.EndChallenge(ctx, c.ID, h.host.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ChallengeEnded, ended.Status)
	require.Len(t, payouts, 3)
	assert.Equal(t, users["a"], payouts[0].UserID)
	assert.Equal(t, 700.0, payouts[0].Amount)
	assert.Equal(t, users["c"], payouts[2].UserID)

	p, err := h.store.GetParticipation(ctx, users["b"], c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, *p.Rank)

	ns, err := h.store.ListNotifications(ctx, users["a"], true, 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, store.NotificationWinnersAnnounced, ns[0].Type)

	// ended challenges no longer accept bets
	_, err = h.svc.CreateBet(ctx, h.host.ID, betInput(c.ID))
	assert.ErrorIs(t, err, ErrChallengeNotActive)
}

func TestPayoutsPreview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.challenge(t, true)

	payouts, err := h.svc.Payouts(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, payouts)

	_, err = h.svc.Payouts(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestListActiveAndDrafts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.challenge(t, true)
	h.challenge(t, false)

	active, err := h.svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	drafts, err := h.svc.ListDrafts(ctx, h.host.ID)
	require.NoError(t, err)
	assert.Len(t, drafts, 1)

	drafts, err = h.svc.ListDrafts(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestGetChallengeWithStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.challenge(t, true)
	_, err := h.svc.CreateBet(ctx, h.host.ID, betInput(c.ID))
	require.NoError(t, err)

	got, err := h.svc.GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalBets)
	assert.Equal(t, int64(0), got.TotalTails)

	_, err = h.svc.GetChallenge(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestCreateChallengeMaxPrizePool(t *testing.T) {
	h := newHarness(t)
	c, err := h.svc.CreateChallenge(context.Background(), h.host.ID, CreateChallengeInput{
		Title: "High roller", StartDate: clock, EndDate: clock.Add(time.Hour), TotalPrizePool: MaxPrizePool,
	})
	require.NoError(t, err)
	assert.Equal(t, MaxPrizePool, c.TotalPrizePool)
}
