// Package challenges owns the challenge and bet lifecycles: creation,
// start/end transitions, payouts, and the bet views members browse.
package challenges

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/config"
	"github.com/MikeSquared-Agency/Tailgate/internal/hermes"
	"github.com/MikeSquared-Agency/Tailgate/internal/metrics"
	"github.com/MikeSquared-Agency/Tailgate/internal/notify"
	"github.com/MikeSquared-Agency/Tailgate/internal/scoring"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

var (
	ErrChallengeNotFound  = apperr.NotFound("Challenge not found")
	ErrChallengeNotDraft  = apperr.InvalidState("Challenge is not in draft status")
	ErrChallengeNotActive = apperr.InvalidState("Challenge is not active")
	ErrNotCreator         = apperr.Forbidden("Only the creator can change a challenge's status")
	ErrBetNotFound        = apperr.NotFound("Bet not found")
	ErrNotPoster          = apperr.Forbidden("Only the poster or an admin can update this bet")
)

// MaxPrizePool is the largest pool total_prize_pool NUMERIC(10,2) can store.
const MaxPrizePool = 99_999_999.99

// Ranker recomputes a challenge's standings.
type Ranker interface {
	RecalculateRanks(ctx context.Context, challengeID uuid.UUID) ([]scoring.Standing, error)
}

type Service struct {
	store    store.Store
	ranker   Ranker
	notifier *notify.Notifier
	hermes   hermes.Client
	metrics  *metrics.Metrics
	cfg      config.TailsConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(s store.Store, r Ranker, n *notify.Notifier, h hermes.Client, m *metrics.Metrics, cfg config.TailsConfig, logger *slog.Logger) *Service {
	return &Service{
		store:    s,
		ranker:   r,
		notifier: n,
		hermes:   h,
		metrics:  m,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("tailgate/challenges"),
		now:      time.Now,
	}
}
