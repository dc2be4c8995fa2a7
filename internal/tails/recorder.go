// Package tails records member clicks on posted bets and keeps challenge
// standings in step with the points those clicks earn.
package tails

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/hermes"
	"github.com/MikeSquared-Agency/Tailgate/internal/metrics"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

var (
	ErrBetNotFound       = apperr.NotFound("Bet not found")
	ErrBetClosed         = apperr.InvalidState("Bet is no longer open")
	ErrAlreadyTailed     = apperr.AlreadyExists("You have already tailed this bet")
	ErrChallengeNotFound = apperr.NotFound("Challenge not found")
)

const (
	msgPointEarned = "Tail recorded! +1 point earned"
	msgNoPoints    = "Tail recorded, but no points earned (outside time window)"
)

type RecordRequest struct {
	BetID     uuid.UUID
	UserID    uuid.UUID
	IPAddress string
	UserAgent string
}

type Result struct {
	Tail          *store.Tail `json:"tail"`
	PointsAwarded int         `json:"points_awarded"`
	WithinWindow  bool        `json:"is_within_window"`
	Message       string      `json:"message"`
}

type Recorder struct {
	store   store.Store
	hermes  hermes.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewRecorder(s store.Store, h hermes.Client, m *metrics.Metrics, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   s,
		hermes:  h,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("tailgate/tails"),
		now:     time.Now,
	}
}

// Record persists one tail for (user, bet). Points are awarded only when the
// click lands on or before the bet's window end; a late click is still stored
// with zero points. Standings are recomputed after every point award.
func (r *Recorder) Record(ctx context.Context, req RecordRequest) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "Recorder.Record", trace.WithAttributes(
		attribute.String("bet_id", req.BetID.String()),
		attribute.String("user_id", req.UserID.String()),
	))
	defer span.End()

	bet, err := r.store.GetBet(ctx, req.BetID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if bet == nil {
		r.metrics.TailRejected("bet_not_found")
		return nil, ErrBetNotFound
	}
	if bet.Status != store.BetOpen {
		r.metrics.TailRejected("bet_closed")
		return nil, ErrBetClosed
	}

	existing, err := r.store.GetTailForUser(ctx, bet.ID, req.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existing != nil {
		r.metrics.TailRejected("already_tailed")
		return nil, ErrAlreadyTailed
	}

	now := r.now().UTC()
	valid := bet.WithinWindow(now)
	points := 0
	if valid {
		points = 1
	}

	tail := &store.Tail{
		BetID:         bet.ID,
		UserID:        req.UserID,
		ClickedAt:     now,
		PointsAwarded: points,
		IsValid:       valid,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
	}
	if err := r.store.CreateTail(ctx, tail); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			r.metrics.TailRejected("already_tailed")
			return nil, ErrAlreadyTailed
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert tail")
		return nil, fmt.Errorf("insert tail: %w", err)
	}
	r.metrics.TailRecorded(valid)

	if valid {
		if _, err := r.store.AddParticipationPoints(ctx, req.UserID, bet.ChallengeID, points, now); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("award points: %w", err)
		}
		if _, err := r.RecalculateRanks(ctx, bet.ChallengeID); err != nil {
			return nil, err
		}
	}

	if r.hermes != nil {
		_ = r.hermes.Publish(hermes.SubjectTailRecorded(bet.ID.String()), hermes.TailRecordedEvent{
			TailID:        tail.ID.String(),
			BetID:         bet.ID.String(),
			ChallengeID:   bet.ChallengeID.String(),
			UserID:        req.UserID.String(),
			PointsAwarded: points,
			WithinWindow:  valid,
			ClickedAt:     now,
		})
	}

	r.logger.Info("tail recorded",
		"bet_id", bet.ID,
		"user_id", req.UserID,
		"valid", valid,
	)

	msg := msgNoPoints
	if valid {
		msg = msgPointEarned
	}
	return &Result{Tail: tail, PointsAwarded: points, WithinWindow: valid, Message: msg}, nil
}
