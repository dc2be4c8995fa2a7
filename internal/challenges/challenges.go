package challenges

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/hermes"
	"github.com/MikeSquared-Agency/Tailgate/internal/scoring"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

type CreateChallengeInput struct {
	Title                 string    `json:"title"`
	Description           string    `json:"description"`
	StartDate             time.Time `json:"start_date"`
	EndDate               time.Time `json:"end_date"`
	TotalPrizePool        float64   `json:"total_prize_pool"`
	FirstPlacePercentage  *int      `json:"first_place_percentage,omitempty"`
	SecondPlacePercentage *int      `json:"second_place_percentage,omitempty"`
	ThirdPlacePercentage  *int      `json:"third_place_percentage,omitempty"`
	TieHandling           string    `json:"tie_handling,omitempty"`
}

func (in CreateChallengeInput) split() scoring.PrizeSplit {
	if in.FirstPlacePercentage == nil && in.SecondPlacePercentage == nil && in.ThirdPlacePercentage == nil {
		return scoring.DefaultSplit()
	}
	deref := func(p *int) int {
		if p == nil {
			return 0
		}
		return *p
	}
	return scoring.PrizeSplit{
		First:  deref(in.FirstPlacePercentage),
		Second: deref(in.SecondPlacePercentage),
		Third:  deref(in.ThirdPlacePercentage),
	}
}

// CreateChallenge validates the input and stores a new draft challenge.
func (s *Service) CreateChallenge(ctx context.Context, creator uuid.UUID, in CreateChallengeInput) (*store.Challenge, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CreateChallenge")
	defer span.End()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validation("Title is required")
	}
	split := in.split()
	if err := split.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Payout percentages must sum to 100%", err)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return nil, apperr.Validation("Start and end dates are required")
	}
	if !in.StartDate.Before(in.EndDate) {
		return nil, apperr.Validation("Start date must be before end date")
	}
	if in.TotalPrizePool < 0 {
		return nil, apperr.Validation("Prize pool cannot be negative")
	}
	if in.TotalPrizePool > MaxPrizePool {
		return nil, apperr.Newf(apperr.KindValidation, "Prize pool cannot exceed %.2f", MaxPrizePool)
	}
	tie := store.TieSplit
	if in.TieHandling != "" {
		tie = store.TieHandling(in.TieHandling)
		if !tie.Valid() {
			return nil, apperr.Newf(apperr.KindValidation, "Unknown tie handling %q", in.TieHandling)
		}
	}

	c := &store.Challenge{
		Title:                 title,
		Description:           in.Description,
		StartDate:             in.StartDate.UTC(),
		EndDate:               in.EndDate.UTC(),
		TotalPrizePool:        in.TotalPrizePool,
		FirstPlacePercentage:  split.First,
		SecondPlacePercentage: split.Second,
		ThirdPlacePercentage:  split.Third,
		Status:                store.ChallengeDraft,
		TieHandling:           tie,
		CreatedBy:             creator,
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	s.logger.Info("challenge created", "challenge_id", c.ID, "created_by", creator)
	return c, nil
}

// GetChallenge returns the challenge with its bet and tail totals.
func (s *Service) GetChallenge(ctx context.Context, id uuid.UUID) (*store.ChallengeWithStats, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrChallengeNotFound
	}
	stats, err := s.store.GetChallengeStats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &store.ChallengeWithStats{Challenge: *c, ChallengeStats: *stats}, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*store.Challenge, error) {
	status := store.ChallengeActive
	return s.list(ctx, store.ChallengeFilter{Status: &status})
}

// ListDrafts returns the drafts the given user created.
func (s *Service) ListDrafts(ctx context.Context, creator uuid.UUID) ([]*store.Challenge, error) {
	status := store.ChallengeDraft
	return s.list(ctx, store.ChallengeFilter{Status: &status, CreatedBy: &creator})
}

func (s *Service) list(ctx context.Context, f store.ChallengeFilter) ([]*store.Challenge, error) {
	out, err := s.store.ListChallenges(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*store.Challenge{}
	}
	return out, nil
}

func (s *Service) loadOwned(ctx context.Context, id, userID uuid.UUID) (*store.Challenge, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrChallengeNotFound
	}
	if c.CreatedBy != userID {
		return nil, ErrNotCreator
	}
	return c, nil
}

// StartChallenge moves a draft challenge to active. Only its creator may do so.
func (s *Service) StartChallenge(ctx context.Context, id, userID uuid.UUID) (*store.Challenge, error) {
	ctx, span := s.tracer.Start(ctx, "Service.StartChallenge",
		trace.WithAttributes(attribute.String("challenge_id", id.String())))
	defer span.End()

	c, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if c.Status != store.ChallengeDraft {
		return nil, ErrChallengeNotDraft
	}

	updated, err := s.store.UpdateChallengeStatus(ctx, id, store.ChallengeActive)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrChallengeNotFound
	}

	if s.hermes != nil {
		_ = s.hermes.Publish(hermes.SubjectChallengeStarted(id.String()), hermes.ChallengeStatusEvent{
			ChallengeID: id.String(),
			Status:      string(updated.Status),
			ChangedBy:   userID.String(),
		})
	}
	s.logger.Info("challenge started", "challenge_id", id)
	return updated, nil
}

// EndChallenge moves an active challenge to ended, settles final ranks,
// computes payouts and announces the winners.
func (s *Service) EndChallenge(ctx context.Context, id, userID uuid.UUID) (*store.Challenge, []scoring.Payout, error) {
	ctx, span := s.tracer.Start(ctx, "Service.EndChallenge",
		trace.WithAttributes(attribute.String("challenge_id", id.String())))
	defer span.End()

	c, err := s.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, nil, err
	}
	if c.Status != store.ChallengeActive {
		return nil, nil, ErrChallengeNotActive
	}

	updated, err := s.store.UpdateChallengeStatus(ctx, id, store.ChallengeEnded)
	if err != nil {
		return nil, nil, err
	}
	if updated == nil {
		return nil, nil, ErrChallengeNotFound
	}

	standings, err := s.ranker.RecalculateRanks(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payouts := scoring.ComputePayouts(updated.TotalPrizePool, scoring.SplitFrom(updated.Percentages()), updated.TieHandling, standings)

	if err := s.notifier.WinnersAnnounced(ctx, updated, payouts); err != nil {
		s.logger.Warn("failed to announce winners", "challenge_id", id, "error", err)
	}

	if s.hermes != nil {
		winners := make([]hermes.WinnerEntry, 0, len(payouts))
		for _, p := range payouts {
			winners = append(winners, hermes.WinnerEntry{
				UserID: p.UserID.String(),
				Place:  p.Place,
				Points: p.Points,
				Amount: p.Amount,
			})
		}
		_ = s.hermes.Publish(hermes.SubjectChallengeEnded(id.String()), hermes.ChallengeEndedEvent{
			ChallengeID: id.String(),
			PrizePool:   updated.TotalPrizePool,
			Winners:     winners,
		})
	}

	s.logger.Info("challenge ended", "challenge_id", id, "winners", len(payouts))
	return updated, payouts, nil
}

// Payouts computes the prize table from current standings without changing state.
func (s *Service) Payouts(ctx context.Context, id uuid.UUID) ([]scoring.Payout, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrChallengeNotFound
	}
	ps, err := s.store.ListParticipations(ctx, id)
	if err != nil {
		return nil, err
	}
	payouts := scoring.ComputePayouts(c.TotalPrizePool, scoring.SplitFrom(c.Percentages()), c.TieHandling, scoring.FromParticipations(ps))
	if payouts == nil {
		payouts = []scoring.Payout{}
	}
	return payouts, nil
}
