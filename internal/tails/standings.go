package tails

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MikeSquared-Agency/Tailgate/internal/hermes"
	"github.com/MikeSquared-Agency/Tailgate/internal/scoring"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// RecalculateRanks rewrites every participant's rank in the challenge from
// current points and returns the resulting standings in rank order.
func (r *Recorder) RecalculateRanks(ctx context.Context, challengeID uuid.UUID) ([]scoring.Standing, error) {
	ctx, span := r.tracer.Start(ctx, "Recorder.RecalculateRanks",
		trace.WithAttributes(attribute.String("challenge_id", challengeID.String())))
	defer span.End()

	ps, err := r.store.ListParticipations(ctx, challengeID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list participations: %w", err)
	}

	standings := scoring.FromParticipations(ps)
	ranks := scoring.AssignRanks(standings)
	if err := r.store.UpdateRanks(ctx, challengeID, ranks); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update ranks: %w", err)
	}
	r.metrics.RanksRecalculated()

	if r.hermes != nil {
		_ = r.hermes.Publish(hermes.SubjectRanksRecalculated(challengeID.String()), hermes.RanksRecalculatedEvent{
			ChallengeID:  challengeID.String(),
			Participants: len(standings),
			At:           r.now().UTC(),
		})
	}

	r.logger.Debug("ranks recalculated", "challenge_id", challengeID, "participants", len(standings))
	return standings, nil
}

// Leaderboard returns the top entries by rank. limit <= 0 means the default;
// larger values are capped.
func (r *Recorder) Leaderboard(ctx context.Context, challengeID uuid.UUID, limit int) ([]*store.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	if err := r.requireChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	entries, err := r.store.GetLeaderboard(ctx, challengeID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*store.LeaderboardEntry{}
	}
	return entries, nil
}

type UserStats struct {
	UserID      uuid.UUID `json:"user_id"`
	ChallengeID uuid.UUID `json:"challenge_id"`
	TotalPoints int       `json:"total_points"`
	TotalTails  int64     `json:"total_tails"`
	ValidTails  int64     `json:"valid_tails"`
	Rank        *int      `json:"rank"`
}

// UserStats reports a member's standing in one challenge. Members who never
// earned a point have zero points and no rank.
func (r *Recorder) UserStats(ctx context.Context, userID, challengeID uuid.UUID) (*UserStats, error) {
	if err := r.requireChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	stats := &UserStats{UserID: userID, ChallengeID: challengeID}

	p, err := r.store.GetParticipation(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		stats.TotalPoints = p.TotalPoints
		stats.Rank = p.Rank
	}

	counts, err := r.store.GetUserTailCounts(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}
	stats.TotalTails = counts.Total
	stats.ValidTails = counts.Valid
	return stats, nil
}

func (r *Recorder) requireChallenge(ctx context.Context, challengeID uuid.UUID) error {
	c, err := r.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrChallengeNotFound
	}
	return nil
}

// UserTails lists a member's tails newest first, optionally scoped to one challenge.
func (r *Recorder) UserTails(ctx context.Context, userID uuid.UUID, challengeID *uuid.UUID) ([]*store.UserTail, error) {
	out, err := r.store.ListUserTails(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*store.UserTail{}
	}
	return out, nil
}
