package challenges

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/hermes"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

type CreateBetInput struct {
	ChallengeID       uuid.UUID `json:"challenge_id"`
	Title             string    `json:"title"`
	Caption           string    `json:"caption,omitempty"`
	TailLink          string    `json:"tail_link"`
	ImageURL          string    `json:"image_url,omitempty"`
	Sportsbook        string    `json:"sportsbook"`
	League            string    `json:"league"`
	TailWindowMinutes int       `json:"tail_window_minutes,omitempty"`
}

// BetView is a bet with its tail counts and window state as of the read.
type BetView struct {
	store.Bet
	ChallengeTitle       string                `json:"challenge_title,omitempty"`
	ChallengeDescription string                `json:"challenge_description,omitempty"`
	ChallengeStatus      store.ChallengeStatus `json:"challenge_status,omitempty"`
	TotalTails           int64                 `json:"total_tails"`
	ValidTails           int64                 `json:"valid_tails"`
	TimeRemaining        int                   `json:"time_remaining"`
	IsExpired            bool                  `json:"is_expired"`
}

func newBetView(b store.Bet, counts store.TailCounts, now time.Time) *BetView {
	v := &BetView{
		Bet:        b,
		TotalTails: counts.Total,
		ValidTails: counts.Valid,
		IsExpired:  b.TailWindowEndsAt.Before(now),
	}
	if !v.IsExpired {
		v.TimeRemaining = int(b.TailWindowEndsAt.Sub(now) / time.Minute)
	}
	return v
}

func validTailLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CreateBet posts a bet into an active challenge. The tail window end is
// fixed here as creation time plus the window and never moves afterwards.
func (s *Service) CreateBet(ctx context.Context, poster uuid.UUID, in CreateBetInput) (*store.Bet, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CreateBet",
		trace.WithAttributes(attribute.String("challenge_id", in.ChallengeID.String())))
	defer span.End()

	c, err := s.store.GetChallenge(ctx, in.ChallengeID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrChallengeNotFound
	}
	if c.Status != store.ChallengeActive {
		return nil, ErrChallengeNotActive
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.Validation("Title is required")
	}
	link := strings.TrimSpace(in.TailLink)
	if link == "" {
		return nil, apperr.Validation("Tail link is required")
	}
	if !validTailLink(link) {
		return nil, apperr.Validation("Tail link must be an http(s) URL")
	}
	sportsbook := store.Sportsbook(in.Sportsbook)
	if !sportsbook.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "Unknown sportsbook %q", in.Sportsbook)
	}
	league := store.League(in.League)
	if !league.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "Unknown league %q", in.League)
	}
	minutes := in.TailWindowMinutes
	if minutes == 0 {
		minutes = s.cfg.DefaultWindowMinutes
	}
	if minutes < 1 || minutes > s.cfg.MaxWindowMinutes {
		return nil, apperr.Newf(apperr.KindValidation, "Tail window must be between 1 and %d minutes", s.cfg.MaxWindowMinutes)
	}

	now := s.now().UTC()
	b := &store.Bet{
		ChallengeID:       c.ID,
		Title:             title,
		Caption:           in.Caption,
		TailLink:          link,
		ImageURL:          in.ImageURL,
		Sportsbook:        sportsbook,
		League:            league,
		TailWindowMinutes: minutes,
		TailWindowEndsAt:  now.Add(time.Duration(minutes) * time.Minute),
		Status:            store.BetOpen,
		PostedBy:          poster,
		CreatedAt:         now,
	}
	if err := s.store.CreateBet(ctx, b); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create bet: %w", err)
	}

	if s.hermes != nil {
		_ = s.hermes.Publish(hermes.SubjectBetCreated(b.ID.String()), hermes.BetCreatedEvent{
			BetID:            b.ID.String(),
			ChallengeID:      c.ID.String(),
			Title:            b.Title,
			PostedBy:         poster.String(),
			TailWindowEndsAt: b.TailWindowEndsAt,
		})
	}

	s.notifyParticipants(ctx, c, b)

	s.logger.Info("bet created", "bet_id", b.ID, "challenge_id", c.ID, "window_minutes", minutes)
	return b, nil
}

func (s *Service) notifyParticipants(ctx context.Context, c *store.Challenge, b *store.Bet) {
	ps, err := s.store.ListParticipations(ctx, c.ID)
	if err != nil {
		s.logger.Warn("failed to load participants for bet notification", "bet_id", b.ID, "error", err)
		return
	}
	recipients := make([]uuid.UUID, 0, len(ps))
	for _, p := range ps {
		recipients = append(recipients, p.UserID)
	}
	if err := s.notifier.NewBet(ctx, c, b, recipients); err != nil {
		s.logger.Warn("failed to notify participants", "bet_id", b.ID, "error", err)
	}
}

func (s *Service) GetBet(ctx context.Context, id uuid.UUID) (*BetView, error) {
	b, err := s.store.GetBet(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBetNotFound
	}
	views, err := s.withStats(ctx, []*store.Bet{b})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// ListBets returns every bet in the challenge, newest first.
func (s *Service) ListBets(ctx context.Context, challengeID uuid.UUID) ([]*BetView, error) {
	bets, err := s.store.ListBets(ctx, store.BetFilter{ChallengeID: &challengeID})
	if err != nil {
		return nil, err
	}
	return s.withStats(ctx, bets)
}

// ListActiveBets returns open bets whose tail window has not yet ended.
func (s *Service) ListActiveBets(ctx context.Context, challengeID uuid.UUID) ([]*BetView, error) {
	open := store.BetOpen
	now := s.now().UTC()
	bets, err := s.store.ListBets(ctx, store.BetFilter{ChallengeID: &challengeID, Status: &open, OpenAt: &now})
	if err != nil {
		return nil, err
	}
	return s.withStats(ctx, bets)
}

// ListAllBets returns bets across all challenges with their challenge's title and status.
func (s *Service) ListAllBets(ctx context.Context) ([]*BetView, error) {
	rows, err := s.store.ListBetsWithChallenge(ctx)
	if err != nil {
		return nil, err
	}
	bets := make([]*store.Bet, len(rows))
	for i := range rows {
		bets[i] = &rows[i].Bet
	}
	views, err := s.withStats(ctx, bets)
	if err != nil {
		return nil, err
	}
	for i, v := range views {
		v.ChallengeTitle = rows[i].ChallengeTitle
		v.ChallengeDescription = rows[i].ChallengeDescription
		v.ChallengeStatus = rows[i].ChallengeStatus
	}
	return views, nil
}

func (s *Service) withStats(ctx context.Context, bets []*store.Bet) ([]*BetView, error) {
	ids := make([]uuid.UUID, len(bets))
	for i, b := range bets {
		ids[i] = b.ID
	}
	counts, err := s.store.GetBetTailCounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := make([]*BetView, len(bets))
	for i, b := range bets {
		out[i] = newBetView(*b, counts[b.ID], now)
	}
	return out, nil
}

// UpdateBetStatus lets the poster or an admin open, close or hide a bet.
func (s *Service) UpdateBetStatus(ctx context.Context, id uuid.UUID, user *store.User, status string) (*store.Bet, error) {
	next := store.BetStatus(status)
	if !next.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "Unknown bet status %q", status)
	}
	b, err := s.store.GetBet(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBetNotFound
	}
	if b.PostedBy != user.ID && !user.IsAdmin {
		return nil, ErrNotPoster
	}

	updated, err := s.store.UpdateBetStatus(ctx, id, next)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrBetNotFound
	}
	if next == store.BetClosed && b.Status != store.BetClosed {
		s.publishClosed(updated)
	}
	s.logger.Info("bet status updated", "bet_id", id, "status", next, "by", user.ID)
	return updated, nil
}

// CloseExpiredBets closes every open bet whose window has ended and returns them.
func (s *Service) CloseExpiredBets(ctx context.Context) ([]*store.Bet, error) {
	ctx, span := s.tracer.Start(ctx, "Service.CloseExpiredBets")
	defer span.End()

	closed, err := s.store.CloseExpiredBets(ctx, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.BetsClosed(len(closed))
	for _, b := range closed {
		s.publishClosed(b)
	}
	if len(closed) > 0 {
		s.logger.Info("closed expired bets", "count", len(closed))
	}
	if closed == nil {
		closed = []*store.Bet{}
	}
	return closed, nil
}

func (s *Service) publishClosed(b *store.Bet) {
	if s.hermes == nil {
		return
	}
	_ = s.hermes.Publish(hermes.SubjectBetClosed(b.ID.String()), hermes.BetClosedEvent{
		BetID:       b.ID.String(),
		ChallengeID: b.ChallengeID.String(),
		ClosedAt:    b.UpdatedAt,
	})
}
