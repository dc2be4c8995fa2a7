// Package notify stores in-app notifications and fans them out over hermes.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/hermes"
	"github.com/MikeSquared-Agency/Tailgate/internal/scoring"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

const DefaultListLimit = 50

var ErrNotificationNotFound = apperr.NotFound("Notification not found")

type Notifier struct {
	store  store.Store
	hermes hermes.Client
	logger *slog.Logger
}

func NewNotifier(s store.Store, h hermes.Client, logger *slog.Logger) *Notifier {
	return &Notifier{store: s, hermes: h, logger: logger}
}

// NewBet tells every recipient except the poster that a bet is open for tailing.
func (n *Notifier) NewBet(ctx context.Context, c *store.Challenge, b *store.Bet, recipients []uuid.UUID) error {
	var ns []*store.Notification
	for _, uid := range recipients {
		if uid == b.PostedBy {
			continue
		}
		ns = append(ns, &store.Notification{
			UserID:  uid,
			Type:    store.NotificationNewBet,
			Title:   "New bet in " + c.Title,
			Message: fmt.Sprintf("%s is open for tailing for %d minutes", b.Title, b.TailWindowMinutes),
			Data: map[string]interface{}{
				"challenge_id":        c.ID.String(),
				"bet_id":              b.ID.String(),
				"tail_window_ends_at": b.TailWindowEndsAt,
			},
		})
	}
	return n.deliver(ctx, ns)
}

// WinnersAnnounced notifies each paid participant of their place and prize.
func (n *Notifier) WinnersAnnounced(ctx context.Context, c *store.Challenge, payouts []scoring.Payout) error {
	ns := make([]*store.Notification, 0, len(payouts))
	for _, p := range payouts {
		ns = append(ns, &store.Notification{
			UserID:  p.UserID,
			Type:    store.NotificationWinnersAnnounced,
			Title:   c.Title + " winners announced",
			Message: fmt.Sprintf("You finished %s with %d points and won $%.2f", ordinal(p.Place), p.Points, p.Amount),
			Data: map[string]interface{}{
				"challenge_id": c.ID.String(),
				"place":        p.Place,
				"amount":       p.Amount,
			},
		})
	}
	return n.deliver(ctx, ns)
}

func (n *Notifier) deliver(ctx context.Context, ns []*store.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	if err := n.store.CreateNotifications(ctx, ns); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	if n.hermes != nil {
		for _, nt := range ns {
			_ = n.hermes.Publish(hermes.SubjectNotify(nt.UserID.String()), hermes.NotificationEvent{
				NotificationID: nt.ID.String(),
				UserID:         nt.UserID.String(),
				Type:           string(nt.Type),
				Title:          nt.Title,
				Message:        nt.Message,
			})
		}
	}
	n.logger.Debug("notifications delivered", "count", len(ns), "type", ns[0].Type)
	return nil
}

func (n *Notifier) List(ctx context.Context, userID uuid.UUID, unreadOnly bool) ([]*store.Notification, error) {
	out, err := n.store.ListNotifications(ctx, userID, unreadOnly, DefaultListLimit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*store.Notification{}
	}
	return out, nil
}

func (n *Notifier) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	ok, err := n.store.MarkNotificationRead(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

func ordinal(n int) string {
	suffix := "th"
	if n%100 < 11 || n%100 > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
