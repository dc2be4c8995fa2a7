package hermes

import "time"

type TailRecordedEvent struct {
	TailID        string    `json:"tail_id"`
	BetID         string    `json:"bet_id"`
	ChallengeID   string    `json:"challenge_id"`
	UserID        string    `json:"user_id"`
	PointsAwarded int       `json:"points_awarded"`
	WithinWindow  bool      `json:"within_window"`
	ClickedAt     time.Time `json:"clicked_at"`
}

type RanksRecalculatedEvent struct {
	ChallengeID  string    `json:"challenge_id"`
	Participants int       `json:"participants"`
	At           time.Time `json:"at"`
}

type ChallengeStatusEvent struct {
	ChallengeID string `json:"challenge_id"`
	Status      string `json:"status"`
	ChangedBy   string `json:"changed_by"`
}

type WinnerEntry struct {
	UserID string  `json:"user_id"`
	Place  int     `json:"place"`
	Points int     `json:"points"`
	Amount float64 `json:"amount"`
}

type ChallengeEndedEvent struct {
	ChallengeID string        `json:"challenge_id"`
	PrizePool   float64       `json:"prize_pool"`
	Winners     []WinnerEntry `json:"winners"`
}

type BetCreatedEvent struct {
	BetID            string    `json:"bet_id"`
	ChallengeID      string    `json:"challenge_id"`
	Title            string    `json:"title"`
	PostedBy         string    `json:"posted_by"`
	TailWindowEndsAt time.Time `json:"tail_window_ends_at"`
}

type BetClosedEvent struct {
	BetID       string    `json:"bet_id"`
	ChallengeID string    `json:"challenge_id"`
	ClosedAt    time.Time `json:"closed_at"`
}

type NotificationEvent struct {
	NotificationID string `json:"notification_id"`
	UserID         string `json:"user_id"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}
