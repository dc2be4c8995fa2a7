package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicate is returned by inserts that hit a unique constraint.
var ErrDuplicate = errors.New("store: duplicate record")

type ChallengeStatus string

const (
	ChallengeDraft    ChallengeStatus = "draft"
	ChallengeActive   ChallengeStatus = "active"
	ChallengeEnded    ChallengeStatus = "ended"
	ChallengeArchived ChallengeStatus = "archived"
)

type TieHandling string

const (
	TieSplit      TieHandling = "split"
	TieTiebreaker TieHandling = "tiebreaker"
)

func (t TieHandling) Valid() bool {
	return t == TieSplit || t == TieTiebreaker
}

type BetStatus string

const (
	BetOpen   BetStatus = "open"
	BetClosed BetStatus = "closed"
	BetHidden BetStatus = "hidden"
)

func (s BetStatus) Valid() bool {
	switch s {
	case BetOpen, BetClosed, BetHidden:
		return true
	}
	return false
}

type Sportsbook string

const (
	SportsbookPrizePicks Sportsbook = "prizepicks"
	SportsbookUnderdog   Sportsbook = "underdog"
	SportsbookDraftKings Sportsbook = "draftkings"
	SportsbookFanDuel    Sportsbook = "fanduel"
	SportsbookBetMGM     Sportsbook = "betmgm"
	SportsbookOther      Sportsbook = "other"
)

var Sportsbooks = []Sportsbook{
	SportsbookPrizePicks, SportsbookUnderdog, SportsbookDraftKings,
	SportsbookFanDuel, SportsbookBetMGM, SportsbookOther,
}

func (s Sportsbook) Valid() bool {
	for _, v := range Sportsbooks {
		if v == s {
			return true
		}
	}
	return false
}

type League string

const (
	LeagueNFL    League = "nfl"
	LeagueNBA    League = "nba"
	LeagueNHL    League = "nhl"
	LeagueMLB    League = "mlb"
	LeagueNCAAF  League = "ncaaf"
	LeagueNCAAB  League = "ncaab"
	LeagueSoccer League = "soccer"
	LeagueTennis League = "tennis"
	LeagueGolf   League = "golf"
	LeagueOther  League = "other"
)

var Leagues = []League{
	LeagueNFL, LeagueNBA, LeagueNHL, LeagueMLB, LeagueNCAAF,
	LeagueNCAAB, LeagueSoccer, LeagueTennis, LeagueGolf, LeagueOther,
}

func (l League) Valid() bool {
	for _, v := range Leagues {
		if v == l {
			return true
		}
	}
	return false
}

// --- Users ---

type User struct {
	ID          uuid.UUID `json:"id"`
	ExternalID  string    `json:"external_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExternalIdentity is the identity the hosting platform injects into each request.
type ExternalIdentity struct {
	ExternalID  string
	Username    string
	DisplayName string
	AvatarURL   string
}

// --- Challenges ---

type Challenge struct {
	ID                    uuid.UUID       `json:"id"`
	Title                 string          `json:"title"`
	Description           string          `json:"description"`
	StartDate             time.Time       `json:"start_date"`
	EndDate               time.Time       `json:"end_date"`
	TotalPrizePool        float64         `json:"total_prize_pool"`
	FirstPlacePercentage  int             `json:"first_place_percentage"`
	SecondPlacePercentage int             `json:"second_place_percentage"`
	ThirdPlacePercentage  int             `json:"third_place_percentage"`
	Status                ChallengeStatus `json:"status"`
	TieHandling           TieHandling     `json:"tie_handling"`
	CreatedBy             uuid.UUID       `json:"created_by"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (c *Challenge) Percentages() [3]int {
	return [3]int{c.FirstPlacePercentage, c.SecondPlacePercentage, c.ThirdPlacePercentage}
}

type ChallengeFilter struct {
	Status    *ChallengeStatus
	CreatedBy *uuid.UUID
	Limit     int
}

type ChallengeStats struct {
	TotalBets     int64 `json:"total_bets"`
	TotalTails    int64 `json:"total_tails"`
	UniqueTailers int64 `json:"unique_tailers"`
}

type ChallengeWithStats struct {
	Challenge
	ChallengeStats
}

// --- Bets ---

type Bet struct {
	ID                uuid.UUID  `json:"id"`
	ChallengeID       uuid.UUID  `json:"challenge_id"`
	Title             string     `json:"title"`
	Caption           string     `json:"caption,omitempty"`
	TailLink          string     `json:"tail_link"`
	ImageURL          string     `json:"image_url,omitempty"`
	Sportsbook        Sportsbook `json:"sportsbook"`
	League            League     `json:"league"`
	TailWindowMinutes int        `json:"tail_window_minutes"`
	TailWindowEndsAt  time.Time  `json:"tail_window_ends_at"`
	Status            BetStatus  `json:"status"`
	PostedBy          uuid.UUID  `json:"posted_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// WithinWindow reports whether a click at t still earns points.
func (b *Bet) WithinWindow(t time.Time) bool {
	return !t.After(b.TailWindowEndsAt)
}

type BetFilter struct {
	ChallengeID *uuid.UUID
	Status      *BetStatus
	// OpenAt keeps only bets whose tail window has not ended at that instant.
	OpenAt *time.Time
	Limit  int
}

type BetWithChallenge struct {
	Bet
	ChallengeTitle       string          `json:"challenge_title"`
	ChallengeDescription string          `json:"challenge_description"`
	ChallengeStatus      ChallengeStatus `json:"challenge_status"`
}

type TailCounts struct {
	Total int64 `json:"total_tails"`
	Valid int64 `json:"valid_tails"`
}

// --- Tails ---

type Tail struct {
	ID            uuid.UUID `json:"id"`
	BetID         uuid.UUID `json:"bet_id"`
	UserID        uuid.UUID `json:"user_id"`
	ClickedAt     time.Time `json:"clicked_at"`
	PointsAwarded int       `json:"points_awarded"`
	IsValid       bool      `json:"is_valid"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UserTail is a tail joined with the bet it was placed on.
type UserTail struct {
	ID            uuid.UUID  `json:"id"`
	BetID         uuid.UUID  `json:"bet_id"`
	ChallengeID   uuid.UUID  `json:"challenge_id"`
	ClickedAt     time.Time  `json:"clicked_at"`
	PointsAwarded int        `json:"points_awarded"`
	IsValid       bool       `json:"is_valid"`
	BetTitle      string     `json:"bet_title"`
	BetSportsbook Sportsbook `json:"bet_sportsbook"`
	BetLeague     League     `json:"bet_league"`
}

// --- Participation ---

type Participation struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	ChallengeID uuid.UUID  `json:"challenge_id"`
	TotalPoints int        `json:"total_points"`
	Rank        *int       `json:"rank,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
	LastTailAt  *time.Time `json:"last_tail_at,omitempty"`
}

type LeaderboardEntry struct {
	UserID      uuid.UUID  `json:"user_id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	TotalPoints int        `json:"total_points"`
	Rank        *int       `json:"rank"`
	LastTailAt  *time.Time `json:"last_tail_at,omitempty"`
}

// --- Analytics ---

// AnalyticsFilter scopes aggregate queries. Nil fields mean "everything".
type AnalyticsFilter struct {
	ChallengeID *uuid.UUID
	Since       *time.Time
}

type TailSummary struct {
	Total         int64 `json:"total"`
	Valid         int64 `json:"valid"`
	UniqueTailers int64 `json:"unique_tailers"`
}

type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type BetPerformance struct {
	BetID            uuid.UUID `json:"bet_id"`
	Title            string    `json:"title"`
	InWindowTails    int64     `json:"in_window_tails"`
	OutOfWindowTails int64     `json:"out_of_window_tails"`
}

type AnalyticsCacheEntry struct {
	ID           uuid.UUID  `json:"id"`
	ChallengeID  *uuid.UUID `json:"challenge_id,omitempty"`
	Metric       string     `json:"metric"`
	TimeRange    string     `json:"time_range"`
	Value        float64    `json:"value"`
	CalculatedAt time.Time  `json:"calculated_at"`
}

// --- Notifications ---

type NotificationType string

const (
	NotificationNewBet           NotificationType = "new_bet"
	NotificationTailReminder     NotificationType = "tail_reminder"
	NotificationWinnersAnnounced NotificationType = "winners_announced"
)

type Notification struct {
	ID        uuid.UUID              `json:"id"`
	UserID    uuid.UUID              `json:"user_id"`
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsRead    bool                   `json:"is_read"`
	CreatedAt time.Time              `json:"created_at"`
}

type Store interface {
	// Users
	GetOrCreateUser(ctx context.Context, identity ExternalIdentity) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// Challenges
	CreateChallenge(ctx context.Context, c *Challenge) error
	GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error)
	ListChallenges(ctx context.Context, filter ChallengeFilter) ([]*Challenge, error)
	UpdateChallengeStatus(ctx context.Context, id uuid.UUID, status ChallengeStatus) (*Challenge, error)
	GetChallengeStats(ctx context.Context, id uuid.UUID) (*ChallengeStats, error)

	// Bets
	CreateBet(ctx context.Context, b *Bet) error
	GetBet(ctx context.Context, id uuid.UUID) (*Bet, error)
	ListBets(ctx context.Context, filter BetFilter) ([]*Bet, error)
	ListBetsWithChallenge(ctx context.Context) ([]*BetWithChallenge, error)
	UpdateBetStatus(ctx context.Context, id uuid.UUID, status BetStatus) (*Bet, error)
	CloseExpiredBets(ctx context.Context, now time.Time) ([]*Bet, error)
	GetBetTailCounts(ctx context.Context, betIDs []uuid.UUID) (map[uuid.UUID]TailCounts, error)

	// Tails
	GetTailForUser(ctx context.Context, betID, userID uuid.UUID) (*Tail, error)
	CreateTail(ctx context.Context, t *Tail) error
	ListUserTails(ctx context.Context, userID uuid.UUID, challengeID *uuid.UUID) ([]*UserTail, error)
	GetUserTailCounts(ctx context.Context, userID, challengeID uuid.UUID) (TailCounts, error)

	// Participation
	AddParticipationPoints(ctx context.Context, userID, challengeID uuid.UUID, points int, at time.Time) (*Participation, error)
	GetParticipation(ctx context.Context, userID, challengeID uuid.UUID) (*Participation, error)
	ListParticipations(ctx context.Context, challengeID uuid.UUID) ([]*Participation, error)
	UpdateRanks(ctx context.Context, challengeID uuid.UUID, ranks map[uuid.UUID]int) error
	GetLeaderboard(ctx context.Context, challengeID uuid.UUID, limit int) ([]*LeaderboardEntry, error)

	// Analytics
	CountTails(ctx context.Context, filter AnalyticsFilter) (*TailSummary, error)
	AverageTailsPerBet(ctx context.Context, filter AnalyticsFilter) (float64, error)
	TopSportsbooks(ctx context.Context, filter AnalyticsFilter, limit int) ([]KeyCount, error)
	TopLeagues(ctx context.Context, filter AnalyticsFilter, limit int) ([]KeyCount, error)
	BetPerformance(ctx context.Context, filter AnalyticsFilter) ([]*BetPerformance, error)
	// MinutesToNthTail returns, for each bet that collected at least n tails,
	// the minutes between posting and its nth tail.
	MinutesToNthTail(ctx context.Context, filter AnalyticsFilter, n int) ([]float64, error)
	SaveAnalyticsSnapshot(ctx context.Context, entries []*AnalyticsCacheEntry) error

	// Notifications
	CreateNotifications(ctx context.Context, ns []*Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
