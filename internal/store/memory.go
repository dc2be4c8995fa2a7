package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used when no database URL is configured
// and by service tests. It mirrors the Postgres constraints that the services
// rely on: unique (bet, user) tails and unique (user, challenge) participation.
type MemoryStore struct {
	mu             sync.RWMutex
	users          map[uuid.UUID]*User
	usersByExt     map[string]uuid.UUID
	challenges     map[uuid.UUID]*Challenge
	bets           map[uuid.UUID]*Bet
	tails          map[uuid.UUID]*Tail
	participations map[uuid.UUID]*Participation
	notifications  map[uuid.UUID]*Notification
	snapshots      []*AnalyticsCacheEntry
	now            func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:          make(map[uuid.UUID]*User),
		usersByExt:     make(map[string]uuid.UUID),
		challenges:     make(map[uuid.UUID]*Challenge),
		bets:           make(map[uuid.UUID]*Bet),
		tails:          make(map[uuid.UUID]*Tail),
		participations: make(map[uuid.UUID]*Participation),
		notifications:  make(map[uuid.UUID]*Notification),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close() error                   { return nil }

// Snapshots returns the analytics rows written so far.
func (m *MemoryStore) Snapshots() []*AnalyticsCacheEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*AnalyticsCacheEntry, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// --- Users ---

func (m *MemoryStore) GetOrCreateUser(ctx context.Context, identity ExternalIdentity) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.usersByExt[identity.ExternalID]; ok {
		u := *m.users[id]
		return &u, nil
	}
	now := m.now()
	u := &User{
		ID:          uuid.New(),
		ExternalID:  identity.ExternalID,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.users[u.ID] = u
	m.usersByExt[u.ExternalID] = u.ID
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// SetAdmin flags a user as an administrator.
func (m *MemoryStore) SetAdmin(id uuid.UUID, admin bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsAdmin = admin
	}
}

// --- Challenges ---

func (m *MemoryStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = m.now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.challenges[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListChallenges(ctx context.Context, filter ChallengeFilter) ([]*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Challenge
	for _, c := range m.challenges {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		if filter.CreatedBy != nil && c.CreatedBy != *filter.CreatedBy {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateChallengeStatus(ctx context.Context, id uuid.UUID, status ChallengeStatus) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, nil
	}
	c.Status = status
	c.UpdatedAt = m.now()
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetChallengeStats(ctx context.Context, id uuid.UUID) (*ChallengeStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &ChallengeStats{}
	tailers := map[uuid.UUID]struct{}{}
	for _, b := range m.bets {
		if b.ChallengeID != id {
			continue
		}
		stats.TotalBets++
		for _, t := range m.tails {
			if t.BetID == b.ID {
				stats.TotalTails++
				tailers[t.UserID] = struct{}{}
			}
		}
	}
	stats.UniqueTailers = int64(len(tailers))
	return stats, nil
}

// --- Bets ---

func (m *MemoryStore) CreateBet(ctx context.Context, b *Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now()
	}
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bets[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBet(ctx context.Context, id uuid.UUID) (*Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bets[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func sortBetsNewestFirst(bets []*Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if bets[i].CreatedAt.Equal(bets[j].CreatedAt) {
			return bets[i].ID.String() < bets[j].ID.String()
		}
		return bets[i].CreatedAt.After(bets[j].CreatedAt)
	})
}

func (m *MemoryStore) ListBets(ctx context.Context, filter BetFilter) ([]*Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Bet
	for _, b := range m.bets {
		if filter.ChallengeID != nil && b.ChallengeID != *filter.ChallengeID {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		if filter.OpenAt != nil && b.TailWindowEndsAt.Before(*filter.OpenAt) {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	sortBetsNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListBetsWithChallenge(ctx context.Context) ([]*BetWithChallenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bets := make([]*Bet, 0, len(m.bets))
	for _, b := range m.bets {
		cp := *b
		bets = append(bets, &cp)
	}
	sortBetsNewestFirst(bets)
	out := make([]*BetWithChallenge, 0, len(bets))
	for _, b := range bets {
		bc := &BetWithChallenge{Bet: *b}
		if c, ok := m.challenges[b.ChallengeID]; ok {
			bc.ChallengeTitle = c.Title
			bc.ChallengeDescription = c.Description
			bc.ChallengeStatus = c.Status
		}
		out = append(out, bc)
	}
	return out, nil
}

func (m *MemoryStore) UpdateBetStatus(ctx context.Context, id uuid.UUID, status BetStatus) (*Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bets[id]
	if !ok {
		return nil, nil
	}
	b.Status = status
	b.UpdatedAt = m.now()
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) CloseExpiredBets(ctx context.Context, now time.Time) ([]*Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Bet
	for _, b := range m.bets {
		if b.Status == BetOpen && !b.TailWindowEndsAt.After(now) {
			b.Status = BetClosed
			b.UpdatedAt = now
			cp := *b
			out = append(out, &cp)
		}
	}
	sortBetsNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) GetBetTailCounts(ctx context.Context, betIDs []uuid.UUID) (map[uuid.UUID]TailCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(betIDs))
	for _, id := range betIDs {
		want[id] = true
	}
	out := make(map[uuid.UUID]TailCounts, len(betIDs))
	for _, t := range m.tails {
		if !want[t.BetID] {
			continue
		}
		c := out[t.BetID]
		c.Total++
		if t.IsValid {
			c.Valid++
		}
		out[t.BetID] = c
	}
	return out, nil
}

// --- Tails ---

func (m *MemoryStore) GetTailForUser(ctx context.Context, betID, userID uuid.UUID) (*Tail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tails {
		if t.BetID == betID && t.UserID == userID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateTail(ctx context.Context, t *Tail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tails {
		if existing.BetID == t.BetID && existing.UserID == t.UserID {
			return ErrDuplicate
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = m.now()
	cp := *t
	m.tails[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListUserTails(ctx context.Context, userID uuid.UUID, challengeID *uuid.UUID) ([]*UserTail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*UserTail
	for _, t := range m.tails {
		if t.UserID != userID {
			continue
		}
		b, ok := m.bets[t.BetID]
		if !ok {
			continue
		}
		if challengeID != nil && b.ChallengeID != *challengeID {
			continue
		}
		out = append(out, &UserTail{
			ID:            t.ID,
			BetID:         t.BetID,
			ChallengeID:   b.ChallengeID,
			ClickedAt:     t.ClickedAt,
			PointsAwarded: t.PointsAwarded,
			IsValid:       t.IsValid,
			BetTitle:      b.Title,
			BetSportsbook: b.Sportsbook,
			BetLeague:     b.League,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClickedAt.After(out[j].ClickedAt) })
	return out, nil
}

func (m *MemoryStore) GetUserTailCounts(ctx context.Context, userID, challengeID uuid.UUID) (TailCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c TailCounts
	for _, t := range m.tails {
		if t.UserID != userID {
			continue
		}
		if b, ok := m.bets[t.BetID]; !ok || b.ChallengeID != challengeID {
			continue
		}
		c.Total++
		if t.IsValid {
			c.Valid++
		}
	}
	return c, nil
}

// --- Participation ---

func (m *MemoryStore) findParticipation(userID, challengeID uuid.UUID) *Participation {
	for _, p := range m.participations {
		if p.UserID == userID && p.ChallengeID == challengeID {
			return p
		}
	}
	return nil
}

func copyParticipation(p *Participation) *Participation {
	cp := *p
	if p.Rank != nil {
		r := *p.Rank
		cp.Rank = &r
	}
	if p.LastTailAt != nil {
		t := *p.LastTailAt
		cp.LastTailAt = &t
	}
	return &cp
}

func (m *MemoryStore) AddParticipationPoints(ctx context.Context, userID, challengeID uuid.UUID, points int, at time.Time) (*Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := at
	p := m.findParticipation(userID, challengeID)
	if p == nil {
		p = &Participation{
			ID:          uuid.New(),
			UserID:      userID,
			ChallengeID: challengeID,
			JoinedAt:    at,
		}
		m.participations[p.ID] = p
	}
	p.TotalPoints += points
	p.LastTailAt = &last
	return copyParticipation(p), nil
}

func (m *MemoryStore) GetParticipation(ctx context.Context, userID, challengeID uuid.UUID) (*Participation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.findParticipation(userID, challengeID)
	if p == nil {
		return nil, nil
	}
	return copyParticipation(p), nil
}

func (m *MemoryStore) ListParticipations(ctx context.Context, challengeID uuid.UUID) ([]*Participation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Participation
	for _, p := range m.participations {
		if p.ChallengeID == challengeID {
			out = append(out, copyParticipation(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		switch {
		case a.LastTailAt != nil && b.LastTailAt == nil:
			return true
		case a.LastTailAt == nil && b.LastTailAt != nil:
			return false
		case a.LastTailAt != nil && !a.LastTailAt.Equal(*b.LastTailAt):
			return a.LastTailAt.Before(*b.LastTailAt)
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out, nil
}

func (m *MemoryStore) UpdateRanks(ctx context.Context, challengeID uuid.UUID, ranks map[uuid.UUID]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rank := range ranks {
		p, ok := m.participations[id]
		if !ok || p.ChallengeID != challengeID {
			continue
		}
		r := rank
		p.Rank = &r
	}
	return nil
}

func (m *MemoryStore) GetLeaderboard(ctx context.Context, challengeID uuid.UUID, limit int) ([]*LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*LeaderboardEntry
	for _, p := range m.participations {
		if p.ChallengeID != challengeID {
			continue
		}
		u, ok := m.users[p.UserID]
		if !ok {
			continue
		}
		cp := copyParticipation(p)
		out = append(out, &LeaderboardEntry{
			UserID:      p.UserID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
			TotalPoints: cp.TotalPoints,
			Rank:        cp.Rank,
			LastTailAt:  cp.LastTailAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Rank != nil && b.Rank == nil:
			return true
		case a.Rank == nil && b.Rank != nil:
			return false
		case a.Rank != nil && *a.Rank != *b.Rank:
			return *a.Rank < *b.Rank
		}
		return a.TotalPoints > b.TotalPoints
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Analytics ---

type joinedTail struct {
	tail *Tail
	bet  *Bet
}

func (m *MemoryStore) filteredTails(f AnalyticsFilter) []joinedTail {
	var out []joinedTail
	for _, t := range m.tails {
		b, ok := m.bets[t.BetID]
		if !ok {
			continue
		}
		if f.ChallengeID != nil && b.ChallengeID != *f.ChallengeID {
			continue
		}
		if f.Since != nil && t.ClickedAt.Before(*f.Since) {
			continue
		}
		out = append(out, joinedTail{tail: t, bet: b})
	}
	return out
}

func (m *MemoryStore) CountTails(ctx context.Context, filter AnalyticsFilter) (*TailSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum := &TailSummary{}
	users := map[uuid.UUID]struct{}{}
	for _, jt := range m.filteredTails(filter) {
		sum.Total++
		if jt.tail.IsValid {
			sum.Valid++
		}
		users[jt.tail.UserID] = struct{}{}
	}
	sum.UniqueTailers = int64(len(users))
	return sum, nil
}

func (m *MemoryStore) AverageTailsPerBet(ctx context.Context, filter AnalyticsFilter) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perBet := map[uuid.UUID]int{}
	for _, jt := range m.filteredTails(filter) {
		perBet[jt.bet.ID]++
	}
	if len(perBet) == 0 {
		return 0, nil
	}
	total := 0
	for _, n := range perBet {
		total += n
	}
	return float64(total) / float64(len(perBet)), nil
}

func (m *MemoryStore) topBy(filter AnalyticsFilter, limit int, key func(*Bet) string) []KeyCount {
	counts := map[string]int64{}
	for _, jt := range m.filteredTails(filter) {
		counts[key(jt.bet)]++
	}
	out := make([]KeyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, KeyCount{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) TopSportsbooks(ctx context.Context, filter AnalyticsFilter, limit int) ([]KeyCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topBy(filter, limit, func(b *Bet) string { return string(b.Sportsbook) }), nil
}

func (m *MemoryStore) TopLeagues(ctx context.Context, filter AnalyticsFilter, limit int) ([]KeyCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topBy(filter, limit, func(b *Bet) string { return string(b.League) }), nil
}

func (m *MemoryStore) BetPerformance(ctx context.Context, filter AnalyticsFilter) ([]*BetPerformance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byBet := map[uuid.UUID]*BetPerformance{}
	var bets []*Bet
	for _, b := range m.bets {
		if filter.ChallengeID != nil && b.ChallengeID != *filter.ChallengeID {
			continue
		}
		byBet[b.ID] = &BetPerformance{BetID: b.ID, Title: b.Title}
		bets = append(bets, b)
	}
	for _, t := range m.tails {
		bp, ok := byBet[t.BetID]
		if !ok {
			continue
		}
		if filter.Since != nil && t.ClickedAt.Before(*filter.Since) {
			continue
		}
		if m.bets[t.BetID].WithinWindow(t.ClickedAt) {
			bp.InWindowTails++
		} else {
			bp.OutOfWindowTails++
		}
	}
	sortBetsNewestFirst(bets)
	out := make([]*BetPerformance, 0, len(bets))
	for _, b := range bets {
		out = append(out, byBet[b.ID])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].InWindowTails+out[i].OutOfWindowTails > out[j].InWindowTails+out[j].OutOfWindowTails
	})
	return out, nil
}

func (m *MemoryStore) MinutesToNthTail(ctx context.Context, filter AnalyticsFilter, n int) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perBet := map[uuid.UUID][]*Tail{}
	bets := map[uuid.UUID]*Bet{}
	for _, jt := range m.filteredTails(filter) {
		perBet[jt.bet.ID] = append(perBet[jt.bet.ID], jt.tail)
		bets[jt.bet.ID] = jt.bet
	}
	var out []float64
	for betID, tails := range perBet {
		if len(tails) < n {
			continue
		}
		sort.Slice(tails, func(i, j int) bool {
			if tails[i].ClickedAt.Equal(tails[j].ClickedAt) {
				return tails[i].ID.String() < tails[j].ID.String()
			}
			return tails[i].ClickedAt.Before(tails[j].ClickedAt)
		})
		out = append(out, tails[n-1].ClickedAt.Sub(bets[betID].CreatedAt).Minutes())
	}
	sort.Float64s(out)
	return out, nil
}

func (m *MemoryStore) SaveAnalyticsSnapshot(ctx context.Context, entries []*AnalyticsCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.ID = uuid.New()
		cp := *e
		m.snapshots = append(m.snapshots, &cp)
	}
	return nil
}

// --- Notifications ---

func (m *MemoryStore) CreateNotifications(ctx context.Context, ns []*Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range ns {
		n.ID = uuid.New()
		n.IsRead = false
		n.CreatedAt = m.now()
		cp := *n
		m.notifications[n.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Notification
	for _, n := range m.notifications {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	n.IsRead = true
	return true, nil
}
