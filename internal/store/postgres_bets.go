package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Bets ---

const betColumns = `b.id, b.challenge_id, b.title, b.caption, b.tail_link, b.image_url,
	b.sportsbook, b.league, b.tail_window_minutes, b.tail_window_ends_at,
	b.status, b.posted_by, b.created_at, b.updated_at`

func scanBetInto(b *Bet, row pgx.Row, extra ...interface{}) error {
	var caption, imageURL sql.NullString
	dest := []interface{}{
		&b.ID, &b.ChallengeID, &b.Title, &caption, &b.TailLink, &imageURL,
		&b.Sportsbook, &b.League, &b.TailWindowMinutes, &b.TailWindowEndsAt,
		&b.Status, &b.PostedBy, &b.CreatedAt, &b.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	if caption.Valid {
		b.Caption = caption.String
	}
	if imageURL.Valid {
		b.ImageURL = imageURL.String
	}
	return nil
}

func scanBet(row pgx.Row) (*Bet, error) {
	b := &Bet{}
	if err := scanBetInto(b, row); err != nil {
		return nil, err
	}
	return b, nil
}

func collectBets(rows pgx.Rows) ([]*Bet, error) {
	defer rows.Close()
	var out []*Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateBet(ctx context.Context, b *Bet) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bets (challenge_id, title, caption, tail_link, image_url, sportsbook, league,
			tail_window_minutes, tail_window_ends_at, status, posted_by, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id, updated_at`,
		b.ChallengeID, b.Title, b.Caption, b.TailLink, b.ImageURL, b.Sportsbook, b.League,
		b.TailWindowMinutes, b.TailWindowEndsAt, b.Status, b.PostedBy, b.CreatedAt,
	).Scan(&b.ID, &b.UpdatedAt)
	return wrapErr("create bet", err)
}

func (s *PostgresStore) GetBet(ctx context.Context, id uuid.UUID) (*Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx, `SELECT `+betColumns+` FROM bets b WHERE b.id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get bet", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBets(ctx context.Context, filter BetFilter) ([]*Bet, error) {
	query := `SELECT ` + betColumns + ` FROM bets b WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.ChallengeID != nil {
		n++
		query += fmt.Sprintf(" AND b.challenge_id = $%d", n)
		args = append(args, *filter.ChallengeID)
	}
	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND b.status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.OpenAt != nil {
		n++
		query += fmt.Sprintf(" AND b.tail_window_ends_at >= $%d", n)
		args = append(args, *filter.OpenAt)
	}

	query += " ORDER BY b.created_at DESC"

	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list bets", err)
	}
	return collectBets(rows)
}

func (s *PostgresStore) ListBetsWithChallenge(ctx context.Context) ([]*BetWithChallenge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+betColumns+`, c.title, c.description, c.status
		FROM bets b
		LEFT JOIN challenges c ON c.id = b.challenge_id
		ORDER BY b.created_at DESC`)
	if err != nil {
		return nil, wrapErr("list bets with challenge", err)
	}
	defer rows.Close()

	var out []*BetWithChallenge
	for rows.Next() {
		bc := &BetWithChallenge{}
		var title, description, status sql.NullString
		if err := scanBetInto(&bc.Bet, rows, &title, &description, &status); err != nil {
			return nil, err
		}
		bc.ChallengeTitle = title.String
		bc.ChallengeDescription = description.String
		bc.ChallengeStatus = ChallengeStatus(status.String)
		out = append(out, bc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateBetStatus(ctx context.Context, id uuid.UUID, status BetStatus) (*Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx, `
		UPDATE bets b SET status = $2, updated_at = NOW()
		WHERE b.id = $1
		RETURNING `+betColumns, id, status))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("update bet status", err)
	}
	return b, nil
}

func (s *PostgresStore) CloseExpiredBets(ctx context.Context, now time.Time) ([]*Bet, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE bets b SET status = 'closed', updated_at = $1
		WHERE b.status = 'open' AND b.tail_window_ends_at <= $1
		RETURNING `+betColumns, now)
	if err != nil {
		return nil, wrapErr("close expired bets", err)
	}
	return collectBets(rows)
}

func (s *PostgresStore) GetBetTailCounts(ctx context.Context, betIDs []uuid.UUID) (map[uuid.UUID]TailCounts, error) {
	out := make(map[uuid.UUID]TailCounts, len(betIDs))
	if len(betIDs) == 0 {
		return out, nil
	}
	ids := make([]string, len(betIDs))
	for i, id := range betIDs {
		ids[i] = id.String()
	}

	rows, err := s.pool.Query(ctx, `
		SELECT bet_id, COUNT(*), COUNT(*) FILTER (WHERE is_valid)
		FROM tails
		WHERE bet_id = ANY($1::uuid[])
		GROUP BY bet_id`, ids)
	if err != nil {
		return nil, wrapErr("get bet tail counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var c TailCounts
		if err := rows.Scan(&id, &c.Total, &c.Valid); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}

// --- Tails ---

const tailColumns = `id, bet_id, user_id, clicked_at, points_awarded, is_valid, ip_address, user_agent, created_at`

func scanTail(row pgx.Row) (*Tail, error) {
	t := &Tail{}
	var ip, ua sql.NullString
	if err := row.Scan(&t.ID, &t.BetID, &t.UserID, &t.ClickedAt, &t.PointsAwarded,
		&t.IsValid, &ip, &ua, &t.CreatedAt); err != nil {
		return nil, err
	}
	if ip.Valid {
		t.IPAddress = ip.String
	}
	if ua.Valid {
		t.UserAgent = ua.String
	}
	return t, nil
}

func (s *PostgresStore) GetTailForUser(ctx context.Context, betID, userID uuid.UUID) (*Tail, error) {
	t, err := scanTail(s.pool.QueryRow(ctx,
		`SELECT `+tailColumns+` FROM tails WHERE bet_id = $1 AND user_id = $2`, betID, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get tail", err)
	}
	return t, nil
}

func (s *PostgresStore) CreateTail(ctx context.Context, t *Tail) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tails (bet_id, user_id, clicked_at, points_awarded, is_valid, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		RETURNING id, created_at`,
		t.BetID, t.UserID, t.ClickedAt, t.PointsAwarded, t.IsValid, t.IPAddress, t.UserAgent,
	).Scan(&t.ID, &t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return wrapErr("create tail", err)
}

func (s *PostgresStore) ListUserTails(ctx context.Context, userID uuid.UUID, challengeID *uuid.UUID) ([]*UserTail, error) {
	query := `
		SELECT t.id, t.bet_id, b.challenge_id, t.clicked_at, t.points_awarded, t.is_valid,
			b.title, b.sportsbook, b.league
		FROM tails t
		JOIN bets b ON b.id = t.bet_id
		WHERE t.user_id = $1`
	args := []interface{}{userID}
	if challengeID != nil {
		query += " AND b.challenge_id = $2"
		args = append(args, *challengeID)
	}
	query += " ORDER BY t.clicked_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list user tails", err)
	}
	defer rows.Close()

	var out []*UserTail
	for rows.Next() {
		ut := &UserTail{}
		if err := rows.Scan(&ut.ID, &ut.BetID, &ut.ChallengeID, &ut.ClickedAt, &ut.PointsAwarded,
			&ut.IsValid, &ut.BetTitle, &ut.BetSportsbook, &ut.BetLeague); err != nil {
			return nil, err
		}
		out = append(out, ut)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUserTailCounts(ctx context.Context, userID, challengeID uuid.UUID) (TailCounts, error) {
	var c TailCounts
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE t.is_valid)
		FROM tails t
		JOIN bets b ON b.id = t.bet_id
		WHERE t.user_id = $1 AND b.challenge_id = $2`, userID, challengeID,
	).Scan(&c.Total, &c.Valid)
	if err != nil {
		return TailCounts{}, wrapErr("get user tail counts", err)
	}
	return c, nil
}
