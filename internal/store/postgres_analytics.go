package store

import (
	"context"
	"fmt"
)

// analyticsConditions appends the filter to a query over "tails t JOIN bets b".
// The returned fragment starts with " AND" or is empty.
func analyticsConditions(f AnalyticsFilter, args []interface{}) (string, []interface{}) {
	cond := ""
	if f.ChallengeID != nil {
		args = append(args, *f.ChallengeID)
		cond += fmt.Sprintf(" AND b.challenge_id = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		cond += fmt.Sprintf(" AND t.clicked_at >= $%d", len(args))
	}
	return cond, args
}

func (s *PostgresStore) CountTails(ctx context.Context, filter AnalyticsFilter) (*TailSummary, error) {
	cond, args := analyticsConditions(filter, nil)
	sum := &TailSummary{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(t.id), COUNT(t.id) FILTER (WHERE t.is_valid), COUNT(DISTINCT t.user_id)
		FROM tails t
		JOIN bets b ON b.id = t.bet_id
		WHERE 1=1`+cond, args...,
	).Scan(&sum.Total, &sum.Valid, &sum.UniqueTailers)
	if err != nil {
		return nil, wrapErr("count tails", err)
	}
	return sum, nil
}

// AverageTailsPerBet averages only over bets that collected at least one tail.
func (s *PostgresStore) AverageTailsPerBet(ctx context.Context, filter AnalyticsFilter) (float64, error) {
	cond, args := analyticsConditions(filter, nil)
	var avg float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(x.cnt), 0)::float8
		FROM (
			SELECT t.bet_id, COUNT(*) AS cnt
			FROM tails t
			JOIN bets b ON b.id = t.bet_id
			WHERE 1=1`+cond+`
			GROUP BY t.bet_id
		) x`, args...,
	).Scan(&avg)
	if err != nil {
		return 0, wrapErr("average tails per bet", err)
	}
	return avg, nil
}

func (s *PostgresStore) TopSportsbooks(ctx context.Context, filter AnalyticsFilter, limit int) ([]KeyCount, error) {
	return s.topBy(ctx, "b.sportsbook", filter, limit)
}

func (s *PostgresStore) TopLeagues(ctx context.Context, filter AnalyticsFilter, limit int) ([]KeyCount, error) {
	return s.topBy(ctx, "b.league", filter, limit)
}

// topBy groups tails by a bet column. column is always a constant from this file.
func (s *PostgresStore) topBy(ctx context.Context, column string, filter AnalyticsFilter, limit int) ([]KeyCount, error) {
	cond, args := analyticsConditions(filter, nil)
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %[1]s, COUNT(t.id)
		FROM tails t
		JOIN bets b ON b.id = t.bet_id
		WHERE 1=1%[2]s
		GROUP BY %[1]s
		ORDER BY COUNT(t.id) DESC, %[1]s ASC
		LIMIT $%[3]d`, column, cond, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("top "+column, err)
	}
	defer rows.Close()

	var out []KeyCount
	for rows.Next() {
		var kc KeyCount
		if err := rows.Scan(&kc.Key, &kc.Count); err != nil {
			return nil, err
		}
		out = append(out, kc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) BetPerformance(ctx context.Context, filter AnalyticsFilter) ([]*BetPerformance, error) {
	// The time filter belongs in the join so bets without recent tails still report zeros.
	args := []interface{}{}
	join := "LEFT JOIN tails t ON t.bet_id = b.id"
	if filter.Since != nil {
		args = append(args, *filter.Since)
		join += fmt.Sprintf(" AND t.clicked_at >= $%d", len(args))
	}
	where := "WHERE 1=1"
	if filter.ChallengeID != nil {
		args = append(args, *filter.ChallengeID)
		where += fmt.Sprintf(" AND b.challenge_id = $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.title,
			COUNT(t.id) FILTER (WHERE t.clicked_at <= b.tail_window_ends_at),
			COUNT(t.id) FILTER (WHERE t.clicked_at > b.tail_window_ends_at)
		FROM bets b
		`+join+`
		`+where+`
		GROUP BY b.id
		ORDER BY COUNT(t.id) DESC, b.created_at DESC`, args...)
	if err != nil {
		return nil, wrapErr("bet performance", err)
	}
	defer rows.Close()

	var out []*BetPerformance
	for rows.Next() {
		bp := &BetPerformance{}
		if err := rows.Scan(&bp.BetID, &bp.Title, &bp.InWindowTails, &bp.OutOfWindowTails); err != nil {
			return nil, err
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MinutesToNthTail(ctx context.Context, filter AnalyticsFilter, n int) ([]float64, error) {
	cond, args := analyticsConditions(filter, nil)
	args = append(args, n)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT (EXTRACT(EPOCH FROM (x.clicked_at - x.bet_created_at)) / 60.0)::float8
		FROM (
			SELECT t.clicked_at, b.created_at AS bet_created_at,
				ROW_NUMBER() OVER (PARTITION BY t.bet_id ORDER BY t.clicked_at, t.id) AS rn
			FROM tails t
			JOIN bets b ON b.id = t.bet_id
			WHERE 1=1%s
		) x
		WHERE x.rn = $%d`, cond, len(args)), args...)
	if err != nil {
		return nil, wrapErr("minutes to nth tail", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var m float64
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveAnalyticsSnapshot(ctx context.Context, entries []*AnalyticsCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin analytics snapshot", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, e := range entries {
		err := tx.QueryRow(ctx, `
			INSERT INTO analytics_cache (challenge_id, metric, time_range, value, calculated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			e.ChallengeID, e.Metric, e.TimeRange, e.Value, e.CalculatedAt,
		).Scan(&e.ID)
		if err != nil {
			return wrapErr("save analytics snapshot", err)
		}
	}
	return wrapErr("commit analytics snapshot", tx.Commit(ctx))
}
