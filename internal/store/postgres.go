package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.pool.Ping(ctx))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// wrapErr tags connection-level failures as unavailable so callers can answer 503.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return apperr.Wrap(apperr.KindUnavailable, "database unavailable", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- Users ---

const userColumns = `id, external_id, username, display_name, avatar_url, is_admin, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	var avatarURL sql.NullString
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.DisplayName, &avatarURL,
		&u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if avatarURL.Valid {
		u.AvatarURL = avatarURL.String
	}
	return u, nil
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, identity ExternalIdentity) (*User, error) {
	// The outer SELECT cannot see the CTE's insert, so exactly one branch yields a row.
	u, err := scanUser(s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO users (external_id, username, display_name, avatar_url)
			VALUES ($1, $2, $3, NULLIF($4, ''))
			ON CONFLICT (external_id) DO NOTHING
			RETURNING `+userColumns+`
		)
		SELECT `+userColumns+` FROM ins
		UNION ALL
		SELECT `+userColumns+` FROM users WHERE external_id = $1
		LIMIT 1`,
		identity.ExternalID, identity.Username, identity.DisplayName, identity.AvatarURL,
	))
	if err != nil {
		return nil, wrapErr("get or create user", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get user", err)
	}
	return u, nil
}

// --- Challenges ---

const challengeColumns = `id, title, description, start_date, end_date, total_prize_pool,
	first_place_percentage, second_place_percentage, third_place_percentage,
	status, tie_handling, created_by, created_at, updated_at`

func scanChallenge(row pgx.Row) (*Challenge, error) {
	c := &Challenge{}
	err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.StartDate, &c.EndDate, &c.TotalPrizePool,
		&c.FirstPlacePercentage, &c.SecondPlacePercentage, &c.ThirdPlacePercentage,
		&c.Status, &c.TieHandling, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO challenges (title, description, start_date, end_date, total_prize_pool,
			first_place_percentage, second_place_percentage, third_place_percentage,
			status, tie_handling, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		c.Title, c.Description, c.StartDate, c.EndDate, c.TotalPrizePool,
		c.FirstPlacePercentage, c.SecondPlacePercentage, c.ThirdPlacePercentage,
		c.Status, c.TieHandling, c.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return wrapErr("create challenge", err)
}

func (s *PostgresStore) GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	c, err := scanChallenge(s.pool.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get challenge", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChallenges(ctx context.Context, filter ChallengeFilter) ([]*Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.CreatedBy != nil {
		n++
		query += fmt.Sprintf(" AND created_by = $%d", n)
		args = append(args, *filter.CreatedBy)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list challenges", err)
	}
	defer rows.Close()

	var out []*Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateChallengeStatus(ctx context.Context, id uuid.UUID, status ChallengeStatus) (*Challenge, error) {
	c, err := scanChallenge(s.pool.QueryRow(ctx, `
		UPDATE challenges SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+challengeColumns, id, status))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("update challenge status", err)
	}
	return c, nil
}

func (s *PostgresStore) GetChallengeStats(ctx context.Context, id uuid.UUID) (*ChallengeStats, error) {
	stats := &ChallengeStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT b.id), COUNT(DISTINCT t.id), COUNT(DISTINCT t.user_id)
		FROM bets b
		LEFT JOIN tails t ON t.bet_id = b.id
		WHERE b.challenge_id = $1`, id,
	).Scan(&stats.TotalBets, &stats.TotalTails, &stats.UniqueTailers)
	if err != nil {
		return nil, wrapErr("get challenge stats", err)
	}
	return stats, nil
}
