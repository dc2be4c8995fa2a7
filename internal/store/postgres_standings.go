package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- Participation ---

const participationColumns = `id, user_id, challenge_id, total_points, rank, joined_at, last_tail_at`

func scanParticipation(row pgx.Row) (*Participation, error) {
	p := &Participation{}
	if err := row.Scan(&p.ID, &p.UserID, &p.ChallengeID, &p.TotalPoints, &p.Rank,
		&p.JoinedAt, &p.LastTailAt); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) AddParticipationPoints(ctx context.Context, userID, challengeID uuid.UUID, points int, at time.Time) (*Participation, error) {
	p, err := scanParticipation(s.pool.QueryRow(ctx, `
		INSERT INTO challenge_participations (user_id, challenge_id, total_points, joined_at, last_tail_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, challenge_id) DO UPDATE
		SET total_points = challenge_participations.total_points + EXCLUDED.total_points,
			last_tail_at = EXCLUDED.last_tail_at
		RETURNING `+participationColumns,
		userID, challengeID, points, at,
	))
	if err != nil {
		return nil, wrapErr("add participation points", err)
	}
	return p, nil
}

func (s *PostgresStore) GetParticipation(ctx context.Context, userID, challengeID uuid.UUID) (*Participation, error) {
	p, err := scanParticipation(s.pool.QueryRow(ctx, `
		SELECT `+participationColumns+`
		FROM challenge_participations
		WHERE user_id = $1 AND challenge_id = $2`, userID, challengeID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get participation", err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipations(ctx context.Context, challengeID uuid.UUID) ([]*Participation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+participationColumns+`
		FROM challenge_participations
		WHERE challenge_id = $1
		ORDER BY total_points DESC, last_tail_at ASC NULLS LAST, joined_at ASC, id ASC`, challengeID)
	if err != nil {
		return nil, wrapErr("list participations", err)
	}
	defer rows.Close()

	var out []*Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateRanks writes every rank in one transaction so readers never see a
// half-applied ordering.
func (s *PostgresStore) UpdateRanks(ctx context.Context, challengeID uuid.UUID, ranks map[uuid.UUID]int) error {
	if len(ranks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin update ranks", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for id, rank := range ranks {
		batch.Queue(`UPDATE challenge_participations SET rank = $1 WHERE id = $2 AND challenge_id = $3`,
			rank, id, challengeID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapErr("update ranks", err)
	}
	return wrapErr("commit update ranks", tx.Commit(ctx))
}

func (s *PostgresStore) GetLeaderboard(ctx context.Context, challengeID uuid.UUID, limit int) ([]*LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.user_id, u.username, u.display_name, u.avatar_url, p.total_points, p.rank, p.last_tail_at
		FROM challenge_participations p
		JOIN users u ON u.id = p.user_id
		WHERE p.challenge_id = $1
		ORDER BY p.rank ASC NULLS LAST, p.total_points DESC
		LIMIT $2`, challengeID, limit)
	if err != nil {
		return nil, wrapErr("get leaderboard", err)
	}
	defer rows.Close()

	var out []*LeaderboardEntry
	for rows.Next() {
		e := &LeaderboardEntry{}
		var avatarURL sql.NullString
		if err := rows.Scan(&e.UserID, &e.Username, &e.DisplayName, &avatarURL,
			&e.TotalPoints, &e.Rank, &e.LastTailAt); err != nil {
			return nil, err
		}
		if avatarURL.Valid {
			e.AvatarURL = avatarURL.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Notifications ---

func (s *PostgresStore) CreateNotifications(ctx context.Context, ns []*Notification) error {
	if len(ns) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin create notifications", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, n := range ns {
		var data []byte
		if n.Data != nil {
			data, err = json.Marshal(n.Data)
			if err != nil {
				return fmt.Errorf("marshal notification data: %w", err)
			}
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO notifications (user_id, type, title, message, data)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, is_read, created_at`,
			n.UserID, n.Type, n.Title, n.Message, data,
		).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
		if err != nil {
			return wrapErr("create notification", err)
		}
	}
	return wrapErr("commit create notifications", tx.Commit(ctx))
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]*Notification, error) {
	query := `SELECT id, user_id, type, title, message, data, is_read, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += " AND NOT is_read"
	}
	query += " ORDER BY created_at DESC LIMIT $2"

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, wrapErr("list notifications", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var data []byte
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data,
			&n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal notification data: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, wrapErr("mark notification read", err)
	}
	return tag.RowsAffected() > 0, nil
}
