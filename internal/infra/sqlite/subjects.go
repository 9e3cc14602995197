package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pomociclo/pomociclo/internal/domain"
)

// ─── Subjects ───────────────────────────────────────────────────────────────

// CreateSubject inserts a subject. Used by seeding and tests; subject CRUD
// belongs to another service.
func (d *DB) CreateSubject(ctx context.Context, s domain.Subject) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO subjects (id, user_id, name, time_goal_minutes, time_spent_minutes, sessions_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.Name, s.TimeGoalMinutes, s.TimeSpentMinutes, s.SessionsCount, s.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

// ListSubjects returns the user's subjects in creation order.
func (d *DB) ListSubjects(ctx context.Context, userID string) ([]domain.Subject, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, name, time_goal_minutes, time_spent_minutes, sessions_count, created_at
		 FROM subjects WHERE user_id = ? ORDER BY created_at, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var out []domain.Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// GetSubject returns the user's subject, or domain.ErrNotFound.
func (d *DB) GetSubject(ctx context.Context, userID, subjectID string) (*domain.Subject, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, time_goal_minutes, time_spent_minutes, sessions_count, created_at
		 FROM subjects WHERE id = ? AND user_id = ?`, subjectID, userID,
	)
	s, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %s: %w", subjectID, domain.ErrNotFound)
	}
	return s, err
}

func scanSubject(s scanner) (*domain.Subject, error) {
	var (
		sub       domain.Subject
		createdAt int64
	)
	if err := s.Scan(&sub.ID, &sub.UserID, &sub.Name, &sub.TimeGoalMinutes,
		&sub.TimeSpentMinutes, &sub.SessionsCount, &createdAt); err != nil {
		return nil, err
	}
	sub.CreatedAt = fromUnix(createdAt)
	return &sub, nil
}

// ─── Settings ───────────────────────────────────────────────────────────────

// GetSettings returns the user's timer settings, or the 50/10 defaults.
func (d *DB) GetSettings(ctx context.Context, userID string) (domain.UserSettings, error) {
	st := domain.UserSettings{UserID: userID}
	err := d.db.QueryRowContext(ctx,
		`SELECT block_minutes, break_minutes FROM user_settings WHERE user_id = ?`, userID,
	).Scan(&st.BlockMinutes, &st.BreakMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(userID), nil
	}
	if err != nil {
		return domain.UserSettings{}, fmt.Errorf("get settings: %w", err)
	}
	return st, nil
}

// UpsertSettings stores the user's timer settings.
func (d *DB) UpsertSettings(ctx context.Context, st domain.UserSettings) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, block_minutes, break_minutes) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			block_minutes=excluded.block_minutes,
			break_minutes=excluded.break_minutes`,
		st.UserID, st.BlockMinutes, st.BreakMinutes,
	)
	return err
}
