package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pomociclo/pomociclo/internal/domain"
)

// ─── Study Sessions ─────────────────────────────────────────────────────────

const sessionColumns = `id, user_id, subject_id, start_time, end_time, raw_duration,
	counted_duration, completed, skipped, coins_earned, xp_earned`

// CreateSession inserts a new session. Open sessions have a nil EndTime.
func (d *DB) CreateSession(ctx context.Context, s domain.StudySession) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.SubjectID, s.StartTime.Unix(), nullableUnix(s.EndTime),
		s.RawDuration, s.CountedDuration, s.Completed, s.Skipped, s.CoinsEarned, s.XPEarned,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns the user's session, or domain.ErrNotFound.
func (d *DB) GetSession(ctx context.Context, userID, sessionID string) (*domain.StudySession, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? AND user_id = ?`,
		sessionID, userID,
	)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListCompletedSessions returns completed sessions whose counted interval
// [start, start+counted) overlaps [f.From, f.To).
func (d *DB) ListCompletedSessions(ctx context.Context, f domain.SessionFilter) ([]domain.StudySession, error) {
	var (
		where = []string{
			"user_id = ?",
			"completed = 1",
			"end_time IS NOT NULL",
			"start_time < ?",
			"start_time + counted_duration * 60 > ?",
		}
		args = []any{f.UserID, f.To.Unix(), f.From.Unix()}
	)
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.ExcludeID != "" {
		where = append(where, "id != ?")
		args = append(args, f.ExcludeID)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE `+strings.Join(where, " AND ")+
			` ORDER BY start_time`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.StudySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// WeekMinutes sums counted minutes of completed sessions that started in
// the ISO week containing at.
func (d *DB) WeekMinutes(ctx context.Context, userID string, at time.Time, excludeID string) (int, error) {
	start, end, _ := domain.WeekBounds(at)

	var total int
	err := d.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(counted_duration), 0) FROM sessions
		 WHERE user_id = ? AND completed = 1 AND end_time IS NOT NULL
		   AND start_time >= ? AND start_time < ? AND id != ?`,
		userID, start.Unix(), end.Unix(), excludeID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum week minutes: %w", err)
	}
	return total, nil
}

// RecentSessions returns the user's latest sessions, newest first.
func (d *DB) RecentSessions(ctx context.Context, userID string, limit int) ([]domain.StudySession, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ?
		 ORDER BY start_time DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StudySession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSession(s scanner) (*domain.StudySession, error) {
	var (
		sess    domain.StudySession
		startAt int64
		endAt   sql.NullInt64
	)
	err := s.Scan(&sess.ID, &sess.UserID, &sess.SubjectID, &startAt, &endAt,
		&sess.RawDuration, &sess.CountedDuration, &sess.Completed, &sess.Skipped,
		&sess.CoinsEarned, &sess.XPEarned)
	if err != nil {
		return nil, err
	}
	sess.StartTime = fromUnix(startAt)
	if endAt.Valid {
		t := fromUnix(endAt.Int64)
		sess.EndTime = &t
	}
	return &sess, nil
}
