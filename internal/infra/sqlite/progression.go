package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pomociclo/pomociclo/internal/domain"
)

// ─── Progression ────────────────────────────────────────────────────────────

// GetProgression returns the stored aggregate, or a fresh level-1 one at
// Version 0 when the user has none yet.
func (d *DB) GetProgression(ctx context.Context, userID string) (domain.Progression, error) {
	p := domain.Progression{UserID: userID}
	err := d.db.QueryRowContext(ctx,
		`SELECT coins, xp, level, streak_days, last_streak_date, version
		 FROM progression WHERE user_id = ?`, userID,
	).Scan(&p.Coins, &p.XP, &p.Level, &p.StreakDays, &p.LastStreakDate, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewProgression(userID), nil
	}
	if err != nil {
		return domain.Progression{}, fmt.Errorf("get progression: %w", err)
	}
	return p, nil
}

// CommitSettlement settles the session, swaps the progression and bumps the
// subject totals in one transaction.
func (d *DB) CommitSettlement(ctx context.Context, c domain.SettlementCommit) error {
	s := c.Session
	if s.EndTime == nil {
		return fmt.Errorf("commit settlement: session %s has no end time: %w", s.ID, domain.ErrInvalidInput)
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET end_time = ?, raw_duration = ?, counted_duration = ?,
				completed = ?, skipped = ?, coins_earned = ?, xp_earned = ?
			 WHERE id = ? AND user_id = ? AND end_time IS NULL`,
			s.EndTime.Unix(), s.RawDuration, s.CountedDuration,
			s.Completed, s.Skipped, s.CoinsEarned, s.XPEarned,
			s.ID, s.UserID,
		)
		if err != nil {
			return fmt.Errorf("settle session: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sessionGuardError(ctx, tx, s.UserID, s.ID)
		}

		if err := swapProgression(ctx, tx, c.Progression); err != nil {
			return err
		}

		if s.SubjectID != "" && (c.SubjectMinutes != 0 || c.SubjectSessions != 0) {
			_, err := tx.ExecContext(ctx,
				`UPDATE subjects SET time_spent_minutes = time_spent_minutes + ?,
					sessions_count = sessions_count + ?
				 WHERE id = ? AND user_id = ?`,
				c.SubjectMinutes, c.SubjectSessions, s.SubjectID, s.UserID,
			)
			if err != nil {
				return fmt.Errorf("update subject totals: %w", err)
			}
		}
		return nil
	})
}

// sessionGuardError explains why the settle-once UPDATE matched no row.
func sessionGuardError(ctx context.Context, tx *sql.Tx, userID, sessionID string) error {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return fmt.Errorf("session %s: %w", sessionID, domain.ErrAlreadySettled)
}

// swapProgression writes p if the stored version still equals p.Version.
// Version 0 means "no row yet". The stored version becomes p.Version+1.
func swapProgression(ctx context.Context, tx *sql.Tx, p domain.Progression) error {
	var (
		res sql.Result
		err error
	)
	if p.Version == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO progression (user_id, coins, xp, level, streak_days, last_streak_date, version)
			 VALUES (?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT(user_id) DO NOTHING`,
			p.UserID, p.Coins, p.XP, p.Level, p.StreakDays, p.LastStreakDate,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE progression SET coins = ?, xp = ?, level = ?, streak_days = ?,
				last_streak_date = ?, version = version + 1
			 WHERE user_id = ? AND version = ?`,
			p.Coins, p.XP, p.Level, p.StreakDays, p.LastStreakDate,
			p.UserID, p.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("write progression: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("progression %s at version %d: %w", p.UserID, p.Version, domain.ErrStorageConflict)
	}
	return nil
}
