package sqlite

import (
	"context"
	"fmt"

	"github.com/pomociclo/pomociclo/internal/domain"
)

// ─── Calendar Events ────────────────────────────────────────────────────────

// CreateEvent inserts a calendar event. Event CRUD lives in the calendar
// service; this exists for seeding and tests.
func (d *DB) CreateEvent(ctx context.Context, e domain.CalendarEvent) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO calendar_events (id, user_id, subject_id, title, start_time, end_time, event_type, completed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.SubjectID, e.Title, e.Start.Unix(), e.End.Unix(), e.EventType, e.Completed,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// FindOverlapping returns the user's events intersecting w, by start time.
func (d *DB) FindOverlapping(ctx context.Context, userID string, w domain.Window, excludeCompleted bool) ([]domain.CalendarEvent, error) {
	query := `SELECT id, user_id, subject_id, title, start_time, end_time, event_type, completed
		 FROM calendar_events
		 WHERE user_id = ? AND start_time < ? AND end_time > ?`
	if excludeCompleted {
		query += ` AND completed = 0`
	}
	query += ` ORDER BY start_time, id`

	rows, err := d.db.QueryContext(ctx, query, userID, w.End.Unix(), w.Start.Unix())
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer rows.Close()

	var out []domain.CalendarEvent
	for rows.Next() {
		var (
			e          domain.CalendarEvent
			start, end int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.SubjectID, &e.Title,
			&start, &end, &e.EventType, &e.Completed); err != nil {
			return nil, err
		}
		e.Start = fromUnix(start)
		e.End = fromUnix(end)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkCompleted flips completed false→true. Reports whether this call did it.
func (d *DB) MarkCompleted(ctx context.Context, userID, eventID string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE calendar_events SET completed = 1 WHERE id = ? AND user_id = ? AND completed = 0`,
		eventID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("mark event completed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
