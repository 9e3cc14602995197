// Package calendar retroactively completes calendar events from study activity.
// Transitions are monotone (false→true only), so concurrent evaluators converge
// without a lock.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/platform/logger"
)

const (
	// DefaultTolerance widens both the session and each event window.
	DefaultTolerance = 60 * time.Minute

	// effectiveShare of an event's duration must be covered by study time.
	effectiveShare = 0.75
)

// Heuristic decides which events a finished session completes.
type Heuristic struct {
	events    domain.CalendarStore
	sessions  domain.SessionStore
	subjects  domain.SubjectStore
	settings  domain.SettingsStore
	log       *logger.Logger
	tolerance time.Duration
}

// NewHeuristic creates the auto-completion heuristic. A non-positive
// tolerance falls back to DefaultTolerance.
func NewHeuristic(
	events domain.CalendarStore,
	sessions domain.SessionStore,
	subjects domain.SubjectStore,
	settings domain.SettingsStore,
	log *logger.Logger,
	tolerance time.Duration,
) *Heuristic {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Heuristic{
		events:    events,
		sessions:  sessions,
		subjects:  subjects,
		settings:  settings,
		log:       log.With("component", "calendar"),
		tolerance: tolerance,
	}
}

// Trigger describes the session that was just settled.
type Trigger struct {
	UserID         string
	SubjectID      string // empty when the session had no subject
	SessionStart   time.Time
	CountedMinutes int
}

// Run evaluates every open event near the session and completes those that
// satisfy either rule. Returns the ids it completed.
func (h *Heuristic) Run(ctx context.Context, t Trigger) ([]string, error) {
	session := domain.Window{
		Start: t.SessionStart,
		End:   t.SessionStart.Add(time.Duration(t.CountedMinutes) * time.Minute),
	}

	candidates, err := h.events.FindOverlapping(ctx, t.UserID, session.Expand(h.tolerance), true)
	if err != nil {
		return nil, fmt.Errorf("find overlapping events: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	settings, err := h.settings.GetSettings(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	factor := BreakFactor(settings.BlockMinutes, settings.BreakMinutes)

	var completed []string
	for _, ev := range candidates {
		if ev.Completed {
			continue
		}

		ok, err := h.evaluate(ctx, ev, factor)
		if err != nil {
			return completed, fmt.Errorf("evaluate event %s: %w", ev.ID, err)
		}
		if !ok {
			continue
		}

		changed, err := h.events.MarkCompleted(ctx, t.UserID, ev.ID)
		if err != nil {
			return completed, fmt.Errorf("mark event %s completed: %w", ev.ID, err)
		}
		if changed {
			h.log.Info("calendar event auto-completed", "user_id", t.UserID, "event_id", ev.ID)
			completed = append(completed, ev.ID)
		}
	}
	return completed, nil
}

// evaluate applies rule 1 (coverage) and rule 2 (weekly goal crossed).
func (h *Heuristic) evaluate(ctx context.Context, ev domain.CalendarEvent, factor float64) (bool, error) {
	window := domain.Window{Start: ev.Start, End: ev.End}.Expand(h.tolerance)

	sessions, err := h.sessions.ListCompletedSessions(ctx, domain.SessionFilter{
		UserID:    ev.UserID,
		SubjectID: ev.SubjectID,
		From:      window.Start,
		To:        window.End,
	})
	if err != nil {
		return false, fmt.Errorf("list sessions: %w", err)
	}

	if CoverageMet(EffectiveMinutes(sessions, window, factor), ev.DurationMinutes()) {
		return true, nil
	}

	if ev.SubjectID == "" {
		return false, nil
	}

	subject, err := h.subjects.GetSubject(ctx, ev.UserID, ev.SubjectID)
	if err != nil {
		return false, fmt.Errorf("get subject: %w", err)
	}

	before, err := h.subjectWeekMinutes(ctx, ev.UserID, ev.SubjectID, window.Start)
	if err != nil {
		return false, err
	}
	after, err := h.subjectWeekMinutes(ctx, ev.UserID, ev.SubjectID, window.End)
	if err != nil {
		return false, err
	}
	return GoalCrossed(subject.TimeGoalMinutes, before, after), nil
}

// subjectWeekMinutes returns the subject's studied minutes from the start of
// until's ISO week up to until.
func (h *Heuristic) subjectWeekMinutes(ctx context.Context, userID, subjectID string, until time.Time) (int, error) {
	weekStart, weekEnd, _ := domain.WeekBounds(until)
	span := domain.Window{Start: weekStart, End: weekEnd}
	if until.Before(span.End) {
		span.End = until
	}

	sessions, err := h.sessions.ListCompletedSessions(ctx, domain.SessionFilter{
		UserID:    userID,
		SubjectID: subjectID,
		From:      span.Start,
		To:        span.End,
	})
	if err != nil {
		return 0, fmt.Errorf("list subject sessions: %w", err)
	}

	total := 0
	for _, s := range sessions {
		total += span.OverlapMinutes(sessionWindow(s))
	}
	return total, nil
}

// BreakFactor scales focus minutes so the breaks between blocks count as
// occupied time: (block + break) / block.
func BreakFactor(blockMinutes, breakMinutes int) float64 {
	block := max(1, blockMinutes)
	return float64(block+max(0, breakMinutes)) / float64(block)
}

// EffectiveMinutes sums each session's overlap with window and scales it.
func EffectiveMinutes(sessions []domain.StudySession, window domain.Window, factor float64) int {
	raw := 0
	for _, s := range sessions {
		raw += window.OverlapMinutes(sessionWindow(s))
	}
	return int(float64(raw) * factor)
}

// CoverageMet is rule 1: effective minutes cover 75% of the event, with
// the threshold truncated to whole minutes. Events without a positive
// duration never satisfy it.
func CoverageMet(effective, eventMinutes int) bool {
	if eventMinutes <= 0 {
		return false
	}
	return effective >= int(effectiveShare*float64(eventMinutes))
}

// GoalCrossed is rule 2: the weekly goal was reached inside the window.
func GoalCrossed(goal, before, after int) bool {
	return goal > 0 && before < goal && goal <= after
}

func sessionWindow(s domain.StudySession) domain.Window {
	return domain.Window{Start: s.StartTime, End: s.CountedEnd()}
}
