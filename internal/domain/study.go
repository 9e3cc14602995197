package domain

import "time"

// ─── Study Sessions ─────────────────────────────────────────────────────────

// StudySession is one timed focus block. It is created open (EndTime nil)
// and settled exactly once.
type StudySession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	SubjectID       string     `json:"subject_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	RawDuration     int        `json:"raw_duration"`
	CountedDuration int        `json:"counted_duration"`
	Completed       bool       `json:"completed"`
	Skipped         bool       `json:"skipped"`
	CoinsEarned     int64      `json:"coins_earned"`
	XPEarned        int64      `json:"xp_earned"`
}

// Settled reports whether the session has already been finalized.
func (s StudySession) Settled() bool {
	return s.EndTime != nil
}

// CountedEnd is StartTime plus the counted duration.
func (s StudySession) CountedEnd() time.Time {
	return s.StartTime.Add(time.Duration(s.CountedDuration) * time.Minute)
}

// SessionFilter selects completed sessions for overlap accounting.
// A zero SubjectID matches every subject; ExcludeID skips one session.
type SessionFilter struct {
	UserID    string
	SubjectID string
	From      time.Time
	To        time.Time
	ExcludeID string
}

// ─── Subjects & Settings ────────────────────────────────────────────────────

// Subject is a user's study subject with a weekly goal in minutes.
type Subject struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Name             string    `json:"name"`
	TimeGoalMinutes  int       `json:"time_goal_minutes"`
	TimeSpentMinutes int       `json:"time_spent_minutes"`
	SessionsCount    int       `json:"sessions_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// TotalGoalMinutes sums the weekly goals of the given subjects.
func TotalGoalMinutes(subjects []Subject) int {
	total := 0
	for _, s := range subjects {
		total += max(0, s.TimeGoalMinutes)
	}
	return total
}

// Default timer settings when a user has not configured any.
const (
	DefaultBlockMinutes = 50
	DefaultBreakMinutes = 10
)

// UserSettings is the subset of user preferences the settlement reads.
type UserSettings struct {
	UserID       string `json:"user_id"`
	BlockMinutes int    `json:"block_minutes"`
	BreakMinutes int    `json:"break_minutes"`
}

// DefaultSettings returns the 50/10 focus/break configuration.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:       userID,
		BlockMinutes: DefaultBlockMinutes,
		BreakMinutes: DefaultBreakMinutes,
	}
}

// ─── Calendar ───────────────────────────────────────────────────────────────

// CalendarEvent is owned by the calendar subsystem; settlement only ever
// flips Completed from false to true.
type CalendarEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SubjectID string    `json:"subject_id,omitempty"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	EventType string    `json:"event_type"`
	Completed bool      `json:"completed"`
}

// DurationMinutes returns the event length in whole minutes (never negative).
func (e CalendarEvent) DurationMinutes() int {
	return max(0, int(e.End.Sub(e.Start)/time.Minute))
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Expand widens the window by tol on both sides.
func (w Window) Expand(tol time.Duration) Window {
	return Window{Start: w.Start.Add(-tol), End: w.End.Add(tol)}
}

// OverlapMinutes returns the whole minutes shared by w and o.
func (w Window) OverlapMinutes(o Window) int {
	start := w.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := w.End
	if o.End.Before(end) {
		end = o.End
	}
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}
