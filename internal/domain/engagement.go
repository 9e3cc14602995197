// Package domain holds the engagement and study types shared by every layer.
// Progression (coins, XP, level, streak) and the weekly quest documents
// that the settlement engine mutates after every finished study session.
package domain

import "time"

// ─── Progression ────────────────────────────────────────────────────────────

// DateLayout is the calendar-date encoding used for LastStreakDate.
const DateLayout = "2006-01-02"

// Progression is the versioned per-user aggregate written by settlement.
// Every write is a compare-and-swap on Version.
type Progression struct {
	UserID         string `json:"user_id"`
	Coins          int64  `json:"coins"`
	XP             int64  `json:"xp"`
	Level          int    `json:"level"`
	StreakDays     int    `json:"streak_days"`
	LastStreakDate string `json:"last_streak_date,omitempty"` // "2006-01-02" UTC, empty if never
	Version        int64  `json:"version"`
}

// NewProgression returns the starting aggregate for a user with no record yet.
func NewProgression(userID string) Progression {
	return Progression{UserID: userID, Level: 1}
}

// Streak returns the streak portion of the aggregate.
func (p Progression) Streak() StreakState {
	return StreakState{Days: p.StreakDays, LastDate: p.LastStreakDate}
}

// WithStreak returns a copy with the given streak state applied.
func (p Progression) WithStreak(s StreakState) Progression {
	p.StreakDays = s.Days
	p.LastStreakDate = s.LastDate
	return p
}

// StreakState is the (last_streak_date, streak_days) pair.
type StreakState struct {
	Days     int    `json:"days"`
	LastDate string `json:"last_date,omitempty"`
}

// Reward is a coins/XP payout.
type Reward struct {
	Coins int64 `json:"coins"`
	XP    int64 `json:"xp"`
}

// ─── Weekly Quests ──────────────────────────────────────────────────────────

// QuestType is the closed set of weekly quest kinds.
type QuestType string

const (
	QuestSubjectMinutes  QuestType = "subject_minutes"
	QuestSubjectSessions QuestType = "subject_sessions"
	QuestWeekMinutes     QuestType = "week_minutes"
	QuestCompleteCycle   QuestType = "complete_cycle"
)

// Valid reports whether t is one of the known quest types.
func (t QuestType) Valid() bool {
	switch t {
	case QuestSubjectMinutes, QuestSubjectSessions, QuestWeekMinutes, QuestCompleteCycle:
		return true
	}
	return false
}

// Quest is one entry of a weekly quest document.
// Done is monotonic: once true it is never reverted and Reward is never re-granted.
type Quest struct {
	ID        string    `json:"quest_id"`
	Key       string    `json:"key"`
	Type      QuestType `json:"type"`
	Title     string    `json:"title"`
	SubjectID string    `json:"subject_id,omitempty"`
	Target    int       `json:"target"`
	Progress  int       `json:"progress"`
	Done      bool      `json:"done"`
	Reward    Reward    `json:"reward"`
}

// ProgressPct returns completion percentage (0-100).
func (q Quest) ProgressPct() float64 {
	if q.Target <= 0 {
		return 100.0
	}
	pct := float64(q.Progress) / float64(q.Target) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// WeeklyQuestDocument holds one user's quests for one ISO week.
type WeeklyQuestDocument struct {
	UserID    string    `json:"user_id"`
	WeekID    string    `json:"week_id"`
	WeekStart time.Time `json:"week_start"`
	WeekEnd   time.Time `json:"week_end"`
	Quests    []Quest   `json:"quests"`
	QuestKeys []string  `json:"quest_keys"`
	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"version"`
}

// QuestTemplate is a generation candidate before it becomes a Quest.
type QuestTemplate struct {
	Key       string
	ID        string
	Type      QuestType
	Title     string
	SubjectID string
	Target    int
	Reward    Reward
}

// Quest materializes the template with zero progress.
func (t QuestTemplate) Quest() Quest {
	return Quest{
		ID:        t.ID,
		Key:       t.Key,
		Type:      t.Type,
		Title:     t.Title,
		SubjectID: t.SubjectID,
		Target:    t.Target,
		Reward:    t.Reward,
	}
}
