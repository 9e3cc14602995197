package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// SubjectStore reads a user's subjects.
type SubjectStore interface {
	ListSubjects(ctx context.Context, userID string) ([]Subject, error)
	// GetSubject returns ErrNotFound when absent or owned by someone else.
	GetSubject(ctx context.Context, userID, subjectID string) (*Subject, error)
}

// SettingsStore reads timer preferences. Missing settings yield DefaultSettings.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (UserSettings, error)
}

// CalendarStore is the narrow slice of the calendar subsystem settlement needs.
type CalendarStore interface {
	// FindOverlapping returns the user's events touching w.
	FindOverlapping(ctx context.Context, userID string, w Window, excludeCompleted bool) ([]CalendarEvent, error)

	// MarkCompleted flips completed false→true. Returns false if it already was.
	MarkCompleted(ctx context.Context, userID, eventID string) (bool, error)
}

// SessionStore persists study sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s StudySession) error

	// GetSession returns ErrNotFound when absent or owned by someone else.
	GetSession(ctx context.Context, userID, sessionID string) (*StudySession, error)

	// ListCompletedSessions returns completed sessions whose counted interval
	// overlaps [f.From, f.To).
	ListCompletedSessions(ctx context.Context, f SessionFilter) ([]StudySession, error)

	// WeekMinutes sums counted minutes of completed sessions started in the
	// ISO week containing at, skipping excludeID.
	WeekMinutes(ctx context.Context, userID string, at time.Time, excludeID string) (int, error)
}

// SettlementCommit is the single authoritative write of a settlement:
// the session's final fields, the subject totals, and the new progression.
type SettlementCommit struct {
	Session         StudySession
	Progression     Progression // Version holds the expected (read) version
	SubjectMinutes  int
	SubjectSessions int
}

// ProgressionStore persists the versioned per-user aggregate.
type ProgressionStore interface {
	// GetProgression returns the stored aggregate, or NewProgression with Version 0.
	GetProgression(ctx context.Context, userID string) (Progression, error)

	// CommitSettlement atomically settles the session and swaps the progression.
	// Returns ErrAlreadySettled or ErrStorageConflict without writing anything.
	CommitSettlement(ctx context.Context, c SettlementCommit) error
}

// QuestStore persists weekly quest documents.
type QuestStore interface {
	// GetQuestDoc returns nil, nil when the document does not exist.
	GetQuestDoc(ctx context.Context, userID, weekID string) (*WeeklyQuestDocument, error)

	// InsertQuestDoc creates the document; returns false if one already exists.
	InsertQuestDoc(ctx context.Context, doc WeeklyQuestDocument) (bool, error)

	// CommitQuestProgress swaps the document (by doc.Version) and, when prog is
	// non-nil, the progression (by prog.Version) in one transaction.
	CommitQuestProgress(ctx context.Context, doc WeeklyQuestDocument, prog *Progression) error
}

// UserLocker serializes read-modify-write cycles per user.
type UserLocker interface {
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}
