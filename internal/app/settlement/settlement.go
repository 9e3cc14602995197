// Package settlement turns a finished study session into rewards.
//
// EndSession is the only entry point that mutates coins, XP, level and
// streak. Under the per-user lock it computes the reward, commits session,
// progression and subject totals in one storage transaction, then runs the
// best-effort enrichments (weekly quests, calendar auto-completion)
// concurrently. Enrichment failures are logged and counted; they never undo
// the commit.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pomociclo/pomociclo/internal/app/calendar"
	"github.com/pomociclo/pomociclo/internal/app/engagement"
	"github.com/pomociclo/pomociclo/internal/app/reward"
	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/infra/metrics"
	"github.com/pomociclo/pomociclo/internal/platform/logger"
	"github.com/pomociclo/pomociclo/internal/platform/tracing"
)

// DefaultMaxAttempts bounds commit retries after a version conflict.
const DefaultMaxAttempts = 3

// Clock returns the current time. Injected so tests control "today".
type Clock func() time.Time

// QuestTracker is the weekly quest engine as seen by settlement.
type QuestTracker interface {
	Update(ctx context.Context, ev engagement.QuestEvent, now time.Time) ([]domain.Quest, error)
	Current(ctx context.Context, userID string, now time.Time) (*domain.WeeklyQuestDocument, error)
}

// EventCompleter is the calendar auto-completion heuristic.
type EventCompleter interface {
	Run(ctx context.Context, t calendar.Trigger) ([]string, error)
}

// Deps wires the service. Quests and Calendar may be nil to disable them.
type Deps struct {
	Sessions    domain.SessionStore
	Progression domain.ProgressionStore
	Subjects    domain.SubjectStore
	Settings    domain.SettingsStore
	Locker      domain.UserLocker
	Quests      QuestTracker
	Calendar    EventCompleter
	Log         *logger.Logger
	Clock       Clock
	MaxAttempts int
}

// Service is the settlement orchestrator.
type Service struct {
	sessions    domain.SessionStore
	progression domain.ProgressionStore
	subjects    domain.SubjectStore
	settings    domain.SettingsStore
	locker      domain.UserLocker
	quests      QuestTracker
	calendar    EventCompleter
	log         *logger.Logger
	clock       Clock
	tracer      trace.Tracer
	maxAttempts int
}

// New creates a settlement service.
func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.MaxAttempts < 1 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &Service{
		sessions:    d.Sessions,
		progression: d.Progression,
		subjects:    d.Subjects,
		settings:    d.Settings,
		locker:      d.Locker,
		quests:      d.Quests,
		calendar:    d.Calendar,
		log:         d.Log.With("component", "settlement"),
		clock:       d.Clock,
		tracer:      tracing.Tracer(),
		maxAttempts: d.MaxAttempts,
	}
}

// ─── Types ──────────────────────────────────────────────────────────────────

// Request ends one study session.
type Request struct {
	UserID           string
	SessionID        string
	ReportedDuration int // minutes, as measured by the client
	Skipped          bool
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("user id required: %w", domain.ErrInvalidInput)
	case strings.TrimSpace(r.SessionID) == "":
		return fmt.Errorf("session id required: %w", domain.ErrInvalidInput)
	case r.ReportedDuration < 0:
		return fmt.Errorf("duration %d: %w", r.ReportedDuration, domain.ErrInvalidInput)
	}
	return nil
}

// Result is the settled outcome. For an already-settled session it carries
// the stored values and AlreadySettled is true.
type Result struct {
	SessionID       string              `json:"session_id"`
	CoinsEarned     int64               `json:"coins_earned"`
	XPEarned        int64               `json:"xp_earned"`
	CountedDuration int                 `json:"counted_duration"`
	Completed       bool                `json:"completed"`
	Skipped         bool                `json:"skipped"`
	StreakDays      int                 `json:"streak_days"`
	Level           int                 `json:"level"`
	XP              int64               `json:"xp"`
	Coins           int64               `json:"coins"`
	LeveledUp       bool                `json:"leveled_up"`
	Multipliers     *reward.Multipliers `json:"multipliers,omitempty"`
	QuestsCompleted []domain.Quest      `json:"quests_completed"`
	EventsCompleted []string            `json:"events_completed"`
	AlreadySettled  bool                `json:"already_settled"`
}

// Standing is a user's progression with level progress derived.
type Standing struct {
	domain.Progression
	NextLevelXP      int64   `json:"next_level_xp"`
	LevelProgressPct float64 `json:"level_progress_pct"`
}

// settled is what the commit step hands to the enrichments.
type settled struct {
	session    domain.StudySession
	priorLevel int
}

// ─── EndSession ─────────────────────────────────────────────────────────────

// EndSession settles a session exactly once.
//
// Errors: domain.ErrInvalidInput, domain.ErrNotFound, domain.ErrAlreadySettled
// (with the stored Result), domain.ErrStorageConflict after MaxAttempts,
// domain.ErrLockTimeout.
func (s *Service) EndSession(ctx context.Context, req Request) (res Result, err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "settlement.EndSession", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.Int("session.reported_minutes", req.ReportedDuration),
		attribute.Bool("session.skipped", req.Skipped),
	))
	defer func() {
		outcome := classify(err)
		metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
		metrics.SettlementLatency.Observe(time.Since(started).Seconds())
		span.SetAttributes(attribute.String("settlement.outcome", outcome))
		if err != nil && outcome != metrics.OutcomeAlreadySettled {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	if err := req.validate(); err != nil {
		return Result{}, err
	}

	lockStart := time.Now()
	unlock, err := s.locker.Lock(ctx, req.UserID)
	metrics.LockWait.Observe(time.Since(lockStart).Seconds())
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	now := s.clock().UTC()

	var (
		done    settled
		attempt int
	)
	for attempt = 1; ; attempt++ {
		res, done, err = s.settleOnce(ctx, req, now)
		if err == nil || !errors.Is(err, domain.ErrStorageConflict) {
			break
		}
		if attempt >= s.maxAttempts {
			err = fmt.Errorf("settle session %s after %d attempts: %w", req.SessionID, attempt, err)
			break
		}
		s.log.Debug("settlement conflict, retrying", "user_id", req.UserID, "session_id", req.SessionID, "attempt", attempt)
	}
	metrics.SettlementAttempts.Observe(float64(attempt))
	if err != nil {
		return res, err
	}

	metrics.CoinsAwarded.WithLabelValues("session").Add(float64(res.CoinsEarned))
	metrics.XPAwarded.WithLabelValues("session").Add(float64(res.XPEarned))
	if res.LeveledUp {
		metrics.LevelUps.Inc()
	}
	s.log.Info("session settled",
		"user_id", req.UserID, "session_id", req.SessionID,
		"counted", res.CountedDuration, "completed", res.Completed,
		"coins", res.CoinsEarned, "xp", res.XPEarned,
		"level", res.Level, "streak", res.StreakDays, "attempts", attempt)

	// The commit is durable; enrichments must not be cut short by the caller.
	ectx := context.WithoutCancel(ctx)
	s.enrich(ectx, done, now, &res)
	if len(res.QuestsCompleted) > 0 {
		s.refreshStanding(ectx, done, &res)
	}
	return res, nil
}

// refreshStanding reloads coins, XP and level after quest payouts so the
// result matches what is stored.
func (s *Service) refreshStanding(ctx context.Context, done settled, res *Result) {
	p, err := s.progression.GetProgression(ctx, done.session.UserID)
	if err != nil {
		s.enrichmentDone("standing", done.session, err)
		return
	}
	res.Coins = p.Coins
	res.XP = p.XP
	res.Level = p.Level
	res.StreakDays = p.StreakDays
	res.LeveledUp = p.Level > done.priorLevel
}

// settleOnce loads state, computes the reward and commits it. It returns
// domain.ErrStorageConflict when the progression moved underneath it.
func (s *Service) settleOnce(ctx context.Context, req Request, now time.Time) (Result, settled, error) {
	ctx, span := s.tracer.Start(ctx, "settlement.commit")
	defer span.End()

	session, err := s.sessions.GetSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return Result{}, settled{}, err
	}
	if session.Settled() {
		return s.storedResult(ctx, *session)
	}

	st, err := s.settings.GetSettings(ctx, req.UserID)
	if err != nil {
		return Result{}, settled{}, fmt.Errorf("load settings: %w", err)
	}
	prog, err := s.progression.GetProgression(ctx, req.UserID)
	if err != nil {
		return Result{}, settled{}, fmt.Errorf("load progression: %w", err)
	}
	weekBefore, err := s.sessions.WeekMinutes(ctx, req.UserID, session.StartTime, session.ID)
	if err != nil {
		return Result{}, settled{}, fmt.Errorf("load week minutes: %w", err)
	}

	counted, completed := reward.Count(req.ReportedDuration, req.Skipped, st.BlockMinutes)
	streak, _ := engagement.AdvanceStreak(prog.Streak(), reward.Qualifying(counted, completed), now)

	out, err := reward.Compute(reward.Input{
		RawDuration:  req.ReportedDuration,
		Skipped:      req.Skipped,
		BlockMinutes: st.BlockMinutes,
		StreakDays:   streak.Days,
		WeekBefore:   weekBefore,
	})
	if err != nil {
		return Result{}, settled{}, err
	}

	next := engagement.GrantReward(prog.WithStreak(streak), domain.Reward{Coins: out.Coins, XP: out.XP})

	end := now
	session.EndTime = &end
	session.RawDuration = req.ReportedDuration
	session.CountedDuration = out.CountedDuration
	session.Completed = out.Completed
	session.Skipped = req.Skipped
	session.CoinsEarned = out.Coins
	session.XPEarned = out.XP

	commit := domain.SettlementCommit{Session: *session, Progression: next}
	if out.Completed {
		commit.SubjectMinutes = out.CountedDuration
		commit.SubjectSessions = 1
	}

	if err := s.progression.CommitSettlement(ctx, commit); err != nil {
		if errors.Is(err, domain.ErrAlreadySettled) {
			// Settled by another process between our read and write.
			fresh, gerr := s.sessions.GetSession(ctx, req.UserID, req.SessionID)
			if gerr != nil {
				return Result{}, settled{}, gerr
			}
			return s.storedResult(ctx, *fresh)
		}
		span.RecordError(err)
		return Result{}, settled{}, err
	}

	mults := out.Multipliers
	return Result{
		SessionID:       session.ID,
		CoinsEarned:     out.Coins,
		XPEarned:        out.XP,
		CountedDuration: out.CountedDuration,
		Completed:       out.Completed,
		Skipped:         req.Skipped,
		StreakDays:      next.StreakDays,
		Level:           next.Level,
		XP:              next.XP,
		Coins:           next.Coins,
		LeveledUp:       next.Level > prog.Level,
		Multipliers:     &mults,
		QuestsCompleted: []domain.Quest{},
		EventsCompleted: []string{},
	}, settled{session: *session, priorLevel: prog.Level}, nil
}

// storedResult reports a previous settlement without re-applying it.
func (s *Service) storedResult(ctx context.Context, session domain.StudySession) (Result, settled, error) {
	prog, err := s.progression.GetProgression(ctx, session.UserID)
	if err != nil {
		return Result{}, settled{}, fmt.Errorf("load progression: %w", err)
	}
	return Result{
		SessionID:       session.ID,
		CoinsEarned:     session.CoinsEarned,
		XPEarned:        session.XPEarned,
		CountedDuration: session.CountedDuration,
		Completed:       session.Completed,
		Skipped:         session.Skipped,
		StreakDays:      prog.StreakDays,
		Level:           prog.Level,
		XP:              prog.XP,
		Coins:           prog.Coins,
		QuestsCompleted: []domain.Quest{},
		EventsCompleted: []string{},
		AlreadySettled:  true,
	}, settled{}, fmt.Errorf("session %s: %w", session.ID, domain.ErrAlreadySettled)
}

// classify maps an EndSession error to its metrics outcome label.
func classify(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSettled
	case errors.Is(err, domain.ErrAlreadySettled):
		return metrics.OutcomeAlreadySettled
	case errors.Is(err, domain.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return metrics.OutcomeInvalid
	case errors.Is(err, domain.ErrStorageConflict), errors.Is(err, domain.ErrLockTimeout):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}

// ─── Other Operations ───────────────────────────────────────────────────────

// StartSession opens a session for userID. subjectID may be empty; when
// set it must belong to the user.
func (s *Service) StartSession(ctx context.Context, userID, subjectID string) (*domain.StudySession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id required: %w", domain.ErrInvalidInput)
	}
	if subjectID != "" {
		if _, err := s.subjects.GetSubject(ctx, userID, subjectID); err != nil {
			return nil, err
		}
	}

	session := domain.StudySession{
		ID:        uuid.NewString(),
		UserID:    userID,
		SubjectID: subjectID,
		StartTime: s.clock().UTC().Truncate(time.Second),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	s.log.Info("session started", "user_id", userID, "session_id", session.ID, "subject_id", subjectID)
	return &session, nil
}

// Progression returns the user's current standing.
func (s *Service) Progression(ctx context.Context, userID string) (Standing, error) {
	if strings.TrimSpace(userID) == "" {
		return Standing{}, fmt.Errorf("user id required: %w", domain.ErrInvalidInput)
	}
	p, err := s.progression.GetProgression(ctx, userID)
	if err != nil {
		return Standing{}, err
	}
	return Standing{
		Progression:      p,
		NextLevelXP:      engagement.Threshold(p.Level),
		LevelProgressPct: engagement.ProgressPct(p),
	}, nil
}

// Quests returns the user's quests for the current week, generating them
// on first access.
func (s *Service) Quests(ctx context.Context, userID string) (*domain.WeeklyQuestDocument, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id required: %w", domain.ErrInvalidInput)
	}
	if s.quests == nil {
		return nil, fmt.Errorf("weekly quests disabled: %w", domain.ErrNotFound)
	}
	return s.quests.Current(ctx, userID, s.clock().UTC())
}
