package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomociclo/pomociclo/internal/app/calendar"
	"github.com/pomociclo/pomociclo/internal/app/engagement"
	"github.com/pomociclo/pomociclo/internal/app/settlement"
	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/infra/lock"
	"github.com/pomociclo/pomociclo/internal/infra/sqlite"
	"github.com/pomociclo/pomociclo/internal/platform/logger"
)

// ============================================================================
// Mocks
// ============================================================================

// flakyProgression forces the first n commits to lose the version race.
type flakyProgression struct {
	*sqlite.DB
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (f *flakyProgression) CommitSettlement(ctx context.Context, c domain.SettlementCommit) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.conflicts
	f.mu.Unlock()
	if fail {
		return domain.ErrStorageConflict
	}
	return f.DB.CommitSettlement(ctx, c)
}

type mockQuests struct {
	updateFunc  func(ctx context.Context, ev engagement.QuestEvent, now time.Time) ([]domain.Quest, error)
	currentFunc func(ctx context.Context, userID string, now time.Time) (*domain.WeeklyQuestDocument, error)
}

func (m *mockQuests) Update(ctx context.Context, ev engagement.QuestEvent, now time.Time) ([]domain.Quest, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, ev, now)
	}
	return nil, nil
}

func (m *mockQuests) Current(ctx context.Context, userID string, now time.Time) (*domain.WeeklyQuestDocument, error) {
	if m.currentFunc != nil {
		return m.currentFunc(ctx, userID, now)
	}
	return nil, nil
}

type mockCalendar struct {
	runFunc func(ctx context.Context, t calendar.Trigger) ([]string, error)
}

func (m *mockCalendar) Run(ctx context.Context, t calendar.Trigger) ([]string, error) {
	if m.runFunc != nil {
		return m.runFunc(ctx, t)
	}
	return nil, nil
}

// ============================================================================
// Harness
// ============================================================================

var wednesday = time.Date(2025, 7, 9, 10, 0, 0, 0, time.UTC)

type harness struct {
	db  *sqlite.DB
	svc *settlement.Service
	now time.Time
}

type option func(*settlement.Deps)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{db: db, now: wednesday}
	log := logger.Nop()
	deps := settlement.Deps{
		Sessions:    db,
		Progression: db,
		Subjects:    db,
		Settings:    db,
		Locker:      lock.NewLocal(),
		Quests:      engagement.NewQuestEngine(db, db, db, log, 3),
		Calendar:    calendar.NewHeuristic(db, db, db, db, log, 0),
		Log:         log,
		Clock:       func() time.Time { return h.now },
	}
	for _, o := range opts {
		o(&deps)
	}
	h.svc = settlement.New(deps)
	return h
}

// start opens a session at the current clock and advances the clock by minutes.
func (h *harness) start(t *testing.T, subjectID string, minutes int) string {
	t.Helper()
	s, err := h.svc.StartSession(context.Background(), "u1", subjectID)
	require.NoError(t, err)
	h.now = h.now.Add(time.Duration(minutes) * time.Minute)
	return s.ID
}

func (h *harness) end(sessionID string, minutes int, skipped bool) (settlement.Result, error) {
	return h.svc.EndSession(context.Background(), settlement.Request{
		UserID: "u1", SessionID: sessionID, ReportedDuration: minutes, Skipped: skipped,
	})
}

// ============================================================================
// EndSession
// ============================================================================

func TestEndSession_FullBlock(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "", 50)

	res, err := h.end(id, 50, false)
	require.NoError(t, err)

	assert.Equal(t, 50, res.CountedDuration)
	assert.True(t, res.Completed)
	assert.Equal(t, int64(12), res.CoinsEarned)
	assert.Equal(t, int64(349), res.XPEarned)
	assert.Equal(t, 1, res.StreakDays)
	// 349 - 100 - 125 = 124 at level 3
	assert.Equal(t, 3, res.Level)
	assert.Equal(t, int64(124), res.XP)
	assert.True(t, res.LeveledUp)
	assert.False(t, res.AlreadySettled)

	p, err := h.db.GetProgression(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.Coins)
	assert.Equal(t, "2025-07-09", p.LastStreakDate)
}

func TestEndSession_SkippedNearCompletion(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "", 45)

	res, err := h.end(id, 45, true)
	require.NoError(t, err)
	assert.Equal(t, 45, res.CountedDuration)
	assert.True(t, res.Completed, "45 of 50 minutes is forgiven")
	assert.Equal(t, int64(9), res.CoinsEarned)
	assert.Equal(t, int64(253), res.XPEarned)
}

func TestEndSession_SkippedEarlyNoStreak(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "", 30)

	res, err := h.end(id, 30, true)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, 0, res.StreakDays)
	assert.Equal(t, int64(6), res.CoinsEarned)
	assert.Equal(t, int64(170), res.XPEarned)
}

func TestEndSession_StreakAcrossDays(t *testing.T) {
	h := newHarness(t)
	first := h.start(t, "", 50)
	_, err := h.end(first, 50, false)
	require.NoError(t, err)

	h.now = wednesday.AddDate(0, 0, 1)
	second := h.start(t, "", 50)
	res, err := h.end(second, 50, false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.StreakDays)
	assert.Equal(t, int64(359), res.XPEarned)
	// 124 + 359 = 483 → -157 → -196 = 130 at level 5
	assert.Equal(t, 5, res.Level)
	assert.Equal(t, int64(130), res.XP)
}

func TestEndSession_AlreadySettled(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "", 50)
	first, err := h.end(id, 50, false)
	require.NoError(t, err)

	again, err := h.end(id, 90, false)
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.True(t, again.AlreadySettled)
	assert.Equal(t, first.CoinsEarned, again.CoinsEarned)
	assert.Equal(t, first.CountedDuration, again.CountedDuration)

	p, err := h.db.GetProgression(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, first.Coins, p.Coins, "rewards are never re-applied")
}

func TestEndSession_ConcurrentPaysOnce(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "", 50)

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
		dupes   int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.end(id, 50, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case errors.Is(err, domain.ErrAlreadySettled):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, callers-1, dupes)

	p, err := h.db.GetProgression(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.Coins)
}

func TestEndSession_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.end("missing", 50, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	id := h.start(t, "", 50)
	_, err = h.svc.EndSession(context.Background(), settlement.Request{
		UserID: "intruder", SessionID: id, ReportedDuration: 50,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound, "another user's session is invisible")
}

func TestEndSession_InvalidInput(t *testing.T) {
	h := newHarness(t)
	id := h.start(t, "", 50)

	cases := []settlement.Request{
		{UserID: "u1", SessionID: id, ReportedDuration: -1},
		{UserID: "", SessionID: id, ReportedDuration: 10},
		{UserID: "u1", SessionID: " ", ReportedDuration: 10},
	}
	for _, req := range cases {
		_, err := h.svc.EndSession(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "request %+v", req)
	}

	s, err := h.db.GetSession(context.Background(), "u1", id)
	require.NoError(t, err)
	assert.False(t, s.Settled())
}

func TestEndSession_RetriesConflicts(t *testing.T) {
	var flaky *flakyProgression
	h := newHarness(t, func(d *settlement.Deps) {
		flaky = &flakyProgression{DB: d.Progression.(*sqlite.DB), conflicts: 2}
		d.Progression = flaky
		d.MaxAttempts = 3
	})
	id := h.start(t, "", 50)

	res, err := h.end(id, 50, false)
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.CoinsEarned)
	assert.Equal(t, 3, flaky.calls)
}

func TestEndSession_ConflictsExhausted(t *testing.T) {
	h := newHarness(t, func(d *settlement.Deps) {
		d.Progression = &flakyProgression{DB: d.Progression.(*sqlite.DB), conflicts: 5}
		d.MaxAttempts = 3
	})
	id := h.start(t, "", 50)

	_, err := h.end(id, 50, false)
	require.ErrorIs(t, err, domain.ErrStorageConflict)

	s, err := h.db.GetSession(context.Background(), "u1", id)
	require.NoError(t, err)
	assert.False(t, s.Settled(), "a failed commit leaves the session open")
}

func TestEndSession_EnrichmentFailureKeepsCommit(t *testing.T) {
	h := newHarness(t, func(d *settlement.Deps) {
		d.Quests = &mockQuests{updateFunc: func(context.Context, engagement.QuestEvent, time.Time) ([]domain.Quest, error) {
			return nil, errors.New("quest store offline")
		}}
		d.Calendar = &mockCalendar{runFunc: func(context.Context, calendar.Trigger) ([]string, error) {
			return nil, errors.New("calendar offline")
		}}
	})
	id := h.start(t, "", 50)

	res, err := h.end(id, 50, false)
	require.NoError(t, err)
	assert.Empty(t, res.QuestsCompleted)
	assert.Empty(t, res.EventsCompleted)

	p, err := h.db.GetProgression(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.Coins)
}

func TestEndSession_EnrichmentsSeeCommittedSession(t *testing.T) {
	var got engagement.QuestEvent
	var trigger calendar.Trigger
	h := newHarness(t, func(d *settlement.Deps) {
		d.Quests = &mockQuests{updateFunc: func(_ context.Context, ev engagement.QuestEvent, _ time.Time) ([]domain.Quest, error) {
			got = ev
			return nil, nil
		}}
		d.Calendar = &mockCalendar{runFunc: func(_ context.Context, tr calendar.Trigger) ([]string, error) {
			trigger = tr
			return nil, nil
		}}
	})
	require.NoError(t, h.db.CreateSubject(context.Background(), domain.Subject{
		ID: "math", UserID: "u1", Name: "Math", TimeGoalMinutes: 120, CreatedAt: wednesday,
	}))

	id := h.start(t, "math", 45)
	_, err := h.end(id, 45, true)
	require.NoError(t, err)

	assert.Equal(t, 45, got.CountedDuration)
	assert.True(t, got.Completed)
	assert.Equal(t, 45, got.WeekMinutes, "week minutes include the settled session")
	assert.Equal(t, 120, got.TotalGoalMinutes)
	assert.Equal(t, "math", trigger.SubjectID)
	assert.Equal(t, wednesday, trigger.SessionStart)
	assert.Equal(t, 45, trigger.CountedMinutes)
}

func TestEndSession_QuestAndCalendarEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.CreateSubject(ctx, domain.Subject{
		ID: "math", UserID: "u1", Name: "Math", TimeGoalMinutes: 50, CreatedAt: wednesday,
	}))
	require.NoError(t, h.db.CreateEvent(ctx, domain.CalendarEvent{
		ID: "e1", UserID: "u1", SubjectID: "math", Title: "Algebra", EventType: "study",
		Start: wednesday, End: wednesday.Add(time.Hour),
	}))

	id := h.start(t, "math", 50)
	res, err := h.end(id, 50, false)
	require.NoError(t, err)

	require.Len(t, res.QuestsCompleted, 1)
	assert.Equal(t, domain.QuestCompleteCycle, res.QuestsCompleted[0].Type)
	assert.Equal(t, []string{"e1"}, res.EventsCompleted)

	p, err := h.db.GetProgression(ctx, "u1")
	require.NoError(t, err)
	// session 12c/349xp, then cycle 50c/200xp: 124 + 200 = 324 → -157 = 167 at level 4
	assert.Equal(t, int64(62), p.Coins)
	assert.Equal(t, 4, p.Level)
	assert.Equal(t, int64(167), p.XP)

	// The result reports the standing after quest payouts.
	assert.Equal(t, p.Coins, res.Coins)
	assert.Equal(t, p.Level, res.Level)
	assert.Equal(t, p.XP, res.XP)
	assert.True(t, res.LeveledUp)

	sub, err := h.db.GetSubject(ctx, "u1", "math")
	require.NoError(t, err)
	assert.Equal(t, 50, sub.TimeSpentMinutes)
	assert.Equal(t, 1, sub.SessionsCount)
}

func TestEndSession_SessionAcrossWeekBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.CreateSubject(ctx, domain.Subject{
		ID: "math", UserID: "u1", Name: "Math", TimeGoalMinutes: 100, CreatedAt: wednesday,
	}))

	for i := 0; i < 2; i++ {
		id := h.start(t, "math", 50)
		_, err := h.end(id, 50, false)
		require.NoError(t, err)
	}
	w28, err := h.db.GetQuestDoc(ctx, "u1", "2025-W28")
	require.NoError(t, err)
	require.NotNil(t, w28)
	require.True(t, w28.Quests[0].Done, "cycle reached in W28")

	// Sunday 23:30 to Monday 00:20 belongs to the week it started in.
	h.now = time.Date(2025, 7, 13, 23, 30, 0, 0, time.UTC)
	id := h.start(t, "math", 50)
	res, err := h.end(id, 50, false)
	require.NoError(t, err)

	for _, q := range res.QuestsCompleted {
		assert.NotEqual(t, domain.QuestCompleteCycle, q.Type, "W29 cycle must not complete from W28 minutes")
		assert.NotEqual(t, domain.QuestWeekMinutes, q.Type, "W29 week quest must not complete from W28 minutes")
	}

	w29, err := h.db.GetQuestDoc(ctx, "u1", "2025-W29")
	require.NoError(t, err)
	assert.Nil(t, w29, "no W29 quests were touched")

	p, err := h.db.GetProgression(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, p.Coins, res.Coins)
	assert.Equal(t, p.Level, res.Level)
	assert.Equal(t, p.XP, res.XP)
}

func TestEndSession_LockTimeout(t *testing.T) {
	locker := lock.NewLocal()
	h := newHarness(t, func(d *settlement.Deps) { d.Locker = locker })
	id := h.start(t, "", 50)

	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.svc.EndSession(ctx, settlement.Request{UserID: "u1", SessionID: id, ReportedDuration: 50})
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
}

// ============================================================================
// Other operations
// ============================================================================

func TestStartSession_SubjectOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.db.CreateSubject(ctx, domain.Subject{
		ID: "bio", UserID: "someone-else", Name: "Bio", CreatedAt: wednesday,
	}))

	_, err := h.svc.StartSession(ctx, "u1", "bio")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	s, err := h.svc.StartSession(ctx, "u1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.Settled())
	assert.Equal(t, wednesday, s.StartTime)

	_, err = h.svc.StartSession(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProgression_Standing(t *testing.T) {
	h := newHarness(t)
	st, err := h.svc.Progression(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Level)
	assert.Equal(t, int64(100), st.NextLevelXP)
	assert.Zero(t, st.LevelProgressPct)

	id := h.start(t, "", 50)
	_, err = h.end(id, 50, false)
	require.NoError(t, err)

	st, err = h.svc.Progression(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Level)
	assert.Equal(t, int64(157), st.NextLevelXP)
}

func TestQuests_GeneratedOnRead(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Quests(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "2025-W28", doc.WeekID)
	assert.Equal(t, "cycle_one", doc.QuestKeys[0])
}
