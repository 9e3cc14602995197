package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/platform/logger"
)

// QuestEngine manages weekly quests.
// One document per (user, ISO week), generated lazily on first access.
// 3 pool quests + the fixed cycle quest; payouts are granted exactly once.
type QuestEngine struct {
	quests      domain.QuestStore
	subjects    domain.SubjectStore
	progression domain.ProgressionStore
	log         *logger.Logger
	maxAttempts int
}

// NewQuestEngine creates a quest engine. maxAttempts bounds CAS retries.
func NewQuestEngine(qs domain.QuestStore, ss domain.SubjectStore, ps domain.ProgressionStore, log *logger.Logger, maxAttempts int) *QuestEngine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &QuestEngine{
		quests:      qs,
		subjects:    ss,
		progression: ps,
		log:         log.With("component", "quests"),
		maxAttempts: maxAttempts,
	}
}

// QuestEvent is one settlement as seen by the quest engine.
// At picks the ISO week the event counts toward; WeekMinutes must be that
// week's absolute total. A zero At means the week of now.
type QuestEvent struct {
	UserID           string
	At               time.Time
	SubjectID        string
	CountedDuration  int
	Completed        bool
	WeekMinutes      int
	TotalGoalMinutes int
}

// Ensure returns the current week's document, generating it if needed.
func (q *QuestEngine) Ensure(ctx context.Context, userID string, now time.Time) (*domain.WeeklyQuestDocument, error) {
	return q.ensureWeek(ctx, userID, now, now)
}

// ensureWeek returns the document for the ISO week containing at.
func (q *QuestEngine) ensureWeek(ctx context.Context, userID string, at, now time.Time) (*domain.WeeklyQuestDocument, error) {
	start, end, weekID := domain.WeekBounds(at)

	doc, err := q.quests.GetQuestDoc(ctx, userID, weekID)
	if err != nil {
		return nil, fmt.Errorf("get quest doc: %w", err)
	}
	if doc != nil {
		return doc, nil
	}

	prev, err := q.quests.GetQuestDoc(ctx, userID, domain.PreviousWeekID(at))
	if err != nil {
		return nil, fmt.Errorf("get previous quest doc: %w", err)
	}
	var prevKeys []string
	if prev != nil {
		prevKeys = prev.QuestKeys
	}

	subjects, err := q.subjects.ListSubjects(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	generated := Generate(userID, weekID, subjects, prevKeys)
	generated.WeekStart = start
	generated.WeekEnd = end
	generated.CreatedAt = now.UTC()

	inserted, err := q.quests.InsertQuestDoc(ctx, generated)
	if err != nil {
		return nil, fmt.Errorf("insert quest doc: %w", err)
	}
	if !inserted {
		// Another request generated it first; theirs wins.
		doc, err = q.quests.GetQuestDoc(ctx, userID, weekID)
		if err != nil {
			return nil, fmt.Errorf("reload quest doc: %w", err)
		}
		if doc == nil {
			return nil, fmt.Errorf("quest doc %s/%s vanished after insert race: %w", userID, weekID, domain.ErrStorageConflict)
		}
		return doc, nil
	}

	q.log.Info("weekly quests generated", "user_id", userID, "week_id", weekID, "quests", len(generated.Quests))
	return &generated, nil
}

// Current is the read path for the API: the week's document, generated if absent.
func (q *QuestEngine) Current(ctx context.Context, userID string, now time.Time) (*domain.WeeklyQuestDocument, error) {
	return q.Ensure(ctx, userID, now)
}

// Generate builds a fresh document. Pure: same inputs, same quests.
func Generate(userID, weekID string, subjects []domain.Subject, prevKeys []string) domain.WeeklyQuestDocument {
	chosen := SelectQuests(BuildPool(subjects), prevKeys, Seed(userID, weekID))

	templates := append([]domain.QuestTemplate{CycleQuest()}, chosen...)
	doc := domain.WeeklyQuestDocument{
		UserID:    userID,
		WeekID:    weekID,
		Quests:    make([]domain.Quest, 0, len(templates)),
		QuestKeys: make([]string, 0, len(templates)),
	}
	for _, tmpl := range templates {
		doc.Quests = append(doc.Quests, tmpl.Quest())
		doc.QuestKeys = append(doc.QuestKeys, tmpl.Key)
	}
	return doc
}

// Update records a settlement against the week's quests and pays out every
// quest that reaches its target. Returns the quests completed by this call.
func (q *QuestEngine) Update(ctx context.Context, ev QuestEvent, now time.Time) ([]domain.Quest, error) {
	var lastErr error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		completed, err := q.updateOnce(ctx, ev, now)
		if err == nil {
			return completed, nil
		}
		if !errors.Is(err, domain.ErrStorageConflict) {
			return nil, err
		}
		lastErr = err
		q.log.Debug("quest update conflict, retrying", "user_id", ev.UserID, "attempt", attempt)
	}
	return nil, fmt.Errorf("update quests after %d attempts: %w", q.maxAttempts, lastErr)
}

func (q *QuestEngine) updateOnce(ctx context.Context, ev QuestEvent, now time.Time) ([]domain.Quest, error) {
	at := ev.At
	if at.IsZero() {
		at = now
	}
	doc, err := q.ensureWeek(ctx, ev.UserID, at, now)
	if err != nil {
		return nil, err
	}

	next, completed, skipped := AdvanceQuests(doc.Quests, ev)
	for _, err := range skipped {
		q.log.Warn("skipping quest", "user_id", ev.UserID, "week_id", doc.WeekID, "error", err)
	}
	if questsEqual(doc.Quests, next) {
		return nil, nil
	}

	var prog *domain.Progression
	if len(completed) > 0 {
		p, err := q.progression.GetProgression(ctx, ev.UserID)
		if err != nil {
			return nil, fmt.Errorf("get progression: %w", err)
		}
		for _, quest := range completed {
			p = GrantReward(p, quest.Reward)
		}
		prog = &p
	}

	updated := *doc
	updated.Quests = next
	if err := q.quests.CommitQuestProgress(ctx, updated, prog); err != nil {
		return nil, err
	}

	for _, quest := range completed {
		q.log.Info("quest completed", "user_id", ev.UserID, "quest_id", quest.ID,
			"coins", quest.Reward.Coins, "xp", quest.Reward.XP)
	}
	return completed, nil
}

// AdvanceQuests applies one event to a quest list. Done quests are never
// touched. Quests with an unknown type are left as-is and reported.
func AdvanceQuests(quests []domain.Quest, ev QuestEvent) (next, completed []domain.Quest, skipped []error) {
	next = make([]domain.Quest, len(quests))
	copy(next, quests)

	for i := range next {
		qt := &next[i]
		if qt.Done {
			continue
		}

		progress, err := advanceOne(*qt, ev)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("quest %s: %w", qt.ID, err))
			continue
		}
		qt.Progress = progress

		if qt.Progress >= qt.Target {
			qt.Done = true
			completed = append(completed, *qt)
		}
	}
	return next, completed, skipped
}

// advanceOne returns the new progress for a single non-done quest.
func advanceOne(qt domain.Quest, ev QuestEvent) (int, error) {
	switch qt.Type {
	case domain.QuestSubjectMinutes:
		if qt.SubjectID == "" || qt.SubjectID != ev.SubjectID {
			return qt.Progress, nil
		}
		return min(qt.Target, qt.Progress+max(0, ev.CountedDuration)), nil

	case domain.QuestSubjectSessions:
		if qt.SubjectID == "" || qt.SubjectID != ev.SubjectID || !ev.Completed {
			return qt.Progress, nil
		}
		return min(qt.Target, qt.Progress+1), nil

	case domain.QuestWeekMinutes:
		return min(qt.Target, max(0, ev.WeekMinutes)), nil

	case domain.QuestCompleteCycle:
		goal := EffectiveGoal(ev.TotalGoalMinutes)
		if float64(ev.WeekMinutes)/float64(goal) >= 1.0 {
			return 1, nil
		}
		return 0, nil

	default:
		return qt.Progress, fmt.Errorf("type %q: %w", qt.Type, domain.ErrUnknownQuestType)
	}
}

func questsEqual(a, b []domain.Quest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Progress != b[i].Progress || a[i].Done != b[i].Done {
			return false
		}
	}
	return true
}
