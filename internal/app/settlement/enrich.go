package settlement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/pomociclo/pomociclo/internal/app/calendar"
	"github.com/pomociclo/pomociclo/internal/app/engagement"
	"github.com/pomociclo/pomociclo/internal/domain"
	"github.com/pomociclo/pomociclo/internal/infra/metrics"
)

// enrich runs the quest update and calendar heuristic concurrently and
// copies what they completed into res. Failures stay inside this function.
func (s *Service) enrich(ctx context.Context, done settled, now time.Time, res *Result) {
	var (
		g      errgroup.Group
		quests []domain.Quest
		events []string
	)

	if s.quests != nil {
		g.Go(func() error {
			var err error
			quests, err = s.updateQuests(ctx, done.session, now)
			s.enrichmentDone("quests", done.session, err)
			return nil
		})
	}
	if s.calendar != nil {
		g.Go(func() error {
			var err error
			events, err = s.completeEvents(ctx, done.session)
			s.enrichmentDone("calendar", done.session, err)
			return nil
		})
	}
	_ = g.Wait()

	if quests != nil {
		res.QuestsCompleted = quests
	}
	if events != nil {
		res.EventsCompleted = events
	}
}

func (s *Service) enrichmentDone(step string, session domain.StudySession, err error) {
	if err == nil {
		return
	}
	metrics.EnrichmentFailures.WithLabelValues(step).Inc()
	s.log.Warn("post-settlement step failed",
		"step", step, "user_id", session.UserID, "session_id", session.ID, "error", err)
}

func (s *Service) updateQuests(ctx context.Context, session domain.StudySession, now time.Time) (completed []domain.Quest, err error) {
	ctx, span := s.tracer.Start(ctx, "settlement.quests")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "quest update failed")
		}
		span.SetAttributes(attribute.Int("quests.completed", len(completed)))
		span.End()
	}()

	weekMinutes, err := s.sessions.WeekMinutes(ctx, session.UserID, session.StartTime, "")
	if err != nil {
		return nil, fmt.Errorf("week minutes: %w", err)
	}
	subjects, err := s.subjects.ListSubjects(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	completed, err = s.quests.Update(ctx, engagement.QuestEvent{
		UserID:           session.UserID,
		At:               session.StartTime,
		SubjectID:        session.SubjectID,
		CountedDuration:  session.CountedDuration,
		Completed:        session.Completed,
		WeekMinutes:      weekMinutes,
		TotalGoalMinutes: domain.TotalGoalMinutes(subjects),
	}, now)
	if err != nil {
		return nil, err
	}

	for _, q := range completed {
		metrics.QuestsCompleted.WithLabelValues(string(q.Type)).Inc()
		metrics.CoinsAwarded.WithLabelValues("quest").Add(float64(q.Reward.Coins))
		metrics.XPAwarded.WithLabelValues("quest").Add(float64(q.Reward.XP))
	}
	return completed, nil
}

func (s *Service) completeEvents(ctx context.Context, session domain.StudySession) (ids []string, err error) {
	ctx, span := s.tracer.Start(ctx, "settlement.calendar")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "calendar heuristic failed")
		}
		span.SetAttributes(attribute.Int("calendar.completed", len(ids)))
		span.End()
	}()

	ids, err = s.calendar.Run(ctx, calendar.Trigger{
		UserID:         session.UserID,
		SubjectID:      session.SubjectID,
		SessionStart:   session.StartTime,
		CountedMinutes: session.CountedDuration,
	})
	metrics.CalendarEventsCompleted.Add(float64(len(ids)))
	return ids, err
}
