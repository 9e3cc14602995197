// Package engagement implements the progression engine behind settlement:
// daily study streaks, the XP/level curve, and weekly quests.
package engagement

import (
	"time"

	"github.com/pomociclo/pomociclo/internal/app/reward"
	"github.com/pomociclo/pomociclo/internal/domain"
)

// AdvanceStreak applies one settlement's contribution to the streak.
// A day counts if a completed session contributed ≥25 counted minutes.
// Same UTC day: unchanged. Previous day: +1. Any other gap: reset to 1.
// When the contribution does not qualify the state is returned untouched
// and changed is false; the stored streak still feeds the multiplier.
func AdvanceStreak(s domain.StreakState, qualifyingMinutes int, now time.Time) (next domain.StreakState, changed bool) {
	if qualifyingMinutes < reward.StreakQualifyingMinutes {
		return s, false
	}

	today := domain.UTCDate(now)
	last, ok := parseDate(s.LastDate)

	switch {
	case !ok:
		next.Days = 1
	case daysBetween(last, now) == 0:
		return s, false
	case daysBetween(last, now) == 1:
		next.Days = s.Days + 1
	default:
		next.Days = 1
	}

	next.LastDate = today
	return next, true
}

// parseDate accepts the stored "2006-01-02" layout or a full RFC 3339 timestamp.
func parseDate(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(domain.DateLayout, v); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// daysBetween counts calendar days from last to now, both in UTC.
func daysBetween(last, now time.Time) int {
	a := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	n := now.UTC()
	b := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
