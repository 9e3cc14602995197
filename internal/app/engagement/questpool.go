package engagement

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/pomociclo/pomociclo/internal/domain"
)

// QuestsPerWeek is how many variable quests are drawn from the pool.
// The fixed cycle quest is added on top.
const QuestsPerWeek = 3

// DefaultWeeklyGoalMinutes stands in for Σ subject goals when a user has none.
const DefaultWeeklyGoalMinutes = 300

// Quest rewards by kind.
var (
	rewardSubjectMinutes  = domain.Reward{Coins: 30, XP: 120}
	rewardSubjectSessions = domain.Reward{Coins: 20, XP: 80}
	rewardWeekMinutes     = domain.Reward{Coins: 40, XP: 160}
	rewardCompleteCycle   = domain.Reward{Coins: 50, XP: 200}
)

// Stable pool keys, recorded in WeeklyQuestDocument.QuestKeys.
const (
	keyWeekTotal = "week_total"
	keyCycleOne  = "cycle_one"
)

// EffectiveGoal returns the weekly goal used for week-scoped quests.
func EffectiveGoal(totalGoalMinutes int) int {
	if totalGoalMinutes <= 0 {
		return DefaultWeeklyGoalMinutes
	}
	return totalGoalMinutes
}

// BuildPool returns the variable quest candidates for a user's subjects,
// in subject order, followed by the whole-week quest.
func BuildPool(subjects []domain.Subject) []domain.QuestTemplate {
	pool := make([]domain.QuestTemplate, 0, 2*len(subjects)+1)
	for _, s := range subjects {
		target := max(60, int(math.RoundToEven(float64(s.TimeGoalMinutes)*0.6)))
		pool = append(pool, domain.QuestTemplate{
			Key:       "min:" + s.ID,
			ID:        "Q_MIN_" + s.ID,
			Type:      domain.QuestSubjectMinutes,
			Title:     fmt.Sprintf("Study %d min of %s", target, s.Name),
			SubjectID: s.ID,
			Target:    target,
			Reward:    rewardSubjectMinutes,
		})
		pool = append(pool, domain.QuestTemplate{
			Key:       "ses:" + s.ID,
			ID:        "Q_SES_" + s.ID,
			Type:      domain.QuestSubjectSessions,
			Title:     fmt.Sprintf("Complete 2 sessions of %s", s.Name),
			SubjectID: s.ID,
			Target:    2,
			Reward:    rewardSubjectSessions,
		})
	}

	goal := EffectiveGoal(domain.TotalGoalMinutes(subjects))
	weekTarget := max(300, int(math.RoundToEven(float64(goal)*0.7)))
	pool = append(pool, domain.QuestTemplate{
		Key:    keyWeekTotal,
		ID:     "Q_WEEK_TOTAL",
		Type:   domain.QuestWeekMinutes,
		Title:  fmt.Sprintf("Study %d min this week", weekTarget),
		Target: weekTarget,
		Reward: rewardWeekMinutes,
	})
	return pool
}

// CycleQuest is the fixed quest present every week: reach 100% of the
// summed weekly subject goals.
func CycleQuest() domain.QuestTemplate {
	return domain.QuestTemplate{
		Key:    keyCycleOne,
		ID:     "Q_CYCLE_ONE",
		Type:   domain.QuestCompleteCycle,
		Title:  "Complete 1 cycle",
		Target: 1,
		Reward: rewardCompleteCycle,
	}
}

// Seed derives the shuffle seed for a (user, week) pair.
func Seed(userID, weekID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(weekID))
	return int64(h.Sum64())
}

// Permutation returns a deterministic shuffle of [0, n) for the seed.
func Permutation(seed int64, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(n, func(i, j int) {
		idx[i], idx[j] = idx[j], idx[i]
	})
	return idx
}

// SelectQuests draws up to QuestsPerWeek templates from pool, avoiding keys
// used in the previous week unless that leaves fewer than QuestsPerWeek.
func SelectQuests(pool []domain.QuestTemplate, prevKeys []string, seed int64) []domain.QuestTemplate {
	seen := make(map[string]bool, len(prevKeys))
	for _, k := range prevKeys {
		seen[k] = true
	}

	candidates := make([]domain.QuestTemplate, 0, len(pool))
	for _, tmpl := range pool {
		if !seen[tmpl.Key] {
			candidates = append(candidates, tmpl)
		}
	}
	if len(candidates) < QuestsPerWeek {
		candidates = pool
	}

	n := min(QuestsPerWeek, len(candidates))
	chosen := make([]domain.QuestTemplate, 0, n)
	for _, i := range Permutation(seed, len(candidates))[:n] {
		chosen = append(chosen, candidates[i])
	}
	return chosen
}
