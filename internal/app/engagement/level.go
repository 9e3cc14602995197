package engagement

import (
	"math"

	"github.com/pomociclo/pomociclo/internal/domain"
)

// Threshold returns the XP needed to clear a level.
// Exponential curve: ceil(100 * 1.25^(level-1)). No level cap.
func Threshold(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(math.Ceil(100 * math.Pow(1.25, float64(level-1))))
}

// ApplyXP adds gain to the carried XP and rolls it into levels.
// A single gain may cross several levels; negative gains are ignored.
// The result always satisfies xp < Threshold(level).
func ApplyXP(xp int64, level int, gain int64) (int64, int) {
	if level < 1 {
		level = 1
	}
	xp += max(0, gain)
	for need := Threshold(level); xp >= need; need = Threshold(level) {
		xp -= need
		level++
	}
	return xp, level
}

// GrantReward credits coins and XP to the aggregate. It is the only path
// through which sessions and quest payouts touch coins, XP and level.
func GrantReward(p domain.Progression, r domain.Reward) domain.Progression {
	p.Coins += max(0, r.Coins)
	p.XP, p.Level = ApplyXP(p.XP, p.Level, r.XP)
	return p
}

// ProgressPct returns progress toward the next level (0 to 100).
func ProgressPct(p domain.Progression) float64 {
	need := Threshold(p.Level)
	if need <= 0 {
		return 100.0
	}
	return math.Min(100.0, float64(p.XP)/float64(need)*100.0)
}
