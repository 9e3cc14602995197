// Package reward implements the session reward formula.
// coins = coins_base * completion * fatigue * streak * softcap
// xp    = xp_base    * completion * fatigue * streak
// Everything here is pure: no clock, no storage.
package reward

import (
	"fmt"
	"math"

	"github.com/pomociclo/pomociclo/internal/domain"
)

const (
	// SoftcapMinutes is the week-to-date threshold (15h) after which coins are halved.
	SoftcapMinutes = 900

	// StreakQualifyingMinutes is the counted duration a completed session
	// needs for the day to count towards the streak.
	StreakQualifyingMinutes = 25

	maxStreakBonusDays = 7
	streakBonusPerDay  = 0.03
)

// Input is everything the formula depends on.
type Input struct {
	RawDuration  int  // minutes reported by the client
	Skipped      bool // user ended the block early
	BlockMinutes int  // configured focus block length
	StreakDays   int  // streak after this session's contribution
	WeekBefore   int  // completed minutes this ISO week, excluding this session
}

// Multipliers exposes the individual factors for logging and API output.
type Multipliers struct {
	Fatigue    float64 `json:"fatigue"`
	Completion float64 `json:"completion"`
	Streak     float64 `json:"streak"`
	Softcap    float64 `json:"softcap"`
}

// Output is the settled reward. Callers must use CountedDuration and
// Completed (not the raw client values) for all downstream bookkeeping.
type Output struct {
	Coins           int64       `json:"coins"`
	XP              int64       `json:"xp"`
	CountedDuration int         `json:"counted_duration"`
	Completed       bool        `json:"completed"`
	Multipliers     Multipliers `json:"multipliers"`
}

// NinetyPercent returns floor(0.9 * block).
func NinetyPercent(blockMinutes int) int {
	if blockMinutes <= 0 {
		return 0
	}
	return blockMinutes * 9 / 10
}

// Count applies near-completion forgiveness: a skipped session that reached
// 90% of the block counts as completed with exactly 90% of the block.
func Count(duration int, skipped bool, blockMinutes int) (counted int, completed bool) {
	ninety := NinetyPercent(blockMinutes)
	if skipped && duration >= ninety {
		return ninety, true
	}
	return duration, !skipped
}

// Qualifying returns the minutes fed to the streak tracker.
func Qualifying(counted int, completed bool) int {
	if !completed {
		return 0
	}
	return counted
}

// Fatigue models diminishing reward for very long unbroken sessions.
func Fatigue(counted int) float64 {
	switch {
	case counted <= 50:
		return 1.00
	case counted <= 100:
		return 0.90
	case counted <= 180:
		return 0.80
	default:
		return 0.70
	}
}

// Completion rewards finishing a full configured block.
func Completion(counted, blockMinutes int, completed bool) float64 {
	if !completed {
		return 1.00
	}
	if counted >= blockMinutes {
		return 1.20
	}
	return 1.00
}

// Streak returns 1 + 3% per streak day, capped at +21%.
func Streak(streakDays int) float64 {
	days := min(max(streakDays, 0), maxStreakBonusDays)
	return 1.0 + float64(days)*streakBonusPerDay
}

// Softcap halves coins once the pre-session weekly total reaches 15h.
func Softcap(weekBefore int) float64 {
	if weekBefore >= SoftcapMinutes {
		return 0.5
	}
	return 1.0
}

// CoinsBase is one coin per five counted minutes.
func CoinsBase(counted int) float64 {
	return float64(counted) / 5.0
}

// XPBase is sublinear in duration plus 12 XP per completed block.
func XPBase(counted, blockMinutes int) float64 {
	blocks := 0
	if blockMinutes > 0 {
		blocks = counted / blockMinutes
	}
	return 8.0*math.Pow(float64(counted), 0.9) + 12.0*float64(blocks)
}

// ApplyMults multiplies value by every factor and floors at zero.
func ApplyMults(value float64, mults ...float64) int64 {
	v := value
	for _, m := range mults {
		v *= m
	}
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int64(math.Floor(v))
}

// Compute runs the full formula.
func Compute(in Input) (Output, error) {
	if in.RawDuration < 0 {
		return Output{}, fmt.Errorf("duration %d: %w", in.RawDuration, domain.ErrInvalidInput)
	}

	counted, completed := Count(in.RawDuration, in.Skipped, in.BlockMinutes)

	m := Multipliers{
		Fatigue:    Fatigue(counted),
		Completion: Completion(counted, in.BlockMinutes, completed),
		Streak:     Streak(in.StreakDays),
		Softcap:    Softcap(in.WeekBefore),
	}

	return Output{
		Coins:           ApplyMults(CoinsBase(counted), m.Completion, m.Fatigue, m.Streak, m.Softcap),
		XP:              ApplyMults(XPBase(counted, in.BlockMinutes), m.Completion, m.Fatigue, m.Streak),
		CountedDuration: counted,
		Completed:       completed,
		Multipliers:     m,
	}, nil
}
