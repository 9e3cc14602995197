package reward_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomociclo/pomociclo/internal/app/reward"
	"github.com/pomociclo/pomociclo/internal/domain"
)

// ═══════════════════════════════════════════════════════════════════════════
// Near-completion forgiveness
// ═══════════════════════════════════════════════════════════════════════════

func TestCount_SkippedAtNinetyPercentCountsAsCompleted(t *testing.T) {
	counted, completed := reward.Count(45, true, 50)
	assert.Equal(t, 45, counted)
	assert.True(t, completed)
}

func TestCount_SkippedAboveNinetyIsClampedToNinety(t *testing.T) {
	for _, block := range []int{10, 25, 50, 60, 90, 111} {
		ninety := block * 9 / 10
		for d := ninety; d <= block+30; d++ {
			counted, completed := reward.Count(d, true, block)
			require.Equal(t, ninety, counted, "block=%d d=%d", block, d)
			require.True(t, completed, "block=%d d=%d", block, d)
		}
	}
}

func TestCount_SkippedBelowNinetyIsNotCompleted(t *testing.T) {
	counted, completed := reward.Count(44, true, 50)
	assert.Equal(t, 44, counted)
	assert.False(t, completed)
}

func TestCount_NotSkippedKeepsRawDuration(t *testing.T) {
	counted, completed := reward.Count(73, false, 50)
	assert.Equal(t, 73, counted)
	assert.True(t, completed)
}

// ═══════════════════════════════════════════════════════════════════════════
// Multipliers
// ═══════════════════════════════════════════════════════════════════════════

func TestFatigue_Bands(t *testing.T) {
	tests := []struct {
		minutes int
		want    float64
	}{
		{0, 1.00}, {50, 1.00}, {51, 0.90}, {100, 0.90},
		{101, 0.80}, {180, 0.80}, {181, 0.70}, {600, 0.70},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, reward.Fatigue(tt.minutes), "minutes=%d", tt.minutes)
	}
}

func TestCompletion(t *testing.T) {
	assert.Equal(t, 1.20, reward.Completion(50, 50, true))
	assert.Equal(t, 1.00, reward.Completion(49, 50, true))
	assert.Equal(t, 1.00, reward.Completion(80, 50, false))
}

func TestStreak_ClampedAtSevenDays(t *testing.T) {
	assert.InDelta(t, 1.21, reward.Streak(10), 1e-12)
	assert.InDelta(t, 1.21, reward.Streak(7), 1e-12)
	assert.InDelta(t, 1.03, reward.Streak(1), 1e-12)
	assert.Equal(t, 1.0, reward.Streak(0))
	assert.Equal(t, 1.0, reward.Streak(-4))
}

func TestSoftcap_UsesPreSessionTotal(t *testing.T) {
	assert.Equal(t, 1.0, reward.Softcap(899))
	assert.Equal(t, 0.5, reward.Softcap(900))
	assert.Equal(t, 0.5, reward.Softcap(5000))
}

func TestApplyMults_FloorsAndNeverNegative(t *testing.T) {
	assert.Equal(t, int64(12), reward.ApplyMults(10, 1.2))
	assert.Equal(t, int64(2), reward.ApplyMults(2.99))
	assert.Equal(t, int64(0), reward.ApplyMults(-5, 1.2))
	assert.Equal(t, int64(0), reward.ApplyMults(10, 0))
}

// ═══════════════════════════════════════════════════════════════════════════
// Full formula
// ═══════════════════════════════════════════════════════════════════════════

func TestCompute_FullBlock(t *testing.T) {
	out, err := reward.Compute(reward.Input{RawDuration: 50, BlockMinutes: 50})
	require.NoError(t, err)

	assert.Equal(t, 50, out.CountedDuration)
	assert.True(t, out.Completed)
	assert.Equal(t, int64(12), out.Coins) // 10 * 1.2
	assert.Equal(t, int64(338), out.XP)   // (8*50^0.9 + 12) * 1.2
}

func TestCompute_ForgivenSkipAtBoundary(t *testing.T) {
	out, err := reward.Compute(reward.Input{RawDuration: 45, Skipped: true, BlockMinutes: 50})
	require.NoError(t, err)

	assert.Equal(t, 45, out.CountedDuration)
	assert.True(t, out.Completed)
	assert.Equal(t, 1.0, out.Multipliers.Completion) // 45 < 50
	assert.Equal(t, int64(9), out.Coins)
	assert.Equal(t, int64(246), out.XP)
}

func TestCompute_LongSessionWithStreakAndSoftcap(t *testing.T) {
	in := reward.Input{RawDuration: 120, BlockMinutes: 50, StreakDays: 10, WeekBefore: 950}
	out, err := reward.Compute(in)
	require.NoError(t, err)

	assert.Equal(t, 0.80, out.Multipliers.Fatigue)
	assert.Equal(t, 0.5, out.Multipliers.Softcap)
	assert.Equal(t, int64(13), out.Coins)
	assert.Equal(t, int64(718), out.XP) // softcap never touches XP

	in.WeekBefore = 899
	out, err = reward.Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Multipliers.Softcap)
	assert.Equal(t, int64(27), out.Coins)
	assert.Equal(t, int64(718), out.XP)
}

func TestCompute_IncompleteSession(t *testing.T) {
	out, err := reward.Compute(reward.Input{RawDuration: 30, Skipped: true, BlockMinutes: 50})
	require.NoError(t, err)

	assert.False(t, out.Completed)
	assert.Equal(t, 30, out.CountedDuration)
	assert.Equal(t, int64(6), out.Coins)
	assert.Equal(t, int64(170), out.XP)
	assert.Equal(t, 0, reward.Qualifying(out.CountedDuration, out.Completed))
}

func TestCompute_ZeroDuration(t *testing.T) {
	out, err := reward.Compute(reward.Input{RawDuration: 0, BlockMinutes: 50})
	require.NoError(t, err)
	assert.Zero(t, out.Coins)
	assert.Zero(t, out.XP)
}

func TestCompute_NegativeDurationRejected(t *testing.T) {
	_, err := reward.Compute(reward.Input{RawDuration: -1, BlockMinutes: 50})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestCompute_NeverNegative(t *testing.T) {
	for d := 0; d <= 400; d += 7 {
		for _, skipped := range []bool{true, false} {
			out, err := reward.Compute(reward.Input{
				RawDuration: d, Skipped: skipped, BlockMinutes: 25, StreakDays: d % 11, WeekBefore: d * 5,
			})
			require.NoError(t, err)
			require.GreaterOrEqual(t, out.Coins, int64(0))
			require.GreaterOrEqual(t, out.XP, int64(0))
		}
	}
}
