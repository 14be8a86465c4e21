package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamDifferential(t *testing.T) {
	// 245 - 41*12*3 = -1231.
	assert.Equal(t, -1231, TeamDifferential(245, 12, 3))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "won", Outcome(1))
	assert.Equal(t, "lost", Outcome(-1))
	assert.Equal(t, "tied", Outcome(0))
}

func TestApplyWarContributionSingleFullWar(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agg := ApplyWarContribution(PlayerAggregate{}, 95, 12, 12, now)

	require.Equal(t, int64(95), agg.TotalScore)
	require.Equal(t, int64(12), agg.TotalRaces)
	assert.Equal(t, "1.00", agg.WarCount.String())
	assert.InDelta(t, 95, agg.AverageScore(), 0.01)
	require.NotNil(t, agg.LastWarDate)
	assert.True(t, agg.LastWarDate.Equal(now))
}

func TestApplyAndReverseIsExactInverse(t *testing.T) {
	// add_war then remove_war must restore aggregates bit-exactly.
	start := PlayerAggregate{TotalScore: 500, TotalRaces: 60, WarCount: NewDecimal2FromFraction(500, 100)}
	warTime := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	after := ApplyWarContribution(start, 100, 12, 12, warTime)
	reversed := ReverseWarContribution(after, 100, 12, 12)

	assert.Equal(t, start.TotalScore, reversed.TotalScore)
	assert.Equal(t, start.TotalRaces, reversed.TotalRaces)
	assert.Equal(t, start.WarCount, reversed.WarCount)
}

func TestRemoveWarScenario4(t *testing.T) {
	// Reversing a partial war contribution off a larger existing aggregate.
	start := PlayerAggregate{TotalScore: 500, TotalRaces: 60, WarCount: Decimal2(500)}
	after := ReverseWarContribution(start, 100, 12, 12)

	assert.Equal(t, int64(400), after.TotalScore)
	assert.Equal(t, int64(48), after.TotalRaces)
	assert.Equal(t, "4.00", after.WarCount.String())
	assert.InDelta(t, 100, after.AverageScore(), 0.01)
}

func TestRecomputeMatchesSequentialApply(t *testing.T) {
	warTime := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	contribs := []WarContribution{
		{Score: 80, RacesPlayed: 12, RaceCount: 12, WarTime: warTime},
		{Score: 60, RacesPlayed: 6, RaceCount: 12, WarTime: warTime.Add(time.Hour)},
	}

	recomputed := Recompute(contribs)

	var sequential PlayerAggregate
	for _, c := range contribs {
		sequential = ApplyWarContribution(sequential, c.Score, c.RacesPlayed, c.RaceCount, c.WarTime)
	}

	assert.Equal(t, sequential, recomputed)
	assert.Equal(t, "1.50", recomputed.WarCount.String())
}

func TestDecimal2JSONRoundTrip(t *testing.T) {
	d := NewDecimal2FromFraction(150, 100)
	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "1.50", string(b))

	var out Decimal2
	require.NoError(t, out.UnmarshalJSON(b))
	assert.Equal(t, d, out)
}

func TestNewDecimal2FromFractionZeroDenominator(t *testing.T) {
	assert.Equal(t, Decimal2(0), NewDecimal2FromFraction(5, 0))
}
