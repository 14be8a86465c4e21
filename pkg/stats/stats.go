package stats

import "time"

// BreakevenPerRace and DefaultRaceCount mirror the constants in pkg/models;
// duplicated here (rather than imported) to keep this package dependency
// free — see the package doc comment.
const (
	BreakevenPerRace  = 41
	DefaultRaceCount  = 12
)

// TeamDifferential computes team_score - breakeven*race_count*player_count.
func TeamDifferential(teamScore, raceCount, playerCount int) int {
	return teamScore - BreakevenPerRace*raceCount*playerCount
}

// Outcome classifies a differential as "won", "lost", or "tied".
func Outcome(differential int) string {
	switch {
	case differential > 0:
		return "won"
	case differential < 0:
		return "lost"
	default:
		return "tied"
	}
}

// PlayerAggregate holds the derived per-player fields that must reconcile
// with the underlying war rows. It is a plain value type so
// the store layer can load it from a row, mutate it here, and write it
// back inside the same transaction as the war mutation.
type PlayerAggregate struct {
	TotalScore  int64
	TotalRaces  int64
	WarCount    Decimal2
	LastWarDate *time.Time
}

// AverageScore returns total_score/war_count, or 0 if war_count is 0.
func (a PlayerAggregate) AverageScore() float64 {
	if a.WarCount == 0 {
		return 0
	}
	return float64(a.TotalScore) / a.WarCount.Float64()
}

// ApplyWarContribution credits a player's aggregate with one war
// appearance: racesPlayed out of raceCount races, having scored score
// points, in a war that happened at warTime. It is the forward direction
// of the aggregate insertion formulas that ReverseWarContribution undoes.
func ApplyWarContribution(a PlayerAggregate, score, racesPlayed, raceCount int, warTime time.Time) PlayerAggregate {
	a.TotalScore += int64(score)
	a.TotalRaces += int64(racesPlayed)
	a.WarCount = a.WarCount.Add(NewDecimal2FromFraction(racesPlayed, raceCount))
	if a.LastWarDate == nil || warTime.After(*a.LastWarDate) {
		t := warTime
		a.LastWarDate = &t
	}
	return a
}

// ReverseWarContribution applies the inverse deltas of ApplyWarContribution
// for war removal. lastWarDate must be recomputed by the
// caller via a query over the player's remaining wars — this function only
// reverses the additive fields.
func ReverseWarContribution(a PlayerAggregate, score, racesPlayed, raceCount int) PlayerAggregate {
	a.TotalScore -= int64(score)
	a.TotalRaces -= int64(racesPlayed)
	a.WarCount = a.WarCount.Sub(NewDecimal2FromFraction(racesPlayed, raceCount))
	return a
}

// WarContribution is one war's worth of inputs to Recompute, used by the
// review API's lastxwars recompute-without-persisting path. War removal in
// the store does not replay wars; it applies ReverseWarContribution.
type WarContribution struct {
	Score       int
	RacesPlayed int
	RaceCount   int
	WarTime     time.Time
}

// Recompute folds a set of war contributions into a fresh PlayerAggregate
// from zero, rather than repeatedly adding and subtracting deltas. Used
// for the "lastxwars" sort key, which must recompute aggregates for only
// the N most recent wars without persisting anything.
func Recompute(contributions []WarContribution) PlayerAggregate {
	var a PlayerAggregate
	for _, c := range contributions {
		a = ApplyWarContribution(a, c.Score, c.RacesPlayed, c.RaceCount, c.WarTime)
	}
	return a
}
