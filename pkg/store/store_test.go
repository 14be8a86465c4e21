package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocap-kart/warbot/pkg/apierr"
	"github.com/ocap-kart/warbot/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := NewWithDB(db)
	require.NoError(t, err)
	return st
}

// TestWarRoundTrip checks the round-trip invariant: add_war followed by
// remove_war restores all player aggregates to pre-insert values exactly.
func TestWarRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateGuild(ctx, "G1", "Guild One", "chan", nil))

	warTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	warID, err := st.InsertWar(ctx, "G1", 12, warTime, []models.WarPlayer{
		{Name: "Alpha", Score: 95, RacesPlayed: 12},
		{Name: "Beta", Score: 80, RacesPlayed: 12},
		{Name: "Gamma", Score: 70, RacesPlayed: 12},
	})
	require.NoError(t, err)

	alpha, err := st.GetPlayer(ctx, "G1", "Alpha")
	require.NoError(t, err)
	require.Equal(t, int64(95), alpha.TotalScore)
	require.InDelta(t, 1.0, alpha.WarCount.Float64(), 0.001)
	require.InDelta(t, 95.0, alpha.AverageScore(), 0.001)

	war, err := st.GetWar(ctx, "G1", warID)
	require.NoError(t, err)
	require.Equal(t, 245, war.TeamScore())
	require.Equal(t, -1231, war.TeamDifferential())
	require.Equal(t, models.OutcomeLost, war.Outcome())

	require.NoError(t, st.RemoveWar(ctx, "G1", warID))

	alphaAfter, err := st.GetPlayer(ctx, "G1", "Alpha")
	require.NoError(t, err)
	require.Equal(t, int64(0), alphaAfter.TotalScore)
	require.Equal(t, int64(0), alphaAfter.TotalRaces)
	require.Equal(t, int64(0), int64(alphaAfter.WarCount))
	require.Nil(t, alphaAfter.LastWarDate)
}

// TestRemoveWarRevertsPartialHistory checks that a player with aggregates
// from five wars has one war removed and the remaining aggregates reflect
// exactly the other four.
func TestRemoveWarRevertsPartialHistory(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateGuild(ctx, "G1", "Guild One", "chan", nil))

	var removeID int64
	for i := 0; i < 5; i++ {
		score := 100
		id, err := st.InsertWar(ctx, "G1", 12, time.Date(2026, 1, i+1, 0, 0, 0, 0, time.UTC), []models.WarPlayer{
			{Name: "Alpha", Score: score, RacesPlayed: 12},
		})
		require.NoError(t, err)
		if i == 2 {
			removeID = id
		}
	}

	before, err := st.GetPlayer(ctx, "G1", "Alpha")
	require.NoError(t, err)
	require.Equal(t, int64(500), before.TotalScore)
	require.Equal(t, int64(60), before.TotalRaces)
	require.InDelta(t, 5.0, before.WarCount.Float64(), 0.001)

	require.NoError(t, st.RemoveWar(ctx, "G1", removeID))

	after, err := st.GetPlayer(ctx, "G1", "Alpha")
	require.NoError(t, err)
	require.Equal(t, int64(400), after.TotalScore)
	require.Equal(t, int64(48), after.TotalRaces)
	require.InDelta(t, 4.0, after.WarCount.Float64(), 0.001)
	require.InDelta(t, 100.0, after.AverageScore(), 0.001)
}

func TestRaceCountBoundaries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateGuild(ctx, "G1", "Guild One", "chan", nil))

	players := []models.WarPlayer{{Name: "Alpha", Score: 50, RacesPlayed: 1}}
	_, err := st.InsertWar(ctx, "G1", 1, time.Now(), players)
	require.NoError(t, err)

	players24 := []models.WarPlayer{{Name: "Alpha", Score: 50, RacesPlayed: 24}}
	_, err = st.InsertWar(ctx, "G1", 24, time.Now(), players24)
	require.NoError(t, err)

	_, err = st.InsertWar(ctx, "G1", 0, time.Now(), players)
	require.ErrorIs(t, err, apierr.ErrInvalidRaceCount)

	_, err = st.InsertWar(ctx, "G1", 25, time.Now(), players)
	require.ErrorIs(t, err, apierr.ErrInvalidRaceCount)
}

func TestEmptyWarRejected(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateGuild(ctx, "G1", "Guild One", "chan", nil))

	_, err := st.InsertWar(ctx, "G1", 12, time.Now(), nil)
	require.ErrorIs(t, err, apierr.ErrEmptyWar)
}

func TestGuildIsolation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateGuild(ctx, "G1", "Guild One", "chan", nil))
	require.NoError(t, st.CreateGuild(ctx, "G2", "Guild Two", "chan", nil))

	_, err := st.CreatePlayer(ctx, "G1", "Alpha", models.StatusMember)
	require.NoError(t, err)

	_, err = st.GetPlayer(ctx, "G2", "Alpha")
	require.ErrorIs(t, err, apierr.ErrUnknownPlayer)

	roster, err := st.RosterSnapshot(ctx, "G2")
	require.NoError(t, err)
	require.Len(t, roster, 0)
}

func TestDuplicateNicknameRejected(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.CreateGuild(ctx, "G1", "Guild One", "chan", nil))
	_, err := st.CreatePlayer(ctx, "G1", "Alpha", models.StatusMember)
	require.NoError(t, err)
	_, err = st.CreatePlayer(ctx, "G1", "Beta", models.StatusMember)
	require.NoError(t, err)

	require.NoError(t, st.AddNickname(ctx, "G1", "Alpha", "Alph"))
	err = st.AddNickname(ctx, "G1", "Beta", "alph")
	require.ErrorIs(t, err, apierr.ErrDuplicateNickname)
}
