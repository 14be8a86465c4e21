package bulksession

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocap-kart/warbot/pkg/apierr"
	"github.com/ocap-kart/warbot/pkg/logging"
	"github.com/ocap-kart/warbot/pkg/models"
	"github.com/ocap-kart/warbot/pkg/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := store.NewWithDB(db)
	require.NoError(t, err)
	require.NoError(t, st.CreateGuild(context.Background(), "G1", "Guild One", "scan-channel", []string{"Red", "Blue"}))

	return New(st, logging.New("bulksession_test")), st
}

// TestBulkConfirmScenario checks that a session with three results
// (approved / left pending / approved-including-a-player-not-on-the-roster
// who is auto-created) confirms to exactly two wars.
func TestBulkConfirmScenario(t *testing.T) {
	ctx := context.Background()
	mgr, st := newTestManager(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateGuild(ctx, "G1", "Guild One", "chan", nil))
	_, err := st.CreatePlayer(ctx, "G1", "Alpha", models.StatusMember)
	require.NoError(t, err)
	_, err = st.CreatePlayer(ctx, "G1", "Beta", models.StatusMember)
	require.NoError(t, err)

	token, err := mgr.CreateSession(ctx, "G1", "user-1", 3, now)
	require.NoError(t, err)

	r1, err := mgr.AppendResult(ctx, "G1", token, "img1.png", "", []RawDetection{
		{RawName: "Alpha", Score: 90, RacesPlayed: 12},
		{RawName: "Beta", Score: 80, RacesPlayed: 12},
	}, 12, now)
	require.NoError(t, err)

	_, err = mgr.AppendResult(ctx, "G1", token, "img2.png", "", []RawDetection{
		{RawName: "Alpha", Score: 10, RacesPlayed: 12},
	}, 12, now)
	require.NoError(t, err)

	r3, err := mgr.AppendResult(ctx, "G1", token, "img3.png", "", []RawDetection{
		{RawName: "Alpha", Score: 50, RacesPlayed: 12},
		{RawName: "Beta", Score: 60, RacesPlayed: 12},
		{RawName: "Newcomer", Score: 70, RacesPlayed: 12},
	}, 12, now)
	require.NoError(t, err)

	require.NoError(t, mgr.UpdateResult(ctx, "G1", token, r1, models.ReviewApproved, nil, now))
	require.NoError(t, mgr.UpdateResult(ctx, "G1", token, r3, models.ReviewApproved, nil, now))
	// r2 (the second appended result) stays pending, which confirm_session
	// treats the same as rejected: it contributes no war.

	warIDs, err := mgr.ConfirmSession(ctx, token, now)
	require.NoError(t, err)
	require.Len(t, warIDs, 2)

	newcomer, err := st.GetPlayer(ctx, "G1", "Newcomer")
	require.NoError(t, err)
	require.Equal(t, models.StatusMember, newcomer.MemberStatus)
	require.Equal(t, models.UnassignedTeam, newcomer.Team)

	sess, _, _, err := mgr.GetSession(ctx, token)
	require.NoError(t, err)
	require.Equal(t, models.SessionConfirmed, sess.Status)
}

// TestConfirmSessionRejectsSecondCall checks that confirm_session rejects
// (ErrSessionNotOpen) a second call on an already-confirmed session.
func TestConfirmSessionRejectsSecondCall(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)
	now := time.Now()

	token, err := mgr.CreateSession(ctx, "G1", "user-1", 0, now)
	require.NoError(t, err)

	_, err = mgr.ConfirmSession(ctx, token, now)
	require.NoError(t, err)

	_, err = mgr.ConfirmSession(ctx, token, now)
	require.ErrorIs(t, err, apierr.ErrSessionNotOpen)
}

// TestExpiredSessionRejectsConfirm checks that confirming a session past
// its TTL is rejected while cancelling it still succeeds.
func TestExpiredSessionRejectsConfirm(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	token, err := mgr.CreateSession(ctx, "G1", "user-1", 0, created)
	require.NoError(t, err)

	afterExpiry := created.Add(25 * time.Hour)
	_, err = mgr.ConfirmSession(ctx, token, afterExpiry)
	require.ErrorIs(t, err, apierr.ErrSessionExpired)

	// cancel remains allowed on an already-expired session.
	require.NoError(t, mgr.CancelSession(ctx, token))
}

func TestZeroApprovedResultsConfirmsToZeroWars(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)
	now := time.Now()

	token, err := mgr.CreateSession(ctx, "G1", "user-1", 0, now)
	require.NoError(t, err)

	warIDs, err := mgr.ConfirmSession(ctx, token, now)
	require.NoError(t, err)
	require.Len(t, warIDs, 0)
}
