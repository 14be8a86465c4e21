package botworker

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocap-kart/warbot/pkg/bulksession"
	"github.com/ocap-kart/warbot/pkg/chatplatform"
	"github.com/ocap-kart/warbot/pkg/logging"
	"github.com/ocap-kart/warbot/pkg/models"
	"github.com/ocap-kart/warbot/pkg/ocr"
	"github.com/ocap-kart/warbot/pkg/store"
)

// fakePlatform is a minimal in-memory chatplatform.Client for tests,
// grounded on the same fake-dependency style _examples/beeper-ai-bridge
// uses to isolate bridge tests from a live Matrix homeserver.
type fakePlatform struct {
	guildID       string
	images        []chatplatform.ImageAttachment
	posted        []string
	confirmations [][]chatplatform.DetectedPlayerView
}

func (f *fakePlatform) RecentImages(ctx context.Context, channelID string, limit int) ([]chatplatform.ImageAttachment, error) {
	if limit < len(f.images) {
		return f.images[:limit], nil
	}
	return f.images, nil
}

func (f *fakePlatform) PostMessage(ctx context.Context, channelID, text string) error {
	f.posted = append(f.posted, text)
	return nil
}

func (f *fakePlatform) PostInteractiveConfirmation(ctx context.Context, channelID string, detected []chatplatform.DetectedPlayerView) (string, error) {
	f.confirmations = append(f.confirmations, detected)
	return "prompt-1", nil
}

func (f *fakePlatform) GuildIDForChannel(ctx context.Context, channelID string) (string, error) {
	return f.guildID, nil
}

func newTestWorker(t *testing.T, backend ocr.Backend) (*Worker, *store.Store, *fakePlatform) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.NewWithDB(db)
	require.NoError(t, err)
	require.NoError(t, st.CreateGuild(context.Background(), "G1", "Guild One", "scan-channel", nil))

	log := logging.New("botworker_test")
	sessions := bulksession.New(st, log)
	engine := ocr.New(ocr.DefaultConfig(), log)
	platform := &fakePlatform{guildID: "G1"}

	return New(platform, st, sessions, engine, backend, log), st, platform
}

func TestDispatchAddWarAndStats(t *testing.T) {
	ctx := context.Background()
	w, st, _ := newTestWorker(t, ocr.BackendFunc(func(ctx context.Context, ref string, img []byte) (ocr.RawOutput, error) {
		return ocr.RawOutput{Status: ocr.StatusOK}, nil
	}))

	_, err := w.Dispatch(ctx, chatplatform.CommandInvocation{
		GuildID: "G1",
		Name:    "addwar",
		Args:    map[string]string{"player_scores": "Alpha:95,Beta:80", "races": "12"},
	})
	require.NoError(t, err)

	alpha, err := st.GetPlayer(ctx, "G1", "Alpha")
	require.NoError(t, err)
	require.Equal(t, int64(95), alpha.TotalScore)

	reply, err := w.Dispatch(ctx, chatplatform.CommandInvocation{GuildID: "G1", Name: "stats", Args: map[string]string{"player": "Alpha"}})
	require.NoError(t, err)
	require.Contains(t, reply, "average_score=95.00")
}

func TestDispatchUnknownCommand(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newTestWorker(t, nil)
	_, err := w.Dispatch(ctx, chatplatform.CommandInvocation{GuildID: "G1", Name: "not-a-real-command"})
	require.Error(t, err)
}

func TestHandleImageAttachmentPostsConfirmation(t *testing.T) {
	ctx := context.Background()
	w, _, platform := newTestWorker(t, ocr.BackendFunc(func(ctx context.Context, ref string, img []byte) (ocr.RawOutput, error) {
		return ocr.RawOutput{Status: ocr.StatusOK, Boxes: []ocr.Box{{Text: "Alpha"}, {Text: "Beta"}}}, nil
	}))

	img := chatplatform.ImageAttachment{Filename: "a.png", PostedAt: time.Now()}
	err := w.HandleImageAttachment(ctx, "scan-channel", img, []byte("fake-image-bytes"))
	require.NoError(t, err)
	require.Len(t, platform.confirmations, 1)
	require.Len(t, platform.confirmations[0], 2)
}

func TestBulkScanCommandCreatesSessionWithResults(t *testing.T) {
	ctx := context.Background()
	w, _, platform := newTestWorker(t, ocr.BackendFunc(func(ctx context.Context, ref string, img []byte) (ocr.RawOutput, error) {
		return ocr.RawOutput{Status: ocr.StatusOK, Boxes: []ocr.Box{{Text: "Alpha"}}}, nil
	}))

	platform.images = []chatplatform.ImageAttachment{
		{Filename: "img1.png", Data: bytes.NewReader([]byte("x"))},
		{Filename: "img2.png", Data: bytes.NewReader([]byte("y"))},
	}

	reply, err := w.Dispatch(ctx, chatplatform.CommandInvocation{GuildID: "G1", ChannelID: "scan-channel", UserID: "user-1", Name: "bulkscanimage"})
	require.NoError(t, err)
	require.Contains(t, reply, "bulk scan complete")

	token := reply[strings.LastIndex(reply, " ")+1:]
	_, results, _, err := w.sessions.GetSession(ctx, token)
	require.NoError(t, err)
	require.Len(t, results, 2)

	sessions, err := w.store.ListPlayers(ctx, "G1", true)
	require.NoError(t, err)
	_ = sessions // roster stays empty until approval; this just exercises the path without error
}

func TestRemoveWarCommandReverts(t *testing.T) {
	ctx := context.Background()
	w, st, _ := newTestWorker(t, nil)

	warID, err := st.InsertWar(ctx, "G1", 12, time.Now(), []models.WarPlayer{{Name: "Alpha", Score: 95, RacesPlayed: 12}})
	require.NoError(t, err)

	_, err = w.Dispatch(ctx, chatplatform.CommandInvocation{GuildID: "G1", Name: "removewar", Args: map[string]string{"war_id": "1"}})
	require.NoError(t, err)
	_ = warID

	alpha, err := st.GetPlayer(ctx, "G1", "Alpha")
	require.NoError(t, err)
	require.Equal(t, int64(0), alpha.TotalScore)
}
