// Package botworker bridges a chat platform to the OCR/resolver/store
// pipeline. It never talks to the platform's wire protocol directly (see
// pkg/chatplatform); it only translates parsed commands and image events
// into pipeline operations.
package botworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ocap-kart/warbot/pkg/apierr"
	"github.com/ocap-kart/warbot/pkg/bulksession"
	"github.com/ocap-kart/warbot/pkg/chatplatform"
	"github.com/ocap-kart/warbot/pkg/models"
	"github.com/ocap-kart/warbot/pkg/ocr"
	"github.com/ocap-kart/warbot/pkg/resolver"
	"github.com/ocap-kart/warbot/pkg/store"
)

// Worker wires the chat-platform client to the OCR engine, the name
// resolver, the bulk session manager, and the store, and owns the
// explicit command registry of commands.go.
type Worker struct {
	platform chatplatform.Client
	store    *store.Store
	sessions *bulksession.Manager
	engine   *ocr.Engine
	backend  ocr.Backend
	log      zerolog.Logger

	commands map[string]Command

	// batch buffers per-image bulk-scan results so that concurrent
	// bulk-scan completions don't each take their own session write lock:
	// completions are batched into database writes (up to 10 per
	// transaction) and flushed within 500ms of the first in the batch.
	batchMu sync.Mutex
	batch   []pendingResultWrite
	flushAt time.Time
}

type pendingResultWrite struct {
	guildID   string
	token     string
	img       chatplatform.ImageAttachment
	raws      []bulksession.RawDetection
	raceCount int
}

const (
	batchMaxSize  = 10
	batchFlushGap = 500 * time.Millisecond
)

// New builds a Worker ready to register commands and handle image events.
func New(platform chatplatform.Client, st *store.Store, sessions *bulksession.Manager, engine *ocr.Engine, backend ocr.Backend, log zerolog.Logger) *Worker {
	w := &Worker{
		platform: platform,
		store:    st,
		sessions: sessions,
		engine:   engine,
		backend:  backend,
		log:      log.With().Str("component", "botworker").Logger(),
	}
	w.commands = defaultRegistry()
	return w
}

func (w *Worker) now() time.Time { return time.Now() }

// Dispatch resolves and runs a parsed command invocation.
func (w *Worker) Dispatch(ctx context.Context, inv chatplatform.CommandInvocation) (string, error) {
	cmd, ok := w.commands[inv.Name]
	if !ok {
		return "", fmt.Errorf("unknown command %q", inv.Name)
	}
	for _, p := range cmd.Params {
		if p.Required && arg(inv, p.Name) == "" {
			return "", fmt.Errorf("%w: %s requires %q", apierr.ErrMalformedScores, inv.Name, p.Name)
		}
	}
	return cmd.Handler(ctx, w, inv)
}

func (w *Worker) resolveAgainstRoster(ctx context.Context, guildID, raw string) resolver.Resolution {
	roster, err := w.store.RosterSnapshot(ctx, guildID)
	if err != nil {
		return resolver.Resolution{CanonicalName: raw, IsRosterMember: false}
	}
	snapshot := resolver.RosterSnapshot{Players: make([]resolver.RosterEntry, len(roster))}
	for i, p := range roster {
		snapshot.Players[i] = resolver.RosterEntry{CanonicalName: p.Name, Nicknames: p.Nicknames}
	}
	return resolver.Resolve(raw, snapshot)
}

// HandleImageAttachment implements the single-image flow: submit at
// EXPRESS priority, resolve names on completion, and post an interactive
// confirmation. The caller supplies the raw image bytes read from the
// attachment.
func (w *Worker) HandleImageAttachment(ctx context.Context, channelID string, img chatplatform.ImageAttachment, data []byte) error {
	guildID, err := w.platform.GuildIDForChannel(ctx, channelID)
	if err != nil {
		return err
	}

	fut := w.engine.Submit(ctx, w.backend, ocr.Express, img.Filename, data)
	result := fut.Wait()

	switch result.Output.Status {
	case ocr.StatusError:
		return w.platform.PostMessage(ctx, channelID, "couldn't read this image, try again or enter manually")
	case ocr.StatusEmpty:
		return w.platform.PostMessage(ctx, channelID, "no players detected in this image")
	}

	detected := make([]chatplatform.DetectedPlayerView, 0, len(result.Output.Boxes))
	for _, box := range result.Output.Boxes {
		res := w.resolveAgainstRoster(ctx, guildID, box.Text)
		detected = append(detected, chatplatform.DetectedPlayerView{Name: res.CanonicalName, IsRosterMember: res.IsRosterMember})
	}

	_, err = w.platform.PostInteractiveConfirmation(ctx, channelID, detected)
	return err
}

// ApproveSingleImage inserts one war from an approved single-image
// confirmation, within one transaction.
func (w *Worker) ApproveSingleImage(ctx context.Context, guildID string, raceCount int, players []models.WarPlayer) (int64, error) {
	return w.store.InsertWar(ctx, guildID, raceCount, w.now(), players)
}

// handleScanImageCommand triggers the same single-image flow as an image
// attachment, for the explicit scanimage() slash command.
func (w *Worker) handleScanImageCommand(ctx context.Context, inv chatplatform.CommandInvocation) (string, error) {
	images, err := w.platform.RecentImages(ctx, inv.ChannelID, 1)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "no recent images found in this channel", nil
	}
	img := images[0]
	data, err := readAll(img)
	if err != nil {
		return "", fmt.Errorf("botworker: read image: %w", err)
	}
	if err := w.HandleImageAttachment(ctx, inv.ChannelID, img, data); err != nil {
		return "", err
	}
	return "scan submitted, confirmation posted to this channel", nil
}

// handleBulkScanCommand implements the bulk scan flow: collect recent
// images, create a session, submit each at a tier determined by the batch
// size, and append results/failures as each completes.
func (w *Worker) handleBulkScanCommand(ctx context.Context, inv chatplatform.CommandInvocation) (string, error) {
	const maxBulkImages = 100

	images, err := w.platform.RecentImages(ctx, inv.ChannelID, maxBulkImages)
	if err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "no recent images found in this channel", nil
	}

	token, err := w.sessions.CreateSession(ctx, inv.GuildID, inv.UserID, len(images), w.now())
	if err != nil {
		return "", err
	}

	tier := w.engine.TierForBulkSize(len(images))

	var wg sync.WaitGroup
	for _, img := range images {
		img := img
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processOneBulkImage(ctx, inv.GuildID, token, tier, img)
		}()
	}
	wg.Wait()
	w.flushPendingResults(ctx)

	return fmt.Sprintf("bulk scan complete: %d images, review at session %s", len(images), token), nil
}

// flushPendingResults forces out whatever remains in the batch buffer. It
// runs when a group's batchFlushGap timer fires and once a bulk scan's
// goroutines have all completed, so a batch smaller than batchMaxSize is
// never left unwritten.
func (w *Worker) flushPendingResults(ctx context.Context) {
	w.batchMu.Lock()
	toFlush := w.batch
	w.batch = nil
	w.batchMu.Unlock()

	for _, b := range toFlush {
		if _, err := w.sessions.AppendResult(ctx, b.guildID, b.token, b.img.Filename, b.img.URL, b.raws, b.raceCount, w.now()); err != nil {
			w.log.Error().Err(err).Str("image", b.img.Filename).Msg("failed to append batched bulk scan result")
		}
	}
}

func (w *Worker) processOneBulkImage(ctx context.Context, guildID, token string, tier ocr.Tier, img chatplatform.ImageAttachment) {
	data, err := readAll(img)
	if err != nil {
		if _, appendErr := w.sessions.AppendFailure(ctx, token, img.Filename, img.URL, err.Error(), w.now()); appendErr != nil {
			w.log.Error().Err(appendErr).Msg("failed to append bulk scan failure")
		}
		return
	}

	fut := w.engine.Submit(ctx, w.backend, tier, img.Filename, data)
	result := fut.Wait()

	if result.Output.Status == ocr.StatusError {
		msg := "ocr error"
		if result.Output.Err != nil {
			msg = result.Output.Err.Error()
		}
		if _, err := w.sessions.AppendFailure(ctx, token, img.Filename, img.URL, msg, w.now()); err != nil {
			w.log.Error().Err(err).Msg("failed to append bulk scan failure")
		}
		return
	}

	raws := make([]bulksession.RawDetection, 0, len(result.Output.Boxes))
	for _, box := range result.Output.Boxes {
		raws = append(raws, bulksession.RawDetection{RawName: box.Text})
	}
	w.queueResultWrite(ctx, pendingResultWrite{guildID: guildID, token: token, img: img, raws: raws, raceCount: models.DefaultRaceCount})
}

func readAll(img chatplatform.ImageAttachment) ([]byte, error) {
	if img.Data == nil {
		return nil, fmt.Errorf("botworker: image %s has no data", img.Filename)
	}
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		n, err := img.Data.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return buf, err
		}
	}
}

func (w *Worker) handleDebugOCR(ctx context.Context, imageURL string) (string, error) {
	fut := w.engine.Submit(ctx, w.backend, ocr.Express, imageURL, nil)
	result := fut.Wait()
	return fmt.Sprintf("status=%v boxes=%d", result.Output.Status, len(result.Output.Boxes)), nil
}

// queueResultWrite batches OCR completions into database writes: concurrent
// bulk-scan completions accumulate here and are flushed as one group,
// either once 10 are pending or 500ms after the first of the group
// arrived, whichever comes first.
func (w *Worker) queueResultWrite(ctx context.Context, item pendingResultWrite) {
	w.batchMu.Lock()
	w.batch = append(w.batch, item)
	full := len(w.batch) >= batchMaxSize
	if len(w.batch) == 1 {
		w.flushAt = w.now().Add(batchFlushGap)
		time.AfterFunc(batchFlushGap, func() { w.flushPendingResults(ctx) })
	}
	shouldFlush := full || w.now().After(w.flushAt)
	var toFlush []pendingResultWrite
	if shouldFlush {
		toFlush = w.batch
		w.batch = nil
	}
	w.batchMu.Unlock()

	for _, b := range toFlush {
		if _, err := w.sessions.AppendResult(ctx, b.guildID, b.token, b.img.Filename, b.img.URL, b.raws, b.raceCount, w.now()); err != nil {
			w.log.Error().Err(err).Str("image", b.img.Filename).Msg("failed to append batched bulk scan result")
		}
	}
}
