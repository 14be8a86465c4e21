package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ocap-kart/warbot/pkg/apierr"
	"github.com/ocap-kart/warbot/pkg/models"
	"github.com/ocap-kart/warbot/pkg/stats"
)

// SessionTTL is the lifetime of a bulk scan session from creation.
const SessionTTL = 24 * time.Hour

// CreateSession inserts an open session with a caller-supplied token
// (generated by pkg/bulksession using crypto/rand) and a 24h TTL.
func (s *Store) CreateSession(ctx context.Context, token, guildID, userID string, totalImages int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bulk_scan_sessions (session_token, guild_id, created_by_user, status, total_images, created_at, expires_at)
		VALUES (?, ?, ?, 'open', ?, ?, ?)
	`, token, guildID, userID, totalImages, now, now.Add(SessionTTL))
	if err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (models.BulkSession, error) {
	var sess models.BulkSession
	if err := row.Scan(&sess.Token, &sess.GuildID, &sess.CreatedByUser, &sess.Status, &sess.TotalImages, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.BulkSession{}, apierr.ErrUnknownSession
		}
		return models.BulkSession{}, fmt.Errorf("store: scan session: %w", err)
	}
	return sess, nil
}

// GetSessionRaw loads a session row without the expiry/status gating
// higher layers apply; used internally and by the review API's handlers.
func (s *Store) GetSessionRaw(ctx context.Context, token string) (models.BulkSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_token, guild_id, created_by_user, status, total_images, created_at, expires_at
		FROM bulk_scan_sessions WHERE session_token = ?
	`, token)
	return scanSession(row)
}

// GetSession loads a session along with its results and failures.
func (s *Store) GetSession(ctx context.Context, token string) (models.BulkSession, []models.BulkResult, []models.BulkFailure, error) {
	sess, err := s.GetSessionRaw(ctx, token)
	if err != nil {
		return models.BulkSession{}, nil, nil, err
	}
	results, err := s.ListResults(ctx, token)
	if err != nil {
		return models.BulkSession{}, nil, nil, err
	}
	failures, err := s.ListFailures(ctx, token)
	if err != nil {
		return models.BulkSession{}, nil, nil, err
	}
	return sess, results, failures, nil
}

func scanResult(row rowScanner) (models.BulkResult, error) {
	var r models.BulkResult
	var detectedJSON string
	var correctedJSON sql.NullString
	if err := row.Scan(&r.ResultID, &r.SessionToken, &r.ImageFilename, &r.ImageURL, &detectedJSON, &r.ReviewStatus, &correctedJSON, &r.RaceCount, &r.MessageTimestamp); err != nil {
		return models.BulkResult{}, fmt.Errorf("store: scan result: %w", err)
	}
	if err := unmarshalJSON(detectedJSON, &r.DetectedPlayers); err != nil {
		return models.BulkResult{}, fmt.Errorf("store: unmarshal detected players: %w", err)
	}
	if correctedJSON.Valid {
		if err := unmarshalJSON(correctedJSON.String, &r.CorrectedPlayers); err != nil {
			return models.BulkResult{}, fmt.Errorf("store: unmarshal corrected players: %w", err)
		}
	}
	return r, nil
}

// ListResults returns every result row for a session, ordered by id
// ascending, the order the materialization algorithm iterates in.
func (s *Store) ListResults(ctx context.Context, token string) ([]models.BulkResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_token, image_filename, image_url, detected_players, review_status, corrected_players, race_count, message_timestamp
		FROM bulk_scan_results WHERE session_token = ? ORDER BY id ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("store: list results: %w", err)
	}
	defer rows.Close()
	var out []models.BulkResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListFailures returns every failure row for a session.
func (s *Store) ListFailures(ctx context.Context, token string) ([]models.BulkFailure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_token, image_filename, image_url, error_message, message_timestamp
		FROM bulk_scan_failures WHERE session_token = ? ORDER BY id ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("store: list failures: %w", err)
	}
	defer rows.Close()
	var out []models.BulkFailure
	for rows.Next() {
		var f models.BulkFailure
		if err := rows.Scan(&f.FailureID, &f.SessionToken, &f.ImageFilename, &f.ImageURL, &f.ErrorMessage, &f.MessageTimestamp); err != nil {
			return nil, fmt.Errorf("store: scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// requireOpenSession loads the session and enforces the open/expired
// gating shared by append_result, append_failure, update_result, and
// convert_failure.
func requireOpenSession(ctx context.Context, tx *sql.Tx, token string, now time.Time) (models.BulkSession, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT session_token, guild_id, created_by_user, status, total_images, created_at, expires_at
		FROM bulk_scan_sessions WHERE session_token = ?
	`, token)
	sess, err := scanSession(row)
	if err != nil {
		return models.BulkSession{}, err
	}
	if sess.Status == models.SessionOpen && sess.IsExpired(now) {
		if _, err := tx.ExecContext(ctx, `UPDATE bulk_scan_sessions SET status = 'expired' WHERE session_token = ?`, token); err != nil {
			return models.BulkSession{}, fmt.Errorf("store: expire session: %w", err)
		}
		return models.BulkSession{}, apierr.ErrSessionExpired
	}
	if sess.Status != models.SessionOpen {
		return models.BulkSession{}, apierr.ErrSessionNotOpen
	}
	return sess, nil
}

// AppendResult inserts a pending result row while the session is open.
func (s *Store) AppendResult(ctx context.Context, token string, imageRef, imageURL string, detected []models.DetectedPlayer, raceCount int, now time.Time) (int64, error) {
	var id int64
	err := s.withGuildTx(ctx, sessionGuildLockKey(token), func(tx *sql.Tx) error {
		if _, err := requireOpenSession(ctx, tx, token, now); err != nil {
			return err
		}
		detectedJSON, err := marshalJSON(detected)
		if err != nil {
			return fmt.Errorf("store: marshal detected players: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bulk_scan_results (session_token, image_filename, image_url, detected_players, review_status, race_count, message_timestamp)
			VALUES (?, ?, ?, ?, 'pending', ?, ?)
		`, token, imageRef, imageURL, detectedJSON, raceCount, now)
		if err != nil {
			return fmt.Errorf("store: append result: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// AppendFailure inserts a failure row while the session is open.
func (s *Store) AppendFailure(ctx context.Context, token string, imageRef, imageURL, errMsg string, now time.Time) (int64, error) {
	var id int64
	err := s.withGuildTx(ctx, sessionGuildLockKey(token), func(tx *sql.Tx) error {
		if _, err := requireOpenSession(ctx, tx, token, now); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bulk_scan_failures (session_token, image_filename, image_url, error_message, message_timestamp)
			VALUES (?, ?, ?, ?, ?)
		`, token, imageRef, imageURL, errMsg, now)
		if err != nil {
			return fmt.Errorf("store: append failure: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// UpdateResult changes a result's review status and, optionally, its
// corrected player set.
func (s *Store) UpdateResult(ctx context.Context, token string, resultID int64, status models.ReviewStatus, corrected []models.DetectedPlayer, now time.Time) error {
	return s.withGuildTx(ctx, sessionGuildLockKey(token), func(tx *sql.Tx) error {
		if _, err := requireOpenSession(ctx, tx, token, now); err != nil {
			return err
		}
		if corrected != nil {
			correctedJSON, err := marshalJSON(corrected)
			if err != nil {
				return fmt.Errorf("store: marshal corrected players: %w", err)
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE bulk_scan_results SET review_status = ?, corrected_players = ? WHERE session_token = ? AND id = ?
			`, status, correctedJSON, token, resultID)
			if err != nil {
				return fmt.Errorf("store: update result: %w", err)
			}
			return requireRowAffected(res, apierr.ErrUnknownResult)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE bulk_scan_results SET review_status = ? WHERE session_token = ? AND id = ?
		`, status, token, resultID)
		if err != nil {
			return fmt.Errorf("store: update result: %w", err)
		}
		return requireRowAffected(res, apierr.ErrUnknownResult)
	})
}

// ConvertFailure deletes a failure row and creates a result row in its
// place, within one transaction.
func (s *Store) ConvertFailure(ctx context.Context, token string, failureID int64, players []models.DetectedPlayer, initialStatus models.ReviewStatus, raceCount int, now time.Time) (int64, error) {
	var id int64
	err := s.withGuildTx(ctx, sessionGuildLockKey(token), func(tx *sql.Tx) error {
		if _, err := requireOpenSession(ctx, tx, token, now); err != nil {
			return err
		}
		var filename, url string
		var msgTime time.Time
		row := tx.QueryRowContext(ctx, `SELECT image_filename, image_url, message_timestamp FROM bulk_scan_failures WHERE session_token = ? AND id = ?`, token, failureID)
		if err := row.Scan(&filename, &url, &msgTime); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apierr.ErrUnknownFailure
			}
			return fmt.Errorf("store: load failure: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bulk_scan_failures WHERE session_token = ? AND id = ?`, token, failureID); err != nil {
			return fmt.Errorf("store: delete failure: %w", err)
		}

		playersJSON, err := marshalJSON(players)
		if err != nil {
			return fmt.Errorf("store: marshal players: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bulk_scan_results (session_token, image_filename, image_url, detected_players, review_status, race_count, message_timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, token, filename, url, playersJSON, initialStatus, raceCount, msgTime)
		if err != nil {
			return fmt.Errorf("store: insert converted result: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// CancelSession marks a session cancelled. Idempotent relative to terminal
// states: expired, cancelled, and confirmed all accept a no-op cancel.
func (s *Store) CancelSession(ctx context.Context, token string) error {
	return s.withGuildTx(ctx, sessionGuildLockKey(token), func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT status FROM bulk_scan_sessions WHERE session_token = ?`, token)
		var status models.SessionStatus
		if err := row.Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apierr.ErrUnknownSession
			}
			return fmt.Errorf("store: load session: %w", err)
		}
		if status != models.SessionOpen {
			return nil
		}
		_, err := tx.ExecContext(ctx, `UPDATE bulk_scan_sessions SET status = 'cancelled' WHERE session_token = ?`, token)
		if err != nil {
			return fmt.Errorf("store: cancel session: %w", err)
		}
		return nil
	})
}

// ConfirmSession runs the materialization algorithm inside one
// transaction: load session, walk approved results in id order,
// auto-create missing roster members, insert wars and update aggregates,
// then mark the session confirmed.
func (s *Store) ConfirmSession(ctx context.Context, token string, now time.Time) ([]int64, error) {
	var warIDs []int64
	err := s.withGuildTx(ctx, sessionGuildLockKey(token), func(tx *sql.Tx) error {
		sess, err := requireOpenSession(ctx, tx, token, now)
		if err != nil {
			return err
		}

		results, err := txListResults(ctx, tx, token)
		if err != nil {
			return err
		}

		for _, r := range results {
			if r.ReviewStatus != models.ReviewApproved {
				continue
			}
			players := r.EffectivePlayers()
			if len(players) == 0 {
				return apierr.ErrEmptyApprovedSet
			}

			raceCount := r.RaceCount
			if raceCount == 0 {
				raceCount = models.DefaultRaceCount
			}

			warRes, err := tx.ExecContext(ctx, `INSERT INTO wars (guild_id, race_count, occurred_at) VALUES (?, ?, ?)`, sess.GuildID, raceCount, r.MessageTimestamp)
			if err != nil {
				return fmt.Errorf("store: confirm: insert war: %w", err)
			}
			warID, err := warRes.LastInsertId()
			if err != nil {
				return err
			}

			for _, p := range players {
				racesPlayed := p.RacesPlayed
				if racesPlayed == 0 {
					racesPlayed = raceCount
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO war_players (war_id, guild_id, player_name, score, races_played) VALUES (?, ?, ?, ?, ?)
				`, warID, sess.GuildID, p.Name, p.Score, racesPlayed); err != nil {
					return fmt.Errorf("store: confirm: insert war player %q: %w", p.Name, err)
				}

				score, racesPlayedCopy, raceCountCopy, warTime := p.Score, racesPlayed, raceCount, r.MessageTimestamp
				if _, err := applyAggregateDelta(ctx, tx, sess.GuildID, p.Name, func(a stats.PlayerAggregate) stats.PlayerAggregate {
					return stats.ApplyWarContribution(a, score, racesPlayedCopy, raceCountCopy, warTime)
				}); err != nil {
					return err
				}
			}

			warIDs = append(warIDs, warID)
		}

		_, err = tx.ExecContext(ctx, `UPDATE bulk_scan_sessions SET status = 'confirmed' WHERE session_token = ?`, token)
		if err != nil {
			return fmt.Errorf("store: confirm: mark confirmed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return warIDs, nil
}

func txListResults(ctx context.Context, tx *sql.Tx, token string) ([]models.BulkResult, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, session_token, image_filename, image_url, detected_players, review_status, corrected_players, race_count, message_timestamp
		FROM bulk_scan_results WHERE session_token = ? ORDER BY id ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("store: confirm: list results: %w", err)
	}
	defer rows.Close()
	var out []models.BulkResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExpireOpenSessions marks every open session whose TTL has elapsed as
// expired. Returns the number of sessions transitioned.
func (s *Store) ExpireOpenSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE bulk_scan_sessions SET status = 'expired' WHERE status = 'open' AND expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("store: expire sessions: %w", err)
	}
	return res.RowsAffected()
}

// sessionGuildLockKey scopes the write lock to the session rather than a
// guild, since session mutations must serialize against confirm_session
// regardless of how many guilds are active concurrently. Using the token
// itself as the lock key keeps unrelated sessions (even in the same
// guild) from blocking each other.
func sessionGuildLockKey(token string) string {
	return "session:" + token
}
