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

func validateRaceCount(raceCount int) error {
	if raceCount < 1 || raceCount > 24 {
		return apierr.ErrInvalidRaceCount
	}
	return nil
}

func validateWarPlayers(players []models.WarPlayer, raceCount int) error {
	if len(players) == 0 {
		return apierr.ErrEmptyWar
	}
	for _, p := range players {
		if p.RacesPlayed > raceCount {
			return apierr.ErrRacesExceedCount
		}
	}
	return nil
}

// InsertWar inserts one war and its WarPlayer rows and updates every
// participant's aggregates, all inside one transaction. It is used both
// by the bot worker's single-image approval flow and by the bulk
// session's materialization algorithm.
func (s *Store) InsertWar(ctx context.Context, guildID string, raceCount int, occurredAt time.Time, players []models.WarPlayer) (int64, error) {
	if err := validateRaceCount(raceCount); err != nil {
		return 0, err
	}
	if err := validateWarPlayers(players, raceCount); err != nil {
		return 0, err
	}

	var warID int64
	err := s.withGuildTx(ctx, guildID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO wars (guild_id, race_count, occurred_at) VALUES (?, ?, ?)`, guildID, raceCount, occurredAt)
		if err != nil {
			return fmt.Errorf("store: insert war: %w", err)
		}
		warID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for _, p := range players {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO war_players (war_id, guild_id, player_name, score, races_played) VALUES (?, ?, ?, ?, ?)
			`, warID, guildID, p.Name, p.Score, p.RacesPlayed); err != nil {
				return fmt.Errorf("store: insert war player %q: %w", p.Name, err)
			}

			_, err := applyAggregateDelta(ctx, tx, guildID, p.Name, func(a stats.PlayerAggregate) stats.PlayerAggregate {
				return stats.ApplyWarContribution(a, p.Score, p.RacesPlayed, raceCount, occurredAt)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return warID, nil
}

// AppendPlayerToWar adds one more player row to an existing war and
// updates that player's aggregates, within one transaction.
func (s *Store) AppendPlayerToWar(ctx context.Context, guildID string, warID int64, player models.WarPlayer) error {
	return s.withGuildTx(ctx, guildID, func(tx *sql.Tx) error {
		var raceCount int
		var occurredAt time.Time
		row := tx.QueryRowContext(ctx, `SELECT race_count, occurred_at FROM wars WHERE guild_id = ? AND id = ?`, guildID, warID)
		if err := row.Scan(&raceCount, &occurredAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apierr.ErrUnknownWar
			}
			return fmt.Errorf("store: load war: %w", err)
		}
		if player.RacesPlayed > raceCount {
			return apierr.ErrRacesExceedCount
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO war_players (war_id, guild_id, player_name, score, races_played) VALUES (?, ?, ?, ?, ?)
		`, warID, guildID, player.Name, player.Score, player.RacesPlayed); err != nil {
			return fmt.Errorf("store: append war player: %w", err)
		}

		_, err := applyAggregateDelta(ctx, tx, guildID, player.Name, func(a stats.PlayerAggregate) stats.PlayerAggregate {
			return stats.ApplyWarContribution(a, player.Score, player.RacesPlayed, raceCount, occurredAt)
		})
		return err
	})
}

// RemoveWar deletes a war and reverses its statistical contribution for
// every participant, within one transaction. Wars are never deleted any
// other way: the explicit remove-war operation is the only path that
// reverses a contribution.
func (s *Store) RemoveWar(ctx context.Context, guildID string, warID int64) error {
	return s.withGuildTx(ctx, guildID, func(tx *sql.Tx) error {
		var raceCount int
		row := tx.QueryRowContext(ctx, `SELECT race_count FROM wars WHERE guild_id = ? AND id = ?`, guildID, warID)
		if err := row.Scan(&raceCount); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apierr.ErrUnknownWar
			}
			return fmt.Errorf("store: load war: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `SELECT player_name, score, races_played FROM war_players WHERE guild_id = ? AND war_id = ?`, guildID, warID)
		if err != nil {
			return fmt.Errorf("store: load war players: %w", err)
		}
		type wp struct {
			name        string
			score       int
			racesPlayed int
		}
		var participants []wp
		for rows.Next() {
			var w wp
			if err := rows.Scan(&w.name, &w.score, &w.racesPlayed); err != nil {
				rows.Close()
				return fmt.Errorf("store: scan war player: %w", err)
			}
			participants = append(participants, w)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM war_players WHERE guild_id = ? AND war_id = ?`, guildID, warID); err != nil {
			return fmt.Errorf("store: delete war players: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM wars WHERE guild_id = ? AND id = ?`, guildID, warID); err != nil {
			return fmt.Errorf("store: delete war: %w", err)
		}

		for _, p := range participants {
			if _, err := applyAggregateDelta(ctx, tx, guildID, p.name, func(a stats.PlayerAggregate) stats.PlayerAggregate {
				return stats.ReverseWarContribution(a, p.score, p.racesPlayed, raceCount)
			}); err != nil {
				return err
			}
			newLast, err := recomputeLastWarDate(ctx, tx, guildID, p.name)
			if err != nil {
				return err
			}
			var arg interface{}
			if newLast != nil {
				arg = *newLast
			}
			if _, err := tx.ExecContext(ctx, `UPDATE players SET last_war_date = ? WHERE guild_id = ? AND name = ?`, arg, guildID, p.name); err != nil {
				return fmt.Errorf("store: update last war date: %w", err)
			}
		}
		return nil
	})
}

// GetWar loads one war with its players.
func (s *Store) GetWar(ctx context.Context, guildID string, warID int64) (models.War, error) {
	var w models.War
	row := s.db.QueryRowContext(ctx, `SELECT id, guild_id, race_count, occurred_at FROM wars WHERE guild_id = ? AND id = ?`, guildID, warID)
	if err := row.Scan(&w.WarID, &w.GuildID, &w.RaceCount, &w.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.War{}, apierr.ErrUnknownWar
		}
		return models.War{}, fmt.Errorf("store: get war: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT player_name, score, races_played FROM war_players WHERE guild_id = ? AND war_id = ? ORDER BY id ASC`, guildID, warID)
	if err != nil {
		return models.War{}, fmt.Errorf("store: load war players: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var wp models.WarPlayer
		if err := rows.Scan(&wp.Name, &wp.Score, &wp.RacesPlayed); err != nil {
			return models.War{}, fmt.Errorf("store: scan war player: %w", err)
		}
		w.Players = append(w.Players, wp)
	}
	return w, rows.Err()
}

// ListWars returns a page of a guild's wars, most recent first.
func (s *Store) ListWars(ctx context.Context, guildID string, page, limit int) ([]models.War, error) {
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM wars WHERE guild_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?`, guildID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("store: list wars: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.War, 0, len(ids))
	for _, id := range ids {
		w, err := s.GetWar(ctx, guildID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// WarContributionsForPlayer returns the last N wars a player appeared in
// (most recent first) as stats.WarContribution values, used by the review
// API's "lastxwars" recompute-without-persisting sort key.
func (s *Store) WarContributionsForPlayer(ctx context.Context, guildID, name string, lastN int) ([]stats.WarContribution, error) {
	query := `
		SELECT wp.score, wp.races_played, w.race_count, w.occurred_at
		FROM war_players wp
		JOIN wars w ON w.id = wp.war_id
		WHERE wp.guild_id = ? AND wp.player_name = ?
		ORDER BY w.occurred_at DESC, w.id DESC
	`
	args := []interface{}{guildID, name}
	if lastN > 0 {
		query += ` LIMIT ?`
		args = append(args, lastN)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: war contributions: %w", err)
	}
	defer rows.Close()

	var out []stats.WarContribution
	for rows.Next() {
		var c stats.WarContribution
		if err := rows.Scan(&c.Score, &c.RacesPlayed, &c.RaceCount, &c.WarTime); err != nil {
			return nil, fmt.Errorf("store: scan war contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TeamDifferentialTotal sums team_differential across every war a player
// appeared in, used by the leaderboard's total_team_differential sort key.
func (s *Store) TeamDifferentialTotal(ctx context.Context, guildID, name string) (int, error) {
	wars, err := s.warsForPlayer(ctx, guildID, name)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, w := range wars {
		total += w.TeamDifferential()
	}
	return total, nil
}

func (s *Store) warsForPlayer(ctx context.Context, guildID, name string) ([]models.War, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT w.id FROM wars w JOIN war_players wp ON wp.war_id = w.id WHERE w.guild_id = ? AND wp.player_name = ?`, guildID, name)
	if err != nil {
		return nil, fmt.Errorf("store: wars for player: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]models.War, 0, len(ids))
	for _, id := range ids {
		w, err := s.GetWar(ctx, guildID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
