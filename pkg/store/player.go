package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ocap-kart/warbot/pkg/apierr"
	"github.com/ocap-kart/warbot/pkg/models"
	"github.com/ocap-kart/warbot/pkg/stats"
)

// CreatePlayer inserts a new roster row. Returns apierr.ErrDuplicatePlayer
// if the (guild_id, name) pair already exists.
func (s *Store) CreatePlayer(ctx context.Context, guildID, name string, status models.MemberStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO players (guild_id, name, nicknames, team, member_status, is_active)
		VALUES (?, ?, '[]', ?, ?, 1)
	`, guildID, name, models.UnassignedTeam, status)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return 0, apierr.ErrDuplicatePlayer
		}
		return 0, fmt.Errorf("store: create player: %w", err)
	}
	return res.LastInsertId()
}

// GetPlayer loads one player by canonical name within a guild.
func (s *Store) GetPlayer(ctx context.Context, guildID, name string) (models.Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, name, nicknames, team, member_status, is_active, total_score, total_races, war_count, last_war_date, created_at
		FROM players WHERE guild_id = ? AND name = ?
	`, guildID, name)
	return scanPlayer(row)
}

// GetPlayerByID loads one player by primary key, still scoped to guildID to
// enforce the no-cross-guild invariant even when callers hold a numeric ID.
func (s *Store) GetPlayerByID(ctx context.Context, guildID string, id int64) (models.Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, guild_id, name, nicknames, team, member_status, is_active, total_score, total_races, war_count, last_war_date, created_at
		FROM players WHERE guild_id = ? AND id = ?
	`, guildID, id)
	return scanPlayer(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlayer(row rowScanner) (models.Player, error) {
	var p models.Player
	var nicknamesJSON string
	var lastWarDate sql.NullTime
	var isActive int
	var warCount int64
	if err := row.Scan(&p.ID, &p.GuildID, &p.Name, &nicknamesJSON, &p.Team, &p.MemberStatus, &isActive, &p.TotalScore, &p.TotalRaces, &warCount, &lastWarDate, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Player{}, apierr.ErrUnknownPlayer
		}
		return models.Player{}, fmt.Errorf("store: scan player: %w", err)
	}
	if err := unmarshalJSON(nicknamesJSON, &p.Nicknames); err != nil {
		return models.Player{}, fmt.Errorf("store: unmarshal nicknames: %w", err)
	}
	p.IsActive = isActive != 0
	p.WarCount = stats.Decimal2(warCount)
	if lastWarDate.Valid {
		t := lastWarDate.Time
		p.LastWarDate = &t
	}
	return p, nil
}

// ListPlayers returns a guild's roster, optionally including inactive
// (kicked/removed) players.
func (s *Store) ListPlayers(ctx context.Context, guildID string, includeInactive bool) ([]models.Player, error) {
	query := `
		SELECT id, guild_id, name, nicknames, team, member_status, is_active, total_score, total_races, war_count, last_war_date, created_at
		FROM players WHERE guild_id = ?`
	if !includeInactive {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, guildID)
	if err != nil {
		return nil, fmt.Errorf("store: list players: %w", err)
	}
	defer rows.Close()

	var out []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RosterSnapshot loads the minimal roster view the name resolver needs.
func (s *Store) RosterSnapshot(ctx context.Context, guildID string) ([]models.Player, error) {
	return s.ListPlayers(ctx, guildID, true)
}

// SetMemberStatus updates a player's standing. Kicked derives IsActive=false;
// any other status sets IsActive=true.
func (s *Store) SetMemberStatus(ctx context.Context, guildID, name string, status models.MemberStatus) error {
	isActive := 1
	if status == models.StatusKicked {
		isActive = 0
	}
	res, err := s.db.ExecContext(ctx, `UPDATE players SET member_status = ?, is_active = ? WHERE guild_id = ? AND name = ?`, status, isActive, guildID, name)
	if err != nil {
		return fmt.Errorf("store: set member status: %w", err)
	}
	return requireRowAffected(res, apierr.ErrUnknownPlayer)
}

// RemovePlayer marks a player inactive (removed) without deleting history,
// since a player's wars are never deleted except via "remove war".
func (s *Store) RemovePlayer(ctx context.Context, guildID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE players SET is_active = 0 WHERE guild_id = ? AND name = ?`, guildID, name)
	if err != nil {
		return fmt.Errorf("store: remove player: %w", err)
	}
	return requireRowAffected(res, apierr.ErrUnknownPlayer)
}

// SetTeam assigns (or, with models.UnassignedTeam, clears) a player's team.
func (s *Store) SetTeam(ctx context.Context, guildID, name, team string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE players SET team = ? WHERE guild_id = ? AND name = ?`, team, guildID, name)
	if err != nil {
		return fmt.Errorf("store: set team: %w", err)
	}
	return requireRowAffected(res, apierr.ErrUnknownPlayer)
}

// AddNickname enforces guild-wide, case-insensitive nickname uniqueness
// against both canonical names and other players' existing nicknames.
func (s *Store) AddNickname(ctx context.Context, guildID, name, nickname string) error {
	p, err := s.GetPlayer(ctx, guildID, name)
	if err != nil {
		return err
	}

	roster, err := s.ListPlayers(ctx, guildID, true)
	if err != nil {
		return err
	}
	for _, other := range roster {
		if strings.EqualFold(other.Name, nickname) && !strings.EqualFold(other.Name, name) {
			return apierr.ErrDuplicateNickname
		}
		for _, n := range other.Nicknames {
			if strings.EqualFold(n, nickname) {
				return apierr.ErrDuplicateNickname
			}
		}
	}
	for _, n := range p.Nicknames {
		if strings.EqualFold(n, nickname) {
			return apierr.ErrDuplicateNickname
		}
	}

	p.Nicknames = append(p.Nicknames, nickname)
	nicksJSON, err := marshalJSON(p.Nicknames)
	if err != nil {
		return fmt.Errorf("store: marshal nicknames: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE players SET nicknames = ? WHERE guild_id = ? AND name = ?`, nicksJSON, guildID, name)
	if err != nil {
		return fmt.Errorf("store: add nickname: %w", err)
	}
	return nil
}

// RemoveNickname deletes a nickname from a player's alias set.
func (s *Store) RemoveNickname(ctx context.Context, guildID, name, nickname string) error {
	p, err := s.GetPlayer(ctx, guildID, name)
	if err != nil {
		return err
	}
	out := p.Nicknames[:0]
	for _, n := range p.Nicknames {
		if !strings.EqualFold(n, nickname) {
			out = append(out, n)
		}
	}
	nicksJSON, err := marshalJSON(out)
	if err != nil {
		return fmt.Errorf("store: marshal nicknames: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE players SET nicknames = ? WHERE guild_id = ? AND name = ?`, nicksJSON, guildID, name)
	if err != nil {
		return fmt.Errorf("store: remove nickname: %w", err)
	}
	return nil
}

// applyAggregateDelta loads a player's current aggregate, applies fn, and
// writes the result back — used by war insertion and removal within the
// same transaction as the war row mutation. Creates the player
// (Member/Unassigned/no nicknames) if it does not yet exist, acting as
// the materialization algorithm's auto-create safety net for detections
// that resolved to a brand new name.
func applyAggregateDelta(ctx context.Context, tx *sql.Tx, guildID, name string, fn func(stats.PlayerAggregate) stats.PlayerAggregate) (int64, error) {
	var id int64
	var totalScore, totalRaces, warCount int64
	var lastWarDate sql.NullTime
	row := tx.QueryRowContext(ctx, `SELECT id, total_score, total_races, war_count, last_war_date FROM players WHERE guild_id = ? AND name = ?`, guildID, name)
	err := row.Scan(&id, &totalScore, &totalRaces, &warCount, &lastWarDate)
	if errors.Is(err, sql.ErrNoRows) {
		res, insErr := tx.ExecContext(ctx, `
			INSERT INTO players (guild_id, name, nicknames, team, member_status, is_active)
			VALUES (?, ?, '[]', ?, ?, 1)
		`, guildID, name, models.UnassignedTeam, models.StatusMember)
		if insErr != nil {
			return 0, fmt.Errorf("store: auto-create player %q: %w", name, insErr)
		}
		id, insErr = res.LastInsertId()
		if insErr != nil {
			return 0, insErr
		}
	} else if err != nil {
		return 0, fmt.Errorf("store: load player aggregate: %w", err)
	}

	agg := stats.PlayerAggregate{TotalScore: totalScore, TotalRaces: totalRaces, WarCount: stats.Decimal2(warCount)}
	if lastWarDate.Valid {
		t := lastWarDate.Time
		agg.LastWarDate = &t
	}

	updated := fn(agg)

	var lastWarArg interface{}
	if updated.LastWarDate != nil {
		lastWarArg = *updated.LastWarDate
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE players SET total_score = ?, total_races = ?, war_count = ?, last_war_date = ? WHERE id = ?
	`, updated.TotalScore, updated.TotalRaces, int64(updated.WarCount), lastWarArg, id)
	if err != nil {
		return 0, fmt.Errorf("store: update player aggregate: %w", err)
	}
	return id, nil
}

// recomputeLastWarDate queries the player's remaining wars for the new
// maximum timestamp, used after a war is removed so LastWarDate doesn't
// point at a war that no longer exists.
func recomputeLastWarDate(ctx context.Context, tx *sql.Tx, guildID, name string) (*time.Time, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT MAX(w.occurred_at) FROM wars w
		JOIN war_players wp ON wp.war_id = w.id
		WHERE w.guild_id = ? AND wp.player_name = ?
	`, guildID, name)
	var t sql.NullTime
	if err := row.Scan(&t); err != nil {
		return nil, fmt.Errorf("store: recompute last war date: %w", err)
	}
	if !t.Valid {
		return nil, nil
	}
	out := t.Time
	return &out, nil
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
