package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ocap-kart/warbot/pkg/apierr"
	"github.com/ocap-kart/warbot/pkg/models"
)

// CreateGuild inserts a new tenant row on first /setup. Re-running setup
// for an existing guild_id updates the display name and channel rather
// than erroring, since setup is operator-idempotent.
func (s *Store) CreateGuild(ctx context.Context, guildID, displayName, ocrChannel string, teamNames []string) error {
	teamJSON, err := marshalJSON(teamNames)
	if err != nil {
		return fmt.Errorf("store: marshal team names: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guild_configs (guild_id, display_name, ocr_channel, team_names, active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(guild_id) DO UPDATE SET display_name=excluded.display_name, ocr_channel=excluded.ocr_channel, team_names=excluded.team_names
	`, guildID, displayName, ocrChannel, teamJSON)
	if err != nil {
		return fmt.Errorf("store: create guild: %w", err)
	}
	return nil
}

// GetGuild loads one guild by its external ID.
func (s *Store) GetGuild(ctx context.Context, guildID string) (models.Guild, error) {
	var g models.Guild
	var teamJSON string
	var active int
	var createdAt time.Time
	row := s.db.QueryRowContext(ctx, `SELECT guild_id, display_name, ocr_channel, team_names, active, created_at FROM guild_configs WHERE guild_id = ?`, guildID)
	if err := row.Scan(&g.GuildID, &g.DisplayName, &g.OCRChannel, &teamJSON, &active, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Guild{}, apierr.ErrUnknownGuild
		}
		return models.Guild{}, fmt.Errorf("store: get guild: %w", err)
	}
	if err := unmarshalJSON(teamJSON, &g.TeamNames); err != nil {
		return models.Guild{}, fmt.Errorf("store: unmarshal team names: %w", err)
	}
	g.Active = active != 0
	g.CreatedAt = createdAt
	return g, nil
}

// SetOCRChannel updates the guild's configured scan channel.
func (s *Store) SetOCRChannel(ctx context.Context, guildID, channel string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE guild_configs SET ocr_channel = ? WHERE guild_id = ?`, channel, guildID)
	if err != nil {
		return fmt.Errorf("store: set ocr channel: %w", err)
	}
	return requireRowAffected(res, apierr.ErrUnknownGuild)
}

// AddTeam, RemoveTeam, and RenameTeam maintain the guild's team-name list,
// stored as a JSON array column rather than a child table since teams have
// no independent lifecycle beyond this small enum.
func (s *Store) AddTeam(ctx context.Context, guildID, name string) error {
	return s.mutateTeams(ctx, guildID, func(teams []string) ([]string, error) {
		for _, t := range teams {
			if t == name {
				return nil, fmt.Errorf("team %q already exists", name)
			}
		}
		return append(teams, name), nil
	})
}

func (s *Store) RemoveTeam(ctx context.Context, guildID, name string) error {
	return s.mutateTeams(ctx, guildID, func(teams []string) ([]string, error) {
		out := teams[:0]
		for _, t := range teams {
			if t != name {
				out = append(out, t)
			}
		}
		return out, nil
	})
}

func (s *Store) RenameTeam(ctx context.Context, guildID, oldName, newName string) error {
	return s.mutateTeams(ctx, guildID, func(teams []string) ([]string, error) {
		out := make([]string, len(teams))
		found := false
		for i, t := range teams {
			if t == oldName {
				out[i] = newName
				found = true
			} else {
				out[i] = t
			}
		}
		if !found {
			return nil, fmt.Errorf("team %q not found", oldName)
		}
		return out, nil
	})
}

func (s *Store) mutateTeams(ctx context.Context, guildID string, fn func([]string) ([]string, error)) error {
	g, err := s.GetGuild(ctx, guildID)
	if err != nil {
		return err
	}
	updated, err := fn(g.TeamNames)
	if err != nil {
		return err
	}
	teamJSON, err := marshalJSON(updated)
	if err != nil {
		return fmt.Errorf("store: marshal team names: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE guild_configs SET team_names = ? WHERE guild_id = ?`, teamJSON, guildID)
	if err != nil {
		return fmt.Errorf("store: update team names: %w", err)
	}
	return nil
}

func requireRowAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
