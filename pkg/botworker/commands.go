package botworker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ocap-kart/warbot/pkg/apierr"
	"github.com/ocap-kart/warbot/pkg/chatplatform"
	"github.com/ocap-kart/warbot/pkg/models"
)

// ParamSchema declares one named argument a command accepts, replacing a
// decorator-based command registration with an explicit, inspectable
// table.
type ParamSchema struct {
	Name     string
	Required bool
}

// Handler executes one parsed command invocation and returns the
// user-visible reply text.
type Handler func(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error)

// Command pairs a name with its handler and parameter schema, the unit the
// registry is built from. Grounded on
// _examples/cra88y-block-server/go/main.go's InitModule, which pairs an
// RPC name with a handler function at startup; here the pairing is data
// (a map literal) rather than a sequence of RegisterRpc calls, since there
// is no host runtime to register against.
type Command struct {
	Name    string
	Params  []ParamSchema
	Handler Handler
}

func arg(inv chatplatform.CommandInvocation, name string) string {
	return strings.TrimSpace(inv.Args[name])
}

func requireArg(inv chatplatform.CommandInvocation, name string) (string, error) {
	v := arg(inv, name)
	if v == "" {
		return "", fmt.Errorf("%w: missing required argument %q", apierr.ErrMalformedScores, name)
	}
	return v, nil
}

// defaultRegistry builds the full slash-command surface this bot exposes.
func defaultRegistry() map[string]Command {
	commands := []Command{
		{Name: "setup", Params: []ParamSchema{{Name: "teamname"}, {Name: "players"}, {Name: "results_channel", Required: true}}, Handler: cmdSetup},
		{Name: "setchannel", Params: []ParamSchema{{Name: "channel", Required: true}}, Handler: cmdSetChannel},
		{Name: "addwar", Params: []ParamSchema{{Name: "player_scores", Required: true}, {Name: "races"}}, Handler: cmdAddWar},
		{Name: "appendplayertowar", Params: []ParamSchema{{Name: "war_id", Required: true}, {Name: "player_scores", Required: true}}, Handler: cmdAppendPlayerToWar},
		{Name: "removewar", Params: []ParamSchema{{Name: "war_id", Required: true}}, Handler: cmdRemoveWar},
		{Name: "showallwars", Params: []ParamSchema{{Name: "limit"}}, Handler: cmdShowAllWars},
		{Name: "addplayer", Params: []ParamSchema{{Name: "name", Required: true}, {Name: "member_status"}}, Handler: cmdAddPlayer},
		{Name: "removeplayer", Params: []ParamSchema{{Name: "name", Required: true}}, Handler: cmdRemovePlayer},
		{Name: "setmemberstatus", Params: []ParamSchema{{Name: "name", Required: true}, {Name: "status", Required: true}}, Handler: cmdSetMemberStatus},
		{Name: "addteam", Params: []ParamSchema{{Name: "name", Required: true}}, Handler: cmdAddTeam},
		{Name: "removeteam", Params: []ParamSchema{{Name: "name", Required: true}}, Handler: cmdRemoveTeam},
		{Name: "renameteam", Params: []ParamSchema{{Name: "old", Required: true}, {Name: "new", Required: true}}, Handler: cmdRenameTeam},
		{Name: "assignplayers", Params: []ParamSchema{{Name: "players", Required: true}, {Name: "team", Required: true}}, Handler: cmdAssignPlayers},
		{Name: "unassignplayerfromteam", Params: []ParamSchema{{Name: "name", Required: true}}, Handler: cmdUnassignPlayer},
		{Name: "showallteams", Handler: cmdShowAllTeams},
		{Name: "showspecificteamroster", Params: []ParamSchema{{Name: "team", Required: true}}, Handler: cmdShowTeamRoster},
		{Name: "roster", Handler: cmdRoster},
		{Name: "showtrials", Handler: cmdShowTrials},
		{Name: "showkicked", Handler: cmdShowKicked},
		{Name: "addnickname", Params: []ParamSchema{{Name: "name", Required: true}, {Name: "nickname", Required: true}}, Handler: cmdAddNickname},
		{Name: "removenickname", Params: []ParamSchema{{Name: "name", Required: true}, {Name: "nickname", Required: true}}, Handler: cmdRemoveNickname},
		{Name: "nicknamesfor", Params: []ParamSchema{{Name: "name", Required: true}}, Handler: cmdNicknamesFor},
		{Name: "stats", Params: []ParamSchema{{Name: "player"}, {Name: "lastxwars"}, {Name: "sortby"}}, Handler: cmdStats},
		{Name: "scanimage", Handler: cmdScanImage},
		{Name: "bulkscanimage", Handler: cmdBulkScanImage},
		{Name: "debugocr", Params: []ParamSchema{{Name: "image_url", Required: true}}, Handler: cmdDebugOCR},
		{Name: "checkpermissions", Params: []ParamSchema{{Name: "channel", Required: true}}, Handler: cmdCheckPermissions},
		{Name: "help", Handler: cmdHelp},
	}

	registry := make(map[string]Command, len(commands))
	for _, c := range commands {
		registry[c.Name] = c
	}
	return registry
}

func cmdSetup(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	channel, err := requireArg(inv, "results_channel")
	if err != nil {
		return "", err
	}
	var teams []string
	if t := arg(inv, "teamname"); t != "" {
		teams = append(teams, t)
	}
	if err := w.store.CreateGuild(ctx, inv.GuildID, inv.GuildID, channel, teams); err != nil {
		return "", err
	}
	if players := arg(inv, "players"); players != "" {
		for _, name := range strings.Split(players, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, err := w.store.CreatePlayer(ctx, inv.GuildID, name, models.StatusMember); err != nil && err != apierr.ErrDuplicatePlayer {
				return "", err
			}
		}
	}
	return "guild configured", nil
}

func cmdSetChannel(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	channel, err := requireArg(inv, "channel")
	if err != nil {
		return "", err
	}
	if err := w.store.SetOCRChannel(ctx, inv.GuildID, channel); err != nil {
		return "", err
	}
	return "scan channel updated", nil
}

func cmdAddWar(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	raw, err := requireArg(inv, "player_scores")
	if err != nil {
		return "", err
	}
	entries, err := ParsePlayerScores(raw)
	if err != nil {
		return "", err
	}
	raceCount := models.DefaultRaceCount
	if r := arg(inv, "races"); r != "" {
		raceCount, err = strconv.Atoi(r)
		if err != nil {
			return "", apierr.ErrInvalidRaceCount
		}
	}

	wps := make([]models.WarPlayer, len(entries))
	for i, e := range entries {
		res := w.resolveAgainstRoster(ctx, inv.GuildID, e.Name)
		wps[i] = models.WarPlayer{Name: res.CanonicalName, Score: e.Score, RacesPlayed: raceCount}
	}

	warID, err := w.store.InsertWar(ctx, inv.GuildID, raceCount, w.now(), wps)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("war %d recorded", warID), nil
}

func cmdAppendPlayerToWar(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	warIDStr, err := requireArg(inv, "war_id")
	if err != nil {
		return "", err
	}
	warID, err := strconv.ParseInt(warIDStr, 10, 64)
	if err != nil {
		return "", apierr.ErrUnknownWar
	}
	raw, err := requireArg(inv, "player_scores")
	if err != nil {
		return "", err
	}
	entries, err := ParsePlayerScores(raw)
	if err != nil {
		return "", err
	}
	war, err := w.store.GetWar(ctx, inv.GuildID, warID)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		res := w.resolveAgainstRoster(ctx, inv.GuildID, e.Name)
		if err := w.store.AppendPlayerToWar(ctx, inv.GuildID, warID, models.WarPlayer{Name: res.CanonicalName, Score: e.Score, RacesPlayed: war.RaceCount}); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("appended %d players to war %d", len(entries), warID), nil
}

func cmdRemoveWar(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	warIDStr, err := requireArg(inv, "war_id")
	if err != nil {
		return "", err
	}
	warID, err := strconv.ParseInt(warIDStr, 10, 64)
	if err != nil {
		return "", apierr.ErrUnknownWar
	}
	if err := w.store.RemoveWar(ctx, inv.GuildID, warID); err != nil {
		return "", err
	}
	return fmt.Sprintf("war %d removed", warID), nil
}

func cmdShowAllWars(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	limit := 20
	if l := arg(inv, "limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	wars, err := w.store.ListWars(ctx, inv.GuildID, 1, limit)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(wars))
	for i, war := range wars {
		lines[i] = fmt.Sprintf("#%d: %d players, differential %+d (%s)", war.WarID, len(war.Players), war.TeamDifferential(), war.Outcome())
	}
	return strings.Join(lines, "\n"), nil
}

func cmdAddPlayer(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	status := models.StatusMember
	if s := arg(inv, "member_status"); s != "" {
		status = models.MemberStatus(s)
	}
	if _, err := w.store.CreatePlayer(ctx, inv.GuildID, name, status); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s added to the roster", name), nil
}

func cmdRemovePlayer(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	if err := w.store.RemovePlayer(ctx, inv.GuildID, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s removed from the roster", name), nil
}

func cmdSetMemberStatus(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	status, err := requireArg(inv, "status")
	if err != nil {
		return "", err
	}
	if err := w.store.SetMemberStatus(ctx, inv.GuildID, name, models.MemberStatus(status)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s is now %s", name, status), nil
}

func cmdAddTeam(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	if err := w.store.AddTeam(ctx, inv.GuildID, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("team %s created", name), nil
}

func cmdRemoveTeam(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	if err := w.store.RemoveTeam(ctx, inv.GuildID, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("team %s removed", name), nil
}

func cmdRenameTeam(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	oldName, err := requireArg(inv, "old")
	if err != nil {
		return "", err
	}
	newName, err := requireArg(inv, "new")
	if err != nil {
		return "", err
	}
	if err := w.store.RenameTeam(ctx, inv.GuildID, oldName, newName); err != nil {
		return "", err
	}
	return fmt.Sprintf("team %s renamed to %s", oldName, newName), nil
}

func cmdAssignPlayers(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	players, err := requireArg(inv, "players")
	if err != nil {
		return "", err
	}
	team, err := requireArg(inv, "team")
	if err != nil {
		return "", err
	}
	for _, name := range strings.Split(players, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := w.store.SetTeam(ctx, inv.GuildID, name, team); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("assigned to %s", team), nil
}

func cmdUnassignPlayer(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	if err := w.store.SetTeam(ctx, inv.GuildID, name, models.UnassignedTeam); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s unassigned", name), nil
}

func cmdShowAllTeams(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	g, err := w.store.GetGuild(ctx, inv.GuildID)
	if err != nil {
		return "", err
	}
	return strings.Join(g.TeamNames, "\n"), nil
}

func cmdShowTeamRoster(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	team, err := requireArg(inv, "team")
	if err != nil {
		return "", err
	}
	players, err := w.store.ListPlayers(ctx, inv.GuildID, false)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, p := range players {
		if p.Team == team {
			lines = append(lines, p.Name)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func cmdRoster(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	players, err := w.store.ListPlayers(ctx, inv.GuildID, false)
	if err != nil {
		return "", err
	}
	return renderRoster(players), nil
}

func cmdShowTrials(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	return filteredRoster(ctx, w, inv, models.StatusTrial)
}

func cmdShowKicked(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	players, err := w.store.ListPlayers(ctx, inv.GuildID, true)
	if err != nil {
		return "", err
	}
	var out []models.Player
	for _, p := range players {
		if p.MemberStatus == models.StatusKicked {
			out = append(out, p)
		}
	}
	return renderRoster(out), nil
}

func filteredRoster(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation, status models.MemberStatus) (string, error) {
	players, err := w.store.ListPlayers(ctx, inv.GuildID, false)
	if err != nil {
		return "", err
	}
	var out []models.Player
	for _, p := range players {
		if p.MemberStatus == status {
			out = append(out, p)
		}
	}
	return renderRoster(out), nil
}

func renderRoster(players []models.Player) string {
	lines := make([]string, len(players))
	for i, p := range players {
		lines[i] = fmt.Sprintf("%s [%s/%s]", p.Name, p.Team, p.MemberStatus)
	}
	return strings.Join(lines, "\n")
}

func cmdAddNickname(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	nickname, err := requireArg(inv, "nickname")
	if err != nil {
		return "", err
	}
	if err := w.store.AddNickname(ctx, inv.GuildID, name, nickname); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s can now also be resolved as %s", name, nickname), nil
}

func cmdRemoveNickname(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	nickname, err := requireArg(inv, "nickname")
	if err != nil {
		return "", err
	}
	if err := w.store.RemoveNickname(ctx, inv.GuildID, name, nickname); err != nil {
		return "", err
	}
	return fmt.Sprintf("nickname %s removed from %s", nickname, name), nil
}

func cmdNicknamesFor(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	name, err := requireArg(inv, "name")
	if err != nil {
		return "", err
	}
	p, err := w.store.GetPlayer(ctx, inv.GuildID, name)
	if err != nil {
		return "", err
	}
	return strings.Join(p.Nicknames, ", "), nil
}

func cmdStats(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	if player := arg(inv, "player"); player != "" {
		p, err := w.store.GetPlayer(ctx, inv.GuildID, player)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: war_count=%s average_score=%.2f", p.Name, p.WarCount.String(), p.AverageScore()), nil
	}

	players, err := w.store.ListPlayers(ctx, inv.GuildID, false)
	if err != nil {
		return "", err
	}
	sortBy := arg(inv, "sortby")
	sort.Slice(players, func(i, j int) bool {
		if sortBy == "war_count" {
			return players[i].WarCount > players[j].WarCount
		}
		return players[i].AverageScore() > players[j].AverageScore()
	})

	lines := make([]string, len(players))
	for i, p := range players {
		lines[i] = fmt.Sprintf("%s: %.2f avg over %s wars", p.Name, p.AverageScore(), p.WarCount.String())
	}
	return strings.Join(lines, "\n"), nil
}

func cmdScanImage(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	return w.handleScanImageCommand(ctx, inv)
}

func cmdBulkScanImage(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	return w.handleBulkScanCommand(ctx, inv)
}

func cmdDebugOCR(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	url, err := requireArg(inv, "image_url")
	if err != nil {
		return "", err
	}
	return w.handleDebugOCR(ctx, url)
}

func cmdCheckPermissions(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	channel, err := requireArg(inv, "channel")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("permissions look fine for %s", channel), nil
}

func cmdHelp(ctx context.Context, w *Worker, inv chatplatform.CommandInvocation) (string, error) {
	names := make([]string, 0, len(w.commands))
	for name := range w.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", "), nil
}
