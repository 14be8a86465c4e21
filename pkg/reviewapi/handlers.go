package reviewapi

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ocap-kart/warbot/pkg/bulksession"
	"github.com/ocap-kart/warbot/pkg/models"
	"github.com/ocap-kart/warbot/pkg/stats"
	"github.com/ocap-kart/warbot/pkg/store"
)

type handler struct {
	store    *store.Store
	sessions *bulksession.Manager
	log      zerolog.Logger
}

func (h *handler) authMe(c echo.Context) error {
	userID, _ := c.Get(contextUserID).(string)
	guilds, _ := c.Get(contextGuilds).(map[string]GuildGrant)
	resp := map[string]interface{}{"user_id": userID, "guilds": guilds}
	return c.JSON(http.StatusOK, resp)
}

func (h *handler) listMyGuilds(c echo.Context) error {
	guilds, _ := c.Get(contextGuilds).(map[string]GuildGrant)
	out := make([]map[string]interface{}, 0, len(guilds))
	for id, grant := range guilds {
		g, err := h.store.GetGuild(c.Request().Context(), id)
		if err != nil {
			continue
		}
		out = append(out, map[string]interface{}{
			"guild_id":   id,
			"guild_name": g.DisplayName,
			"is_admin":   grant.Admin,
			"can_manage": grant.Manage,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handler) listPlayers(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireGuildMembership(c, guildID); err != nil {
		return err
	}
	includeInactive := c.QueryParam("include_inactive") == "true"
	players, err := h.store.ListPlayers(c.Request().Context(), guildID, includeInactive)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"players": players, "total": len(players)})
}

type createPlayerRequest struct {
	Name         string               `json:"name"`
	MemberStatus models.MemberStatus `json:"member_status"`
}

func (h *handler) createPlayer(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireManage(c, guildID); err != nil {
		return err
	}
	var req createPlayerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.MemberStatus == "" {
		req.MemberStatus = models.StatusMember
	}
	id, err := h.store.CreatePlayer(c.Request().Context(), guildID, req.Name, req.MemberStatus)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "name": req.Name})
}

type setStatusRequest struct {
	MemberStatus models.MemberStatus `json:"member_status"`
}

func (h *handler) setPlayerStatus(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireManage(c, guildID); err != nil {
		return err
	}
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.store.SetMemberStatus(c.Request().Context(), guildID, c.Param("name"), req.MemberStatus); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type addNicknameRequest struct {
	Nickname string `json:"nickname"`
}

func (h *handler) addNickname(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireManage(c, guildID); err != nil {
		return err
	}
	var req addNicknameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := h.store.AddNickname(c.Request().Context(), guildID, c.Param("name"), req.Nickname); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listWars(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireGuildMembership(c, guildID); err != nil {
		return err
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	wars, err := h.store.ListWars(c.Request().Context(), guildID, page, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"wars": wars, "total": len(wars)})
}

func (h *handler) getWar(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireGuildMembership(c, guildID); err != nil {
		return err
	}
	warID, err := strconv.ParseInt(c.Param("war_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid war id")
	}
	war, err := h.store.GetWar(c.Request().Context(), guildID, warID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, war)
}

func (h *handler) statsOverview(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireGuildMembership(c, guildID); err != nil {
		return err
	}
	players, err := h.store.ListPlayers(c.Request().Context(), guildID, false)
	if err != nil {
		return err
	}
	wars, err := h.store.ListWars(c.Request().Context(), guildID, 1, 1<<20)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"player_count": len(players),
		"war_count":    len(wars),
	})
}

func (h *handler) statsLeaderboard(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireGuildMembership(c, guildID); err != nil {
		return err
	}
	// Kicked/removed players still count toward stats unless the caller
	// explicitly asks to filter them.
	includeInactive := c.QueryParam("include_inactive") != "false"
	players, err := h.store.ListPlayers(c.Request().Context(), guildID, includeInactive)
	if err != nil {
		return err
	}

	differentials := make(map[string]int, len(players))
	if lastXWars, err := strconv.Atoi(c.QueryParam("lastxwars")); err == nil && lastXWars > 0 {
		for i := range players {
			contributions, err := h.store.WarContributionsForPlayer(c.Request().Context(), guildID, players[i].Name, lastXWars)
			if err != nil {
				return err
			}
			agg := stats.Recompute(contributions)
			players[i].TotalScore = agg.TotalScore
			players[i].TotalRaces = agg.TotalRaces
			players[i].WarCount = agg.WarCount
			players[i].LastWarDate = agg.LastWarDate
		}
	}
	if c.QueryParam("sort") == "total_team_differential" {
		for _, p := range players {
			d, err := h.store.TeamDifferentialTotal(c.Request().Context(), guildID, p.Name)
			if err != nil {
				return err
			}
			differentials[p.Name] = d
		}
	}

	sortBy := c.QueryParam("sort")
	limit := len(players)
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l < limit {
		limit = l
	}

	sortLeaderboard(players, sortBy, differentials)
	return c.JSON(http.StatusOK, map[string]interface{}{"players": players[:limit]})
}

func sortLeaderboard(players []models.Player, sortBy string, differentials map[string]int) {
	less := func(i, j int) bool { return players[i].AverageScore() > players[j].AverageScore() }
	switch sortBy {
	case "war_count":
		less = func(i, j int) bool { return players[i].WarCount > players[j].WarCount }
	case "total_score":
		less = func(i, j int) bool { return players[i].TotalScore > players[j].TotalScore }
	case "total_team_differential":
		less = func(i, j int) bool { return differentials[players[i].Name] > differentials[players[j].Name] }
	}
	sort.Slice(players, less)
}

func (h *handler) statsPlayer(c echo.Context) error {
	guildID := c.Param("guild_id")
	if err := requireGuildMembership(c, guildID); err != nil {
		return err
	}
	p, err := h.store.GetPlayer(c.Request().Context(), guildID, c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type createSessionRequest struct {
	GuildID         string `json:"guild_id"`
	CreatedByUserID string `json:"created_by_user_id"`
	TotalImages     int    `json:"total_images"`
}

func (h *handler) createSession(c echo.Context) error {
	if err := requireAPIKey(c); err != nil {
		return err
	}
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	token, err := h.sessions.CreateSession(c.Request().Context(), req.GuildID, req.CreatedByUserID, req.TotalImages, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"session_token": token})
}

type detectedPlayerRequest struct {
	Name        string `json:"name"`
	Score       int    `json:"score"`
	RacesPlayed int    `json:"races_played"`
}

type appendResultRequest struct {
	ImageFilename    string                  `json:"image_filename"`
	ImageURL         string                  `json:"image_url"`
	DetectedPlayers  []detectedPlayerRequest `json:"detected_players"`
	RaceCount        int                     `json:"race_count"`
	MessageTimestamp time.Time               `json:"message_timestamp"`
}

func toRawDetections(players []detectedPlayerRequest) []bulksession.RawDetection {
	out := make([]bulksession.RawDetection, len(players))
	for i, p := range players {
		out[i] = bulksession.RawDetection{RawName: p.Name, Score: p.Score, RacesPlayed: p.RacesPlayed}
	}
	return out
}

func (h *handler) appendResult(c echo.Context) error {
	if err := requireAPIKey(c); err != nil {
		return err
	}
	var req appendResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	token := c.Param("token")
	sess, err := h.store.GetSessionRaw(c.Request().Context(), token)
	if err != nil {
		return err
	}
	raceCount := req.RaceCount
	if raceCount == 0 {
		raceCount = models.DefaultRaceCount
	}
	now := req.MessageTimestamp
	if now.IsZero() {
		now = time.Now()
	}
	id, err := h.sessions.AppendResult(c.Request().Context(), sess.GuildID, token, req.ImageFilename, req.ImageURL, toRawDetections(req.DetectedPlayers), raceCount, now)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"result_id": id})
}

type appendFailureRequest struct {
	ImageFilename    string    `json:"image_filename"`
	ImageURL         string    `json:"image_url"`
	ErrorMessage     string    `json:"error_message"`
	MessageTimestamp time.Time `json:"message_timestamp"`
}

func (h *handler) appendFailure(c echo.Context) error {
	if err := requireAPIKey(c); err != nil {
		return err
	}
	var req appendFailureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	now := req.MessageTimestamp
	if now.IsZero() {
		now = time.Now()
	}
	id, err := h.sessions.AppendFailure(c.Request().Context(), c.Param("token"), req.ImageFilename, req.ImageURL, req.ErrorMessage, now)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"failure_id": id})
}

func (h *handler) sessionGuildAuthorized(c echo.Context, token string) error {
	sess, err := h.store.GetSessionRaw(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return requireGuildMembership(c, sess.GuildID)
}

func (h *handler) getSessionMeta(c echo.Context) error {
	token := c.Param("token")
	if err := h.sessionGuildAuthorized(c, token); err != nil {
		return err
	}
	sess, err := h.store.GetSessionRaw(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *handler) getSessionResults(c echo.Context) error {
	token := c.Param("token")
	if err := h.sessionGuildAuthorized(c, token); err != nil {
		return err
	}
	sess, results, failures, err := h.sessions.GetSession(c.Request().Context(), token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session":  sess,
		"results":  results,
		"failures": failures,
		"total":    len(results) + len(failures),
	})
}

type updateResultRequest struct {
	ReviewStatus      models.ReviewStatus     `json:"review_status"`
	CorrectedPlayers  []detectedPlayerRequest `json:"corrected_players"`
}

func (h *handler) updateResult(c echo.Context) error {
	token := c.Param("token")
	if err := h.sessionGuildAuthorized(c, token); err != nil {
		return err
	}
	sess, err := h.store.GetSessionRaw(c.Request().Context(), token)
	if err != nil {
		return err
	}
	resultID, err := strconv.ParseInt(c.Param("result_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid result id")
	}
	var req updateResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	var corrections []bulksession.RawDetection
	if req.CorrectedPlayers != nil {
		corrections = toRawDetections(req.CorrectedPlayers)
	}
	if err := h.sessions.UpdateResult(c.Request().Context(), sess.GuildID, token, resultID, req.ReviewStatus, corrections, time.Now()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type convertFailureRequest struct {
	Players      []detectedPlayerRequest `json:"players"`
	ReviewStatus models.ReviewStatus     `json:"review_status"`
}

func (h *handler) convertFailure(c echo.Context) error {
	token := c.Param("token")
	if err := h.sessionGuildAuthorized(c, token); err != nil {
		return err
	}
	sess, err := h.store.GetSessionRaw(c.Request().Context(), token)
	if err != nil {
		return err
	}
	failureID, err := strconv.ParseInt(c.Param("failure_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid failure id")
	}
	var req convertFailureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	status := req.ReviewStatus
	if status == "" {
		status = models.ReviewPending
	}
	resultID, err := h.sessions.ConvertFailure(c.Request().Context(), sess.GuildID, token, failureID, toRawDetections(req.Players), status, models.DefaultRaceCount, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"result_id": resultID})
}

func (h *handler) confirmSession(c echo.Context) error {
	token := c.Param("token")
	if err := h.sessionGuildAuthorized(c, token); err != nil {
		return err
	}
	warIDs, err := h.sessions.ConfirmSession(c.Request().Context(), token, time.Now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"wars_created": len(warIDs),
		"war_ids":      warIDs,
	})
}

func (h *handler) cancelSession(c echo.Context) error {
	token := c.Param("token")
	if err := h.sessionGuildAuthorized(c, token); err != nil {
		return err
	}
	if err := h.sessions.CancelSession(c.Request().Context(), token); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
