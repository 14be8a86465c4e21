package reviewapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
)

// GuildGrant is one guild's permissions for an authenticated user: a
// coarse admin flag and a manage flag, keyed by guild_id on the session
// token.
type GuildGrant struct {
	Admin  bool `json:"is_admin"`
	Manage bool `json:"can_manage"`
}

// sessionClaims is the JWT payload this service issues after exchanging an
// OAuth code against the chat platform's identity provider.
type sessionClaims struct {
	jwt.StandardClaims
	UserID string                `json:"user_id"`
	Guilds map[string]GuildGrant `json:"guilds"`
}

const (
	contextUserID = "warbot_user_id"
	contextGuilds = "warbot_guilds"
	contextAPIKey = "warbot_is_api_key"
)

// authMiddleware accepts either a bearer JWT signed by this service or the
// shared API key header. API-key callers are trusted for any guild_id.
func authMiddleware(signingSecret, apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key := c.Request().Header.Get("X-API-Key"); key != "" {
				if key != apiKey {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
				}
				c.Set(contextAPIKey, true)
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			tokenStr := strings.TrimPrefix(authHeader, prefix)

			claims := &sessionClaims{}
			_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(signingSecret), nil
			})
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
			}

			c.Set(contextUserID, claims.UserID)
			c.Set(contextGuilds, claims.Guilds)
			return next(c)
		}
	}
}

func isAPIKeyCaller(c echo.Context) bool {
	v, _ := c.Get(contextAPIKey).(bool)
	return v
}

// requireGuildMembership enforces that roster/war/stats/session endpoints
// require the caller's memberships to include the path's guild_id;
// API-key callers bypass the check entirely.
func requireGuildMembership(c echo.Context, guildID string) error {
	if isAPIKeyCaller(c) {
		return nil
	}
	guilds, _ := c.Get(contextGuilds).(map[string]GuildGrant)
	if _, ok := guilds[guildID]; !ok {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of this guild")
	}
	return nil
}

// requireManage additionally requires the manage permission for write
// endpoints.
func requireManage(c echo.Context, guildID string) error {
	if isAPIKeyCaller(c) {
		return nil
	}
	guilds, _ := c.Get(contextGuilds).(map[string]GuildGrant)
	grant, ok := guilds[guildID]
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of this guild")
	}
	if !grant.Manage {
		return echo.NewHTTPError(http.StatusForbidden, "manage permission required")
	}
	return nil
}

// requireAPIKey enforces that session creation requires the shared API key
// rather than a user session token.
func requireAPIKey(c echo.Context) error {
	if !isAPIKeyCaller(c) {
		return echo.NewHTTPError(http.StatusUnauthorized, "api key required")
	}
	return nil
}
