// Package reviewapi is the HTTP review/roster/stats surface: JSON over
// HTTP/1.1, served with labstack/echo/v4 per the teacher's server package,
// with goccy/go-json as the JSON serializer.
package reviewapi

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ocap-kart/warbot/pkg/bulksession"
	"github.com/ocap-kart/warbot/pkg/store"
)

// goccyJSONSerializer swaps echo's default encoding/json-based serializer
// for goccy/go-json, keeping one JSON codec across the whole service
// (pkg/store's denormalized columns already use it).
type goccyJSONSerializer struct{}

func (goccyJSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (goccyJSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	return json.NewDecoder(c.Request().Body).Decode(i)
}

// Config configures the review API's router.
type Config struct {
	JWTSigningSecret string
	APIKey           string
	AllowedOrigins   []string
	RateLimitRPS     float64
	RateLimitBurst   int
}

// New builds a fully-routed echo instance for the review API.
func New(cfg Config, st *store.Store, sessions *bulksession.Manager, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.JSONSerializer = goccyJSONSerializer{}
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler(log)

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
	}))
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &rateLimiterStoreAdapter{store: newPerIPLimiterStore(cfg.RateLimitRPS, cfg.RateLimitBurst)},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return clientIdentifier(c.Request()), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusInternalServerError, "rate limiter error")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	}))

	h := &handler{store: st, sessions: sessions, log: log.With().Str("component", "reviewapi").Logger()}

	e.Use(authMiddleware(cfg.JWTSigningSecret, cfg.APIKey))

	e.GET("/auth/me", h.authMe)
	e.GET("/guilds", h.listMyGuilds)

	g := e.Group("/guilds/:guild_id")
	g.GET("/players", h.listPlayers)
	g.POST("/players", h.createPlayer)
	g.PUT("/players/:name/status", h.setPlayerStatus)
	g.POST("/players/:name/nicknames", h.addNickname)
	g.GET("/wars", h.listWars)
	g.GET("/wars/:war_id", h.getWar)
	g.GET("/stats/overview", h.statsOverview)
	g.GET("/stats/leaderboard", h.statsLeaderboard)
	g.GET("/stats/player/:name", h.statsPlayer)

	b := e.Group("/bulk/sessions")
	b.POST("", h.createSession)
	b.POST("/:token/results", h.appendResult)
	b.POST("/:token/failures", h.appendFailure)
	b.GET("/:token", h.getSessionMeta)
	b.GET("/:token/results", h.getSessionResults)
	b.PUT("/:token/results/:result_id", h.updateResult)
	b.POST("/:token/failures/:failure_id/convert", h.convertFailure)
	b.POST("/:token/confirm", h.confirmSession)
	b.POST("/:token/cancel", h.cancelSession)

	return e
}

// rateLimiterStoreAdapter satisfies echo middleware.RateLimiterStore.
type rateLimiterStoreAdapter struct {
	store *perIPLimiterStore
}

func (a *rateLimiterStoreAdapter) Allow(identifier string) (bool, error) {
	return a.store.Allow(identifier)
}
