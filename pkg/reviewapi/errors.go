package reviewapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ocap-kart/warbot/pkg/apierr"
)

// statusFor maps a sentinel error from pkg/store/pkg/bulksession to its
// HTTP status code. Library layers return structured errors; service
// boundaries translate them into the user-visible shape.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apierr.ErrUnknownPlayer),
		errors.Is(err, apierr.ErrUnknownWar),
		errors.Is(err, apierr.ErrUnknownGuild),
		errors.Is(err, apierr.ErrUnknownSession),
		errors.Is(err, apierr.ErrUnknownResult),
		errors.Is(err, apierr.ErrUnknownFailure):
		return http.StatusNotFound
	case errors.Is(err, apierr.ErrSessionNotOpen):
		return http.StatusConflict
	case errors.Is(err, apierr.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, apierr.ErrInvalidRaceCount),
		errors.Is(err, apierr.ErrEmptyWar),
		errors.Is(err, apierr.ErrRacesExceedCount),
		errors.Is(err, apierr.ErrMalformedScores),
		errors.Is(err, apierr.ErrDuplicateNickname),
		errors.Is(err, apierr.ErrDuplicatePlayer),
		errors.Is(err, apierr.ErrEmptyApprovedSet):
		return http.StatusBadRequest
	case errors.Is(err, apierr.ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, apierr.ErrNoManageRight):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler replaces echo's default HTTPErrorHandler so that sentinel
// errors from the domain layers get their mapped status codes, with
// unexpected (fatal) errors logged in full but never leaked to the
// client.
func errorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.JSON(he.Code, map[string]interface{}{"error": he.Message})
			return
		}

		status := statusFor(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("path", c.Path()).Msg("unhandled review api error")
			_ = c.JSON(status, map[string]string{"error": "internal error"})
			return
		}
		_ = c.JSON(status, map[string]string{"error": err.Error()})
	}
}
