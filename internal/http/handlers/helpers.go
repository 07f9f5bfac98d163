// README: Handler helpers for JSON errors and domain error mapping.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lifeline/internal/modules/matching"
	"lifeline/internal/modules/request"
	"lifeline/internal/modules/route"
)

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// writeDomainError maps module sentinels to HTTP status codes.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, request.ErrBadRequest),
		errors.Is(err, route.ErrBadRequest),
		errors.Is(err, matching.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, request.ErrNotFound),
		errors.Is(err, route.ErrNotFound),
		errors.Is(err, route.ErrTokenExpired),
		errors.Is(err, matching.ErrCandidateNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, request.ErrInvalidState),
		errors.Is(err, request.ErrConflict),
		errors.Is(err, request.ErrIncompatible),
		errors.Is(err, request.ErrUnitsFulfilled),
		errors.Is(err, route.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, route.ErrRouteInactive):
		writeError(c, http.StatusGone, err.Error())
	case errors.Is(err, route.ErrNoRoute):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, route.ErrProviderUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
