package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	er "github.com/disqualifier/mailtime/internal/errors"
)

// respondError maps engine errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, er.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, er.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, er.ErrEmailMissing):
		return http.StatusBadRequest
	case errors.Is(err, er.ErrNotRunning), errors.Is(err, er.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
