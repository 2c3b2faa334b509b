package core

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondError sends the unified error payload {"message", "code"}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"message": message, "code": code})
}

// respondAppError maps err to a response. Only *AppError carries a message
// to the client; anything else is logged and collapsed to a bare 500.
func respondAppError(c *gin.Context, log *slog.Logger, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Kind == KindInternal {
			log.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		}
		respondError(c, appErr.Kind.Status(), appErr.Kind.Code(), appErr.Message)
		return
	}
	log.ErrorContext(c.Request.Context(), "unhandled error", "path", c.FullPath(), "error", err)
	respondError(c, http.StatusInternalServerError, KindInternal.Code(), "Server Error")
}
