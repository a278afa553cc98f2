package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// logError records a persistence or collaborator failure for operators. The
// caller is responsible for returning a generic message to the user.
func logError(c *gin.Context, err error) {
	slog.Error("request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"err", err,
	)
}
