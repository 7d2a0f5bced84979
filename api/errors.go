package api

import (
	"strconv"

	"github.com/Domenick1991/flightbooking/internal/apperr"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    apperr.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeError renders err as {code, message, details}. The cause stays
// attached to the gin context for the access log.
func writeError(c *gin.Context, err error) {
	appErr := apperr.As(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus, errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, apperr.Validation("invalid "+name, map[string]any{name: c.Param(name)}))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, apperr.Validation("invalid request body", map[string]any{"body": err.Error()}))
		return false
	}
	return true
}
