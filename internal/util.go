package internal

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"climbcrew/internal/apperr"
)

// audit records a successful mutation, one line per action.
func audit(c *gin.Context, logger *slog.Logger, action string, attrs ...any) {
	args := append([]any{"action", action, "actor", uid(c)}, attrs...)
	logger.InfoContext(c.Request.Context(), "audit", args...)
}

// renderError writes {"error", "code"} with a status derived from the error
// kind. Internal causes are logged, never returned.
func renderError(c *gin.Context, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("internal error", err)
	}
	status := apperr.HTTPStatus(e)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error", "code": e.Code})
		return
	}
	body := gin.H{"error": e.Message, "code": e.Code}
	if len(e.Metadata) > 0 {
		body["details"] = e.Metadata
	}
	c.AbortWithStatusJSON(status, body)
}

// bind decodes the JSON body into req and renders validation failures.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		renderError(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Wrap(apperr.KindValidation, apperr.CodeValidation, "bad json", err)
	}
	fe := verrs[0]
	code := apperr.CodeValidation
	switch fe.Tag() {
	case tagInviteCode:
		code = apperr.CodeBadCode
	case tagAttendanceStatus, tagRSVPStatus:
		code = apperr.CodeBadStatus
	}
	return apperr.WithMetadata(apperr.KindValidation, code, "invalid field "+fe.Field(),
		map[string]string{"field": fe.Field(), "rule": fe.Tag()})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		renderError(c, apperr.Validation(apperr.CodeValidation, "bad "+name))
		return 0, false
	}
	return id, true
}
