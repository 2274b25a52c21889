package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/642studio/Veridis/internal/authz"
)

var (
	errInvalidBody  = &authz.Error{Code: authz.CodeInvalidInput, Message: "request body is not valid"}
	errInvalidLimit = &authz.Error{Code: authz.CodeInvalidInput, Message: "limit must be an integer"}
)

var statusByCode = map[authz.Code]int{
	authz.CodeInvalidInput:        http.StatusBadRequest,
	authz.CodeForbidden:           http.StatusForbidden,
	authz.CodeInvalidCode:         http.StatusNotFound,
	authz.CodeAlreadyUsed:         http.StatusConflict,
	authz.CodeExpired:             http.StatusGone,
	authz.CodeGenerationExhausted: http.StatusServiceUnavailable,
	authz.CodePersistenceFailure:  http.StatusInternalServerError,
}

// fail writes the error envelope. Coded errors keep their code; anything else
// is reported as an opaque internal error.
func (h *Handler) fail(c *gin.Context, err error) {
	var e *authz.Error
	if !errors.As(err, &e) {
		h.Log.Error().Err(err).Str("request_id", requestID(c)).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal", "message": "internal error"})
		return
	}

	status, ok := statusByCode[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("request_id", requestID(c)).Msg("request failed")
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	c.JSON(status, gin.H{"ok": false, "error": e.Code, "message": msg})
}
