// Package api holds the gin handlers of the HTTP surface.
package api

import (
	"errors"
	"net/http"

	"finance_tracker/internal/middleware"
	"finance_tracker/internal/service"
	"finance_tracker/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Error codes returned in the error envelope
const (
	CodeNotFound     = "TRANSACTION_NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUserExists   = "USER_EXISTS"
	CodeInvalidLogin = "INVALID_CREDENTIALS"
	CodeNoNotice     = "NOTIFICATION_NOT_FOUND"
)

// ErrorBody is the error envelope of every failed request
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a human message and a stable code
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: ErrorDetail{Message: msg, Code: code}})
}

// respondError maps pipeline errors to HTTP. Internal failures are logged and never leak detail.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, store.ErrNotFound):
		abort(c, http.StatusNotFound, CodeNotFound, "Transaction not found")
	case errors.Is(err, service.ErrInvalidInput):
		abort(c, http.StatusBadRequest, CodeValidation, err.Error())
	default:
		logrus.WithFields(logrus.Fields{
			"path":  c.FullPath(),
			"error": err.Error(),
		}).Error("Request failed")
		abort(c, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		ID:   c.GetUint(middleware.ContextUserID),
		Name: c.GetString(middleware.ContextUserName),
	}
}
