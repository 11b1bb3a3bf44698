package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
)

// HTTPError is the body of every error response.
type HTTPError struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, HTTPError{
		Code:    code,
		Message: message,
	})
}

func badRequest(c *gin.Context, code, message string) {
	writeError(c, http.StatusBadRequest, code, message)
}

func notFound(c *gin.Context, code, message string) {
	writeError(c, http.StatusNotFound, code, message)
}

func internal(c *gin.Context, code, message string) {
	writeError(c, http.StatusInternalServerError, code, message)
}

// statusFor maps a failure kind onto an HTTP status.
func statusFor(kind repo.Kind) int {
	switch kind {
	case repo.KindNotFound:
		return http.StatusNotFound
	case repo.KindConflict:
		return http.StatusConflict
	case repo.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure renders err, using the failure code when err is a
// *repo.Failure.
func writeFailure(c *gin.Context, err error, message string) {
	code := "internal_error"
	var f *repo.Failure
	if errors.As(err, &f) && f.Code != "" {
		code = f.Code
	}
	writeError(c, statusFor(repo.KindOf(err)), code, message)
}
