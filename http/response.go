package http

import (
	"errors"

	"jabberwocky238/jw238memmgr/internal/types"

	"github.com/gin-gonic/gin"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// OK sends a 200 response with code 0 and the given data.
func OK(c *gin.Context, data any) {
	c.JSON(200, Response{Code: 0, Message: "success", RequestID: c.GetString(requestIDKey), Data: data})
}

// Fail sends an error response with the given HTTP status and message.
func Fail(c *gin.Context, httpStatus int, message string) {
	c.JSON(httpStatus, Response{Code: httpStatus, Message: message, RequestID: c.GetString(requestIDKey)})
}

// FailError sends err with the status matching its sentinel.
func FailError(c *gin.Context, err error) {
	Fail(c, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidName), errors.Is(err, types.ErrInvalidClass):
		return 400
	case errors.Is(err, types.ErrNotCached), errors.Is(err, types.ErrClassNotFound),
		errors.Is(err, types.ErrDataSourceNotFound):
		return 404
	case errors.Is(err, types.ErrNoConfig):
		return 409
	case errors.Is(err, types.ErrNotRunning):
		return 503
	default:
		return 500
	}
}
