// Package response provides the unified API response envelope.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/inventory-rag/pkg/utils/errors"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code (0 = success)
	Code int `json:"code"`

	// Message is a human-readable message
	Message string `json:"message"`

	// Data contains the response payload (nil for errors)
	Data any `json:"data,omitempty"`

	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`
}

// Success creates a successful response with data.
func Success(data any) *Response {
	return &Response{Code: 0, Message: "success", Data: data}
}

// Err creates an error response from an Errno type.
func Err(e *errors.Errno) *Response {
	if e == nil {
		return Success(nil)
	}
	return &Response{Code: e.Code, Message: e.MessageEN}
}

// HTTPStatus returns the HTTP status for a response code.
func (r *Response) HTTPStatus() int {
	if r.Code == 0 {
		return http.StatusOK
	}
	if e, ok := errors.Lookup(r.Code); ok {
		return e.HTTPStatus()
	}
	switch errors.GetCategory(r.Code) {
	case errors.CategoryRequest:
		return http.StatusBadRequest
	case errors.CategoryResource:
		return http.StatusNotFound
	case errors.CategoryNetwork:
		return http.StatusServiceUnavailable
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// OK writes a success envelope.
func OK(c *gin.Context, data any) {
	write(c, http.StatusOK, Success(data))
}

// Fail writes an error envelope; err is converted with errors.FromError.
func Fail(c *gin.Context, err error) {
	e := errors.FromError(err)
	write(c, e.HTTPStatus(), Err(e))
}

func write(c *gin.Context, status int, r *Response) {
	if id := c.GetString(RequestIDKey); id != "" {
		r.RequestID = id
	}
	c.JSON(status, r)
}
