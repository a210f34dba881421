// Package httputil provides shared HTTP response helpers.
package httputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ListBody is the JSON shape of paginated list responses.
type ListBody[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

// RespondError writes a standardized JSON error response and aborts the request.
func RespondError(c *gin.Context, status int, code, message string) {
	body := ErrorBody{Code: code, Message: message}

	if rid, exists := c.Get("request_id"); exists {
		if s, ok := rid.(string); ok {
			body.RequestID = s
		}
	}

	c.AbortWithStatusJSON(status, body)
}

// RespondList writes a page of items. A nil slice is rendered as [].
func RespondList[T any](c *gin.Context, items []T, hasMore bool) {
	if items == nil {
		items = []T{}
	}

	c.JSON(http.StatusOK, ListBody[T]{Data: items, HasMore: hasMore})
}
