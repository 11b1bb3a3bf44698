package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListResponse wraps collection responses.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func list[T any](c *gin.Context, data []T) {
	if data == nil {
		data = []T{}
	}
	c.JSON(http.StatusOK, ListResponse[T]{
		Data:  data,
		Total: len(data),
	})
}

// MutationResponse is returned by operations that change data.
type MutationResponse[T any] struct {
	Value   T      `json:"value"`
	Message string `json:"message"`

	// Notice is set when the local change succeeded but the follow-up
	// cloud sync did not.
	Notice string `json:"notice,omitempty"`
}
