// backend/pkg/utils/response.go
package utils

import (
	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope every JSON endpoint responds with.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func SuccessResponse(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, code int, message string, err error) {
	resp := APIResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(code, resp)
}
