package handlers

import (
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse is the success envelope; payloads ride in Data.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, errMsg, detail string) {
	c.JSON(status, ErrorResponse{Success: false, Error: errMsg, Message: detail})
}
