// Package httpkit carries shared HTTP helpers: response envelopes and
// gin middleware.
package httpkit

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// JSON writes a success payload
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// OK writes a 200 with a message envelope
func OK(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// Created writes a 201 with the payload
func Created(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// NoContent writes a 204
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// HandleError maps an error to the HTTP response and logs it
func HandleError(c *gin.Context, log *logger.Logger, err error) {
	appErr := apperr.From(err)
	status := appErr.HTTPStatus()

	if status >= http.StatusInternalServerError {
		log.HTTPError(c.Request.Method, c.Request.URL.Path, status, err, c.ClientIP())
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   appErr.Message,
		Details: appErr.Details,
	})
}
