// Package http wires the bounded-context modules into one HTTP
// application. Each module registers its own routes; this package owns
// the shared middleware and server lifecycle.
package http

import (
	"github.com/gin-gonic/gin"

	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// RouterContext is handed to each module during route registration
type RouterContext struct {
	// API is the /api/v1 route group
	API *gin.RouterGroup
	// Webhooks is the /api/v1/webhooks group for collaborator callbacks
	Webhooks *gin.RouterGroup

	Log       *logger.Logger
	Validator *validator.Validator
}

// Module is a bounded context exposing HTTP routes
type Module interface {
	Name() string
	RegisterRoutes(rc RouterContext)
}
