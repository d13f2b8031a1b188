// Package http holds the composition types shared by the router and the
// HTTP-facing modules.
package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker reports whether the database is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Module is an HTTP-facing part of the backend that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext exposes the route groups modules mount on.
type RouterContext struct {
	// Engine serves top-level pages such as the customer payment redirect.
	Engine *gin.Engine
	// V1 is the unauthenticated /api/v1 group for bridge and gateway callbacks.
	V1 *gin.RouterGroup
	// Protected is /api/v1 behind the dashboard JWT.
	Protected *gin.RouterGroup
}

// App is what the composition root hands to the router.
type App struct {
	Config  RouterConfig
	Logger  *logger.Logger
	Health  HealthChecker
	Modules []Module
}
