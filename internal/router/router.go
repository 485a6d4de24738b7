package router // router registers the HTTP routes of the booking API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
)

// RegisterRoutes registers the unauthenticated routes.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}
