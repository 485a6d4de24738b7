package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/middleware"
)

// RegisterStudent registers the student endpoints under /v1.  They require
// a STUDENT token and pass through limiter, which may be a no-op.
func RegisterStudent(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	if limiter == nil {
		limiter = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleStudent),
	)
	g.GET("/classes/:id/eligibility", h.Eligibility)
	g.GET("/classes/:id/availability", h.Availability)
	g.POST("/classes/:id/bookings", h.Book, limiter)
	g.DELETE("/classes/:id/waitlist", h.LeaveWaitlist)

	g.GET("/reservations/:id", h.GetReservation)
	g.DELETE("/reservations/:id", h.CancelReservation, limiter)
	g.POST("/reservations/:id/reschedule", h.Reschedule, limiter)

	g.GET("/my-reservations", h.MyReservations)
	g.GET("/my-packages", h.MyPackages)
}
