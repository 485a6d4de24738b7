package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/middleware"
)

// RegisterStaff registers the front-desk endpoints under /v1/staff.
func RegisterStaff(e *echo.Echo, h *handler.StaffHandler, jwtSecret string) {
	g := e.Group(
		"/v1/staff",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleStaff),
	)
	g.POST("/classes/:id/bookings", h.Book)
	g.GET("/classes/:id/waitlist", h.Waitlist)

	g.DELETE("/reservations/:id", h.Cancel)
	g.POST("/reservations/:id/check-in", h.CheckIn)
	g.POST("/reservations/:id/complete", h.Complete)
	g.POST("/reservations/:id/no-show", h.NoShow)
	g.POST("/reservations/:id/reschedule", h.Reschedule)

	g.POST("/packages", h.PurchasePackage)
	g.DELETE("/packages/:id", h.CancelPackage)
	g.GET("/packages/:id/ledger", h.PackageLedger)

	g.POST("/payments", h.RecordPayment)
	g.POST("/payments/:id/complete", h.CompletePayment)
	g.POST("/payments/:id/refund", h.RefundPayment)

	g.POST("/sweeps/payment-deadlines", h.SweepPaymentDeadlines)
}
