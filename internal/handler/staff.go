package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

// StaffHandler serves the front-desk endpoints under /v1/staff.  It shares
// the booking, cancel and reschedule plumbing with BookingHandler but acts
// with staff privileges: no cancellation cutoff and any student's data.
type StaffHandler struct {
	*BookingHandler
}

// NewStaffHandler panics when engine is nil.
func NewStaffHandler(engine *booking.Engine, log *zap.Logger) *StaffHandler {
	return &StaffHandler{BookingHandler: NewBookingHandler(engine, log)}
}

type staffBookRequest struct {
	StudentID    uint64  `json:"student_id" validate:"required,gt=0"`
	PackageID    *uint64 `json:"package_id" validate:"omitempty,gt=0"`
	SkipWaitlist bool    `json:"skip_waitlist"`
}

type purchaseRequest struct {
	StudentID   uint64     `json:"student_id" validate:"required,gt=0"`
	Name        string     `json:"name" validate:"required,max=120"`
	ClassTypeID *uint64    `json:"class_type_id" validate:"omitempty,gt=0"`
	Credits     int        `json:"credits" validate:"required,gt=0"`
	ExpiresAt   *time.Time `json:"expires_at"`
	PriceCents  int64      `json:"price_cents" validate:"gte=0"`
	Paid        bool       `json:"paid"`
	Method      string     `json:"method" validate:"max=32"`
}

type paymentRequest struct {
	StudentID     uint64  `json:"student_id" validate:"required,gt=0"`
	PackageID     *uint64 `json:"package_id" validate:"omitempty,gt=0"`
	ReservationID *uint64 `json:"reservation_id" validate:"omitempty,gt=0"`
	AmountCents   int64   `json:"amount_cents" validate:"required,gt=0"`
	Method        string  `json:"method" validate:"required,max=32"`
	Pending       bool    `json:"pending"`
}

// Book handles POST /v1/staff/classes/:id/bookings on behalf of a student.
func (h *StaffHandler) Book(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	classID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	var body staffBookRequest
	if err := bindValid(c, &body); err != nil {
		return err
	}
	return h.book(c, actor, booking.BookingRequest{
		StudentID:    body.StudentID,
		ClassID:      classID,
		PackageID:    body.PackageID,
		SkipWaitlist: body.SkipWaitlist,
	})
}

// Waitlist handles GET /v1/staff/classes/:id/waitlist.
func (h *StaffHandler) Waitlist(c echo.Context) error {
	classID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	entries, err := h.Engine.ListWaitlist(c.Request().Context(), classID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if entries == nil {
		entries = []model.WaitlistEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries, "total": len(entries)})
}

// Cancel handles DELETE /v1/staff/reservations/:id.
func (h *StaffHandler) Cancel(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	return h.cancel(c, actor)
}

// Reschedule handles POST /v1/staff/reservations/:id/reschedule.
func (h *StaffHandler) Reschedule(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	return h.reschedule(c, actor)
}

// CheckIn handles POST /v1/staff/reservations/:id/check-in.
func (h *StaffHandler) CheckIn(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	res, err := h.Engine.CheckIn(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Complete handles POST /v1/staff/reservations/:id/complete.
func (h *StaffHandler) Complete(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	res, err := h.Engine.Complete(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// NoShow handles POST /v1/staff/reservations/:id/no-show.
func (h *StaffHandler) NoShow(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	res, promoted, err := h.Engine.MarkNoShow(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservation": res, "promoted": promoted})
}

// PurchasePackage handles POST /v1/staff/packages.
func (h *StaffHandler) PurchasePackage(c echo.Context) error {
	var body purchaseRequest
	if err := bindValid(c, &body); err != nil {
		return err
	}
	pkg, pay, err := h.Engine.PurchasePackage(c.Request().Context(), booking.PurchaseRequest{
		StudentID:   body.StudentID,
		Name:        body.Name,
		ClassTypeID: body.ClassTypeID,
		Credits:     body.Credits,
		ExpiresAt:   body.ExpiresAt,
		PriceCents:  body.PriceCents,
		Paid:        body.Paid,
		Method:      body.Method,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"package": pkg, "payment": pay})
}

// CancelPackage handles DELETE /v1/staff/packages/:id.
func (h *StaffHandler) CancelPackage(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid package id")
	}
	pkg, err := h.Engine.CancelPackage(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, pkg)
}

// PackageLedger handles GET /v1/staff/packages/:id/ledger.
func (h *StaffHandler) PackageLedger(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid package id")
	}
	entries, err := h.Engine.PackageLedger(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": entries, "total": len(entries)})
}

// RecordPayment handles POST /v1/staff/payments.
func (h *StaffHandler) RecordPayment(c echo.Context) error {
	var body paymentRequest
	if err := bindValid(c, &body); err != nil {
		return err
	}
	pay, err := h.Engine.RecordPayment(c.Request().Context(), booking.PaymentRequest{
		StudentID:     body.StudentID,
		PackageID:     body.PackageID,
		ReservationID: body.ReservationID,
		AmountCents:   body.AmountCents,
		Method:        body.Method,
		Pending:       body.Pending,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, pay)
}

// CompletePayment handles POST /v1/staff/payments/:id/complete.
func (h *StaffHandler) CompletePayment(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid payment id")
	}
	pay, err := h.Engine.CompletePayment(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, pay)
}

// RefundPayment handles POST /v1/staff/payments/:id/refund.
func (h *StaffHandler) RefundPayment(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid payment id")
	}
	refund, err := h.Engine.RefundPayment(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, refund)
}

// SweepPaymentDeadlines handles POST /v1/staff/sweeps/payment-deadlines.
func (h *StaffHandler) SweepPaymentDeadlines(c echo.Context) error {
	n, err := h.Engine.SweepExpiredPayments(c.Request().Context())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"cancelled": n})
}
