package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

// BookingHandler serves the student-facing booking endpoints.  Every
// method expects JWTAuth and RequireRole to have run.
type BookingHandler struct {
	Engine *booking.Engine
	Log    *zap.Logger
}

// NewBookingHandler panics when engine is nil.
func NewBookingHandler(engine *booking.Engine, log *zap.Logger) *BookingHandler {
	if engine == nil {
		panic("nil engine passed to NewBookingHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingHandler{Engine: engine, Log: log}
}

type bookRequest struct {
	PackageID    *uint64 `json:"package_id" validate:"omitempty,gt=0"`
	SkipWaitlist bool    `json:"skip_waitlist"`
}

type rescheduleRequest struct {
	ClassID      uint64 `json:"class_id" validate:"required,gt=0"`
	JoinWaitlist bool   `json:"join_waitlist"`
}

// Eligibility handles GET /v1/classes/:id/eligibility.
func (h *BookingHandler) Eligibility(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	classID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	res, err := h.Engine.GetEligibility(c.Request().Context(), userID, classID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Availability handles GET /v1/classes/:id/availability.
func (h *BookingHandler) Availability(c echo.Context) error {
	classID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	av, err := h.Engine.GetAvailability(c.Request().Context(), classID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, av)
}

// Book handles POST /v1/classes/:id/bookings.  A seat answers 201; a
// full class answers 202 with the waitlist entry unless skip_waitlist
// was set.
func (h *BookingHandler) Book(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	classID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	var body bookRequest
	if err := bindValid(c, &body); err != nil {
		return err
	}
	return h.book(c, actor, booking.BookingRequest{
		StudentID:    actor.ID,
		ClassID:      classID,
		PackageID:    body.PackageID,
		SkipWaitlist: body.SkipWaitlist,
	})
}

func (h *BookingHandler) book(c echo.Context, actor booking.Actor, req booking.BookingRequest) error {
	ctx := c.Request().Context()
	res, err := h.Engine.BookClass(ctx, actor, req)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return h.writeBooking(c, res, http.StatusCreated)
}

func (h *BookingHandler) writeBooking(c echo.Context, res booking.BookingResult, okStatus int) error {
	if !res.Waitlisted() {
		return c.JSON(okStatus, echo.Map{"reservation": res.Reservation})
	}
	entry := res.WaitlistEntry
	pos, err := h.Engine.WaitlistPosition(c.Request().Context(), entry.StudentID, entry.ClassID)
	if err != nil {
		// promoted or removed in the meantime; the entry is still the answer
		pos = 0
	}
	return c.JSON(http.StatusAccepted, echo.Map{"waitlist_entry": entry, "position": pos})
}

// LeaveWaitlist handles DELETE /v1/classes/:id/waitlist.
func (h *BookingHandler) LeaveWaitlist(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	classID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	if err := h.Engine.LeaveWaitlist(c.Request().Context(), actor, actor.ID, classID); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// GetReservation handles GET /v1/reservations/:id.
func (h *BookingHandler) GetReservation(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	res, err := h.Engine.GetReservation(c.Request().Context(), actor, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// CancelReservation handles DELETE /v1/reservations/:id.  An optional
// ?reason= (at most 255 characters) is stored on the reservation.
func (h *BookingHandler) CancelReservation(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	return h.cancel(c, actor)
}

func (h *BookingHandler) cancel(c echo.Context, actor booking.Actor) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	reason := c.QueryParam("reason")
	if err := validate.Var(reason, "max=255"); err != nil {
		return badRequest(c, "reason must be at most 255 characters")
	}
	if reason == "" {
		reason = "cancelled by " + string(actor.Role)
	}
	res, err := h.Engine.CancelReservation(c.Request().Context(), actor, id, reason)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Reschedule handles POST /v1/reservations/:id/reschedule.
func (h *BookingHandler) Reschedule(c echo.Context) error {
	actor, err := actorFrom(c)
	if err != nil {
		return unauthorized(c)
	}
	return h.reschedule(c, actor)
}

func (h *BookingHandler) reschedule(c echo.Context, actor booking.Actor) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid reservation id")
	}
	var body rescheduleRequest
	if err := bindValid(c, &body); err != nil {
		return err
	}
	res, err := h.Engine.Reschedule(c.Request().Context(), booking.RescheduleRequest{
		Actor:         actor,
		ReservationID: id,
		NewClassID:    body.ClassID,
		JoinWaitlist:  body.JoinWaitlist,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return h.writeBooking(c, res, http.StatusOK)
}

// MyReservations handles GET /v1/my-reservations.
func (h *BookingHandler) MyReservations(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	list, err := h.Engine.ListStudentReservations(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if list == nil {
		list = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list, "total": len(list)})
}

// MyPackages handles GET /v1/my-packages.
func (h *BookingHandler) MyPackages(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	list, err := h.Engine.ListStudentPackages(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if list == nil {
		list = []model.Package{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list, "total": len(list)})
}
