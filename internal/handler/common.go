package handler // handler holds the echo HTTP handlers for students and staff

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/booking"
)

var validate = validator.New()

var errNoUser = errors.New("invalid user_id in context")

// getUserID extracts the user_id set by JWTAuth and converts it to uint64.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errNoUser
}

// actorFrom builds the booking actor for the authenticated caller.
func actorFrom(c echo.Context) (booking.Actor, error) {
	id, err := getUserID(c)
	if err != nil {
		return booking.Actor{}, err
	}
	role, _ := c.Get("role").(string)
	switch booking.Role(role) {
	case booking.RoleStudent:
		return booking.Student(id), nil
	case booking.RoleStaff:
		return booking.Staff(id), nil
	}
	return booking.Actor{}, errNoUser
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "bad_request"})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "code": "unauthorized"})
}

// bindValid binds the JSON body into dst and runs struct validation.  The
// returned error is an *echo.HTTPError rendered by echo as a 400 body.
func bindValid(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": "bad_request"})
	}
	if err := validate.Struct(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, echo.Map{"error": err.Error(), "code": "bad_request"})
	}
	return nil
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var domainErrors = []errorMapping{
	{booking.ErrClassNotFound, http.StatusNotFound, "class_not_found"},
	{booking.ErrReservationNotFound, http.StatusNotFound, "reservation_not_found"},
	{booking.ErrPackageNotFound, http.StatusNotFound, "package_not_found"},
	{booking.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{booking.ErrNotQueued, http.StatusNotFound, "not_queued"},
	{booking.ErrForbidden, http.StatusForbidden, "forbidden"},
	{booking.ErrDuplicateReservation, http.StatusConflict, "duplicate_reservation"},
	{booking.ErrAlreadyBooked, http.StatusConflict, "already_booked"},
	{booking.ErrAlreadyQueued, http.StatusConflict, "already_queued"},
	{booking.ErrClassFull, http.StatusConflict, "class_full"},
	{booking.ErrClassNotBookable, http.StatusConflict, "class_not_bookable"},
	{booking.ErrNotCancellable, http.StatusConflict, "not_cancellable"},
	{booking.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{booking.ErrInsufficientCredits, http.StatusUnprocessableEntity, "insufficient_credits"},
	{booking.ErrPackageNotUsable, http.StatusUnprocessableEntity, "package_not_usable"},
	{booking.ErrInvalidPayment, http.StatusBadRequest, "invalid_payment"},
	{booking.ErrInvalidPackage, http.StatusBadRequest, "invalid_package"},
}

// writeError renders a domain error with its status and stable code.
// Anything unrecognised is logged and reported as a 500.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			return c.JSON(m.status, echo.Map{"error": err.Error(), "code": m.code})
		}
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": "internal_error"})
}
