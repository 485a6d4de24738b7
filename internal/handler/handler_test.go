package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/clock"
	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository/inmem"
	"github.com/iliyamo/studio-booking/internal/router"
	"github.com/iliyamo/studio-booking/internal/utils"
)

const (
	secret  = "handler-test-secret"
	staffID = 900
	alice   = 1
	bob     = 2
)

type api struct {
	e     *echo.Echo
	store *inmem.Store
	clock *clock.Manual
}

func newAPI(t *testing.T) *api {
	t.Helper()
	a := &api{store: inmem.New(), clock: clock.NewManual(time.Now().UTC().Truncate(time.Second))}
	engine := booking.NewEngine(a.store,
		booking.WithClock(a.clock),
		booking.WithAsync(func(fn func()) { fn() }),
	)
	a.e = echo.New()
	router.RegisterRoutes(a.e)
	router.RegisterStudent(a.e, handler.NewBookingHandler(engine, nil), secret, nil)
	router.RegisterStaff(a.e, handler.NewStaffHandler(engine, nil), secret)
	return a
}

func (a *api) class(capacity int, startsIn time.Duration) model.Class {
	start := a.clock.Now().Add(startsIn)
	return a.store.AddClass(model.Class{
		ClassTypeID: 1,
		Name:        "Vinyasa",
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Capacity:    capacity,
	})
}

func token(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, 10)
	require.NoError(t, err)
	return tok.Token
}

func (a *api) do(t *testing.T, method, path, tok string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]interface{}{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func (a *api) buyPackage(t *testing.T, studentID uint64, credits int) uint64 {
	t.Helper()
	rec, out := a.do(t, http.MethodPost, "/v1/staff/packages", token(t, staffID, middleware.RoleStaff), echo.Map{
		"student_id":  studentID,
		"name":        "5 class pass",
		"credits":     credits,
		"price_cents": 9000,
		"paid":        true,
		"method":      "card",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pkg := out["package"].(map[string]interface{})
	assert.Equal(t, "COMPLETED", out["payment"].(map[string]interface{})["status"])
	return uint64(pkg["id"].(float64))
}

func TestHealthz(t *testing.T) {
	a := newAPI(t)
	rec, _ := a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStudentBookingFlow(t *testing.T) {
	a := newAPI(t)
	class := a.class(1, 72*time.Hour)
	pkgID := a.buyPackage(t, alice, 2)
	aliceTok := token(t, alice, middleware.RoleStudent)
	bobTok := token(t, bob, middleware.RoleStudent)

	rec, out := a.do(t, http.MethodGet, fmt.Sprintf("/v1/classes/%d/eligibility", class.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eligible", out["status"])

	rec, out = a.do(t, http.MethodPost, fmt.Sprintf("/v1/classes/%d/bookings", class.ID), aliceTok, echo.Map{"package_id": pkgID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := out["reservation"].(map[string]interface{})
	assert.Equal(t, "CONFIRMED", res["status"])
	resID := uint64(res["id"].(float64))

	// second booking of the same class
	rec, out = a.do(t, http.MethodPost, fmt.Sprintf("/v1/classes/%d/bookings", class.ID), aliceTok, echo.Map{"package_id": pkgID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_reservation", out["code"])

	// class is full: bob is queued, or refused with skip_waitlist
	rec, out = a.do(t, http.MethodPost, fmt.Sprintf("/v1/classes/%d/bookings", class.ID), bobTok, echo.Map{"skip_waitlist": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "class_full", out["code"])

	rec, out = a.do(t, http.MethodPost, fmt.Sprintf("/v1/classes/%d/bookings", class.ID), bobTok, echo.Map{})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, out["position"])

	rec, out = a.do(t, http.MethodGet, fmt.Sprintf("/v1/classes/%d/availability", class.ID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, out["free_seats"])
	assert.EqualValues(t, 1, out["waitlist_length"])

	rec, out = a.do(t, http.MethodGet, fmt.Sprintf("/v1/reservations/%d", resID), bobTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", out["code"])

	// alice cancels, bob is promoted into the seat
	rec, out = a.do(t, http.MethodDelete, fmt.Sprintf("/v1/reservations/%d?reason=sick", resID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", out["reservation"].(map[string]interface{})["status"])
	promoted := out["promoted"].(map[string]interface{})
	assert.EqualValues(t, bob, promoted["student_id"])
	assert.NotNil(t, promoted["payment_deadline"])

	rec, out = a.do(t, http.MethodGet, "/v1/my-packages", aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := out["items"].([]interface{})
	require.Len(t, items, 1)
	assert.EqualValues(t, 0, items[0].(map[string]interface{})["used_credits"])

	rec, out = a.do(t, http.MethodGet, "/v1/my-reservations", bobTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["total"])
}

func TestStudentCutoffStaffOverride(t *testing.T) {
	a := newAPI(t)
	class := a.class(4, 2*time.Hour)
	pkgID := a.buyPackage(t, alice, 1)
	aliceTok := token(t, alice, middleware.RoleStudent)

	rec, out := a.do(t, http.MethodPost, fmt.Sprintf("/v1/classes/%d/bookings", class.ID), aliceTok, echo.Map{"package_id": pkgID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resID := uint64(out["reservation"].(map[string]interface{})["id"].(float64))

	rec, out = a.do(t, http.MethodDelete, fmt.Sprintf("/v1/reservations/%d", resID), aliceTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_cancellable", out["code"])

	rec, _ = a.do(t, http.MethodDelete, fmt.Sprintf("/v1/staff/reservations/%d", resID), token(t, staffID, middleware.RoleStaff), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, out = a.do(t, http.MethodGet, fmt.Sprintf("/v1/staff/packages/%d/ledger", pkgID), token(t, staffID, middleware.RoleStaff), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["total"])
}

func TestStaffLifecycleAndPayments(t *testing.T) {
	a := newAPI(t)
	staffTok := token(t, staffID, middleware.RoleStaff)
	class := a.class(2, 72*time.Hour)

	rec, out := a.do(t, http.MethodPost, fmt.Sprintf("/v1/staff/classes/%d/bookings", class.ID), staffTok, echo.Map{"student_id": alice})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := out["reservation"].(map[string]interface{})
	resID := uint64(res["id"].(float64))
	require.NotNil(t, res["payment_deadline"])

	rec, out = a.do(t, http.MethodPost, "/v1/staff/payments", staffTok, echo.Map{
		"student_id":     alice,
		"reservation_id": resID,
		"amount_cents":   2500,
		"method":         "cash",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payID := uint64(out["id"].(float64))

	rec, out = a.do(t, http.MethodPost, fmt.Sprintf("/v1/staff/payments/%d/complete", payID), staffTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "already completed")
	assert.Equal(t, "invalid_payment", out["code"])

	rec, out = a.do(t, http.MethodPost, fmt.Sprintf("/v1/staff/payments/%d/refund", payID), staffTok, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "REFUNDED", out["status"])

	a.clock.Advance(72 * time.Hour)
	for _, step := range []string{"check-in", "complete"} {
		rec, _ = a.do(t, http.MethodPost, fmt.Sprintf("/v1/staff/reservations/%d/%s", resID, step), staffTok, nil)
		assert.Equal(t, http.StatusOK, rec.Code, step)
	}
	rec, out = a.do(t, http.MethodPost, fmt.Sprintf("/v1/staff/reservations/%d/no-show", resID), staffTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", out["code"])
}

func TestStaffSweepEndpoint(t *testing.T) {
	a := newAPI(t)
	staffTok := token(t, staffID, middleware.RoleStaff)
	class := a.class(2, 72*time.Hour)

	rec, _ := a.do(t, http.MethodPost, fmt.Sprintf("/v1/staff/classes/%d/bookings", class.ID), staffTok, echo.Map{"student_id": alice})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, out := a.do(t, http.MethodPost, "/v1/staff/sweeps/payment-deadlines", staffTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, out["cancelled"])

	a.clock.Advance(49 * time.Hour)
	rec, out = a.do(t, http.MethodPost, "/v1/staff/sweeps/payment-deadlines", staffTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["cancelled"])
}

func TestAuthAndValidation(t *testing.T) {
	a := newAPI(t)
	class := a.class(2, 72*time.Hour)
	studentTok := token(t, alice, middleware.RoleStudent)

	rec, _ := a.do(t, http.MethodGet, "/v1/my-reservations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, http.MethodGet, fmt.Sprintf("/v1/staff/classes/%d/waitlist", class.ID), studentTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out := a.do(t, http.MethodGet, "/v1/classes/abc/availability", studentTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", out["code"])

	rec, out = a.do(t, http.MethodGet, "/v1/classes/999/availability", studentTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "class_not_found", out["code"])

	rec, out = a.do(t, http.MethodPost, "/v1/reservations/1/reschedule", studentTok, echo.Map{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", out["code"])

	rec, out = a.do(t, http.MethodPost, "/v1/staff/packages", token(t, staffID, middleware.RoleStaff), echo.Map{"student_id": alice, "name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", out["code"])

	rec, out = a.do(t, http.MethodDelete, fmt.Sprintf("/v1/classes/%d/waitlist", class.ID), studentTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_queued", out["code"])
}

func TestCancelReasonLength(t *testing.T) {
	a := newAPI(t)
	class := a.class(2, 72*time.Hour)
	pkgID := a.buyPackage(t, alice, 1)
	aliceTok := token(t, alice, middleware.RoleStudent)

	rec, out := a.do(t, http.MethodPost, fmt.Sprintf("/v1/classes/%d/bookings", class.ID), aliceTok, echo.Map{"package_id": pkgID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resID := uint64(out["reservation"].(map[string]interface{})["id"].(float64))

	cancelURL := func(reason string) string {
		return fmt.Sprintf("/v1/reservations/%d?reason=%s", resID, url.QueryEscape(reason))
	}

	rec, out = a.do(t, http.MethodDelete, cancelURL(strings.Repeat("x", 256)), aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", out["code"])

	rec, out = a.do(t, http.MethodGet, fmt.Sprintf("/v1/reservations/%d", resID), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CONFIRMED", out["status"])

	reason := strings.Repeat("é", 255)
	rec, out = a.do(t, http.MethodDelete, cancelURL(reason), aliceTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := out["reservation"].(map[string]interface{})
	assert.Equal(t, "CANCELLED", res["status"])
	assert.Equal(t, reason, res["cancellation_reason"])
}
