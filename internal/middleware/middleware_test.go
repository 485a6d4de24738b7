package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/utils"
)

const secret = "test-secret"

func protected() *echo.Echo {
	e := echo.New()
	g := e.Group("/v1", JWTAuth(secret), RequireRole(RoleStaff))
	g.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, currentUserID(c))
	})
	return e
}

func call(e *echo.Echo, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := protected()

	staff, err := utils.NewAccessToken(secret, 42, RoleStaff, 5)
	require.NoError(t, err)
	student, err := utils.NewAccessToken(secret, 7, RoleStudent, 5)
	require.NoError(t, err)
	forged, err := utils.NewAccessToken("other", 42, RoleStaff, 5)
	require.NoError(t, err)
	expired, err := utils.NewAccessToken(secret, 42, RoleStaff, -5)
	require.NoError(t, err)

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged.Token, http.StatusUnauthorized},
		{"expired", "Bearer " + expired.Token, http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.Token, http.StatusForbidden},
		{"ok", "Bearer " + staff.Token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(e, tt.auth)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := call(e, "Bearer "+staff.Token)
	assert.Equal(t, "42", rec.Body.String())
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/classes/9/bookings", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/classes/:id/bookings")
	c.Set("user_id", "7")

	tests := []struct {
		strategy string
		want     string
	}{
		{"ip", "rl:ip:10.0.0.1"},
		{"user", "rl:user:7"},
		{"USER", "rl:user:7"},
		{"ip_user", "rl:ip:10.0.0.1:user:7"},
		{"user_route", "rl:user:7:route:POST /v1/classes/:id/bookings"},
		{"", "rl:ip:10.0.0.1:user:7:route:POST /v1/classes/:id/bookings"},
	}
	for _, tt := range tests {
		cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: tt.strategy}
		assert.Equal(t, tt.want, buildRateKey(cfg, c), tt.strategy)
	}
}

func TestCurrentUserIDAnonymous(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Equal(t, "anon", currentUserID(c))
	c.Set("user_id", float64(12))
	assert.Equal(t, "12", currentUserID(c))
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
	mw := NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil)
	called := false
	h := mw(func(c echo.Context) error { called = true; return nil })
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	require.NoError(t, h(c))
	assert.True(t, called)
}
