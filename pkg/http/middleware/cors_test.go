package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func corsServer(cfg CORSConfig) *echo.Echo {
	e := echo.New()
	e.Use(CORS(cfg))
	e.POST("/api/scan", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.DELETE("/api/patterns/:id", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	return e
}

func send(e *echo.Echo, method, origin, requestMethod string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/scan", nil)
	if origin != "" {
		req.Header.Set(echo.HeaderOrigin, origin)
	}
	if requestMethod != "" {
		req.Header.Set(echo.HeaderAccessControlRequestMethod, requestMethod)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCORSOriginMatching(t *testing.T) {
	cfg := CORSConfig{AllowOrigins: []string{"https://app.example.org", "https://*.charts.io"}}

	assert.Equal(t, "https://app.example.org", cfg.AllowsOrigin("https://app.example.org"))
	assert.Equal(t, "https://eu.charts.io", cfg.AllowsOrigin("https://eu.charts.io"))
	assert.Empty(t, cfg.AllowsOrigin("https://charts.io"))
	assert.Empty(t, cfg.AllowsOrigin("http://eu.charts.io"))
	assert.Empty(t, cfg.AllowsOrigin("https://evil.example.org"))

	assert.Equal(t, "*", CORSConfig{AllowOrigins: []string{"*"}}.AllowsOrigin("https://anything.test"))
	assert.Empty(t, CORSConfig{}.AllowsOrigin("https://anything.test"))
}

func TestCORSPreflight(t *testing.T) {
	e := corsServer(CORSConfig{
		AllowOrigins: []string{"https://app.example.org"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType},
		MaxAge:       10 * time.Minute,
	})

	rec := send(e, http.MethodOptions, "https://app.example.org", http.MethodPost)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.org", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "GET, POST, DELETE", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, echo.HeaderContentType, rec.Header().Get(echo.HeaderAccessControlAllowHeaders))
	assert.Equal(t, "600", rec.Header().Get(echo.HeaderAccessControlMaxAge))
	assert.Equal(t, echo.HeaderOrigin, rec.Header().Get(echo.HeaderVary))

	// no PUT route and none allowed
	rec = send(e, http.MethodOptions, "https://app.example.org", http.MethodPut)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods))

	rec = send(e, http.MethodOptions, "https://other.example.org", http.MethodPost)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestCORSSimpleRequests(t *testing.T) {
	e := corsServer(CORSConfig{
		AllowOrigins: []string{"https://app.example.org"},
		AllowMethods: []string{http.MethodPost},
	})

	rec := send(e, http.MethodPost, "https://app.example.org", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.org", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	// served, but the browser gets no grant
	rec = send(e, http.MethodPost, "https://other.example.org", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = send(e, http.MethodPost, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderVary))
}
