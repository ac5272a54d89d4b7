package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// CORSConfig lists what browser callers from other origins may do. An
// origin entry is "*", an exact origin, or a scheme and host whose first
// label is a wildcard ("https://*.example.com").
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// AllowsOrigin reports the Access-Control-Allow-Origin value for origin, or
// "" when origin is not allowed.
func (c CORSConfig) AllowsOrigin(origin string) string {
	for _, o := range c.AllowOrigins {
		switch {
		case o == "*":
			return "*"
		case strings.EqualFold(o, origin):
			return origin
		case wildcardMatch(o, origin):
			return origin
		}
	}
	return ""
}

// AllowsMethod reports whether method is in AllowMethods.
func (c CORSConfig) AllowsMethod(method string) bool {
	return slices.ContainsFunc(c.AllowMethods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}

func wildcardMatch(pattern, origin string) bool {
	scheme, host, ok := strings.Cut(pattern, "://*.")
	if !ok {
		return false
	}
	prefix := scheme + "://"
	if !strings.HasPrefix(strings.ToLower(origin), strings.ToLower(prefix)) {
		return false
	}
	rest := origin[len(prefix):]
	return strings.HasSuffix(strings.ToLower(rest), "."+strings.ToLower(host)) && !strings.Contains(rest, "/")
}

// CORS answers preflight requests itself and tags simple requests from
// allowed origins. Requests without an Origin header pass through untouched.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(int(cfg.MaxAge / time.Second))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			origin := req.Header.Get(echo.HeaderOrigin)
			if origin == "" {
				return next(c)
			}
			h := c.Response().Header()
			h.Add(echo.HeaderVary, echo.HeaderOrigin)

			preflight := req.Method == http.MethodOptions && req.Header.Get(echo.HeaderAccessControlRequestMethod) != ""
			allowed := cfg.AllowsOrigin(origin)
			if !preflight {
				if allowed != "" {
					h.Set(echo.HeaderAccessControlAllowOrigin, allowed)
				}
				return next(c)
			}

			if allowed == "" || !cfg.AllowsMethod(req.Header.Get(echo.HeaderAccessControlRequestMethod)) {
				return c.NoContent(http.StatusForbidden)
			}
			h.Set(echo.HeaderAccessControlAllowOrigin, allowed)
			h.Set(echo.HeaderAccessControlAllowMethods, methods)
			if headers != "" {
				h.Set(echo.HeaderAccessControlAllowHeaders, headers)
			}
			if maxAge != "" {
				h.Set(echo.HeaderAccessControlMaxAge, maxAge)
			}
			return c.NoContent(http.StatusNoContent)
		}
	}
}
