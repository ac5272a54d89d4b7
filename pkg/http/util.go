package http

import (
	"time"

	xutil "PatternScan/pkg/util"

	"github.com/labstack/echo/v4"
)

// QueryInt reads an integer query parameter or returns def.
func QueryInt(c echo.Context, name string, def int) int {
	return xutil.ParseIntDefault(c.QueryParam(name), def)
}

// QueryFloat reads a float query parameter or returns def.
func QueryFloat(c echo.Context, name string, def float64) float64 {
	return xutil.ParseFloatDefault(c.QueryParam(name), def)
}

// QueryTime reads a time query parameter (RFC3339 or unix seconds) or
// returns def.
func QueryTime(c echo.Context, name string, def time.Time) time.Time {
	return xutil.ParseTimeDefault(c.QueryParam(name), def)
}

// QueryList reads a comma separated query parameter.
func QueryList(c echo.Context, name string) []string {
	return xutil.SplitList(c.QueryParam(name))
}
