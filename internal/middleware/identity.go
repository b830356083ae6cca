package middleware

// identity.go holds the shared identity lookup used when building
// per-member keys for the rate limiter and response cache.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// memberKey returns a stable identifier for the authenticated member, or
// "anon" for guests.  JWTAuth stores the sub claim under "user_id"; JSON
// numbers decode as float64, so every numeric shape is handled.
func memberKey(c echo.Context) string {
	switch v := c.Get("user_id").(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return "anon"
}
