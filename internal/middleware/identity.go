package middleware

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// UserID returns the authenticated user ID set by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(KeyUserID).(uint64)
    return id, ok && id != 0
}

// Role returns the authenticated role set by JWTAuth, or "".
func Role(c echo.Context) string {
    r, _ := c.Get(KeyRole).(string)
    return r
}

// currentUserID renders the caller for rate-limit and cache keys.
func currentUserID(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
