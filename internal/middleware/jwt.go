package middleware // reusable HTTP middleware for the API

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/coverage-consortium/internal/utils"
)

// Context keys set by JWTAuth.
const (
    KeyUserID = "user_id" // uint64
    KeyRole   = "role"    // string
)

// JWTAuth validates a Bearer access token and stores its subject and role
// in the echo context under KeyUserID and KeyRole.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get(echo.HeaderAuthorization)
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
            }
            claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
            }
            uid, _ := claims.UserID() // validated by ParseAccessToken
            c.Set(KeyUserID, uid)
            c.Set(KeyRole, claims.Role)
            return next(c)
        }
    }
}
