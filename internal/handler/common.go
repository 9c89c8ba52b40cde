package handler // HTTP handlers translating JSON to engine calls

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/coverage-consortium/internal/middleware"
    "github.com/iliyamo/coverage-consortium/internal/model"
    "github.com/iliyamo/coverage-consortium/internal/service"
)

// requestTimeout bounds the storage work of a single HTTP call.
const requestTimeout = 5 * time.Second

func callCtx(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// actor builds the engine caller from the JWT claims.
func actor(c echo.Context) (service.Actor, bool) {
    id, ok := middleware.UserID(c)
    if !ok {
        return service.Actor{}, false
    }
    role := model.Role(middleware.Role(c))
    if !role.Valid() || role == model.RoleSystem {
        return service.Actor{}, false
    }
    return service.Actor{UserID: id, Role: role}, true
}

func unauthorized(c echo.Context) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "authentication required"})
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": string(service.KindInvalidRange), "message": msg})
}

// idParam parses a positive numeric path parameter.
func idParam(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param(name), 10, 64)
    return id, err == nil && id > 0
}

func queryInt(c echo.Context, name string) int {
    n, _ := strconv.Atoi(strings.TrimSpace(c.QueryParam(name)))
    return n
}

// statusOf maps an engine error kind to its HTTP status.
func statusOf(kind service.Kind) int {
    switch kind {
    case service.KindNotEligible:
        return http.StatusForbidden
    case service.KindNotFound:
        return http.StatusNotFound
    case service.KindInvalidRange:
        return http.StatusBadRequest
    case service.KindRequestClosed, service.KindDuplicateActiveBid,
        service.KindIllegalTransition, service.KindResubmissionExhausted:
        return http.StatusConflict
    case service.KindOverTarget, service.KindIncompleteCoverage:
        return http.StatusUnprocessableEntity
    }
    return http.StatusInternalServerError
}

// fail writes err as {"error": kind, "message": text}.  Anything that is
// not an engine error is reported as an opaque 500 and handed to echo so
// the request logger records the cause.
func fail(c echo.Context, err error) error {
    var e *service.Error
    if errors.As(err, &e) {
        return c.JSON(statusOf(e.Kind), echo.Map{"error": string(e.Kind), "message": e.Message})
    }
    if errors.Is(err, context.DeadlineExceeded) {
        _ = c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "timeout", "message": "request timed out"})
        return err
    }
    _ = c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal error"})
    return err
}
