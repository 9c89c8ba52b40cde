package router // package router registers every HTTP route of the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/coverage-consortium/internal/handler"
	"github.com/iliyamo/coverage-consortium/internal/middleware"
	"github.com/iliyamo/coverage-consortium/internal/model"
)

// Deps are the handlers and middleware the routes are built from.  A nil
// Limit or Cache disables that middleware.
type Deps struct {
	JWTSecret string

	Auth       *handler.AuthHandler
	Requests   *handler.RequestHandler
	Bids       *handler.BidHandler
	Consortium *handler.ConsortiumHandler
	KYC        *handler.KYCHandler

	Limit echo.MiddlewareFunc
	Cache echo.MiddlewareFunc

	Gatherer prometheus.Gatherer
	Ready    map[string]handler.Pinger
}

func orNoop(m echo.MiddlewareFunc) echo.MiddlewareFunc {
	if m == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return m
}

// RegisterRoutes registers routes that do not require authentication:
// probes and the metrics endpoint.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.Ready != nil {
		e.GET("/readyz", handler.Ready(d.Ready))
	}
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
}

// RegisterAuth registers account routes.  Register, login, refresh and
// logout live under /v1/auth without a session; /v1/me needs one.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth", orNoop(d.Limit))
	g.POST("/register", d.Auth.Register)
	g.POST("/login", d.Auth.Login)
	g.POST("/refresh", d.Auth.Refresh)
	g.POST("/refresh-access", d.Auth.RefreshAccess)
	g.POST("/logout", d.Auth.Logout)
	e.POST("/v1/logout", d.Auth.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(d.JWTSecret), orNoop(d.Limit))
	auth.GET("/me", d.Auth.Me, middleware.RequireRole(model.RoleCompany, model.RoleProvider, model.RoleAdmin))
}

// Register wires every route.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterEngine(e, d)
}
