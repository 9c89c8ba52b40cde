package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/coverage-consortium/internal/middleware"
	"github.com/iliyamo/coverage-consortium/internal/model"
)

// RegisterEngine registers the request, bid, consortium and KYC routes
// under /v1.  Every route needs a valid access token; role guards here
// only reject obviously wrong callers early, the engine enforces
// ownership and state.
func RegisterEngine(e *echo.Echo, d Deps) {
	g := e.Group("/v1", middleware.JWTAuth(d.JWTSecret), orNoop(d.Limit))

	company := middleware.RequireRole(model.RoleCompany)
	provider := middleware.RequireRole(model.RoleProvider)
	admin := middleware.RequireRole(model.RoleAdmin)
	anyone := middleware.RequireRole(model.RoleCompany, model.RoleProvider, model.RoleAdmin)

	// request lifecycle and discovery
	g.GET("/requests/open", d.Requests.Open, anyone, orNoop(d.Cache))
	g.GET("/requests/mine", d.Requests.Mine, company)
	g.POST("/requests", d.Requests.Create, company)
	g.GET("/requests/:id", d.Requests.Get, anyone)
	g.GET("/requests/:id/company", d.Requests.Company, anyone)
	g.POST("/requests/:id/close", d.Requests.Close, middleware.RequireRole(model.RoleCompany, model.RoleAdmin))

	// bid ledger
	g.GET("/requests/:id/bids", d.Bids.List, anyone)
	g.POST("/requests/:id/bids", d.Bids.Place, provider)
	g.POST("/requests/:id/bids/expire", d.Bids.Expire, admin)
	g.POST("/bids/:id/withdraw", d.Bids.Withdraw, provider)
	g.GET("/providers/me/awards", d.Bids.Awards, provider)

	// consortium reconciler
	g.GET("/requests/:id/consortium", d.Consortium.Get, anyone)
	g.POST("/requests/:id/consortium", d.Consortium.Save, company)
	g.POST("/requests/:id/consortium/finalize", d.Consortium.Finalize, company)

	// kyc gate
	g.GET("/kyc/pending", d.KYC.Pending, admin)
	g.PATCH("/kyc/:id/approve", d.KYC.Approve, admin)
	g.PATCH("/kyc/:id/reject", d.KYC.Reject, admin)
	g.POST("/kyc/resubmit", d.KYC.Resubmit, provider)
	g.GET("/kyc/me", d.KYC.Status, provider)
}
