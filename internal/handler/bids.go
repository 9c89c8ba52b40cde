package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/shopspring/decimal"

    "github.com/iliyamo/coverage-consortium/internal/model"
    "github.com/iliyamo/coverage-consortium/internal/service"
)

// BidHandler serves the bid ledger endpoints.
type BidHandler struct {
    Svc *service.Service
}

func NewBidHandler(svc *service.Service) *BidHandler { return &BidHandler{Svc: svc} }

type placeBidReq struct {
    CoveragePercent decimal.Decimal `json:"coveragePercent"`
    Premium         decimal.Decimal `json:"premium"`
    PremiumCurrency string          `json:"premiumCurrency"`
    Terms           string          `json:"terms"`
}

// Place records a bid by the calling provider.
func (h *BidHandler) Place(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := idParam(c, "id")
    if !ok {
        return badRequest(c, "invalid request id")
    }
    var req placeBidReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    b, err := h.Svc.PlaceBid(ctx, a, id, service.PlaceBidInput{
        CoveragePercent: req.CoveragePercent,
        Premium:         req.Premium,
        Currency:        req.PremiumCurrency,
        Terms:           req.Terms,
    })
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusCreated, bidView(*b))
}

// List returns every bid on the request for its owner or a reviewer.
// Providers, or any caller passing mine=1, get their own latest bid or
// null.
func (h *BidHandler) List(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := idParam(c, "id")
    if !ok {
        return badRequest(c, "invalid request id")
    }
    ctx, cancel := callCtx(c)
    defer cancel()

    if a.Role == model.RoleProvider || c.QueryParam("mine") == "1" {
        b, err := h.Svc.MyBid(ctx, a, id)
        if err != nil {
            return fail(c, err)
        }
        if b == nil {
            return c.JSON(http.StatusOK, nil)
        }
        return c.JSON(http.StatusOK, bidView(*b))
    }
    views, err := h.Svc.RequestBids(ctx, a, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, bidViews(views))
}

// Withdraw retracts the caller's pending bid.
func (h *BidHandler) Withdraw(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := idParam(c, "id")
    if !ok {
        return badRequest(c, "invalid bid id")
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    b, err := h.Svc.WithdrawBid(ctx, a, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, bidView(*b))
}

// Expire runs the deadline expiry for one request on a reviewer's behalf.
// The scheduler normally does this.
func (h *BidHandler) Expire(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := idParam(c, "id")
    if !ok {
        return badRequest(c, "invalid request id")
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    n, err := h.Svc.ExpireBids(ctx, a, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"expired": n})
}

// Awards lists the calling provider's finalized allocations.
func (h *BidHandler) Awards(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    awards, err := h.Svc.Awards(ctx, a)
    if err != nil {
        return fail(c, err)
    }
    out := make([]awardJSON, 0, len(awards))
    for _, aw := range awards {
        out = append(out, awardView(aw))
    }
    return c.JSON(http.StatusOK, out)
}
