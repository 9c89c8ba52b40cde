package handler

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/coverage-consortium/internal/model"
    "github.com/iliyamo/coverage-consortium/internal/service"
)

// KYCHandler serves the reviewer queue and provider resubmission.
type KYCHandler struct {
    Svc *service.Service
}

func NewKYCHandler(svc *service.Service) *KYCHandler { return &KYCHandler{Svc: svc} }

type decisionReq struct {
    Notes  string `json:"notes"`
    Reason string `json:"reason"`
}

// Pending lists providers awaiting review, oldest submission first.
func (h *KYCHandler) Pending(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    page, err := h.Svc.PendingProviders(ctx, a, c.QueryParam("q"), queryInt(c, "page"), queryInt(c, "limit"))
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, pageView(page, providerView))
}

func (h *KYCHandler) decide(c echo.Context, outcome model.KYCStatus) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := idParam(c, "id")
    if !ok {
        return badRequest(c, "invalid provider id")
    }
    var req decisionReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    note := req.Notes
    if outcome == model.KYCRejected {
        note = req.Reason
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    rec, err := h.Svc.DecideKYC(ctx, a, id, outcome, strings.TrimSpace(note))
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, kycView(rec))
}

// Approve verifies a provider.  Body: {"notes": "..."} (optional).
func (h *KYCHandler) Approve(c echo.Context) error { return h.decide(c, model.KYCVerified) }

// Reject rejects a provider.  Body: {"reason": "..."} (optional).
func (h *KYCHandler) Reject(c echo.Context) error { return h.decide(c, model.KYCRejected) }

// Resubmit puts a rejected provider back into review, once.
func (h *KYCHandler) Resubmit(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    rec, err := h.Svc.RequestResubmission(ctx, a)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, kycView(rec))
}

// Status returns the calling provider's verification state.
func (h *KYCHandler) Status(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    if a.Role != model.RoleProvider {
        return fail(c, service.ErrNotEligible)
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    rec, err := h.Svc.KYCStatusOf(ctx, a.UserID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, kycView(rec))
}
