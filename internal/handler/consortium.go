package handler

import (
    "net/http"
    "strconv"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/coverage-consortium/internal/service"
)

// ConsortiumHandler serves the draft and finalize endpoints.
type ConsortiumHandler struct {
    Svc *service.Service
}

func NewConsortiumHandler(svc *service.Service) *ConsortiumHandler {
    return &ConsortiumHandler{Svc: svc}
}

// flexID accepts a bid id sent either as a JSON string or a number.
type flexID uint64

func (f *flexID) UnmarshalJSON(b []byte) error {
    n, err := strconv.ParseUint(strings.Trim(string(b), `"`), 10, 64)
    if err != nil {
        return err
    }
    *f = flexID(n)
    return nil
}

type saveSelectionReq struct {
    SelectedBidIDs []flexID `json:"selectedBidIds"`
}

// Get returns the consortium or null.
func (h *ConsortiumHandler) Get(c echo.Context) error {
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
    cons, err := h.Svc.GetConsortium(ctx, a, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, consortiumView(cons))
}

// Save replaces the draft selection.
func (h *ConsortiumHandler) Save(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    id, ok := idParam(c, "id")
    if !ok {
        return badRequest(c, "invalid request id")
    }
    var req saveSelectionReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "selectedBidIds must be a list of bid ids")
    }
    ids := make([]uint64, len(req.SelectedBidIDs))
    for i, b := range req.SelectedBidIDs {
        ids[i] = uint64(b)
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    cons, err := h.Svc.SaveSelection(ctx, a, id, ids)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, consortiumView(cons))
}

// Finalize locks the draft and decides every pending bid.
func (h *ConsortiumHandler) Finalize(c echo.Context) error {
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
    cons, err := h.Svc.Finalize(ctx, a, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, consortiumView(cons))
}
