package handler

import (
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/shopspring/decimal"

    "github.com/iliyamo/coverage-consortium/internal/model"
    "github.com/iliyamo/coverage-consortium/internal/service"
)

// RequestHandler serves the request lifecycle and discovery endpoints.
type RequestHandler struct {
    Svc *service.Service
}

func NewRequestHandler(svc *service.Service) *RequestHandler { return &RequestHandler{Svc: svc} }

type createRequestReq struct {
    Title          string    `json:"title"`
    Summary        string    `json:"summary"`
    TargetCoverage int       `json:"targetCoverage"`
    Deadline       time.Time `json:"deadline"`
    Asset          struct {
        Description string          `json:"description"`
        SumInsured  decimal.Decimal `json:"sumInsured"`
        Currency    string          `json:"currency"`
        RiskDetails string          `json:"riskDetails"`
        Location    *struct {
            Country string   `json:"country"`
            City    string   `json:"city"`
            Geo     *geoJSON `json:"geo"`
        } `json:"location"`
    } `json:"asset"`
}

func (r createRequestReq) input() service.CreateRequestInput {
    in := service.CreateRequestInput{
        Title:          r.Title,
        Summary:        r.Summary,
        TargetCoverage: r.TargetCoverage,
        Deadline:       r.Deadline,
        Asset: model.Asset{
            Description: r.Asset.Description,
            SumInsured:  r.Asset.SumInsured,
            Currency:    r.Asset.Currency,
            RiskDetails: r.Asset.RiskDetails,
        },
    }
    if l := r.Asset.Location; l != nil {
        loc := &model.Location{Country: strings.TrimSpace(l.Country), City: strings.TrimSpace(l.City)}
        if l.Geo != nil {
            lat, lng := l.Geo.Lat, l.Geo.Lng
            loc.Lat, loc.Lng = &lat, &lng
        }
        in.Asset.Location = loc
    }
    return in
}

// Create opens a request for the calling company.
func (h *RequestHandler) Create(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    var req createRequestReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    r, err := h.Svc.CreateRequest(ctx, a, req.input())
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusCreated, requestView(*r))
}

// Mine lists the calling company's requests, newest first.
func (h *RequestHandler) Mine(c echo.Context) error {
    a, ok := actor(c)
    if !ok {
        return unauthorized(c)
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    rs, err := h.Svc.ListMyRequests(ctx, a)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, requestViews(rs))
}

// Open is the paginated discovery listing.
//
//	GET /v1/requests/open?q=&country=&minSum=&maxSum=&sort=new|sum_desc|deadline_asc&page=&limit=
func (h *RequestHandler) Open(c echo.Context) error {
    q := model.OpenRequestQuery{
        Search:  c.QueryParam("q"),
        Country: c.QueryParam("country"),
        Sort:    model.OpenRequestSort(strings.ToLower(c.QueryParam("sort"))),
        Page:    queryInt(c, "page"),
        Limit:   queryInt(c, "limit"),
    }
    var err error
    if q.MinSum, err = queryDecimal(c, "minSum"); err != nil {
        return badRequest(c, "minSum must be a number")
    }
    if q.MaxSum, err = queryDecimal(c, "maxSum"); err != nil {
        return badRequest(c, "maxSum must be a number")
    }

    ctx, cancel := callCtx(c)
    defer cancel()
    page, err := h.Svc.SearchOpenRequests(ctx, q)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, pageView(page, requestView))
}

func queryDecimal(c echo.Context, name string) (*decimal.Decimal, error) {
    s := strings.TrimSpace(c.QueryParam(name))
    if s == "" {
        return nil, nil
    }
    d, err := decimal.NewFromString(s)
    if err != nil {
        return nil, err
    }
    return &d, nil
}

// Get returns one request.
func (h *RequestHandler) Get(c echo.Context) error {
    id, ok := idParam(c, "id")
    if !ok {
        return badRequest(c, "invalid request id")
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    r, err := h.Svc.GetRequest(ctx, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, requestView(*r))
}

// Company returns the card of the company that owns the request.
func (h *RequestHandler) Company(c echo.Context) error {
    id, ok := idParam(c, "id")
    if !ok {
        return badRequest(c, "invalid request id")
    }
    ctx, cancel := callCtx(c)
    defer cancel()
    card, err := h.Svc.RequestCompany(ctx, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"company": companyView(card)})
}

// Close stops a request from taking further action.
func (h *RequestHandler) Close(c echo.Context) error {
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
    r, err := h.Svc.CloseRequest(ctx, a, id)
    if err != nil {
        return fail(c, err)
    }
    return c.JSON(http.StatusOK, requestView(*r))
}
