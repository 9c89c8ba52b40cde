package handler

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"

    "github.com/labstack/echo/v4"
    "github.com/shopspring/decimal"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/coverage-consortium/internal/model"
    "github.com/iliyamo/coverage-consortium/internal/service"
)

func newCtx() (echo.Context, *httptest.ResponseRecorder) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodGet, "/", nil)
    rec := httptest.NewRecorder()
    return e.NewContext(req, rec), rec
}

func TestStatusOf(t *testing.T) {
    cases := map[service.Kind]int{
        service.KindNotEligible:           http.StatusForbidden,
        service.KindNotFound:              http.StatusNotFound,
        service.KindInvalidRange:          http.StatusBadRequest,
        service.KindRequestClosed:         http.StatusConflict,
        service.KindDuplicateActiveBid:    http.StatusConflict,
        service.KindIllegalTransition:     http.StatusConflict,
        service.KindResubmissionExhausted: http.StatusConflict,
        service.KindOverTarget:            http.StatusUnprocessableEntity,
        service.KindIncompleteCoverage:    http.StatusUnprocessableEntity,
        service.Kind("mystery"):           http.StatusInternalServerError,
    }
    for kind, want := range cases {
        assert.Equal(t, want, statusOf(kind), kind)
    }
}

func TestFail(t *testing.T) {
    t.Run("engine error keeps kind and message", func(t *testing.T) {
        c, rec := newCtx()
        err := fmt.Errorf("wrapped: %w", &service.Error{Kind: service.KindOverTarget, Message: "selection exceeds target by 5"})
        require.NoError(t, fail(c, err))
        assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
        assert.JSONEq(t, `{"error":"over_target","message":"selection exceeds target by 5"}`, rec.Body.String())
    })
    t.Run("timeout", func(t *testing.T) {
        c, rec := newCtx()
        err := fail(c, context.DeadlineExceeded)
        assert.ErrorIs(t, err, context.DeadlineExceeded)
        assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
    })
    t.Run("internal errors stay opaque", func(t *testing.T) {
        c, rec := newCtx()
        cause := errors.New("dial tcp 10.0.0.3:3306: connection refused")
        assert.Same(t, cause, fail(c, cause))
        assert.Equal(t, http.StatusInternalServerError, rec.Code)
        assert.NotContains(t, rec.Body.String(), "10.0.0.3")
    })
}

func TestFlexID(t *testing.T) {
    var req saveSelectionReq
    require.NoError(t, json.Unmarshal([]byte(`{"selectedBidIds":["12",7,"003"]}`), &req))
    assert.Equal(t, []flexID{12, 7, 3}, req.SelectedBidIDs)

    assert.Error(t, json.Unmarshal([]byte(`{"selectedBidIds":["abc"]}`), &req))
    assert.Error(t, json.Unmarshal([]byte(`{"selectedBidIds":[-1]}`), &req))
}

func TestDecimalsRenderExactly(t *testing.T) {
    third := decimal.RequireFromString("33.333333")
    c := &model.Consortium{
        RequestID: 9,
        Entries: []model.ConsortiumEntry{
            {BidID: 1, ProviderID: 4, CoveragePercent: third, Premium: decimal.RequireFromString("1500.10"), PremiumCurrency: "EUR"},
        },
        TotalCoverage: third,
        Currency:      "EUR",
    }
    b, err := json.Marshal(consortiumView(c))
    require.NoError(t, err)
    assert.Contains(t, string(b), `"totalCoverage":33.333333`)
    assert.Contains(t, string(b), `"premium":1500.1`)
    assert.Contains(t, string(b), `"bidId":"1"`)

    assert.Nil(t, consortiumView(nil))
}

func TestCreateRequestInput(t *testing.T) {
    var req createRequestReq
    body := `{"title":"Depot","targetCoverage":80,"deadline":"2030-01-02T15:04:05Z",
        "asset":{"description":"Cold store","sumInsured":"2500000.50","currency":"usd",
        "location":{"country":" DE ","geo":{"lat":52.5,"lng":13.4}}}}`
    require.NoError(t, json.Unmarshal([]byte(body), &req))

    in := req.input()
    assert.Equal(t, 80, in.TargetCoverage)
    assert.True(t, in.Asset.SumInsured.Equal(decimal.RequireFromString("2500000.5")))
    require.NotNil(t, in.Asset.Location)
    assert.Equal(t, "DE", in.Asset.Location.Country)
    require.NotNil(t, in.Asset.Location.Lat)
    assert.Equal(t, 52.5, *in.Asset.Location.Lat)
}

func TestIDParam(t *testing.T) {
    c, _ := newCtx()
    c.SetParamNames("id")
    for raw, ok := range map[string]bool{"42": true, "0": false, "-3": false, "x": false} {
        c.SetParamValues(raw)
        _, got := idParam(c, "id")
        assert.Equal(t, ok, got, raw)
    }
}
