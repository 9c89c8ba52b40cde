package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/coverage-consortium/internal/config"
	"github.com/iliyamo/coverage-consortium/internal/handler"
	"github.com/iliyamo/coverage-consortium/internal/metrics"
	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/repository/memstore"
	"github.com/iliyamo/coverage-consortium/internal/service"
	"github.com/iliyamo/coverage-consortium/internal/utils"
)

type api struct {
	t     *testing.T
	e     *echo.Echo
	store *memstore.Store
	now   time.Time
}

func newAPI(t *testing.T) *api {
	t.Helper()
	a := &api{t: t, e: echo.New(), store: memstore.New(), now: time.Now().UTC()}
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	svc := service.New(a.store, logger,
		service.WithClock(func() time.Time { return a.now }),
		service.WithMetrics(metrics.NewMetrics(reg)))
	cfg := config.Config{JWTSecret: "router-test", AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: 4}

	Register(a.e, Deps{
		JWTSecret:  cfg.JWTSecret,
		Auth:       handler.NewAuthHandler(cfg, a.store, a.store, svc, logger),
		Requests:   handler.NewRequestHandler(svc),
		Bids:       handler.NewBidHandler(svc),
		Consortium: handler.NewConsortiumHandler(svc),
		KYC:        handler.NewKYCHandler(svc),
		Gatherer:   reg,
	})

	hash, err := utils.HashPassword("reviewer-pass", 4)
	require.NoError(t, err)
	a.store.AddUser(model.User{Name: "Reviewer", Email: "kyc@consortium.test", PasswordHash: hash, Role: model.RoleAdmin, IsActive: true})
	return a
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// call performs the request, asserts the status and decodes the body.
func (a *api) call(method, path, token string, body any, want int) map[string]any {
	a.t.Helper()
	rec := a.do(method, path, token, body)
	require.Equal(a.t, want, rec.Code, rec.Body.String())
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return out
}

func (a *api) list(method, path, token string, want int) []map[string]any {
	a.t.Helper()
	rec := a.do(method, path, token, nil)
	require.Equal(a.t, want, rec.Code, rec.Body.String())
	var out []map[string]any
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (a *api) register(name, role string) (token, id string) {
	a.t.Helper()
	out := a.call(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": name, "email": strings.ToLower(name) + "@example.test", "password": "s3cret-pass",
		"role": role, "orgName": name + " Ltd",
	}, http.StatusCreated)
	return out["token"].(string), out["user"].(map[string]any)["id"].(string)
}

func (a *api) login(email, password string) string {
	a.t.Helper()
	out := a.call(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": email, "password": password}, http.StatusOK)
	return out["token"].(string)
}

func errKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	assert.NotEmpty(t, body.Message)
	return body.Error
}

func TestDealLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	company, _ := a.register("Acme", "company")
	provA, provAID := a.register("Aegis", "provider")
	provB, provBID := a.register("Bulwark", "provider")
	admin := a.login("KYC@consortium.test", "reviewer-pass")

	me := a.call(http.MethodGet, "/v1/me", provA, nil, http.StatusOK)
	assert.Equal(t, "pending", me["user"].(map[string]any)["kycStatus"])

	created := a.call(http.MethodPost, "/v1/requests", company, map[string]any{
		"title":          "Hull cover MV Nordlys",
		"summary":        "bulk carrier, North Sea trade",
		"targetCoverage": 60,
		"deadline":       a.now.Add(48 * time.Hour).Format(time.RFC3339),
		"asset": map[string]any{
			"description": "Bulk carrier",
			"sumInsured":  25000000,
			"currency":    "eur",
			"location":    map[string]any{"country": "NO", "city": "Bergen", "geo": map[string]float64{"lat": 60.39, "lng": 5.32}},
		},
	}, http.StatusCreated)
	reqID := created["id"].(string)
	assert.Equal(t, "open", created["status"])
	assert.Equal(t, "EUR", created["asset"].(map[string]any)["currency"])
	base := "/v1/requests/" + reqID

	// unverified providers are turned away
	rec := a.do(http.MethodPost, base+"/bids", provA, map[string]any{"coveragePercent": 40, "premium": 12000})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_eligible", errKind(t, rec))

	pending := a.call(http.MethodGet, "/v1/kyc/pending?limit=10", admin, nil, http.StatusOK)
	assert.EqualValues(t, 2, pending["total"])
	a.call(http.MethodPatch, "/v1/kyc/"+provAID+"/approve", admin, map[string]string{"notes": "docs ok"}, http.StatusOK)
	a.call(http.MethodPatch, "/v1/kyc/"+provBID+"/approve", admin, nil, http.StatusOK)
	rec = a.do(http.MethodPatch, "/v1/kyc/"+provBID+"/approve", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", errKind(t, rec))

	open := a.call(http.MethodGet, "/v1/requests/open?country=NO&sort=sum_desc", provA, nil, http.StatusOK)
	assert.EqualValues(t, 1, open["total"])
	assert.Equal(t, false, open["hasMore"])

	bidA := a.call(http.MethodPost, base+"/bids", provA, map[string]any{"coveragePercent": 40, "premium": "12000.50", "terms": "ITC Hulls"}, http.StatusCreated)
	bidB := a.call(http.MethodPost, base+"/bids", provB, map[string]any{"coveragePercent": 20, "premium": 6000}, http.StatusCreated)
	assert.Equal(t, "EUR", bidA["premiumCurrency"])
	assert.Equal(t, 12000.5, bidA["premium"])

	rec = a.do(http.MethodPost, base+"/bids", provB, map[string]any{"coveragePercent": 10, "premium": 100})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_active_bid", errKind(t, rec))

	rec = a.do(http.MethodPost, base+"/bids", company, map[string]any{"coveragePercent": 10, "premium": 100})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	mine := a.call(http.MethodGet, base+"/bids?mine=1", provB, nil, http.StatusOK)
	assert.Equal(t, bidB["id"], mine["id"])
	all := a.list(http.MethodGet, base+"/bids", company, http.StatusOK)
	require.Len(t, all, 2)
	assert.Equal(t, "Aegis Ltd", all[0]["provider"].(map[string]any)["orgName"])

	// 40 + 20 + nothing else: save as strings and numbers alike
	rec = a.do(http.MethodPost, base+"/consortium", company, map[string]any{"selectedBidIds": []any{bidA["id"], bidA["id"]}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", errKind(t, rec))

	draft := a.call(http.MethodPost, base+"/consortium", company, map[string]any{"selectedBidIds": []any{bidA["id"], bidB["id"]}}, http.StatusOK)
	assert.Equal(t, false, draft["isLocked"])
	assert.EqualValues(t, 60, draft["totalCoverage"])

	got := a.call(http.MethodGet, "/v1/requests/"+reqID, provA, nil, http.StatusOK)
	assert.Equal(t, "consortium_formed", got["status"])
	rec = a.do(http.MethodGet, base+"/consortium", provA, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "drafts are private to the company")

	locked := a.call(http.MethodPost, base+"/consortium/finalize", company, nil, http.StatusOK)
	assert.Equal(t, true, locked["isLocked"])
	assert.NotEmpty(t, locked["finalizedAt"])

	rec = a.do(http.MethodPost, base+"/consortium/finalize", company, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	seen := a.call(http.MethodGet, base+"/consortium", provA, nil, http.StatusOK)
	assert.Equal(t, true, seen["isLocked"])

	awards := a.list(http.MethodGet, "/v1/providers/me/awards", provA, http.StatusOK)
	require.Len(t, awards, 1)
	assert.EqualValues(t, 40, awards[0]["allocation"].(map[string]any)["coveragePercent"])
	assert.Equal(t, "Acme", awards[0]["company"].(map[string]any)["name"])

	card := a.call(http.MethodGet, base+"/company", provB, nil, http.StatusOK)
	assert.Equal(t, "Acme Ltd", card["company"].(map[string]any)["orgName"])

	rec = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "consortium_consortia_finalized_total 1")
}

func TestOverTargetAndIncompleteOverHTTP(t *testing.T) {
	a := newAPI(t)
	company, _ := a.register("Acme", "company")
	prov, provID := a.register("Aegis", "provider")
	admin := a.login("kyc@consortium.test", "reviewer-pass")
	a.call(http.MethodPatch, "/v1/kyc/"+provID+"/approve", admin, nil, http.StatusOK)

	created := a.call(http.MethodPost, "/v1/requests", company, map[string]any{
		"title": "Warehouse", "targetCoverage": 50,
		"deadline": a.now.Add(time.Hour).Format(time.RFC3339),
		"asset":    map[string]any{"description": "Cold store", "sumInsured": "1000000"},
	}, http.StatusCreated)
	base := "/v1/requests/" + created["id"].(string)

	big := a.call(http.MethodPost, base+"/bids", prov, map[string]any{"coveragePercent": 75, "premium": 10}, http.StatusCreated)
	rec := a.do(http.MethodPost, base+"/consortium", company, map[string]any{"selectedBidIds": []any{big["id"]}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "over_target", errKind(t, rec))

	rec = a.do(http.MethodPost, base+"/consortium/finalize", company, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "incomplete_coverage", errKind(t, rec))

	cons := a.do(http.MethodGet, base+"/consortium", company, nil)
	assert.Equal(t, http.StatusOK, cons.Code)
	assert.Equal(t, "null", strings.TrimSpace(cons.Body.String()))

	a.call(http.MethodPost, "/v1/bids/"+big["id"].(string)+"/withdraw", prov, nil, http.StatusOK)
	mine := a.do(http.MethodGet, base+"/bids", prov, nil)
	assert.Contains(t, mine.Body.String(), `"status":"withdrawn"`)

	// expiry is refused before the deadline and works after it
	rec = a.do(http.MethodPost, base+"/bids/expire", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	a.now = a.now.Add(2 * time.Hour)
	out := a.call(http.MethodPost, base+"/bids/expire", admin, nil, http.StatusOK)
	assert.EqualValues(t, 0, out["expired"])

	closed := a.call(http.MethodPost, base+"/close", company, nil, http.StatusOK)
	assert.Equal(t, "closed", closed["status"])
	rec = a.do(http.MethodPost, base+"/bids", prov, map[string]any{"coveragePercent": 10, "premium": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "request_closed", errKind(t, rec))
}

func TestKYCResubmissionOverHTTP(t *testing.T) {
	a := newAPI(t)
	prov, provID := a.register("Aegis", "provider")
	admin := a.login("kyc@consortium.test", "reviewer-pass")

	rej := a.call(http.MethodPatch, "/v1/kyc/"+provID+"/reject", admin, map[string]string{"reason": "expired licence"}, http.StatusOK)
	assert.Equal(t, "rejected", rej["kycStatus"])
	assert.Equal(t, "expired licence", rej["note"])

	st := a.call(http.MethodGet, "/v1/kyc/me", prov, nil, http.StatusOK)
	assert.Equal(t, "rejected", st["kycStatus"])

	again := a.call(http.MethodPost, "/v1/kyc/resubmit", prov, nil, http.StatusOK)
	assert.Equal(t, "pending", again["kycStatus"])
	assert.EqualValues(t, 1, again["kycResubmitCount"])

	a.call(http.MethodPatch, "/v1/kyc/"+provID+"/reject", admin, nil, http.StatusOK)
	rec := a.do(http.MethodPost, "/v1/kyc/resubmit", prov, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "resubmission_exhausted", errKind(t, rec))

	rec = a.do(http.MethodGet, "/v1/kyc/pending", prov, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthSessions(t *testing.T) {
	a := newAPI(t)
	out := a.call(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Acme", "email": " Ops@Acme.test ", "password": "s3cret-pass", "role": "company",
	}, http.StatusCreated)
	refresh := out["refresh"].(map[string]any)["token"].(string)

	rec := a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Again", "email": "ops@acme.test", "password": "s3cret-pass", "role": "company",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Root", "email": "root@acme.test", "password": "s3cret-pass", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "ops@acme.test", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	access := a.call(http.MethodPost, "/v1/auth/refresh-access", "", map[string]string{"refresh_token": refresh}, http.StatusOK)
	assert.NotEmpty(t, access["access"].(map[string]any)["token"])

	rotated := a.call(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh}, http.StatusOK)
	newRefresh := rotated["refresh"].(map[string]any)["token"].(string)
	rec = a.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "rotated token is revoked")

	a.call(http.MethodPost, "/v1/auth/logout", "", map[string]string{"refresh_token": newRefresh}, http.StatusNoContent)
	rec = a.do(http.MethodPost, "/v1/auth/refresh-access", "", map[string]string{"refresh_token": newRefresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
