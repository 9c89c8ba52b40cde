package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/coverage-consortium/internal/metrics"
	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/queue"
	"github.com/iliyamo/coverage-consortium/internal/repository/memstore"
	"github.com/iliyamo/coverage-consortium/internal/service"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []queue.Event
}

func (r *recorder) Publish(_ context.Context, ev queue.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Events() []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Event(nil), r.events...)
}

type harness struct {
	svc     *service.Service
	store   *memstore.Store
	clock   *clock
	events  *recorder
	reg     *prometheus.Registry
	company service.Actor
	admin   service.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  memstore.New(),
		clock:  &clock{now: epoch},
		events: &recorder{},
		reg:    prometheus.NewRegistry(),
	}
	h.svc = service.New(h.store, zaptest.NewLogger(t),
		service.WithClock(h.clock.Now),
		service.WithPublisher(h.events),
		service.WithMetrics(metrics.NewMetrics(h.reg)))
	c := h.store.AddUser(model.User{Name: "Acme Shipping", Email: "ops@acme.test", Role: model.RoleCompany, OrgName: "Acme", IsActive: true})
	a := h.store.AddUser(model.User{Name: "Reviewer", Email: "kyc@platform.test", Role: model.RoleAdmin, IsActive: true})
	h.company = service.Actor{UserID: c.ID, Role: model.RoleCompany}
	h.admin = service.Actor{UserID: a.ID, Role: model.RoleAdmin}
	return h
}

// provider seeds a provider in the given KYC state.
func (h *harness) provider(t *testing.T, name string, status model.KYCStatus) service.Actor {
	t.Helper()
	submitted := h.clock.Now()
	u := h.store.AddUser(model.User{
		Name:           name,
		Email:          name + "@underwriters.test",
		Role:           model.RoleProvider,
		OrgName:        name + " Re",
		KYCStatus:      status,
		KYCSubmittedAt: &submitted,
		IsActive:       true,
	})
	return service.Actor{UserID: u.ID, Role: model.RoleProvider}
}

func (h *harness) request(t *testing.T, target int) *model.Request {
	t.Helper()
	req, err := h.svc.CreateRequest(context.Background(), h.company, service.CreateRequestInput{
		Title:          "Cargo vessel hull",
		Summary:        "Annual hull and machinery cover",
		TargetCoverage: target,
		Deadline:       h.clock.Now().Add(72 * time.Hour),
		Asset: model.Asset{
			Description: "Bulk carrier MV Example",
			SumInsured:  decimal.NewFromInt(10_000_000),
			Currency:    "usd",
			Location:    &model.Location{Country: "NO", City: "Bergen"},
		},
	})
	require.NoError(t, err)
	return req
}

func (h *harness) bid(t *testing.T, p service.Actor, requestID uint64, coverage string, premium int64) *model.Bid {
	t.Helper()
	b, err := h.svc.PlaceBid(context.Background(), p, requestID, service.PlaceBidInput{
		CoveragePercent: decimal.RequireFromString(coverage),
		Premium:         decimal.NewFromInt(premium),
		Terms:           "standard wording",
	})
	require.NoError(t, err)
	return b
}

func (h *harness) bidStatus(t *testing.T, requestID, bidID uint64) model.BidStatus {
	t.Helper()
	views, err := h.svc.RequestBids(context.Background(), h.company, requestID)
	require.NoError(t, err)
	for _, v := range views {
		if v.Bid.ID == bidID {
			return v.Bid.Status
		}
	}
	t.Fatalf("bid %d not listed on request %d", bidID, requestID)
	return ""
}

func requireKind(t *testing.T, err error, kind service.Kind) {
	t.Helper()
	require.Error(t, err)
	got, ok := service.KindOf(err)
	require.True(t, ok, "expected engine error, got %v", err)
	require.Equal(t, kind, got, err.Error())
}
