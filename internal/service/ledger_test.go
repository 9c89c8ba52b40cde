package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/service"
)

func TestPlaceBid_RequiresVerifiedProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 100)
	in := service.PlaceBidInput{CoveragePercent: decimal.NewFromInt(50), Premium: decimal.NewFromInt(1000)}

	for _, status := range []model.KYCStatus{model.KYCPending, model.KYCRejected} {
		p := h.provider(t, "p-"+string(status), status)
		_, err := h.svc.PlaceBid(ctx, p, req.ID, in)
		requireKind(t, err, service.KindNotEligible)
	}

	_, err := h.svc.PlaceBid(ctx, h.company, req.ID, in)
	requireKind(t, err, service.KindNotEligible)

	views, err := h.svc.RequestBids(ctx, h.company, req.ID)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestPlaceBid_Ranges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 100)
	p := h.provider(t, "nordic", model.KYCVerified)

	cases := []service.PlaceBidInput{
		{CoveragePercent: decimal.RequireFromString("0.99"), Premium: decimal.NewFromInt(1)},
		{CoveragePercent: decimal.RequireFromString("100.01"), Premium: decimal.NewFromInt(1)},
		{CoveragePercent: decimal.NewFromInt(10), Premium: decimal.NewFromInt(-1)},
		{CoveragePercent: decimal.NewFromInt(10), Premium: decimal.NewFromInt(1), Currency: "EUR"},
	}
	for _, in := range cases {
		_, err := h.svc.PlaceBid(ctx, p, req.ID, in)
		requireKind(t, err, service.KindInvalidRange)
	}

	b, err := h.svc.PlaceBid(ctx, p, req.ID, service.PlaceBidInput{
		CoveragePercent: decimal.RequireFromString("12.5"),
		Premium:         decimal.Zero,
		Currency:        "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, model.BidPending, b.Status)
	assert.Equal(t, "USD", b.PremiumCurrency)
	assert.True(t, b.CoveragePercent.Equal(decimal.RequireFromString("12.5")))
}

func TestPlaceBid_RejectsDigitsStorageWouldRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 100)
	p := h.provider(t, "nordic", model.KYCVerified)

	cases := map[string]service.PlaceBidInput{
		"coverage seventh digit": {CoveragePercent: decimal.RequireFromString("99.9999999"), Premium: decimal.NewFromInt(1)},
		"premium below a cent":   {CoveragePercent: decimal.NewFromInt(10), Premium: decimal.RequireFromString("0.001")},
		"premium fractional":     {CoveragePercent: decimal.NewFromInt(10), Premium: decimal.RequireFromString("1500.104")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.PlaceBid(ctx, p, req.ID, in)
			requireKind(t, err, service.KindInvalidRange)
		})
	}
	views, err := h.svc.RequestBids(ctx, h.company, req.ID)
	require.NoError(t, err)
	assert.Empty(t, views)

	// trailing zeros are not extra precision
	b, err := h.svc.PlaceBid(ctx, p, req.ID, service.PlaceBidInput{
		CoveragePercent: decimal.RequireFromString("99.9999990"),
		Premium:         decimal.RequireFromString("1500.100"),
	})
	require.NoError(t, err)

	_, err = h.svc.SaveSelection(ctx, h.company, req.ID, []uint64{b.ID})
	require.NoError(t, err)
	_, err = h.svc.Finalize(ctx, h.company, req.ID)
	requireKind(t, err, service.KindIncompleteCoverage)
}

func TestPlaceBid_DuplicateActiveBid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 100)
	p := h.provider(t, "nordic", model.KYCVerified)

	first := h.bid(t, p, req.ID, "30", 900)
	_, err := h.svc.PlaceBid(ctx, p, req.ID, service.PlaceBidInput{CoveragePercent: decimal.NewFromInt(20), Premium: decimal.NewFromInt(500)})
	requireKind(t, err, service.KindDuplicateActiveBid)

	// withdrawing frees the slot
	_, err = h.svc.WithdrawBid(ctx, p, first.ID)
	require.NoError(t, err)
	second := h.bid(t, p, req.ID, "20", 500)

	mine, err := h.svc.MyBid(ctx, p, req.ID)
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, second.ID, mine.ID)
}

func TestPlaceBid_ConcurrentDuplicatesAdmitOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 100)
	p := h.provider(t, "nordic", model.KYCVerified)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.PlaceBid(ctx, p, req.ID, service.PlaceBidInput{CoveragePercent: decimal.NewFromInt(10), Premium: decimal.NewFromInt(100)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else if k, _ := service.KindOf(err); k == service.KindDuplicateActiveBid {
				dups++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, oks)
	assert.Equal(t, n-1, dups)
}

func TestPlaceBid_Deadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 100)
	p := h.provider(t, "nordic", model.KYCVerified)

	h.clock.Advance(req.Deadline.Sub(h.clock.Now()))
	_, err := h.svc.PlaceBid(ctx, p, req.ID, service.PlaceBidInput{CoveragePercent: decimal.NewFromInt(10), Premium: decimal.NewFromInt(100)})
	requireKind(t, err, service.KindRequestClosed)
}

func TestPlaceBid_RequestNotOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 40)
	p := h.provider(t, "nordic", model.KYCVerified)
	q := h.provider(t, "baltic", model.KYCVerified)
	a := h.bid(t, p, req.ID, "40", 1000)

	_, err := h.svc.SaveSelection(ctx, h.company, req.ID, []uint64{a.ID})
	require.NoError(t, err)

	_, err = h.svc.PlaceBid(ctx, q, req.ID, service.PlaceBidInput{CoveragePercent: decimal.NewFromInt(10), Premium: decimal.NewFromInt(100)})
	requireKind(t, err, service.KindRequestClosed)

	_, err = h.svc.PlaceBid(ctx, q, 4242, service.PlaceBidInput{CoveragePercent: decimal.NewFromInt(10), Premium: decimal.NewFromInt(100)})
	requireKind(t, err, service.KindNotFound)
}

func TestWithdrawBid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 50)
	p := h.provider(t, "nordic", model.KYCVerified)
	q := h.provider(t, "baltic", model.KYCVerified)
	a := h.bid(t, p, req.ID, "50", 1000)

	_, err := h.svc.WithdrawBid(ctx, q, a.ID)
	requireKind(t, err, service.KindNotEligible)

	_, err = h.svc.WithdrawBid(ctx, p, 777)
	requireKind(t, err, service.KindNotFound)

	w, err := h.svc.WithdrawBid(ctx, p, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidWithdrawn, w.Status)

	_, err = h.svc.WithdrawBid(ctx, p, a.ID)
	requireKind(t, err, service.KindIllegalTransition)
}

func TestWithdrawBid_LockedConsortium(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 50)
	p := h.provider(t, "nordic", model.KYCVerified)
	a := h.bid(t, p, req.ID, "50", 1000)

	_, err := h.svc.SaveSelection(ctx, h.company, req.ID, []uint64{a.ID})
	require.NoError(t, err)
	_, err = h.svc.Finalize(ctx, h.company, req.ID)
	require.NoError(t, err)

	_, err = h.svc.WithdrawBid(ctx, p, a.ID)
	requireKind(t, err, service.KindIllegalTransition)
	assert.Equal(t, model.BidAccepted, h.bidStatus(t, req.ID, a.ID))
}

func TestExpireBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 100)
	p := h.provider(t, "nordic", model.KYCVerified)
	q := h.provider(t, "baltic", model.KYCVerified)
	a := h.bid(t, p, req.ID, "60", 1000)
	b := h.bid(t, q, req.ID, "30", 500)

	_, err := h.svc.ExpireBids(ctx, service.SystemActor(), req.ID)
	requireKind(t, err, service.KindIllegalTransition)

	_, err = h.svc.ExpireBids(ctx, p, req.ID)
	requireKind(t, err, service.KindNotEligible)

	h.clock.Advance(73 * time.Hour)
	n, err := h.svc.ExpireBids(ctx, service.SystemActor(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.BidExpired, h.bidStatus(t, req.ID, a.ID))
	assert.Equal(t, model.BidExpired, h.bidStatus(t, req.ID, b.ID))

	n, err = h.svc.ExpireBids(ctx, service.SystemActor(), req.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireBids_KeepsDraftMembers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 60)
	p := h.provider(t, "nordic", model.KYCVerified)
	q := h.provider(t, "baltic", model.KYCVerified)
	r := h.provider(t, "celtic", model.KYCVerified)
	a := h.bid(t, p, req.ID, "40", 1000)
	b := h.bid(t, q, req.ID, "20", 500)
	c := h.bid(t, r, req.ID, "10", 300)

	_, err := h.svc.SaveSelection(ctx, h.company, req.ID, []uint64{a.ID, b.ID})
	require.NoError(t, err)

	h.clock.Advance(73 * time.Hour)
	n, err := h.svc.ExpireBids(ctx, service.SystemActor(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.BidExpired, h.bidStatus(t, req.ID, c.ID))

	_, err = h.svc.Finalize(ctx, h.company, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BidAccepted, h.bidStatus(t, req.ID, a.ID))
	assert.Equal(t, model.BidAccepted, h.bidStatus(t, req.ID, b.ID))
	assert.Equal(t, model.BidExpired, h.bidStatus(t, req.ID, c.ID))
}

func TestRequestBids_OwnerOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(t, 100)
	p := h.provider(t, "nordic", model.KYCVerified)
	h.bid(t, p, req.ID, "25", 250)

	views, err := h.svc.RequestBids(ctx, h.company, req.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "nordic Re", views[0].Provider.OrgName)

	_, err = h.svc.RequestBids(ctx, p, req.ID)
	requireKind(t, err, service.KindNotEligible)

	views, err = h.svc.RequestBids(ctx, h.admin, req.ID)
	require.NoError(t, err)
	assert.Len(t, views, 1)

	mine, err := h.svc.MyBid(ctx, h.provider(t, "idle", model.KYCVerified), req.ID)
	require.NoError(t, err)
	assert.Nil(t, mine)
}
