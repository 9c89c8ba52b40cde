package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/queue"
	"github.com/iliyamo/coverage-consortium/internal/service"
)

func TestDecideKYC_VerifyPublishesEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.provider(t, "nordic", model.KYCPending)

	rec, err := h.svc.DecideKYC(ctx, h.admin, p.UserID, model.KYCVerified, "  docs ok ")
	require.NoError(t, err)
	assert.Equal(t, model.KYCVerified, rec.Status)
	assert.Equal(t, "docs ok", rec.Note)
	require.NotNil(t, rec.DecidedAt)

	evs := h.events.Events()
	require.Len(t, evs, 1)
	ev, ok := evs[0].(queue.KYCDecidedEvent)
	require.True(t, ok)
	assert.Equal(t, p.UserID, ev.ProviderID)
	assert.Equal(t, h.admin.UserID, ev.ReviewerID)
	assert.Equal(t, "verified", ev.Status)
}

func TestDecideKYC_Guards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.provider(t, "nordic", model.KYCPending)

	_, err := h.svc.DecideKYC(ctx, h.company, p.UserID, model.KYCVerified, "")
	requireKind(t, err, service.KindNotEligible)

	_, err = h.svc.DecideKYC(ctx, h.admin, p.UserID, model.KYCPending, "")
	requireKind(t, err, service.KindInvalidRange)

	_, err = h.svc.DecideKYC(ctx, h.admin, 9999, model.KYCVerified, "")
	requireKind(t, err, service.KindNotFound)

	_, err = h.svc.DecideKYC(ctx, h.admin, h.company.UserID, model.KYCVerified, "")
	requireKind(t, err, service.KindNotFound)

	_, err = h.svc.DecideKYC(ctx, h.admin, p.UserID, model.KYCRejected, "blurry passport")
	require.NoError(t, err)

	// a second reviewer loses the race
	_, err = h.svc.DecideKYC(ctx, h.admin, p.UserID, model.KYCVerified, "")
	requireKind(t, err, service.KindIllegalTransition)
}

func TestResubmission_OneShot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.provider(t, "baltic", model.KYCPending)

	_, err := h.svc.RequestResubmission(ctx, p)
	requireKind(t, err, service.KindIllegalTransition)

	_, err = h.svc.DecideKYC(ctx, h.admin, p.UserID, model.KYCRejected, "missing licence")
	require.NoError(t, err)

	rec, err := h.svc.RequestResubmission(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, model.KYCPending, rec.Status)
	assert.Equal(t, 1, rec.ResubmitCount)

	_, err = h.svc.DecideKYC(ctx, h.admin, p.UserID, model.KYCRejected, "still missing")
	require.NoError(t, err)

	_, err = h.svc.RequestResubmission(ctx, p)
	requireKind(t, err, service.KindResubmissionExhausted)

	rec, err = h.svc.KYCStatusOf(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.KYCRejected, rec.Status)
	assert.Equal(t, 1, rec.ResubmitCount)
}

func TestResubmission_ExhaustedEvenAfterVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.provider(t, "baltic", model.KYCRejected)

	_, err := h.svc.RequestResubmission(ctx, p)
	require.NoError(t, err)
	_, err = h.svc.DecideKYC(ctx, h.admin, p.UserID, model.KYCVerified, "")
	require.NoError(t, err)

	_, err = h.svc.RequestResubmission(ctx, p)
	requireKind(t, err, service.KindResubmissionExhausted)
}

func TestResubmission_OnlyProviders(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RequestResubmission(context.Background(), h.company)
	requireKind(t, err, service.KindNotEligible)
}

func TestPendingProviders_ReviewerQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider(t, "alpha", model.KYCPending)
	h.provider(t, "bravo", model.KYCVerified)
	h.provider(t, "charlie", model.KYCPending)

	page, err := h.svc.PendingProviders(ctx, h.admin, "", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "alpha", page.Items[0].Name)

	page, err = h.svc.PendingProviders(ctx, h.admin, "CHAR", 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "charlie", page.Items[0].Name)

	_, err = h.svc.PendingProviders(ctx, h.company, "", 1, 20)
	requireKind(t, err, service.KindNotEligible)
}

func TestSubmitForReview_ResetsToPending(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, "delta", "")
	rec, err := h.svc.SubmitForReview(context.Background(), p.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.KYCPending, rec.Status)
	require.NotNil(t, rec.SubmittedAt)
	assert.Equal(t, epoch, *rec.SubmittedAt)

	_, err = h.svc.SubmitForReview(context.Background(), h.company.UserID)
	requireKind(t, err, service.KindNotFound)
}
