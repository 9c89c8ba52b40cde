package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/coverage-consortium/internal/model"
)

// PlaceBidInput is the normalized body of a new bid.
type PlaceBidInput struct {
	CoveragePercent decimal.Decimal
	Premium         decimal.Decimal
	Currency        string // empty means the asset currency
	Terms           string
}

// PlaceBid records a provider's offer on an open request.  Checks run in
// a fixed order: role, KYC, request state and deadline, duplicate pending
// bid, then value ranges.
func (s *Service) PlaceBid(ctx context.Context, actor Actor, requestID uint64, in PlaceBidInput) (bid *model.Bid, err error) {
	defer s.track("bid_place", &err)()
	if !actor.is(model.RoleProvider) {
		return nil, newError(KindNotEligible, "only providers may bid")
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		req, err := lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		provider, err := tx.GetUser(ctx, actor.UserID)
		if err != nil {
			return notFound(err, "provider", actor.UserID)
		}
		if provider.Role != model.RoleProvider || provider.KYCStatus != model.KYCVerified {
			return newError(KindNotEligible, "provider %d is not kyc verified", actor.UserID)
		}
		now := s.now()
		if !req.AcceptsBidsAt(now) {
			return newError(KindRequestClosed, "request %d is not accepting bids", req.ID)
		}
		bids, err := tx.ListBidsByRequest(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("list bids: %w", err)
		}
		for _, b := range bids {
			if b.ProviderID == actor.UserID && b.Status == model.BidPending {
				return newError(KindDuplicateActiveBid, "provider %d already has pending bid %d", actor.UserID, b.ID)
			}
		}
		bid, err = buildBid(req, actor.UserID, in, now)
		if err != nil {
			return err
		}
		if err := tx.InsertBid(ctx, bid); err != nil {
			return fmt.Errorf("insert bid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.BidsEntered(string(model.BidPending), 1)
	s.logger.Info("bid placed",
		zap.Uint64("bid_id", bid.ID),
		zap.Uint64("request_id", requestID),
		zap.Uint64("provider_id", actor.UserID),
		zap.String("coverage", pct(bid.CoveragePercent)))
	return bid, nil
}

func buildBid(req *model.Request, providerID uint64, in PlaceBidInput, now time.Time) (*model.Bid, error) {
	if in.CoveragePercent.LessThan(model.MinCoveragePercent) || in.CoveragePercent.GreaterThan(model.MaxCoveragePercent) {
		return nil, newError(KindInvalidRange, "coverage percent must be between 1 and 100, got %s", in.CoveragePercent)
	}
	if in.Premium.IsNegative() {
		return nil, newError(KindInvalidRange, "premium must not be negative")
	}
	if !model.FitsScale(in.CoveragePercent, model.CoverageScale) {
		return nil, newError(KindInvalidRange, "coverage percent allows at most %d decimal places, got %s", model.CoverageScale, in.CoveragePercent)
	}
	if !model.FitsScale(in.Premium, model.MoneyScale) {
		return nil, newError(KindInvalidRange, "premium allows at most %d decimal places, got %s", model.MoneyScale, in.Premium)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = req.Asset.Currency
	}
	if currency != req.Asset.Currency {
		return nil, newError(KindInvalidRange, "premium currency %s does not match asset currency %s", currency, req.Asset.Currency)
	}
	return &model.Bid{
		RequestID:       req.ID,
		ProviderID:      providerID,
		CoveragePercent: in.CoveragePercent,
		Premium:         in.Premium,
		PremiumCurrency: currency,
		Terms:           strings.TrimSpace(in.Terms),
		Status:          model.BidPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// WithdrawBid lets a provider take back its own pending bid.  A bid that
// sits in a locked consortium can no longer be withdrawn.  Withdrawing a
// bid that is part of a draft leaves the draft stale; finalize will reject
// it until the company saves a new selection.
func (s *Service) WithdrawBid(ctx context.Context, actor Actor, bidID uint64) (bid *model.Bid, err error) {
	defer s.track("bid_withdraw", &err)()
	if !actor.is(model.RoleProvider) {
		return nil, newError(KindNotEligible, "only providers may withdraw bids")
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		first, err := tx.GetBid(ctx, bidID)
		if err != nil {
			return notFound(err, "bid", bidID)
		}
		if _, err := lockRequest(ctx, tx, first.RequestID); err != nil {
			return err
		}
		// re-read under the request lock
		bid, err = tx.GetBid(ctx, bidID)
		if err != nil {
			return notFound(err, "bid", bidID)
		}
		if bid.ProviderID != actor.UserID {
			return newError(KindNotEligible, "bid %d belongs to another provider", bidID)
		}
		if bid.Status != model.BidPending {
			return newError(KindIllegalTransition, "bid %d is %s", bidID, bid.Status)
		}
		c, err := tx.GetConsortium(ctx, bid.RequestID)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("load consortium: %w", err)
		}
		if c != nil && c.IsLocked {
			return newError(KindIllegalTransition, "consortium for request %d is locked", bid.RequestID)
		}
		now := s.now()
		if err := tx.UpdateBidStatus(ctx, []uint64{bid.ID}, model.BidWithdrawn, now); err != nil {
			return fmt.Errorf("withdraw bid: %w", err)
		}
		bid.Status = model.BidWithdrawn
		bid.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.BidsEntered(string(model.BidWithdrawn), 1)
	s.logger.Info("bid withdrawn", zap.Uint64("bid_id", bidID), zap.Uint64("provider_id", actor.UserID))
	return bid, nil
}

// ExpireBids moves pending bids on a request whose deadline has passed to
// expired.  While the request is consortium_formed the bids in its draft
// are kept so the company can still finalize after the deadline.  Only
// the scheduler and reviewers may call it; it returns the number of bids
// expired.
func (s *Service) ExpireBids(ctx context.Context, actor Actor, requestID uint64) (n int, err error) {
	defer s.track("bid_expire", &err)()
	if !actor.is(model.RoleSystem) && !actor.is(model.RoleAdmin) {
		return 0, newError(KindNotEligible, "bid expiry is reserved for the scheduler")
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		req, err := lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		now := s.now()
		if now.Before(req.Deadline) {
			return newError(KindIllegalTransition, "request %d deadline has not passed", req.ID)
		}
		bids, err := tx.ListBidsByRequest(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("list bids: %w", err)
		}
		var keep map[uint64]bool
		if req.Status == model.RequestConsortiumFormed {
			c, err := tx.GetConsortium(ctx, req.ID)
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("load consortium: %w", err)
			}
			if c != nil && !c.IsLocked {
				keep = make(map[uint64]bool, len(c.Entries))
				for _, e := range c.Entries {
					keep[e.BidID] = true
				}
			}
		}
		ids := pendingIDs(bids, keep)
		if len(ids) == 0 {
			return nil
		}
		if err := tx.UpdateBidStatus(ctx, ids, model.BidExpired, now); err != nil {
			return fmt.Errorf("expire bids: %w", err)
		}
		n = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.BidsEntered(string(model.BidExpired), n)
		s.logger.Info("bids expired", zap.Uint64("request_id", requestID), zap.Int("count", n))
	}
	return n, nil
}

// applyConsortiumOutcome marks the selected bids accepted and every other
// pending bid on the request rejected.  It runs in the finalize
// transaction, under the request lock.
func applyConsortiumOutcome(ctx context.Context, tx Tx, requestID uint64, selected map[uint64]bool, now time.Time) (accepted, rejected []uint64, err error) {
	bids, err := tx.ListBidsByRequest(ctx, requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("list bids: %w", err)
	}
	for _, b := range bids {
		if b.Status != model.BidPending {
			continue
		}
		if selected[b.ID] {
			accepted = append(accepted, b.ID)
		} else {
			rejected = append(rejected, b.ID)
		}
	}
	if len(accepted) > 0 {
		if err := tx.UpdateBidStatus(ctx, accepted, model.BidAccepted, now); err != nil {
			return nil, nil, fmt.Errorf("accept bids: %w", err)
		}
	}
	if len(rejected) > 0 {
		if err := tx.UpdateBidStatus(ctx, rejected, model.BidRejected, now); err != nil {
			return nil, nil, fmt.Errorf("reject bids: %w", err)
		}
	}
	return accepted, rejected, nil
}

// pendingIDs returns the ids of pending bids not in skip.
func pendingIDs(bids []model.Bid, skip map[uint64]bool) []uint64 {
	var ids []uint64
	for _, b := range bids {
		if b.Status == model.BidPending && !skip[b.ID] {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// RequestBids lists the bids on a request for its owning company or a
// reviewer, each with the bidding provider's card.
func (s *Service) RequestBids(ctx context.Context, actor Actor, requestID uint64) (out []BidView, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return notFound(err, "request", requestID)
		}
		if !actor.is(model.RoleAdmin) {
			if err := requireOwner(actor, req); err != nil {
				return err
			}
		}
		bids, err := tx.ListBidsByRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("list bids: %w", err)
		}
		providers := make(map[uint64]model.ProviderLite)
		out = make([]BidView, 0, len(bids))
		for _, b := range bids {
			p, ok := providers[b.ProviderID]
			if !ok {
				u, err := tx.GetUser(ctx, b.ProviderID)
				if err != nil {
					return notFound(err, "provider", b.ProviderID)
				}
				p = u.Lite()
				providers[b.ProviderID] = p
			}
			out = append(out, BidView{Bid: b, Provider: p})
		}
		return nil
	})
	return out, err
}

// BidView is a bid as the owning company sees it.
type BidView struct {
	Bid      model.Bid
	Provider model.ProviderLite
}

// MyBid returns the calling provider's most recent bid on a request, or
// nil when it has none.
func (s *Service) MyBid(ctx context.Context, actor Actor, requestID uint64) (bid *model.Bid, err error) {
	if !actor.is(model.RoleProvider) {
		return nil, newError(KindNotEligible, "only providers place bids")
	}
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetRequest(ctx, requestID); err != nil {
			return notFound(err, "request", requestID)
		}
		bids, err := tx.ListBidsByRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("list bids: %w", err)
		}
		for i := range bids {
			b := bids[i]
			if b.ProviderID != actor.UserID {
				continue
			}
			if bid == nil || b.CreatedAt.After(bid.CreatedAt) || (b.CreatedAt.Equal(bid.CreatedAt) && b.ID > bid.ID) {
				bid = &b
			}
		}
		return nil
	})
	return bid, err
}
