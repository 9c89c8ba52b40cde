package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/queue"
)

// SaveSelection replaces the request's draft consortium with the given
// bids.  The whole selection is validated before anything is written, so
// a rejected selection leaves any earlier draft untouched.  The first
// successful save moves an open request to consortium_formed.
func (s *Service) SaveSelection(ctx context.Context, actor Actor, requestID uint64, bidIDs []uint64) (c *model.Consortium, err error) {
	defer s.track("consortium_save", &err)()
	if !actor.is(model.RoleCompany) {
		return nil, newError(KindNotEligible, "only the owning company may select bids")
	}
	if len(bidIDs) == 0 {
		return nil, newError(KindInvalidRange, "selection must contain at least one bid")
	}
	seen := make(map[uint64]bool, len(bidIDs))
	for _, id := range bidIDs {
		if seen[id] {
			return nil, newError(KindInvalidRange, "bid %d selected more than once", id)
		}
		seen[id] = true
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		req, err := lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := requireOwner(actor, req); err != nil {
			return err
		}
		switch req.Status {
		case model.RequestClosed:
			return newError(KindRequestClosed, "request %d is closed", req.ID)
		case model.RequestFinalized:
			return newError(KindIllegalTransition, "request %d is already finalized", req.ID)
		}
		prev, err := tx.GetConsortium(ctx, req.ID)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("load consortium: %w", err)
		}
		if prev != nil && prev.IsLocked {
			return newError(KindIllegalTransition, "consortium for request %d is locked", req.ID)
		}

		entries := make([]model.ConsortiumEntry, 0, len(bidIDs))
		for _, id := range bidIDs {
			b, err := tx.GetBid(ctx, id)
			if err != nil {
				return notFound(err, "bid", id)
			}
			if b.RequestID != req.ID {
				return newError(KindNotFound, "bid %d not found on request %d", id, req.ID)
			}
			if b.Status != model.BidPending {
				return newError(KindIllegalTransition, "bid %d is %s", id, b.Status)
			}
			entries = append(entries, model.EntryFromBid(*b))
		}
		model.SortEntries(entries)
		total := model.SumCoverage(entries)
		if target := req.Target(); total.GreaterThan(target) {
			return newError(KindOverTarget, "selection exceeds target by %s", pct(total.Sub(target)))
		}

		now := s.now()
		c = &model.Consortium{
			RequestID:     req.ID,
			Entries:       entries,
			TotalCoverage: total,
			Revision:      1,
			Currency:      req.Asset.Currency,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if prev != nil {
			c.Revision = prev.Revision + 1
			c.CreatedAt = prev.CreatedAt
		}
		if err := tx.SaveConsortium(ctx, c); err != nil {
			return fmt.Errorf("save consortium: %w", err)
		}
		if req.Status == model.RequestOpen {
			return advanceRequest(ctx, tx, req, model.RequestConsortiumFormed, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("consortium draft saved",
		zap.Uint64("request_id", requestID),
		zap.Int("entries", len(c.Entries)),
		zap.String("total", pct(c.TotalCoverage)),
		zap.Int("revision", c.Revision))
	return c, nil
}

// Finalize locks the draft consortium.  Entries are re-read from the live
// bids so the snapshot reflects the bids at this instant; every selected
// bid must still be pending and the total must equal the target exactly.
// Locking, resolving the bids and finalizing the request commit together
// or not at all.
func (s *Service) Finalize(ctx context.Context, actor Actor, requestID uint64) (c *model.Consortium, err error) {
	defer s.track("consortium_finalize", &err)()
	if !actor.is(model.RoleCompany) {
		return nil, newError(KindNotEligible, "only the owning company may finalize")
	}
	var (
		req                *model.Request
		accepted, rejected []uint64
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		req, err = lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := requireOwner(actor, req); err != nil {
			return err
		}
		draft, err := tx.GetConsortium(ctx, req.ID)
		if isNotFound(err) {
			return newError(KindIncompleteCoverage, "request %d has no draft consortium", req.ID)
		}
		if err != nil {
			return fmt.Errorf("load consortium: %w", err)
		}
		if draft.IsLocked {
			return newError(KindIllegalTransition, "consortium for request %d is already locked", req.ID)
		}
		if req.Status == model.RequestClosed {
			return newError(KindRequestClosed, "request %d is closed", req.ID)
		}

		entries := make([]model.ConsortiumEntry, 0, len(draft.Entries))
		selected := make(map[uint64]bool, len(draft.Entries))
		for _, e := range draft.Entries {
			b, err := tx.GetBid(ctx, e.BidID)
			if err != nil {
				return notFound(err, "bid", e.BidID)
			}
			if b.Status != model.BidPending {
				return newError(KindIncompleteCoverage, "selected bid %d is %s, save a new selection", b.ID, b.Status)
			}
			entries = append(entries, model.EntryFromBid(*b))
			selected[b.ID] = true
		}
		model.SortEntries(entries)
		total := model.SumCoverage(entries)
		if target := req.Target(); !total.Equal(target) {
			return newError(KindIncompleteCoverage, "selection covers %s of a %s target", pct(total), pct(target))
		}

		now := s.now()
		c = &model.Consortium{
			RequestID:          req.ID,
			Entries:            entries,
			TotalCoverage:      total,
			IsLocked:           true,
			Revision:           draft.Revision,
			SumInsuredSnapshot: req.Asset.SumInsured,
			Currency:           req.Asset.Currency,
			FinalizedAt:        &now,
			CreatedAt:          draft.CreatedAt,
			UpdatedAt:          now,
		}
		if err := tx.SaveConsortium(ctx, c); err != nil {
			return fmt.Errorf("lock consortium: %w", err)
		}
		accepted, rejected, err = applyConsortiumOutcome(ctx, tx, req.ID, selected, now)
		if err != nil {
			return err
		}
		return advanceRequest(ctx, tx, req, model.RequestFinalized, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Finalized()
	s.metrics.BidsEntered(string(model.BidAccepted), len(accepted))
	s.metrics.BidsEntered(string(model.BidRejected), len(rejected))
	s.logger.Info("consortium finalized",
		zap.Uint64("request_id", req.ID),
		zap.Int("accepted", len(accepted)),
		zap.Int("rejected", len(rejected)))
	s.publish(ctx, finalizedEvent(req, c, accepted, rejected))
	return c, nil
}

func finalizedEvent(req *model.Request, c *model.Consortium, accepted, rejected []uint64) queue.ConsortiumFinalizedEvent {
	lines := make([]queue.AllocationLine, 0, len(c.Entries))
	for _, e := range c.Entries {
		lines = append(lines, queue.AllocationLine{
			BidID:           e.BidID,
			ProviderID:      e.ProviderID,
			CoveragePercent: e.CoveragePercent.String(),
			Premium:         e.Premium.StringFixed(2),
			PremiumCurrency: e.PremiumCurrency,
		})
	}
	if accepted == nil {
		accepted = []uint64{}
	}
	if rejected == nil {
		rejected = []uint64{}
	}
	return queue.ConsortiumFinalizedEvent{
		EventID:        newEventID(),
		RequestID:      req.ID,
		CompanyID:      req.CompanyID,
		Title:          req.Title,
		TargetCoverage: req.TargetCoverage,
		SumInsured:     c.SumInsuredSnapshot.StringFixed(2),
		Currency:       c.Currency,
		Allocations:    lines,
		AcceptedBidIDs: accepted,
		RejectedBidIDs: rejected,
		FinalizedAt:    timestamp(*c.FinalizedAt),
	}
}

// Finalizable reports whether the request's unlocked draft would pass
// Finalize as it stands: every selected bid is still pending and the total
// equals the target.  The scheduler leaves such requests open past their
// deadline so the company can still finalize.
func (s *Service) Finalizable(ctx context.Context, requestID uint64) (ok bool, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return notFound(err, "request", requestID)
		}
		if req.Status != model.RequestConsortiumFormed {
			return nil
		}
		draft, err := tx.GetConsortium(ctx, requestID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load consortium: %w", err)
		}
		if draft.IsLocked {
			return nil
		}
		for _, e := range draft.Entries {
			b, err := tx.GetBid(ctx, e.BidID)
			if err != nil {
				return notFound(err, "bid", e.BidID)
			}
			if b.Status != model.BidPending {
				return nil
			}
		}
		ok = model.SumCoverage(draft.Entries).Equal(req.Target())
		return nil
	})
	return ok, err
}

// GetConsortium returns the request's consortium, or nil when no selection
// has been saved.  The owning company and reviewers see drafts; providers
// only see a locked consortium they are part of.
func (s *Service) GetConsortium(ctx context.Context, actor Actor, requestID uint64) (c *model.Consortium, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return notFound(err, "request", requestID)
		}
		found, err := tx.GetConsortium(ctx, requestID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load consortium: %w", err)
		}
		switch actor.Role {
		case model.RoleAdmin:
		case model.RoleCompany:
			if err := requireOwner(actor, req); err != nil {
				return err
			}
		case model.RoleProvider:
			if !found.IsLocked || !hasProvider(found, actor.UserID) {
				return newError(KindNotEligible, "consortium for request %d is not visible", requestID)
			}
		default:
			return newError(KindNotEligible, "consortium for request %d is not visible", requestID)
		}
		c = found
		return nil
	})
	return c, err
}

func hasProvider(c *model.Consortium, providerID uint64) bool {
	for _, e := range c.Entries {
		if e.ProviderID == providerID {
			return true
		}
	}
	return false
}

// Award is one finalized allocation won by a provider, read from the
// locked snapshot.
type Award struct {
	Request    model.Request
	Allocation model.ConsortiumEntry
	Company    model.CompanyCard
}

// Awards lists the calling provider's accepted allocations, most recently
// finalized first.
func (s *Service) Awards(ctx context.Context, actor Actor) (out []Award, err error) {
	if !actor.is(model.RoleProvider) {
		return nil, newError(KindNotEligible, "only providers receive awards")
	}
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		bids, err := tx.ListBidsByProvider(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("list bids: %w", err)
		}
		out = []Award{}
		for _, b := range bids {
			if b.Status != model.BidAccepted {
				continue
			}
			c, err := tx.GetConsortium(ctx, b.RequestID)
			if err != nil {
				return notFound(err, "consortium", b.RequestID)
			}
			entry, ok := c.EntryFor(b.ID)
			if !c.IsLocked || !ok {
				continue
			}
			req, err := tx.GetRequest(ctx, b.RequestID)
			if err != nil {
				return notFound(err, "request", b.RequestID)
			}
			company, err := tx.GetUser(ctx, req.CompanyID)
			if err != nil {
				return notFound(err, "company", req.CompanyID)
			}
			out = append(out, Award{Request: *req, Allocation: entry, Company: company.Card()})
		}
		sort.SliceStable(out, func(i, j int) bool {
			return finalizedAt(out[i]).After(finalizedAt(out[j]))
		})
		return nil
	})
	return out, err
}

func finalizedAt(a Award) (t time.Time) {
	if a.Request.FinalizedAt != nil {
		t = *a.Request.FinalizedAt
	}
	return t
}
