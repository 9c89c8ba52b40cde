package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/queue"
)

// lockProvider loads and locks a provider account.  Accounts of other
// roles are reported as not found.
func lockProvider(ctx context.Context, tx Tx, providerID uint64) (*model.User, error) {
	u, err := tx.LockUser(ctx, providerID)
	if err != nil {
		return nil, notFound(err, "provider", providerID)
	}
	if u.Role != model.RoleProvider {
		return nil, newError(KindNotFound, "provider %d not found", providerID)
	}
	return u, nil
}

// SubmitForReview puts a provider into KYC review.  It is called when a
// provider registers.
func (s *Service) SubmitForReview(ctx context.Context, providerID uint64) (rec model.KYCRecord, err error) {
	defer s.track("kyc_submit", &err)()
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		u, err := lockProvider(ctx, tx, providerID)
		if err != nil {
			return err
		}
		now := s.now()
		u.KYCStatus = model.KYCPending
		u.KYCSubmittedAt = &now
		if err := tx.UpdateKYC(ctx, u); err != nil {
			return fmt.Errorf("update kyc: %w", err)
		}
		rec = u.KYC()
		return nil
	})
	if err != nil {
		return model.KYCRecord{}, err
	}
	s.metrics.KYCDecided(string(model.KYCPending))
	return rec, nil
}

// DecideKYC records a reviewer's decision on a provider in review.
// Deciding on a provider that is not pending is an illegal transition, so
// two reviewers racing on the same provider can tell who lost.
func (s *Service) DecideKYC(ctx context.Context, actor Actor, providerID uint64, outcome model.KYCStatus, note string) (rec model.KYCRecord, err error) {
	defer s.track("kyc_decide", &err)()
	if !actor.is(model.RoleAdmin) {
		return model.KYCRecord{}, newError(KindNotEligible, "only a reviewer may decide kyc")
	}
	if outcome != model.KYCVerified && outcome != model.KYCRejected {
		return model.KYCRecord{}, newError(KindInvalidRange, "kyc outcome must be verified or rejected, got %q", outcome)
	}
	note = strings.TrimSpace(note)
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		u, err := lockProvider(ctx, tx, providerID)
		if err != nil {
			return err
		}
		if u.KYCStatus != model.KYCPending {
			return newError(KindIllegalTransition, "kyc for provider %d is already %s", providerID, u.KYCStatus)
		}
		now := s.now()
		u.KYCStatus = outcome
		u.KYCNote = note
		u.KYCDecidedAt = &now
		if err := tx.UpdateKYC(ctx, u); err != nil {
			return fmt.Errorf("update kyc: %w", err)
		}
		rec = u.KYC()
		return nil
	})
	if err != nil {
		return model.KYCRecord{}, err
	}
	s.metrics.KYCDecided(string(outcome))
	s.logger.Info("kyc decided",
		zap.Uint64("provider_id", providerID),
		zap.Uint64("reviewer_id", actor.UserID),
		zap.String("status", string(outcome)))
	s.publish(ctx, queue.KYCDecidedEvent{
		EventID:    newEventID(),
		ProviderID: providerID,
		ReviewerID: actor.UserID,
		Status:     string(outcome),
		Note:       note,
		DecidedAt:  timestamp(*rec.DecidedAt),
	})
	return rec, nil
}

// RequestResubmission moves the calling provider from rejected back to
// pending.  It succeeds at most once per provider: once the counter is
// non-zero every later call fails with ResubmissionExhausted, whatever
// state the reviewer left the provider in.
func (s *Service) RequestResubmission(ctx context.Context, actor Actor) (rec model.KYCRecord, err error) {
	defer s.track("kyc_resubmit", &err)()
	if !actor.is(model.RoleProvider) {
		return model.KYCRecord{}, newError(KindNotEligible, "only providers may resubmit kyc")
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		u, err := lockProvider(ctx, tx, actor.UserID)
		if err != nil {
			return err
		}
		if u.KYCResubmitCount > 0 {
			return newError(KindResubmissionExhausted, "provider %d has already used its kyc resubmission", u.ID)
		}
		if u.KYCStatus != model.KYCRejected {
			return newError(KindIllegalTransition, "kyc can only be resubmitted after rejection, current status is %s", u.KYCStatus)
		}
		now := s.now()
		u.KYCStatus = model.KYCPending
		u.KYCResubmitCount++
		u.KYCSubmittedAt = &now
		if err := tx.UpdateKYC(ctx, u); err != nil {
			return fmt.Errorf("update kyc: %w", err)
		}
		rec = u.KYC()
		return nil
	})
	if err != nil {
		return model.KYCRecord{}, err
	}
	s.metrics.KYCDecided(string(model.KYCPending))
	return rec, nil
}

// PendingProviders lists providers awaiting review for the reviewer queue.
func (s *Service) PendingProviders(ctx context.Context, actor Actor, search string, page, limit int) (out model.Page[model.ProviderLite], err error) {
	if !actor.is(model.RoleAdmin) {
		return out, newError(KindNotEligible, "only a reviewer may list pending providers")
	}
	page, limit = model.NormalizePage(page, limit)
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		users, total, err := tx.ListProvidersByKYC(ctx, model.KYCPending, strings.TrimSpace(search), (page-1)*limit, limit)
		if err != nil {
			return fmt.Errorf("list pending providers: %w", err)
		}
		items := make([]model.ProviderLite, 0, len(users))
		for _, u := range users {
			items = append(items, u.Lite())
		}
		out = model.NewPage(items, page, limit, total)
		return nil
	})
	return out, err
}

// KYCStatusOf returns the verification view of a provider.
func (s *Service) KYCStatusOf(ctx context.Context, providerID uint64) (rec model.KYCRecord, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		u, err := tx.GetUser(ctx, providerID)
		if err != nil {
			return notFound(err, "provider", providerID)
		}
		if u.Role != model.RoleProvider {
			return newError(KindNotFound, "provider %d not found", providerID)
		}
		rec = u.KYC()
		return nil
	})
	return rec, err
}
