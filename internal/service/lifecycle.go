package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/queue"
)

// CreateRequestInput is the normalized body of a new request.
type CreateRequestInput struct {
	Title          string
	Summary        string
	TargetCoverage int // 0 means 100
	Deadline       time.Time
	Asset          model.Asset
}

// CreateRequest opens a new request owned by the calling company.
func (s *Service) CreateRequest(ctx context.Context, actor Actor, in CreateRequestInput) (req *model.Request, err error) {
	defer s.track("request_create", &err)()
	if !actor.is(model.RoleCompany) {
		return nil, newError(KindNotEligible, "only companies may create requests")
	}
	now := s.now()
	req, err = buildRequest(actor.UserID, in, now)
	if err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("request created",
		zap.Uint64("request_id", req.ID),
		zap.Uint64("company_id", req.CompanyID),
		zap.Int("target_coverage", req.TargetCoverage))
	return req, nil
}

func buildRequest(companyID uint64, in CreateRequestInput, now time.Time) (*model.Request, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, newError(KindInvalidRange, "title is required")
	}
	target := in.TargetCoverage
	if target == 0 {
		target = 100
	}
	if target < 1 || target > 100 {
		return nil, newError(KindInvalidRange, "target coverage must be between 1 and 100, got %d", target)
	}
	deadline := in.Deadline.UTC().Truncate(time.Microsecond)
	if in.Deadline.IsZero() || !deadline.After(now) {
		return nil, newError(KindInvalidRange, "deadline must be in the future")
	}
	asset := in.Asset
	asset.Description = strings.TrimSpace(asset.Description)
	if asset.Description == "" {
		return nil, newError(KindInvalidRange, "asset description is required")
	}
	if !asset.SumInsured.IsPositive() {
		return nil, newError(KindInvalidRange, "sum insured must be positive")
	}
	if !model.FitsScale(asset.SumInsured, model.MoneyScale) {
		return nil, newError(KindInvalidRange, "sum insured allows at most %d decimal places, got %s", model.MoneyScale, asset.SumInsured)
	}
	asset.Currency = normalizeCurrency(asset.Currency)
	if len(asset.Currency) != 3 {
		return nil, newError(KindInvalidRange, "currency must be a 3-letter code, got %q", asset.Currency)
	}
	asset.RiskDetails = strings.TrimSpace(asset.RiskDetails)
	return &model.Request{
		CompanyID:      companyID,
		Title:          title,
		Summary:        strings.TrimSpace(in.Summary),
		TargetCoverage: target,
		Deadline:       deadline,
		Asset:          asset,
		Status:         model.RequestOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func normalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return model.DefaultCurrency
	}
	return c
}

// lockRequest loads and locks a request for the rest of the transaction.
func lockRequest(ctx context.Context, tx Tx, requestID uint64) (*model.Request, error) {
	req, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		return nil, notFound(err, "request", requestID)
	}
	return req, nil
}

// requireOwner fails unless actor is the company that owns req.
func requireOwner(actor Actor, req *model.Request) error {
	if !actor.is(model.RoleCompany) || req.CompanyID != actor.UserID {
		return newError(KindNotEligible, "only the owning company may act on request %d", req.ID)
	}
	return nil
}

// advanceRequest moves req to next, enforcing the request state machine.
func advanceRequest(ctx context.Context, tx Tx, req *model.Request, next model.RequestStatus, now time.Time) error {
	if !req.Status.CanTransitionTo(next) {
		return newError(KindIllegalTransition, "request %d cannot move from %s to %s", req.ID, req.Status, next)
	}
	var finalizedAt *time.Time
	if next == model.RequestFinalized {
		finalizedAt = &now
	}
	if err := tx.UpdateRequestStatus(ctx, req.ID, next, finalizedAt, now); err != nil {
		return fmt.Errorf("update request %d status: %w", req.ID, err)
	}
	req.Status = next
	req.FinalizedAt = finalizedAt
	req.UpdatedAt = now
	return nil
}

// CloseRequest withdraws a request.  The owning company may close its own
// request; reviewers and the scheduler may close any.  Closing is legal
// from open and consortium_formed only.
func (s *Service) CloseRequest(ctx context.Context, actor Actor, requestID uint64) (req *model.Request, err error) {
	defer s.track("request_close", &err)()
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		req, err = lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !actor.is(model.RoleSystem) && !actor.is(model.RoleAdmin) {
			if err := requireOwner(actor, req); err != nil {
				return err
			}
		}
		return advanceRequest(ctx, tx, req, model.RequestClosed, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("request closed", zap.Uint64("request_id", req.ID), zap.String("by", string(actor.Role)))
	s.publish(ctx, queue.RequestClosedEvent{
		EventID:   newEventID(),
		RequestID: req.ID,
		CompanyID: req.CompanyID,
		ClosedBy:  string(actor.Role),
		ClosedAt:  timestamp(req.UpdatedAt),
	})
	return req, nil
}

// GetRequest returns a request by id.
func (s *Service) GetRequest(ctx context.Context, requestID uint64) (req *model.Request, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		req, err = tx.GetRequest(ctx, requestID)
		if err != nil {
			return notFound(err, "request", requestID)
		}
		return nil
	})
	return req, err
}

// ListMyRequests returns the calling company's requests, newest first.
func (s *Service) ListMyRequests(ctx context.Context, actor Actor) (out []model.Request, err error) {
	if !actor.is(model.RoleCompany) {
		return nil, newError(KindNotEligible, "only companies own requests")
	}
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		out, err = tx.ListRequestsByCompany(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("list requests: %w", err)
		}
		return nil
	})
	return out, err
}

// SearchOpenRequests is the discovery listing: only requests that are open
// and whose deadline has not passed.
func (s *Service) SearchOpenRequests(ctx context.Context, q model.OpenRequestQuery) (out model.Page[model.Request], err error) {
	q = q.Normalize()
	q.Search = strings.TrimSpace(q.Search)
	q.Country = strings.TrimSpace(q.Country)
	if q.MinSum != nil && q.MaxSum != nil && q.MinSum.GreaterThan(*q.MaxSum) {
		return out, newError(KindInvalidRange, "minSum must not exceed maxSum")
	}
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		items, total, err := tx.SearchOpenRequests(ctx, q, s.now())
		if err != nil {
			return fmt.Errorf("search open requests: %w", err)
		}
		out = model.NewPage(items, q.Page, q.Limit, total)
		return nil
	})
	return out, err
}

// RequestCompany returns the company card of a request's owner.
func (s *Service) RequestCompany(ctx context.Context, requestID uint64) (card model.CompanyCard, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return notFound(err, "request", requestID)
		}
		u, err := tx.GetUser(ctx, req.CompanyID)
		if err != nil {
			return notFound(err, "company", req.CompanyID)
		}
		card = u.Card()
		return nil
	})
	return card, err
}

// OverdueRequests lists requests whose deadline has passed and that still
// have work for the scheduler: an active status or pending bids.  Ids are
// ascending and greater than afterID, so callers page through the backlog
// by passing the last id they saw.
func (s *Service) OverdueRequests(ctx context.Context, afterID uint64, limit int) (ids []uint64, err error) {
	err = s.store.View(ctx, func(ctx context.Context, tx Tx) error {
		ids, err = tx.ListOverdueRequests(ctx, s.now(), afterID, limit)
		if err != nil {
			return fmt.Errorf("list overdue requests: %w", err)
		}
		return nil
	})
	return ids, err
}

func pct(d decimal.Decimal) string { return d.String() + "%" }
