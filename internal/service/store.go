package service

import (
	"context"
	"time"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/queue"
)

// Store runs units of work against durable state.  InTx commits when fn
// returns nil and rolls everything back otherwise.  View runs fn in a
// read-only transaction.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes the engine performs inside one unit
// of work.  Lookups of missing rows return model.ErrNotFound.
//
// LockRequest and LockUser take an exclusive lock on the row that lasts
// until the unit of work ends; every mutating operation on a request
// starts with LockRequest, which linearizes them per request.
type Tx interface {
	LockRequest(ctx context.Context, id uint64) (*model.Request, error)
	GetRequest(ctx context.Context, id uint64) (*model.Request, error)
	InsertRequest(ctx context.Context, r *model.Request) error
	UpdateRequestStatus(ctx context.Context, id uint64, status model.RequestStatus, finalizedAt *time.Time, now time.Time) error
	ListRequestsByCompany(ctx context.Context, companyID uint64) ([]model.Request, error)
	SearchOpenRequests(ctx context.Context, q model.OpenRequestQuery, now time.Time) ([]model.Request, int, error)
	ListOverdueRequests(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error)

	LockUser(ctx context.Context, id uint64) (*model.User, error)
	GetUser(ctx context.Context, id uint64) (*model.User, error)
	UpdateKYC(ctx context.Context, u *model.User) error
	ListProvidersByKYC(ctx context.Context, status model.KYCStatus, search string, offset, limit int) ([]model.User, int, error)

	InsertBid(ctx context.Context, b *model.Bid) error
	GetBid(ctx context.Context, id uint64) (*model.Bid, error)
	ListBidsByRequest(ctx context.Context, requestID uint64) ([]model.Bid, error)
	ListBidsByProvider(ctx context.Context, providerID uint64) ([]model.Bid, error)
	UpdateBidStatus(ctx context.Context, ids []uint64, status model.BidStatus, now time.Time) error

	GetConsortium(ctx context.Context, requestID uint64) (*model.Consortium, error)
	SaveConsortium(ctx context.Context, c *model.Consortium) error
}

// Publisher hands domain events to the broker after a commit.
type Publisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}
