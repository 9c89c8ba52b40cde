package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/service"
)

// Store runs engine units of work in MySQL transactions.
type Store struct {
	db         *sql.DB
	requests   *RequestRepo
	bids       *BidRepo
	consortium *ConsortiumRepo
	users      *UserRepo
}

// NewStore wires the table repos around db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:         db,
		requests:   NewRequestRepo(db),
		bids:       NewBidRepo(db),
		consortium: NewConsortiumRepo(db),
		users:      NewUserRepo(db),
	}
}

var _ service.Store = (*Store)(nil)

// InTx runs fn in a read-committed transaction and commits when fn
// returns nil.  Row locks taken through LockRequest and LockUser are held
// until the commit or rollback.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, fn)
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted, ReadOnly: true}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx service.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &sqlTx{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// sqlTx adapts the table repos to service.Tx for one transaction.
type sqlTx struct {
	s  *Store
	tx *sql.Tx
}

func (t *sqlTx) LockRequest(ctx context.Context, id uint64) (*model.Request, error) {
	return t.s.requests.LockTx(ctx, t.tx, id)
}

func (t *sqlTx) GetRequest(ctx context.Context, id uint64) (*model.Request, error) {
	return t.s.requests.GetTx(ctx, t.tx, id)
}

func (t *sqlTx) InsertRequest(ctx context.Context, r *model.Request) error {
	return t.s.requests.CreateTx(ctx, t.tx, r)
}

func (t *sqlTx) UpdateRequestStatus(ctx context.Context, id uint64, status model.RequestStatus, finalizedAt *time.Time, now time.Time) error {
	return t.s.requests.UpdateStatusTx(ctx, t.tx, id, status, finalizedAt, now)
}

func (t *sqlTx) ListRequestsByCompany(ctx context.Context, companyID uint64) ([]model.Request, error) {
	return t.s.requests.ListByCompanyTx(ctx, t.tx, companyID)
}

func (t *sqlTx) SearchOpenRequests(ctx context.Context, q model.OpenRequestQuery, now time.Time) ([]model.Request, int, error) {
	return t.s.requests.SearchOpenTx(ctx, t.tx, q, now)
}

func (t *sqlTx) ListOverdueRequests(ctx context.Context, now time.Time, afterID uint64, limit int) ([]uint64, error) {
	return t.s.requests.ListOverdueTx(ctx, t.tx, now, afterID, limit)
}

func (t *sqlTx) LockUser(ctx context.Context, id uint64) (*model.User, error) {
	return t.s.users.LockTx(ctx, t.tx, id)
}

func (t *sqlTx) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	return t.s.users.GetTx(ctx, t.tx, id)
}

func (t *sqlTx) UpdateKYC(ctx context.Context, u *model.User) error {
	return t.s.users.UpdateKYCTx(ctx, t.tx, u)
}

func (t *sqlTx) ListProvidersByKYC(ctx context.Context, status model.KYCStatus, search string, offset, limit int) ([]model.User, int, error) {
	return t.s.users.ListProvidersByKYCTx(ctx, t.tx, status, search, offset, limit)
}

func (t *sqlTx) InsertBid(ctx context.Context, b *model.Bid) error {
	return t.s.bids.CreateTx(ctx, t.tx, b)
}

func (t *sqlTx) GetBid(ctx context.Context, id uint64) (*model.Bid, error) {
	return t.s.bids.GetTx(ctx, t.tx, id)
}

func (t *sqlTx) ListBidsByRequest(ctx context.Context, requestID uint64) ([]model.Bid, error) {
	return t.s.bids.ListByRequestTx(ctx, t.tx, requestID)
}

func (t *sqlTx) ListBidsByProvider(ctx context.Context, providerID uint64) ([]model.Bid, error) {
	return t.s.bids.ListByProviderTx(ctx, t.tx, providerID)
}

func (t *sqlTx) UpdateBidStatus(ctx context.Context, ids []uint64, status model.BidStatus, now time.Time) error {
	return t.s.bids.UpdateStatusTx(ctx, t.tx, ids, status, now)
}

func (t *sqlTx) GetConsortium(ctx context.Context, requestID uint64) (*model.Consortium, error) {
	return t.s.consortium.GetTx(ctx, t.tx, requestID)
}

func (t *sqlTx) SaveConsortium(ctx context.Context, c *model.Consortium) error {
	return t.s.consortium.SaveTx(ctx, t.tx, c)
}
