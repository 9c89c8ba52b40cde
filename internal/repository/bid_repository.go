package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/coverage-consortium/internal/model"
)

// BidRepo provides access to the bids table.  Bids are never deleted;
// only their status moves.
type BidRepo struct {
	db *sql.DB
}

// NewBidRepo returns a BidRepo bound to db.
func NewBidRepo(db *sql.DB) *BidRepo { return &BidRepo{db: db} }

const bidColumns = `id, request_id, provider_id, coverage_percent, premium, premium_currency,
	terms, status, created_at, updated_at`

// CreateTx inserts b and sets its generated ID.  A second pending bid by
// the same provider on the same request hits uq_bids_pending and is
// reported as ErrConflict.
func (r *BidRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Bid) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bids (request_id, provider_id, coverage_percent, premium, premium_currency,
		                   terms, status, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		b.RequestID, b.ProviderID, b.CoveragePercent, b.Premium, b.PremiumCurrency,
		b.Terms, string(b.Status), b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("bid for provider %d on request %d: %w", b.ProviderID, b.RequestID, ErrConflict)
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// GetTx reads one bid.
func (r *BidRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Bid, error) {
	return scanBid(tx.QueryRowContext(ctx, "SELECT "+bidColumns+" FROM bids WHERE id=?", id))
}

// ListByRequestTx returns every bid on a request in id order.
func (r *BidRepo) ListByRequestTx(ctx context.Context, tx *sql.Tx, requestID uint64) ([]model.Bid, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE request_id=? ORDER BY id ASC", requestID)
	if err != nil {
		return nil, err
	}
	return collectBids(rows)
}

// ListByProviderTx returns every bid a provider has placed in id order.
func (r *BidRepo) ListByProviderTx(ctx context.Context, tx *sql.Tx, providerID uint64) ([]model.Bid, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+bidColumns+" FROM bids WHERE provider_id=? ORDER BY id ASC", providerID)
	if err != nil {
		return nil, err
	}
	return collectBids(rows)
}

// UpdateStatusTx moves the given bids to status.  All ids must exist.
func (r *BidRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, ids []uint64, status model.BidStatus, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{string(status), now.UTC()}, idArgs(ids)...)
	res, err := tx.ExecContext(ctx,
		"UPDATE bids SET status=?, updated_at=? WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if int(n) != len(ids) {
		return fmt.Errorf("updated %d of %d bids: %w", n, len(ids), model.ErrNotFound)
	}
	return nil
}

func collectBids(rows *sql.Rows) ([]model.Bid, error) {
	defer rows.Close()
	var out []model.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBid(row rowScanner) (*model.Bid, error) {
	var (
		b      model.Bid
		status string
	)
	err := row.Scan(&b.ID, &b.RequestID, &b.ProviderID, &b.CoveragePercent, &b.Premium, &b.PremiumCurrency,
		&b.Terms, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	b.Status = model.BidStatus(status)
	return &b, nil
}
