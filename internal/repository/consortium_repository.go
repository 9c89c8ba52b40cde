package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/coverage-consortium/internal/model"
)

// ErrConsortiumLocked is returned when a write targets a locked consortium.
var ErrConsortiumLocked = errors.New("consortium is locked")

// ConsortiumRepo stores the single consortium of a request in
// consortiums and its entries in consortium_entries.
type ConsortiumRepo struct {
	db *sql.DB
}

// NewConsortiumRepo returns a ConsortiumRepo bound to db.
func NewConsortiumRepo(db *sql.DB) *ConsortiumRepo { return &ConsortiumRepo{db: db} }

// GetTx reads the consortium of a request with its entries ordered by bid.
func (r *ConsortiumRepo) GetTx(ctx context.Context, tx *sql.Tx, requestID uint64) (*model.Consortium, error) {
	var (
		c         model.Consortium
		finalized sql.NullTime
	)
	err := tx.QueryRowContext(ctx,
		`SELECT request_id, total_coverage, is_locked, revision, sum_insured_snapshot, currency,
		        finalized_at, created_at, updated_at
		   FROM consortiums WHERE request_id=?`, requestID).
		Scan(&c.RequestID, &c.TotalCoverage, &c.IsLocked, &c.Revision, &c.SumInsuredSnapshot, &c.Currency,
			&finalized, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	c.FinalizedAt = timePtr(finalized)

	rows, err := tx.QueryContext(ctx,
		`SELECT bid_id, provider_id, coverage_percent, premium, premium_currency, terms_snapshot
		   FROM consortium_entries WHERE request_id=? ORDER BY bid_id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e model.ConsortiumEntry
		if err := rows.Scan(&e.BidID, &e.ProviderID, &e.CoveragePercent, &e.Premium, &e.PremiumCurrency, &e.TermsSnapshot); err != nil {
			return nil, err
		}
		c.Entries = append(c.Entries, e)
	}
	return &c, rows.Err()
}

// SaveTx upserts c and replaces its entries wholesale.  The row update is
// guarded by is_locked = 0 so a locked consortium is never rewritten.
func (r *ConsortiumRepo) SaveTx(ctx context.Context, tx *sql.Tx, c *model.Consortium) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO consortiums
		    (request_id, total_coverage, is_locked, revision, sum_insured_snapshot, currency,
		     finalized_at, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE
		    total_coverage       = IF(is_locked, total_coverage, VALUES(total_coverage)),
		    revision             = IF(is_locked, revision, VALUES(revision)),
		    sum_insured_snapshot = IF(is_locked, sum_insured_snapshot, VALUES(sum_insured_snapshot)),
		    currency             = IF(is_locked, currency, VALUES(currency)),
		    finalized_at         = IF(is_locked, finalized_at, VALUES(finalized_at)),
		    updated_at           = IF(is_locked, updated_at, VALUES(updated_at)),
		    is_locked            = IF(is_locked, is_locked, VALUES(is_locked))`,
		c.RequestID, c.TotalCoverage, c.IsLocked, c.Revision, c.SumInsuredSnapshot, c.Currency,
		nullTime(c.FinalizedAt), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	// 1 = inserted, 2 = updated; 0 means the row was locked and left alone
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrConsortiumLocked
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM consortium_entries WHERE request_id=?`, c.RequestID); err != nil {
		return err
	}
	if len(c.Entries) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(c.Entries)*7)
	)
	sb.WriteString(`INSERT INTO consortium_entries
		(request_id, bid_id, provider_id, coverage_percent, premium, premium_currency, terms_snapshot) VALUES `)
	for i, e := range c.Entries {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?,?,?,?,?,?,?)")
		args = append(args, c.RequestID, e.BidID, e.ProviderID, e.CoveragePercent, e.Premium, e.PremiumCurrency, e.TermsSnapshot)
	}
	_, err = tx.ExecContext(ctx, sb.String(), args...)
	return err
}
