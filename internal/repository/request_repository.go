package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/coverage-consortium/internal/model"
)

// RequestRepo provides access to the requests table.  Asset fields are
// stored inline as asset_* / location_* columns.
type RequestRepo struct {
	db *sql.DB
}

// NewRequestRepo returns a RequestRepo bound to db.
func NewRequestRepo(db *sql.DB) *RequestRepo { return &RequestRepo{db: db} }

const requestColumns = `r.id, r.company_id, r.title, r.summary, r.target_coverage, r.deadline,
	r.asset_description, r.sum_insured, r.currency,
	r.location_country, r.location_city, r.location_lat, r.location_lng,
	r.risk_details, r.status, r.finalized_at, r.created_at, r.updated_at`

// GetTx reads one request.
func (r *RequestRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM requests r WHERE r.id=?", id))
}

// LockTx reads one request with SELECT ... FOR UPDATE.  Every engine
// operation on a request starts here, which serializes them per request.
func (r *RequestRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM requests r WHERE r.id=? FOR UPDATE", id))
}

// CreateTx inserts req and sets its generated ID.
func (r *RequestRepo) CreateTx(ctx context.Context, tx *sql.Tx, req *model.Request) error {
	var (
		country, city sql.NullString
		lat, lng      sql.NullFloat64
	)
	if loc := req.Asset.Location; loc != nil {
		country = sql.NullString{String: loc.Country, Valid: loc.Country != ""}
		city = sql.NullString{String: loc.City, Valid: loc.City != ""}
		if loc.Lat != nil {
			lat = sql.NullFloat64{Float64: *loc.Lat, Valid: true}
		}
		if loc.Lng != nil {
			lng = sql.NullFloat64{Float64: *loc.Lng, Valid: true}
		}
	}
	const q = `INSERT INTO requests
		(company_id, title, summary, target_coverage, deadline,
		 asset_description, sum_insured, currency,
		 location_country, location_city, location_lat, location_lng,
		 risk_details, status, created_at, updated_at)
		VALUES (?,?,?,?,?, ?,?,?, ?,?,?,?, ?,?,?,?)`
	res, err := tx.ExecContext(ctx, q,
		req.CompanyID, req.Title, req.Summary, req.TargetCoverage, req.Deadline.UTC(),
		req.Asset.Description, req.Asset.SumInsured, req.Asset.Currency,
		country, city, lat, lng,
		req.Asset.RiskDetails, string(req.Status), req.CreatedAt.UTC(), req.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	req.ID = uint64(id)
	return nil
}

// UpdateStatusTx sets the status and, when given, finalized_at.
func (r *RequestRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.RequestStatus, finalizedAt *time.Time, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE requests SET status=?, finalized_at=COALESCE(?, finalized_at), updated_at=? WHERE id=?`,
		string(status), nullTime(finalizedAt), now.UTC(), id)
	return err
}

// ListByCompanyTx returns a company's requests, newest first.
func (r *RequestRepo) ListByCompanyTx(ctx context.Context, tx *sql.Tx, companyID uint64) ([]model.Request, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+requestColumns+" FROM requests r WHERE r.company_id=? ORDER BY r.created_at DESC, r.id DESC",
		companyID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

// ListOverdueTx returns ids above afterID of requests past their deadline
// that are still active or still carry pending bids.
func (r *RequestRepo) ListOverdueTx(ctx context.Context, tx *sql.Tx, now time.Time, afterID uint64, limit int) ([]uint64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT r.id FROM requests r
		  WHERE r.id > ? AND r.deadline <= ?
		    AND (r.status IN ('open','consortium_formed')
		         OR EXISTS (SELECT 1 FROM bids b WHERE b.request_id = r.id AND b.status = 'pending'))
		  ORDER BY r.id ASC
		  LIMIT ?`,
		afterID, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchOpenTx is the discovery query: open requests whose deadline is
// after now, filtered and paged.  It returns the page and the total.
func (r *RequestRepo) SearchOpenTx(ctx context.Context, tx *sql.Tx, q model.OpenRequestQuery, now time.Time) ([]model.Request, int, error) {
	where := []string{"r.status = 'open'", "r.deadline > ?"}
	args := []any{now.UTC()}

	if q.Search != "" {
		where = append(where, `(LOWER(r.title) LIKE ? ESCAPE '\\' OR LOWER(r.summary) LIKE ? ESCAPE '\\' OR LOWER(r.asset_description) LIKE ? ESCAPE '\\')`)
		like := "%" + likeEscaper.Replace(strings.ToLower(q.Search)) + "%"
		args = append(args, like, like, like)
	}
	if q.Country != "" {
		where = append(where, "LOWER(r.location_country) = ?")
		args = append(args, strings.ToLower(q.Country))
	}
	if q.MinSum != nil {
		where = append(where, "r.sum_insured >= ?")
		args = append(args, *q.MinSum)
	}
	if q.MaxSum != nil {
		where = append(where, "r.sum_insured <= ?")
		args = append(args, *q.MaxSum)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests r WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "r.created_at DESC, r.id DESC"
	switch q.Sort {
	case model.SortSumDesc:
		order = "r.sum_insured DESC, r.id DESC"
	case model.SortDeadlineAsc:
		order = "r.deadline ASC, r.id DESC"
	}
	dataSQL := "SELECT " + requestColumns + " FROM requests r WHERE " + cond +
		" ORDER BY " + order + " LIMIT ? OFFSET ?"
	rows, err := tx.QueryContext(ctx, dataSQL, append(append([]any{}, args...), q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func collectRequests(rows *sql.Rows) ([]model.Request, error) {
	defer rows.Close()
	var out []model.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func scanRequest(row rowScanner) (*model.Request, error) {
	var (
		req           model.Request
		status        string
		country, city sql.NullString
		lat, lng      sql.NullFloat64
		finalized     sql.NullTime
	)
	err := row.Scan(&req.ID, &req.CompanyID, &req.Title, &req.Summary, &req.TargetCoverage, &req.Deadline,
		&req.Asset.Description, &req.Asset.SumInsured, &req.Asset.Currency,
		&country, &city, &lat, &lng,
		&req.Asset.RiskDetails, &status, &finalized, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	req.Status = model.RequestStatus(status)
	req.FinalizedAt = timePtr(finalized)
	if country.Valid || city.Valid || lat.Valid || lng.Valid {
		loc := &model.Location{Country: country.String, City: city.String}
		if lat.Valid {
			v := lat.Float64
			loc.Lat = &v
		}
		if lng.Valid {
			v := lng.Float64
			loc.Lng = &v
		}
		req.Asset.Location = loc
	}
	return &req, nil
}
