package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = `id,name,email,password_hash,role,org_name,country,
	kyc_status,kyc_resubmit_count,kyc_note,kyc_submitted_at,kyc_decided_at,
	is_active,created_at,updated_at`

// Create hashes the password, inserts the user and returns its ID.
// Providers start in KYC review.
func (r *UserRepo) Create(ctx context.Context, in model.NewUser, cost int) (uint64, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	hash, err := utils.HashPassword(in.Password, cost)
	if err != nil {
		return 0, err
	}
	var kyc sql.NullString
	if in.Role == model.RoleProvider {
		kyc = sql.NullString{String: string(model.KYCPending), Valid: true}
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, org_name, country, kyc_status)
		 VALUES (?,?,?,?,?,?,?)`,
		strings.TrimSpace(in.Name), email, hash, string(in.Role),
		strings.TrimSpace(in.OrgName), strings.TrimSpace(in.Country), kyc)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return getUser(ctx, r.DB, id, false)
}

// GetTx reads a user inside tx.
func (r *UserRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.User, error) {
	return getUser(ctx, tx, id, false)
}

// LockTx reads a user and holds its row lock until tx ends.
func (r *UserRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.User, error) {
	return getUser(ctx, tx, id, true)
}

func getUser(ctx context.Context, q queryer, id uint64, forUpdate bool) (*model.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id=? LIMIT 1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	return scanUser(q.QueryRowContext(ctx, query, id))
}

// UpdateKYCTx writes the KYC columns of u.
func (r *UserRepo) UpdateKYCTx(ctx context.Context, tx *sql.Tx, u *model.User) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE users SET kyc_status=?, kyc_resubmit_count=?, kyc_note=?,
		        kyc_submitted_at=?, kyc_decided_at=?
		  WHERE id=?`,
		nullKYC(u.KYCStatus), u.KYCResubmitCount, u.KYCNote,
		nullTime(u.KYCSubmittedAt), nullTime(u.KYCDecidedAt), u.ID)
	return err
}

// ListProvidersByKYCTx returns providers in the given KYC status, oldest
// submission first, with the unpaged total.
func (r *UserRepo) ListProvidersByKYCTx(ctx context.Context, tx *sql.Tx, status model.KYCStatus, search string, offset, limit int) ([]model.User, int, error) {
	cond := "role='provider' AND kyc_status=?"
	args := []any{string(status)}
	if search != "" {
		cond += ` AND (LOWER(name) LIKE ? ESCAPE '\\' OR LOWER(email) LIKE ? ESCAPE '\\' OR LOWER(org_name) LIKE ? ESCAPE '\\')`
		like := "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
		args = append(args, like, like, like)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+cond+
			" ORDER BY COALESCE(kyc_submitted_at, created_at) ASC, id ASC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *u)
	}
	return out, total, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u         model.User
		role      string
		kyc       sql.NullString
		submitted sql.NullTime
		decided   sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.OrgName, &u.Country,
		&kyc, &u.KYCResubmitCount, &u.KYCNote, &submitted, &decided,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	u.Role = model.Role(role)
	u.KYCStatus = model.KYCStatus(kyc.String)
	u.KYCSubmittedAt = timePtr(submitted)
	u.KYCDecidedAt = timePtr(decided)
	return &u, nil
}

func nullKYC(s model.KYCStatus) sql.NullString {
	return sql.NullString{String: string(s), Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
