package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/coverage-consortium/internal/model"
	"github.com/iliyamo/coverage-consortium/internal/service"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// beginTx opens a mocked connection and starts a transaction on it.
func beginTx(t *testing.T) (*sql.DB, *sql.Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return db, tx, mock
}

func sampleConsortium() *model.Consortium {
	return &model.Consortium{
		RequestID:          7,
		TotalCoverage:      decimal.RequireFromString("100"),
		Revision:           2,
		SumInsuredSnapshot: decimal.RequireFromString("2500000.00"),
		Currency:           "EUR",
		CreatedAt:          now,
		UpdatedAt:          now,
		Entries: []model.ConsortiumEntry{
			{BidID: 11, ProviderID: 3, CoveragePercent: decimal.RequireFromString("60"), Premium: decimal.RequireFromString("1500"), PremiumCurrency: "EUR"},
			{BidID: 12, ProviderID: 4, CoveragePercent: decimal.RequireFromString("40"), Premium: decimal.RequireFromString("1000"), PremiumCurrency: "EUR"},
		},
	}
}

func TestConsortiumSaveTx_LockedRowIsLeftAlone(t *testing.T) {
	db, tx, mock := beginTx(t)
	// ON DUPLICATE KEY UPDATE with every column unchanged reports 0 rows
	mock.ExpectExec("INSERT INTO consortiums").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := NewConsortiumRepo(db).SaveTx(context.Background(), tx, sampleConsortium())
	assert.ErrorIs(t, err, ErrConsortiumLocked)
	require.NoError(t, tx.Rollback())
	// no DELETE or entry insert was issued
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsortiumSaveTx_ReplacesEntries(t *testing.T) {
	db, tx, mock := beginTx(t)
	mock.ExpectExec("INSERT INTO consortiums").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM consortium_entries WHERE request_id=?")).
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("VALUES (?,?,?,?,?,?,?),(?,?,?,?,?,?,?)")).
		WithArgs(uint64(7), uint64(11), uint64(3), "60", "1500", "EUR", "",
			uint64(7), uint64(12), uint64(4), "40", "1000", "EUR", "").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, NewConsortiumRepo(db).SaveTx(context.Background(), tx, sampleConsortium()))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBidUpdateStatusTx_PartialUpdateIsNotFound(t *testing.T) {
	db, tx, mock := beginTx(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bids SET status=?, updated_at=? WHERE id IN (?,?)")).
		WithArgs("rejected", now, uint64(1), uint64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := NewBidRepo(db).UpdateStatusTx(context.Background(), tx, []uint64{1, 2}, model.BidRejected, now)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "updated 1 of 2 bids")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBidUpdateStatusTx_NoIDsIsNoop(t *testing.T) {
	db, tx, mock := beginTx(t)
	require.NoError(t, NewBidRepo(db).UpdateStatusTx(context.Background(), tx, nil, model.BidExpired, now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newBid() *model.Bid {
	return &model.Bid{
		RequestID:       7,
		ProviderID:      3,
		CoveragePercent: decimal.RequireFromString("25.5"),
		Premium:         decimal.RequireFromString("1500.10"),
		PremiumCurrency: "EUR",
		Status:          model.BidPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestBidCreateTx_DuplicatePendingIsConflict(t *testing.T) {
	db, tx, mock := beginTx(t)
	mock.ExpectExec("INSERT INTO bids").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7-3-1' for key 'uq_bids_pending'"})

	err := NewBidRepo(db).CreateTx(context.Background(), tx, newBid())
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "provider 3 on request 7")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBidCreateTx_OtherErrorsPassThrough(t *testing.T) {
	db, tx, mock := beginTx(t)
	boom := &mysql.MySQLError{Number: 1452, Message: "foreign key constraint fails"}
	mock.ExpectExec("INSERT INTO bids").WillReturnError(boom)

	err := NewBidRepo(db).CreateTx(context.Background(), tx, newBid())
	assert.False(t, errors.Is(err, ErrConflict))
	assert.ErrorIs(t, err, boom)
}

func TestBidCreateTx_SetsID(t *testing.T) {
	db, tx, mock := beginTx(t)
	mock.ExpectExec("INSERT INTO bids").
		WithArgs(uint64(7), uint64(3), "25.5", "1500.1", "EUR", "", "pending", now, now).
		WillReturnResult(sqlmock.NewResult(42, 1))

	b := newBid()
	require.NoError(t, NewBidRepo(db).CreateTx(context.Background(), tx, b))
	assert.Equal(t, uint64(42), b.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchOpenTx_WildcardsMatchLiterally(t *testing.T) {
	db, tx, mock := beginTx(t)
	like := `%50\%\_off\\%`
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT COUNT(*) FROM requests r WHERE r.status = 'open' AND r.deadline > ? AND (LOWER(r.title) LIKE ? ESCAPE '\\'`)).
		WithArgs(now, like, like, like).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY r.created_at DESC, r.id DESC LIMIT ? OFFSET ?")).
		WithArgs(now, like, like, like, 20, 20).
		WillReturnRows(sqlmock.NewRows(nil))

	q := model.OpenRequestQuery{Search: `50%_OFF\`, Page: 2, Limit: 20, Sort: model.SortNewest}
	items, total, err := NewRequestRepo(db).SearchOpenTx(context.Background(), tx, q, now)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLikeEscaper(t *testing.T) {
	assert.Equal(t, `100\% cover`, likeEscaper.Replace("100% cover"))
	assert.Equal(t, `a\_b`, likeEscaper.Replace("a_b"))
	assert.Equal(t, `c:\\x`, likeEscaper.Replace(`c:\x`))
	assert.Equal(t, "plain", likeEscaper.Replace("plain"))
}

func TestListOverdueTx_ResumesAfterCursor(t *testing.T) {
	db, tx, mock := beginTx(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.id > ? AND r.deadline <= ?")).
		WithArgs(uint64(10), now, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11).AddRow(14))

	ids, err := NewRequestRepo(db).ListOverdueTx(context.Background(), tx, now, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 14}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = NewStore(db).InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInTx_Commits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE r.id > ? AND r.deadline <= ?")).
		WithArgs(uint64(0), now, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err = NewStore(db).InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		ids, err := tx.ListOverdueRequests(ctx, now, 0, 100)
		assert.Empty(t, ids)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProvidersByKYCTx_EscapesSearch(t *testing.T) {
	db, tx, mock := beginTx(t)
	like := `%ac\_me%`
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users WHERE role='provider' AND kyc_status=? AND (LOWER(name) LIKE ? ESCAPE '\\'`)).
		WithArgs("pending", like, like, like).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT ? OFFSET ?")).
		WithArgs("pending", like, like, like, 10, 0).
		WillReturnRows(sqlmock.NewRows(nil))

	users, total, err := NewUserRepo(db).ListProvidersByKYCTx(context.Background(), tx, model.KYCPending, "AC_me", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
