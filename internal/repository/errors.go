// Package repository holds the MySQL persistence layer: one repo per
// table plus Store, which runs engine units of work in a database
// transaction.  Missing rows are reported as model.ErrNotFound.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/coverage-consortium/internal/model"
)

// ErrEmailExists is returned by UserRepo.Create when the address is taken.
var ErrEmailExists = model.ErrEmailExists

// ErrConflict is returned when a write violates a uniqueness rule, such
// as a second pending bid slipping past the engine checks.
var ErrConflict = errors.New("conflict")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// noRows maps sql.ErrNoRows to model.ErrNotFound.
func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

// isDuplicate reports a MySQL duplicate-key error.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// likeEscaper makes wildcard characters in a search term match
// literally.  Queries using it declare ESCAPE '\\'.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// placeholders returns "?,?,...,?" with n marks.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func idArgs(ids []uint64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
