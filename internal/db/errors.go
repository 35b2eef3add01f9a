package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

const (
	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteConstraint = 19
)

// IsDeadlock reports lock contention that is worth retrying: deadlocks,
// serialization failures and lock timeouts
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01" || pgErr.Code == "40001" || pgErr.Code == "55P03"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}

	// Firebird and Oracle drivers only surface their codes in the message:
	// - deadlock / lock conflict / update conflicts with concurrent update
	// - 335544336 (ISC deadlock)
	// - ORA-00060 deadlock, ORA-08177 serialization
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock conflict") ||
		strings.Contains(msg, "concurrent update") ||
		strings.Contains(msg, "335544336") ||
		strings.Contains(msg, "ora-00060") ||
		strings.Contains(msg, "ora-08177")
}

// IsDuplicate reports a unique or primary key violation
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqliteConstraint &&
			strings.Contains(strings.ToLower(liteErr.Error()), "unique")
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "ora-00001") ||
		strings.Contains(msg, "violation of primary or unique key") ||
		strings.Contains(msg, "335544665")
}
