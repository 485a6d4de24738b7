// Package repository implements booking.Store on MySQL.  Each table has
// its own repo type bound to a *sql.DB; Store composes them and carries
// the open transaction through the context so that every repo method
// joins it transparently.
package repository

import (
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// MySQL server error numbers the repository reacts to.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

func mysqlErrNo(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// isDuplicate reports a unique key violation.
func isDuplicate(err error) bool { return mysqlErrNo(err) == errDupEntry }

// isRetryable reports errors after which InnoDB has rolled back the
// transaction and a fresh attempt may succeed.
func isRetryable(err error) bool {
	n := mysqlErrNo(err)
	return n == errDeadlock || n == errLockWaitTimeout
}
