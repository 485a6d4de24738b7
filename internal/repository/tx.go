package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type txKey struct{}

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db *sql.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// TxRunner opens READ COMMITTED transactions and retries them when
// InnoDB reports a deadlock or a lock wait timeout.
type TxRunner struct {
	db          *sql.DB
	log         *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewTxRunner returns a runner that makes up to three attempts.
func NewTxRunner(db *sql.DB, log *zap.Logger) *TxRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &TxRunner{db: db, log: log, maxAttempts: 3, backoff: 20 * time.Millisecond}
}

// WithTx runs fn in a transaction.  Calls made with a context that
// already carries a transaction join it.
func (r *TxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = r.once(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		r.log.Warn("transaction aborted by lock conflict, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}
	return err
}

func (r *TxRunner) once(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	committed = true
	return nil
}
