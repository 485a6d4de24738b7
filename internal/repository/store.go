package repository

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/booking"
)

// Store is the MySQL booking.Store.
type Store struct {
	*TxRunner
	*PackageRepo
	*ClassRepo
	*ReservationRepo
	*WaitlistRepo
	*PaymentRepo
}

var _ booking.Store = (*Store)(nil)

// NewStore wires every repo to db.
func NewStore(db *sql.DB, log *zap.Logger) *Store {
	return &Store{
		TxRunner:        NewTxRunner(db, log),
		PackageRepo:     NewPackageRepo(db),
		ClassRepo:       NewClassRepo(db),
		ReservationRepo: NewReservationRepo(db),
		WaitlistRepo:    NewWaitlistRepo(db),
		PaymentRepo:     NewPaymentRepo(db),
	}
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullUint64(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return v.UTC()
}

func nullString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func uint64Ptr(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := uint64(v.Int64)
	return &u
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
