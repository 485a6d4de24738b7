package booking

import (
	"context"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// Store is the persistence contract of the engine.  Every method takes
// the context handed to the WithTx callback so that implementations can
// run it inside the surrounding transaction.  Methods ending in
// ForUpdate must take a row lock that is held until the transaction
// ends.
type Store interface {
	// WithTx runs fn in a single transaction.  A nil return commits and
	// any error rolls back.  Implementations may call fn more than once
	// when the database asks for a retry (deadlock), so fn must not have
	// side effects outside the store.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	PackageStore
	ClassStore
	ReservationStore
	WaitlistStore
	PaymentStore
}

// PackageStore persists packages and their credit ledger.
type PackageStore interface {
	CreatePackage(ctx context.Context, p *model.Package) error
	GetPackage(ctx context.Context, id uint64) (model.Package, error)
	GetPackageForUpdate(ctx context.Context, id uint64) (model.Package, error)
	ListPackagesByStudent(ctx context.Context, studentID uint64) ([]model.Package, error)
	// UpdatePackageCredits writes used_credits and the cached status.
	UpdatePackageCredits(ctx context.Context, id uint64, usedCredits int, status model.PackageStatus) error
	AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, packageID uint64) ([]model.LedgerEntry, error)
}

// ClassStore reads classes and maintains their waitlist sequence.
type ClassStore interface {
	GetClass(ctx context.Context, id uint64) (model.Class, error)
	GetClassForUpdate(ctx context.Context, id uint64) (model.Class, error)
	// CountBookedSeats counts reservations in a seat-holding status.
	CountBookedSeats(ctx context.Context, classID uint64) (int, error)
	// NextWaitlistSeq increments and returns the class waitlist sequence.
	NextWaitlistSeq(ctx context.Context, classID uint64) (uint64, error)
}

// ReservationStore persists reservations.
type ReservationStore interface {
	// CreateReservation inserts r and populates its ID.  A second
	// non-cancelled reservation for the same student and class must fail
	// with ErrDuplicateReservation.
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	GetReservationForUpdate(ctx context.Context, id uint64) (model.Reservation, error)
	// FindActiveReservation returns the non-cancelled reservation of the
	// student for the class, or nil.
	FindActiveReservation(ctx context.Context, studentID, classID uint64) (*model.Reservation, error)
	// UpdateReservation writes status, payment deadline and the lifecycle
	// timestamps of r.
	UpdateReservation(ctx context.Context, r model.Reservation) error
	ListReservationsByStudent(ctx context.Context, studentID uint64) ([]model.Reservation, error)
	// FindActiveInChain row-locks and returns the non-cancelled
	// reservation of the reschedule chain reservationID belongs to, or nil.
	FindActiveInChain(ctx context.Context, reservationID uint64) (*model.Reservation, error)
	// ListOverdueUnpaid returns IDs of CONFIRMED credit-less reservations
	// whose payment deadline is before now and whose reschedule chain has
	// no completed payment, oldest deadline first.
	ListOverdueUnpaid(ctx context.Context, now time.Time, limit int) ([]uint64, error)
}

// WaitlistStore persists waitlist entries.
type WaitlistStore interface {
	// CreateWaitlistEntry inserts e.  A second entry for the same
	// student and class must fail with ErrAlreadyQueued.
	CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error
	FindWaitlistEntry(ctx context.Context, studentID, classID uint64) (*model.WaitlistEntry, error)
	// ListWaitlist returns the class entries ordered by priority.
	ListWaitlist(ctx context.Context, classID uint64) ([]model.WaitlistEntry, error)
	DeleteWaitlistEntry(ctx context.Context, id uint64) error
}

// PaymentStore persists payments.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPaymentForUpdate(ctx context.Context, id uint64) (model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id uint64, status model.PaymentStatus) error
	// HasCompletedPayment reports whether any reservation in the
	// reschedule chain of reservationID has a completed payment that has
	// not been refunded.
	HasCompletedPayment(ctx context.Context, reservationID uint64) (bool, error)
	// IsRefunded reports whether a REFUNDED record points at paymentID.
	IsRefunded(ctx context.Context, paymentID uint64) (bool, error)
}
