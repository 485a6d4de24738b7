package booking

import "github.com/pkg/errors"

// Booking-path errors.  They are returned unchanged to callers so that
// handlers can show them to users.
var (
	ErrDuplicateReservation = errors.New("student already holds a reservation for this class")
	ErrClassFull            = errors.New("class is full")
	ErrInsufficientCredits  = errors.New("no credits remaining on package")
	ErrPackageNotUsable     = errors.New("package cannot be used for this class")
	ErrNotCancellable       = errors.New("reservation can no longer be cancelled")
	ErrAlreadyQueued        = errors.New("student is already on the waitlist for this class")
	ErrAlreadyBooked        = errors.New("student already booked this class")
	ErrClassNotBookable     = errors.New("class is not open for booking")
	ErrInvalidTransition    = errors.New("reservation status does not allow this transition")
	ErrNotQueued            = errors.New("student is not on the waitlist for this class")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidPayment       = errors.New("invalid payment")
	ErrInvalidPackage       = errors.New("invalid package")
)

// ErrOverRestoration guards the ledger invariant usedCredits >= 0.  It
// means a credit was restored twice and indicates a bug; the enclosing
// transaction is always rolled back.
var ErrOverRestoration = errors.New("credit restoration would make used credits negative")

// Lookup errors returned by Store implementations.
var (
	ErrPackageNotFound     = errors.New("package not found")
	ErrClassNotFound       = errors.New("class not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrPaymentNotFound     = errors.New("payment not found")
)
