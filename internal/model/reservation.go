package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationCheckedIn ReservationStatus = "CHECKED_IN"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationNoShow    ReservationStatus = "NO_SHOW"
)

// Terminal reports whether no further transition may leave the status.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCancelled || s == ReservationCompleted || s == ReservationNoShow
}

// HoldsSeat reports whether a reservation in this status counts against
// the class capacity.
func (s ReservationStatus) HoldsSeat() bool {
	return s == ReservationConfirmed || s == ReservationCheckedIn || s == ReservationCompleted
}

// SeatHoldingStatuses lists the statuses counted as booked seats.
var SeatHoldingStatuses = []ReservationStatus{ReservationConfirmed, ReservationCheckedIn, ReservationCompleted}

// Reservation binds one student to one class, optionally paid for with a
// credit from a package.  A reservation without a package owes a direct
// payment before PaymentDeadline.
//
// Fields:
//  ID                 – primary key identifier.
//  StudentID          – student holding the seat.
//  ClassID            – class being attended.
//  PackageID          – package debited for the seat (nil = direct payment).
//  Status             – current lifecycle state.
//  PaymentDeadline    – cutoff for paying a credit-less reservation.
//  ReservedAt         – when the reservation was created.
//  CheckedInAt        – check-in timestamp.
//  CompletedAt        – completion timestamp.
//  NoShowAt           – when the no-show was recorded.
//  CancelledAt        – cancellation timestamp.
//  CancellationReason – free text reason recorded on cancel.
//  RescheduledFrom    – first reservation of the reschedule chain this one
//                       belongs to (nil when never rescheduled).  Payments
//                       recorded against any reservation of a chain settle
//                       the whole chain.
type Reservation struct {
	ID                 uint64            `json:"id"`                            // reservations.id
	StudentID          uint64            `json:"student_id"`                    // reservations.student_id
	ClassID            uint64            `json:"class_id"`                      // reservations.class_id
	PackageID          *uint64           `json:"package_id,omitempty"`          // reservations.package_id (nullable)
	Status             ReservationStatus `json:"status"`                        // reservations.status
	PaymentDeadline    *time.Time        `json:"payment_deadline,omitempty"`    // reservations.payment_deadline (nullable)
	ReservedAt         time.Time         `json:"reserved_at"`                   // reservations.reserved_at
	CheckedInAt        *time.Time        `json:"checked_in_at,omitempty"`       // reservations.checked_in_at (nullable)
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`        // reservations.completed_at (nullable)
	NoShowAt           *time.Time        `json:"no_show_at,omitempty"`          // reservations.no_show_at (nullable)
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`        // reservations.cancelled_at (nullable)
	CancellationReason *string           `json:"cancellation_reason,omitempty"` // reservations.cancellation_reason (nullable)
	RescheduledFrom    *uint64           `json:"rescheduled_from,omitempty"`    // reservations.rescheduled_from (nullable)
	UpdatedAt          time.Time         `json:"updated_at"`                    // reservations.updated_at
}

// ChainID identifies the reschedule chain of r: the first reservation the
// student made before any reschedule.
func (r Reservation) ChainID() uint64 {
	if r.RescheduledFrom != nil {
		return *r.RescheduledFrom
	}
	return r.ID
}

// PaymentDeadlineFor computes the payment cutoff for a credit-less
// reservation made at now for a class starting at start.  The cutoff is
// lead before the class, unless the class starts within lead, in which
// case the student gets lastMinute from now.
func PaymentDeadlineFor(start, now time.Time, lead, lastMinute time.Duration) time.Time {
	if start.Sub(now) <= lead {
		return now.Add(lastMinute)
	}
	return start.Add(-lead)
}
