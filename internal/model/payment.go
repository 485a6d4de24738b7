package model

import "time"

// PaymentStatus is the state of a recorded payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Payment is a manually recorded fact of money received for a package
// or a single reservation.  A completed payment is never edited; a
// refund is a separate REFUNDED row pointing back via RefundOf.
type Payment struct {
	ID            uint64        `json:"id"`                       // payments.id
	StudentID     uint64        `json:"student_id"`               // payments.student_id
	PackageID     *uint64       `json:"package_id,omitempty"`     // payments.package_id (nullable)
	ReservationID *uint64       `json:"reservation_id,omitempty"` // payments.reservation_id (nullable)
	AmountCents   int64         `json:"amount_cents"`             // payments.amount_cents
	Method        string        `json:"method"`                   // payments.method
	Status        PaymentStatus `json:"status"`                   // payments.status
	RefundOf      *uint64       `json:"refund_of,omitempty"`      // payments.refund_of (nullable)
	CreatedAt     time.Time     `json:"created_at"`               // payments.created_at
	UpdatedAt     time.Time     `json:"updated_at"`               // payments.updated_at
}
