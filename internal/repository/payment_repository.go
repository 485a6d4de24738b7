package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

// PaymentRepo persists manually recorded payments.  Rows are never
// deleted; refunds are separate rows pointing at the original.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// CreatePayment inserts p and sets its ID.
func (r *PaymentRepo) CreatePayment(ctx context.Context, p *model.Payment) error {
	const q = `INSERT INTO payments (student_id, package_id, reservation_id, amount_cents, method, status, refund_of, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := conn(ctx, r.db).ExecContext(ctx, q,
		p.StudentID, nullUint64(p.PackageID), nullUint64(p.ReservationID), p.AmountCents, p.Method,
		string(p.Status), nullUint64(p.RefundOf), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if isDuplicate(err) {
		return errors.Wrap(booking.ErrInvalidPayment, "payment already refunded")
	}
	if err != nil {
		return errors.Wrap(err, "insert payment")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert payment")
	}
	p.ID = uint64(id)
	return nil
}

// GetPaymentForUpdate loads and row-locks a payment.
func (r *PaymentRepo) GetPaymentForUpdate(ctx context.Context, id uint64) (model.Payment, error) {
	const q = `SELECT id, student_id, package_id, reservation_id, amount_cents, method, status, refund_of, created_at, updated_at
FROM payments WHERE id = ? FOR UPDATE`
	var (
		p                model.Payment
		pkg, res, refund sql.NullInt64
		status           string
	)
	err := conn(ctx, r.db).QueryRowContext(ctx, q, id).Scan(&p.ID, &p.StudentID, &pkg, &res, &p.AmountCents,
		&p.Method, &status, &refund, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Payment{}, booking.ErrPaymentNotFound
	}
	if err != nil {
		return model.Payment{}, errors.Wrapf(err, "get payment %d", id)
	}
	p.PackageID = uint64Ptr(pkg)
	p.ReservationID = uint64Ptr(res)
	p.RefundOf = uint64Ptr(refund)
	p.Status = model.PaymentStatus(status)
	return p, nil
}

// UpdatePaymentStatus changes the status of a payment.
func (r *PaymentRepo) UpdatePaymentStatus(ctx context.Context, id uint64, status model.PaymentStatus) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE payments SET status = ? WHERE id = ?`, string(status), id)
	return errors.Wrapf(err, "update payment %d", id)
}

// HasCompletedPayment reports whether any reservation in the reschedule
// chain of reservationID has a completed payment that was not refunded.
func (r *PaymentRepo) HasCompletedPayment(ctx context.Context, reservationID uint64) (bool, error) {
	const q = `SELECT EXISTS (
  SELECT 1 FROM reservations t
  JOIN reservations c ON (c.id = COALESCE(t.rescheduled_from, t.id) OR c.rescheduled_from = COALESCE(t.rescheduled_from, t.id))
  JOIN payments p ON p.reservation_id = c.id
  WHERE t.id = ? AND p.status = 'COMPLETED'
    AND NOT EXISTS (SELECT 1 FROM payments rf WHERE rf.refund_of = p.id)
)`
	var ok bool
	if err := conn(ctx, r.db).QueryRowContext(ctx, q, reservationID).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "check completed payment")
	}
	return ok, nil
}

// IsRefunded reports whether a refund row points at paymentID.
func (r *PaymentRepo) IsRefunded(ctx context.Context, paymentID uint64) (bool, error) {
	var ok bool
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE refund_of = ?)`, paymentID).Scan(&ok)
	if err != nil {
		return false, errors.Wrap(err, "check refund")
	}
	return ok, nil
}
