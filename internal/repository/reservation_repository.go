package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

// ReservationRepo persists class reservations.  At most one
// non-cancelled reservation per student and class is enforced by the
// unique active_key column.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, student_id, class_id, package_id, status, payment_deadline, reserved_at, checked_in_at, completed_at, no_show_at, cancelled_at, cancellation_reason, rescheduled_from, updated_at`

func scanReservation(s rowScanner) (model.Reservation, error) {
	var (
		r                                         model.Reservation
		pkg, from                                 sql.NullInt64
		status                                    string
		deadline, checkedIn, completed, noShow, c sql.NullTime
		reason                                    sql.NullString
	)
	err := s.Scan(&r.ID, &r.StudentID, &r.ClassID, &pkg, &status, &deadline, &r.ReservedAt,
		&checkedIn, &completed, &noShow, &c, &reason, &from, &r.UpdatedAt)
	if err != nil {
		return model.Reservation{}, err
	}
	r.PackageID = uint64Ptr(pkg)
	r.Status = model.ReservationStatus(status)
	r.PaymentDeadline = timePtr(deadline)
	r.CheckedInAt = timePtr(checkedIn)
	r.CompletedAt = timePtr(completed)
	r.NoShowAt = timePtr(noShow)
	r.CancelledAt = timePtr(c)
	r.CancellationReason = stringPtr(reason)
	r.RescheduledFrom = uint64Ptr(from)
	return r, nil
}

// CreateReservation inserts r and sets its ID.
func (r *ReservationRepo) CreateReservation(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations (student_id, class_id, package_id, status, payment_deadline, reserved_at, rescheduled_from, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := conn(ctx, r.db).ExecContext(ctx, q,
		res.StudentID, res.ClassID, nullUint64(res.PackageID), string(res.Status),
		nullTime(res.PaymentDeadline), res.ReservedAt.UTC(), nullUint64(res.RescheduledFrom), res.UpdatedAt.UTC())
	if isDuplicate(err) {
		return booking.ErrDuplicateReservation
	}
	if err != nil {
		return errors.Wrap(err, "insert reservation")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert reservation")
	}
	res.ID = uint64(id)
	return nil
}

func (r *ReservationRepo) getReservation(ctx context.Context, id uint64, forUpdate bool) (model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	res, err := scanReservation(conn(ctx, r.db).QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, booking.ErrReservationNotFound
	}
	if err != nil {
		return model.Reservation{}, errors.Wrapf(err, "get reservation %d", id)
	}
	return res, nil
}

// GetReservation loads a reservation without locking it.
func (r *ReservationRepo) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return r.getReservation(ctx, id, false)
}

// GetReservationForUpdate loads and row-locks a reservation.
func (r *ReservationRepo) GetReservationForUpdate(ctx context.Context, id uint64) (model.Reservation, error) {
	return r.getReservation(ctx, id, true)
}

// FindActiveReservation returns the student's non-cancelled reservation
// for the class, or nil.
func (r *ReservationRepo) FindActiveReservation(ctx context.Context, studentID, classID uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE student_id = ? AND class_id = ? AND status <> 'CANCELLED' LIMIT 1`
	res, err := scanReservation(conn(ctx, r.db).QueryRowContext(ctx, q, studentID, classID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find active reservation")
	}
	return &res, nil
}

// chainMembers matches the reservations r in the reschedule chain whose
// root ID is bound to the two placeholders.
const chainMembers = `(r.id = ? OR r.rescheduled_from = ?)`

// FindActiveInChain row-locks the non-cancelled reservation of the
// reschedule chain reservationID belongs to.
func (r *ReservationRepo) FindActiveInChain(ctx context.Context, reservationID uint64) (*model.Reservation, error) {
	start, err := r.getReservation(ctx, reservationID, false)
	if err != nil {
		return nil, err
	}
	chain := start.ChainID()
	q := `SELECT ` + reservationColumns + ` FROM reservations r
WHERE ` + chainMembers + ` AND r.status <> 'CANCELLED'
ORDER BY r.id DESC LIMIT 1 FOR UPDATE`
	res, err := scanReservation(conn(ctx, r.db).QueryRowContext(ctx, q, chain, chain))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find live reservation of chain %d", chain)
	}
	return &res, nil
}

// UpdateReservation writes the mutable columns of res.
func (r *ReservationRepo) UpdateReservation(ctx context.Context, res model.Reservation) error {
	const q = `UPDATE reservations
SET status = ?, payment_deadline = ?, checked_in_at = ?, completed_at = ?, no_show_at = ?, cancelled_at = ?, cancellation_reason = ?, updated_at = ?
WHERE id = ?`
	_, err := conn(ctx, r.db).ExecContext(ctx, q,
		string(res.Status), nullTime(res.PaymentDeadline), nullTime(res.CheckedInAt), nullTime(res.CompletedAt),
		nullTime(res.NoShowAt), nullTime(res.CancelledAt), nullString(res.CancellationReason), res.UpdatedAt.UTC(), res.ID)
	if isDuplicate(err) {
		return booking.ErrDuplicateReservation
	}
	return errors.Wrapf(err, "update reservation %d", res.ID)
}

// ListReservationsByStudent returns the student's reservations, newest
// first.
func (r *ReservationRepo) ListReservationsByStudent(ctx context.Context, studentID uint64) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE student_id = ? ORDER BY reserved_at DESC, id DESC`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "list reservations")
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan reservation")
		}
		out = append(out, res)
	}
	return out, errors.Wrap(rows.Err(), "list reservations")
}

// ListOverdueUnpaid returns IDs of credit-less CONFIRMED reservations
// past their payment deadline whose reschedule chain has no unrefunded
// completed payment.
func (r *ReservationRepo) ListOverdueUnpaid(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	const q = `SELECT r.id FROM reservations r
WHERE r.status = 'CONFIRMED'
  AND r.package_id IS NULL
  AND r.payment_deadline IS NOT NULL
  AND r.payment_deadline < ?
  AND NOT EXISTS (
    SELECT 1 FROM reservations c
    JOIN payments p ON p.reservation_id = c.id
    WHERE (c.id = COALESCE(r.rescheduled_from, r.id) OR c.rescheduled_from = COALESCE(r.rescheduled_from, r.id))
      AND p.status = 'COMPLETED'
      AND NOT EXISTS (SELECT 1 FROM payments rf WHERE rf.refund_of = p.id)
  )
ORDER BY r.payment_deadline, r.id
LIMIT ?`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list overdue reservations")
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan overdue reservation")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "list overdue reservations")
}
