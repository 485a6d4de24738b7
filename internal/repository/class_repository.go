package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

// ClassRepo reads classes.  Class rows are written by the scheduling
// tools; the engine only locks them, counts their seats and advances the
// waitlist sequence.
type ClassRepo struct {
	db *sql.DB
}

// NewClassRepo returns a new ClassRepo bound to the given database.
func NewClassRepo(db *sql.DB) *ClassRepo { return &ClassRepo{db: db} }

const classColumns = `id, class_type_id, name, instructor_id, location_id, starts_at, ends_at, capacity, status, waitlist_seq, created_at, updated_at`

// seatHoldingIn is the SQL list of statuses counted as booked seats.
var seatHoldingIn = func() string {
	parts := make([]string, 0, len(model.SeatHoldingStatuses))
	for _, s := range model.SeatHoldingStatuses {
		parts = append(parts, "'"+string(s)+"'")
	}
	return "(" + strings.Join(parts, ",") + ")"
}()

func (r *ClassRepo) getClass(ctx context.Context, id uint64, forUpdate bool) (model.Class, error) {
	q := `SELECT ` + classColumns + ` FROM classes WHERE id = ?`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	var (
		c          model.Class
		instructor sql.NullInt64
		location   sql.NullInt64
		status     string
	)
	err := conn(ctx, r.db).QueryRowContext(ctx, q, id).Scan(&c.ID, &c.ClassTypeID, &c.Name, &instructor, &location,
		&c.StartsAt, &c.EndsAt, &c.Capacity, &status, &c.WaitlistSeq, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Class{}, booking.ErrClassNotFound
	}
	if err != nil {
		return model.Class{}, errors.Wrapf(err, "get class %d", id)
	}
	c.InstructorID = uint64Ptr(instructor)
	c.LocationID = uint64Ptr(location)
	c.Status = model.ClassStatus(status)
	return c, nil
}

// GetClass loads a class without locking it.
func (r *ClassRepo) GetClass(ctx context.Context, id uint64) (model.Class, error) {
	return r.getClass(ctx, id, false)
}

// GetClassForUpdate loads and row-locks a class.  Holding this lock
// serialises every seat count and waitlist change for the class.
func (r *ClassRepo) GetClassForUpdate(ctx context.Context, id uint64) (model.Class, error) {
	return r.getClass(ctx, id, true)
}

// CountBookedSeats counts reservations that hold a seat in the class.
func (r *ClassRepo) CountBookedSeats(ctx context.Context, classID uint64) (int, error) {
	q := `SELECT COUNT(*) FROM reservations WHERE class_id = ? AND status IN ` + seatHoldingIn
	var n int
	if err := conn(ctx, r.db).QueryRowContext(ctx, q, classID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count booked seats")
	}
	return n, nil
}

// NextWaitlistSeq increments the class waitlist counter and returns it.
func (r *ClassRepo) NextWaitlistSeq(ctx context.Context, classID uint64) (uint64, error) {
	db := conn(ctx, r.db)
	result, err := db.ExecContext(ctx, `UPDATE classes SET waitlist_seq = waitlist_seq + 1 WHERE id = ?`, classID)
	if err != nil {
		return 0, errors.Wrap(err, "advance waitlist sequence")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return 0, booking.ErrClassNotFound
	}
	var seq uint64
	if err := db.QueryRowContext(ctx, `SELECT waitlist_seq FROM classes WHERE id = ?`, classID).Scan(&seq); err != nil {
		return 0, errors.Wrap(err, "read waitlist sequence")
	}
	return seq, nil
}
