package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

// WaitlistRepo persists waitlist entries.
type WaitlistRepo struct {
	db *sql.DB
}

// NewWaitlistRepo returns a new WaitlistRepo bound to the given database.
func NewWaitlistRepo(db *sql.DB) *WaitlistRepo { return &WaitlistRepo{db: db} }

const waitlistColumns = `id, class_id, student_id, package_id, priority, created_at`

func scanWaitlistEntry(s rowScanner) (model.WaitlistEntry, error) {
	var (
		e   model.WaitlistEntry
		pkg sql.NullInt64
	)
	if err := s.Scan(&e.ID, &e.ClassID, &e.StudentID, &pkg, &e.Priority, &e.CreatedAt); err != nil {
		return model.WaitlistEntry{}, err
	}
	e.PackageID = uint64Ptr(pkg)
	return e, nil
}

// CreateWaitlistEntry inserts e and sets its ID.
func (r *WaitlistRepo) CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	const q = `INSERT INTO waitlist_entries (class_id, student_id, package_id, priority, created_at) VALUES (?, ?, ?, ?, ?)`
	result, err := conn(ctx, r.db).ExecContext(ctx, q, e.ClassID, e.StudentID, nullUint64(e.PackageID), e.Priority, e.CreatedAt.UTC())
	if isDuplicate(err) {
		return booking.ErrAlreadyQueued
	}
	if err != nil {
		return errors.Wrap(err, "insert waitlist entry")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert waitlist entry")
	}
	e.ID = uint64(id)
	return nil
}

// FindWaitlistEntry returns the student's entry for the class, or nil.
func (r *WaitlistRepo) FindWaitlistEntry(ctx context.Context, studentID, classID uint64) (*model.WaitlistEntry, error) {
	q := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE student_id = ? AND class_id = ?`
	e, err := scanWaitlistEntry(conn(ctx, r.db).QueryRowContext(ctx, q, studentID, classID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find waitlist entry")
	}
	return &e, nil
}

// ListWaitlist returns the entries of a class in promotion order.
func (r *WaitlistRepo) ListWaitlist(ctx context.Context, classID uint64) ([]model.WaitlistEntry, error) {
	q := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE class_id = ? ORDER BY priority, id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, classID)
	if err != nil {
		return nil, errors.Wrap(err, "list waitlist")
	}
	defer rows.Close()
	out := []model.WaitlistEntry{}
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan waitlist entry")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "list waitlist")
}

// DeleteWaitlistEntry removes an entry.  Deleting a missing entry is not
// an error.
func (r *WaitlistRepo) DeleteWaitlistEntry(ctx context.Context, id uint64) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = ?`, id)
	return errors.Wrapf(err, "delete waitlist entry %d", id)
}
