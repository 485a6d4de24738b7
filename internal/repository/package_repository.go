package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

// PackageRepo persists credit packages and the append-only credit
// ledger.  Timestamps are stored in UTC.
type PackageRepo struct {
	db *sql.DB
}

// NewPackageRepo returns a new PackageRepo bound to the given database.
func NewPackageRepo(db *sql.DB) *PackageRepo { return &PackageRepo{db: db} }

const packageColumns = `id, student_id, name, class_type_id, total_credits, used_credits, status, purchased_at, expires_at, created_at, updated_at`

func scanPackage(s rowScanner) (model.Package, error) {
	var (
		p         model.Package
		classType sql.NullInt64
		expires   sql.NullTime
		status    string
	)
	err := s.Scan(&p.ID, &p.StudentID, &p.Name, &classType, &p.TotalCredits, &p.UsedCredits,
		&status, &p.PurchasedAt, &expires, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return model.Package{}, err
	}
	p.ClassTypeID = uint64Ptr(classType)
	p.ExpiresAt = timePtr(expires)
	p.Status = model.PackageStatus(status)
	return p, nil
}

// CreatePackage inserts p and sets its ID.
func (r *PackageRepo) CreatePackage(ctx context.Context, p *model.Package) error {
	const q = `INSERT INTO packages (student_id, name, class_type_id, total_credits, used_credits, status, purchased_at, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := conn(ctx, r.db).ExecContext(ctx, q,
		p.StudentID, p.Name, nullUint64(p.ClassTypeID), p.TotalCredits, p.UsedCredits, string(p.Status),
		p.PurchasedAt.UTC(), nullTime(p.ExpiresAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert package")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert package")
	}
	p.ID = uint64(id)
	return nil
}

func (r *PackageRepo) getPackage(ctx context.Context, id uint64, forUpdate bool) (model.Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE id = ?`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	p, err := scanPackage(conn(ctx, r.db).QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Package{}, booking.ErrPackageNotFound
	}
	if err != nil {
		return model.Package{}, errors.Wrapf(err, "get package %d", id)
	}
	return p, nil
}

// GetPackage loads a package without locking it.
func (r *PackageRepo) GetPackage(ctx context.Context, id uint64) (model.Package, error) {
	return r.getPackage(ctx, id, false)
}

// GetPackageForUpdate loads and row-locks a package.
func (r *PackageRepo) GetPackageForUpdate(ctx context.Context, id uint64) (model.Package, error) {
	return r.getPackage(ctx, id, true)
}

// ListPackagesByStudent returns all packages of a student, oldest first.
func (r *PackageRepo) ListPackagesByStudent(ctx context.Context, studentID uint64) ([]model.Package, error) {
	q := `SELECT ` + packageColumns + ` FROM packages WHERE student_id = ? ORDER BY id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, studentID)
	if err != nil {
		return nil, errors.Wrap(err, "list packages")
	}
	defer rows.Close()
	out := []model.Package{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan package")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "list packages")
}

// UpdatePackageCredits writes the used credit count and cached status.
func (r *PackageRepo) UpdatePackageCredits(ctx context.Context, id uint64, usedCredits int, status model.PackageStatus) error {
	const q = `UPDATE packages SET used_credits = ?, status = ? WHERE id = ?`
	result, err := conn(ctx, r.db).ExecContext(ctx, q, usedCredits, string(status), id)
	if err != nil {
		return errors.Wrapf(err, "update package %d", id)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 when the values are unchanged; confirm existence.
		if _, err := r.getPackage(ctx, id, false); err != nil {
			return err
		}
	}
	return nil
}

// AppendLedgerEntry inserts a credit movement.
func (r *PackageRepo) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	const q = `INSERT INTO credit_ledger (package_id, reservation_id, delta, reason, created_at) VALUES (?, ?, ?, ?, ?)`
	result, err := conn(ctx, r.db).ExecContext(ctx, q, e.PackageID, nullUint64(e.ReservationID), e.Delta, e.Reason, e.CreatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert ledger entry")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert ledger entry")
	}
	e.ID = uint64(id)
	return nil
}

// ListLedgerEntries returns the ledger of a package in insertion order.
func (r *PackageRepo) ListLedgerEntries(ctx context.Context, packageID uint64) ([]model.LedgerEntry, error) {
	const q = `SELECT id, package_id, reservation_id, delta, reason, created_at FROM credit_ledger WHERE package_id = ? ORDER BY id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, packageID)
	if err != nil {
		return nil, errors.Wrap(err, "list ledger")
	}
	defer rows.Close()
	out := []model.LedgerEntry{}
	for rows.Next() {
		var (
			e     model.LedgerEntry
			resID sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.PackageID, &resID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan ledger entry")
		}
		e.ReservationID = uint64Ptr(resID)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "list ledger")
}
