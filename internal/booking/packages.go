package booking

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/studio-booking/internal/model"
)

// PurchaseRequest registers a package bought by a student.
type PurchaseRequest struct {
	StudentID   uint64
	Name        string
	ClassTypeID *uint64
	Credits     int
	ExpiresAt   *time.Time
	// PriceCents, when positive, records a payment for the package in
	// the same transaction: COMPLETED when Paid, PENDING otherwise.
	PriceCents int64
	Paid       bool
	Method     string
}

// PurchasePackage creates an ACTIVE package and, when a price is given,
// the payment recorded for it.
func (e *Engine) PurchasePackage(ctx context.Context, req PurchaseRequest) (model.Package, *model.Payment, error) {
	now := e.clock.Now()
	if req.StudentID == 0 || req.Credits <= 0 {
		return model.Package{}, nil, errors.Wrap(ErrInvalidPackage, "student and a positive credit count are required")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return model.Package{}, nil, errors.Wrap(ErrInvalidPackage, "expiry must be in the future")
	}
	if req.PriceCents < 0 {
		return model.Package{}, nil, errors.Wrap(ErrInvalidPayment, "amount must not be negative")
	}

	pkg := model.Package{
		StudentID:    req.StudentID,
		Name:         req.Name,
		ClassTypeID:  req.ClassTypeID,
		TotalCredits: req.Credits,
		Status:       model.PackageActive,
		PurchasedAt:  now,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var pay *model.Payment
	err := e.run(ctx, func(ctx context.Context) error {
		pay = nil
		p := pkg
		if err := e.store.CreatePackage(ctx, &p); err != nil {
			return err
		}
		if req.PriceCents > 0 {
			pid := p.ID
			status := model.PaymentPending
			if req.Paid {
				status = model.PaymentCompleted
			}
			rec := model.Payment{
				StudentID:   p.StudentID,
				PackageID:   &pid,
				AmountCents: req.PriceCents,
				Method:      req.Method,
				Status:      status,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := e.store.CreatePayment(ctx, &rec); err != nil {
				return err
			}
			pay = &rec
		}
		pkg = p
		return nil
	})
	if err != nil {
		return model.Package{}, nil, err
	}
	return pkg, pay, nil
}

// CancelPackage withdraws a package.  Reservations already paid with it
// are kept; credits they give back later are still restored to it.
func (e *Engine) CancelPackage(ctx context.Context, id uint64) (model.Package, error) {
	var out model.Package
	err := e.run(ctx, func(ctx context.Context) error {
		p, err := e.store.GetPackageForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != model.PackageCancelled {
			p.Status = model.PackageCancelled
			if err := e.store.UpdatePackageCredits(ctx, p.ID, p.UsedCredits, p.Status); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	return out, err
}

// ListStudentPackages returns the student's packages with their status
// derived at the current time.
func (e *Engine) ListStudentPackages(ctx context.Context, studentID uint64) ([]model.Package, error) {
	pkgs, err := e.store.ListPackagesByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	for i := range pkgs {
		pkgs[i].Status = pkgs[i].EffectiveStatus(now)
	}
	return pkgs, nil
}

// PackageLedger returns the credit movements of a package, oldest first.
func (e *Engine) PackageLedger(ctx context.Context, packageID uint64) ([]model.LedgerEntry, error) {
	if _, err := e.store.GetPackage(ctx, packageID); err != nil {
		return nil, err
	}
	return e.store.ListLedgerEntries(ctx, packageID)
}
