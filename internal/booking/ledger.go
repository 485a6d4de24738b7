package booking

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/clock"
	"github.com/iliyamo/studio-booking/internal/model"
)

// Ledger reasons written to the credit audit trail.
const (
	ReasonBooking      = "booking"
	ReasonPromotion    = "promotion"
	ReasonCancellation = "cancellation"
	ReasonReschedule   = "reschedule"
	ReasonDeadline     = "payment deadline exceeded"
)

// Ledger moves credits between packages and reservations.  Its methods
// must run inside Store.WithTx; they lock the package row they touch.
type Ledger struct {
	store Store
	clock clock.Clock
	log   *zap.Logger
}

// DebitRequest describes one credit withdrawal.
type DebitRequest struct {
	PackageID     uint64
	StudentID     uint64
	ClassTypeID   uint64
	Amount        int
	ReservationID *uint64
	Reason        string
}

// CreditRequest describes one credit restoration.
type CreditRequest struct {
	PackageID     uint64
	Amount        int
	ReservationID *uint64
	Reason        string
}

// CheckUsable locks the package and verifies that a debit of req.Amount
// would succeed, without changing anything.
func (l *Ledger) CheckUsable(ctx context.Context, req DebitRequest) (model.Package, error) {
	amount := req.Amount
	if amount <= 0 {
		amount = 1
	}
	p, err := l.store.GetPackageForUpdate(ctx, req.PackageID)
	if err != nil {
		return model.Package{}, err
	}
	if p.StudentID != req.StudentID {
		return model.Package{}, errors.Wrap(ErrPackageNotUsable, "package belongs to another student")
	}
	if p.RemainingCredits() < amount {
		return model.Package{}, ErrInsufficientCredits
	}
	switch p.EffectiveStatus(l.clock.Now()) {
	case model.PackageActive:
	case model.PackageExpired:
		return model.Package{}, errors.Wrap(ErrPackageNotUsable, "package expired")
	default:
		return model.Package{}, errors.Wrapf(ErrPackageNotUsable, "package is %s", p.EffectiveStatus(l.clock.Now()))
	}
	if !p.Matches(req.ClassTypeID) {
		return model.Package{}, errors.Wrap(ErrPackageNotUsable, "package does not cover this class type")
	}
	return p, nil
}

// Debit withdraws credits from a package and appends a ledger entry.
func (l *Ledger) Debit(ctx context.Context, req DebitRequest) (model.Package, error) {
	if req.Amount <= 0 {
		req.Amount = 1
	}
	p, err := l.CheckUsable(ctx, req)
	if err != nil {
		return model.Package{}, err
	}
	p.UsedCredits += req.Amount
	p.Status = p.EffectiveStatus(l.clock.Now())
	if err := l.store.UpdatePackageCredits(ctx, p.ID, p.UsedCredits, p.Status); err != nil {
		return model.Package{}, err
	}
	if err := l.append(ctx, p.ID, req.ReservationID, -req.Amount, req.Reason); err != nil {
		return model.Package{}, err
	}
	return p, nil
}

// Credit restores credits to a package.  The package may be expired or
// cancelled; restoration never fails on status.  Restoring more than is
// used fails with ErrOverRestoration.
func (l *Ledger) Credit(ctx context.Context, req CreditRequest) (model.Package, error) {
	if req.Amount <= 0 {
		req.Amount = 1
	}
	p, err := l.store.GetPackageForUpdate(ctx, req.PackageID)
	if err != nil {
		return model.Package{}, err
	}
	if p.UsedCredits-req.Amount < 0 {
		l.log.Error("credit restoration exceeds used credits",
			zap.Uint64("package_id", p.ID),
			zap.Int("used_credits", p.UsedCredits),
			zap.Int("amount", req.Amount))
		return model.Package{}, errors.Wrapf(ErrOverRestoration, "package %d", p.ID)
	}
	p.UsedCredits -= req.Amount
	p.Status = p.EffectiveStatus(l.clock.Now())
	if err := l.store.UpdatePackageCredits(ctx, p.ID, p.UsedCredits, p.Status); err != nil {
		return model.Package{}, err
	}
	if err := l.append(ctx, p.ID, req.ReservationID, req.Amount, req.Reason); err != nil {
		return model.Package{}, err
	}
	return p, nil
}

// SelectBestPackage returns the package that should pay for a class of
// the given type, or nil when the student has none usable.
func (l *Ledger) SelectBestPackage(ctx context.Context, studentID uint64, class model.Class) (*model.Package, error) {
	pkgs, err := l.store.ListPackagesByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	res := ResolveEligibility(pkgs, class, 0, l.clock.Now())
	if len(res.Packages) == 0 {
		return nil, nil
	}
	best := res.Packages[0]
	return &best, nil
}

func (l *Ledger) append(ctx context.Context, packageID uint64, reservationID *uint64, delta int, reason string) error {
	return l.store.AppendLedgerEntry(ctx, &model.LedgerEntry{
		PackageID:     packageID,
		ReservationID: reservationID,
		Delta:         delta,
		Reason:        reason,
		CreatedAt:     l.clock.Now(),
	})
}
