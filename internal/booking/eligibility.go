package booking

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// EligibilityStatus summarises whether a student can pay for a class
// with credits.
type EligibilityStatus string

const (
	Eligible  EligibilityStatus = "eligible"
	NoPackage EligibilityStatus = "no_package"
	WrongType EligibilityStatus = "wrong_type"
	NoCredits EligibilityStatus = "no_credits"
)

// EligibilityResult is the read-only answer used to gate the booking UI
// and to re-validate waitlisters at promotion time.
type EligibilityResult struct {
	Status    EligibilityStatus `json:"status"`
	Packages  []model.Package   `json:"packages"`
	Bookable  bool              `json:"bookable"`
	ClassFull bool              `json:"class_full"`
	SeatsLeft int               `json:"seats_left"`
}

// ResolveEligibility computes eligibility from the student's packages and
// the class's type and seat usage.  It never mutates anything.  Usable
// packages are returned in the order SelectBestPackage would try them.
func ResolveEligibility(pkgs []model.Package, class model.Class, bookedSeats int, now time.Time) EligibilityResult {
	res := EligibilityResult{
		Packages:  []model.Package{},
		Bookable:  class.Bookable(now),
		SeatsLeft: class.Capacity - bookedSeats,
	}
	if res.SeatsLeft < 0 {
		res.SeatsLeft = 0
	}
	res.ClassFull = res.SeatsLeft == 0

	owned := 0
	typed := 0
	for _, p := range pkgs {
		status := p.EffectiveStatus(now)
		if status == model.PackageCancelled {
			continue
		}
		owned++
		if !p.Matches(class.ClassTypeID) {
			continue
		}
		typed++
		if status != model.PackageActive {
			continue
		}
		p.Status = status
		res.Packages = append(res.Packages, p)
	}

	switch {
	case owned == 0:
		res.Status = NoPackage
	case typed == 0:
		res.Status = WrongType
	case len(res.Packages) == 0:
		res.Status = NoCredits
	default:
		res.Status = Eligible
		rankPackages(res.Packages)
	}
	return res
}

// rankPackages orders usable packages: class-specific before generic,
// then earliest expiry (never-expiring last), then oldest purchase.
func rankPackages(pkgs []model.Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		a, b := pkgs[i], pkgs[j]
		if (a.ClassTypeID != nil) != (b.ClassTypeID != nil) {
			return a.ClassTypeID != nil
		}
		switch {
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.PurchasedAt.Equal(b.PurchasedAt) {
			return a.PurchasedAt.Before(b.PurchasedAt)
		}
		return a.ID < b.ID
	})
}

// GetEligibility reports whether and how the student may book the class.
func (e *Engine) GetEligibility(ctx context.Context, studentID, classID uint64) (EligibilityResult, error) {
	class, err := e.store.GetClass(ctx, classID)
	if err != nil {
		return EligibilityResult{}, err
	}
	pkgs, err := e.store.ListPackagesByStudent(ctx, studentID)
	if err != nil {
		return EligibilityResult{}, err
	}
	booked, err := e.store.CountBookedSeats(ctx, classID)
	if err != nil {
		return EligibilityResult{}, err
	}
	return ResolveEligibility(pkgs, class, booked, e.clock.Now()), nil
}
