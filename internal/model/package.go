package model

import "time"

// PackageStatus is the lifecycle state of a credit package.
type PackageStatus string

const (
	PackageActive    PackageStatus = "ACTIVE"
	PackageExpired   PackageStatus = "EXPIRED"
	PackageUsedUp    PackageStatus = "USED_UP"
	PackageCancelled PackageStatus = "CANCELLED"
)

// Package is a block of class credits purchased by one student.  A
// package may be scoped to a single class type or, when ClassTypeID is
// nil, be usable for any class.  The Status column is only a cached
// view; EffectiveStatus is authoritative.
//
// Fields:
//  ID           – primary key identifier.
//  StudentID    – owner of the package.
//  Name         – display name chosen at purchase time.
//  ClassTypeID  – class type the credits are restricted to (nil = any).
//  TotalCredits – number of credits purchased.
//  UsedCredits  – credits currently debited by reservations.
//  Status       – cached status written by the ledger.
//  PurchasedAt  – purchase timestamp.
//  ExpiresAt    – expiry timestamp (nil = never expires).
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type Package struct {
	ID           uint64        `json:"id"`                      // packages.id
	StudentID    uint64        `json:"student_id"`              // packages.student_id
	Name         string        `json:"name"`                    // packages.name
	ClassTypeID  *uint64       `json:"class_type_id,omitempty"` // packages.class_type_id (nullable)
	TotalCredits int           `json:"total_credits"`           // packages.total_credits
	UsedCredits  int           `json:"used_credits"`            // packages.used_credits
	Status       PackageStatus `json:"status"`                  // packages.status
	PurchasedAt  time.Time     `json:"purchased_at"`            // packages.purchased_at
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`    // packages.expires_at (nullable)
	CreatedAt    time.Time     `json:"created_at"`              // packages.created_at
	UpdatedAt    time.Time     `json:"updated_at"`              // packages.updated_at
}

// RemainingCredits returns TotalCredits - UsedCredits.
func (p Package) RemainingCredits() int { return p.TotalCredits - p.UsedCredits }

// IsExpired reports whether the package has passed its expiry at now.
func (p Package) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// EffectiveStatus derives the package status from its credit count,
// expiry and cancellation flag.  A cancelled package stays cancelled.
// An exhausted package is USED_UP even when it has also expired.
func (p Package) EffectiveStatus(now time.Time) PackageStatus {
	switch {
	case p.Status == PackageCancelled:
		return PackageCancelled
	case p.RemainingCredits() <= 0:
		return PackageUsedUp
	case p.IsExpired(now):
		return PackageExpired
	default:
		return PackageActive
	}
}

// Matches reports whether the package may pay for a class of the given
// type.  Generic packages match every class type.
func (p Package) Matches(classTypeID uint64) bool {
	return p.ClassTypeID == nil || *p.ClassTypeID == classTypeID
}

// LedgerEntry is an append-only record of a single credit movement on a
// package.  Negative deltas are debits, positive deltas are restorations.
type LedgerEntry struct {
	ID            uint64    `json:"id"`                       // credit_ledger.id
	PackageID     uint64    `json:"package_id"`               // credit_ledger.package_id
	ReservationID *uint64   `json:"reservation_id,omitempty"` // credit_ledger.reservation_id (nullable)
	Delta         int       `json:"delta"`                    // credit_ledger.delta
	Reason        string    `json:"reason"`                   // credit_ledger.reason
	CreatedAt     time.Time `json:"created_at"`               // credit_ledger.created_at
}
