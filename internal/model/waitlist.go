package model

import "time"

// WaitlistEntry queues a student for a seat in a full class.  Lower
// priority values are served first; priorities are handed out from a
// per-class sequence so they reflect arrival order.
type WaitlistEntry struct {
	ID        uint64    `json:"id"`                   // waitlist_entries.id
	ClassID   uint64    `json:"class_id"`             // waitlist_entries.class_id
	StudentID uint64    `json:"student_id"`           // waitlist_entries.student_id
	PackageID *uint64   `json:"package_id,omitempty"` // waitlist_entries.package_id (nullable)
	Priority  uint64    `json:"priority"`             // waitlist_entries.priority
	CreatedAt time.Time `json:"created_at"`           // waitlist_entries.created_at
}
