package model

import "time"

// ClassStatus is the lifecycle state of a scheduled class.
type ClassStatus string

const (
	ClassScheduled  ClassStatus = "SCHEDULED"
	ClassInProgress ClassStatus = "IN_PROGRESS"
	ClassCompleted  ClassStatus = "COMPLETED"
	ClassCancelled  ClassStatus = "CANCELLED"
)

// Class is a scheduled session with a fixed number of seats.  Class rows
// are produced by the studio's scheduling tools; the booking engine only
// reads them, locks them and advances the waitlist sequence.
//
// Fields:
//  ID           – primary key identifier.
//  ClassTypeID  – type of class (yoga, pilates, ...).
//  Name         – display name.
//  InstructorID – instructor teaching the class (nullable).
//  LocationID   – room or studio location (nullable).
//  StartsAt     – scheduled start.
//  EndsAt       – scheduled end.
//  Capacity     – number of seats, always > 0.
//  Status       – SCHEDULED, IN_PROGRESS, COMPLETED or CANCELLED.
//  WaitlistSeq  – last priority handed out to a waitlist entry.
type Class struct {
	ID           uint64      `json:"id"`                      // classes.id
	ClassTypeID  uint64      `json:"class_type_id"`           // classes.class_type_id
	Name         string      `json:"name"`                    // classes.name
	InstructorID *uint64     `json:"instructor_id,omitempty"` // classes.instructor_id (nullable)
	LocationID   *uint64     `json:"location_id,omitempty"`   // classes.location_id (nullable)
	StartsAt     time.Time   `json:"starts_at"`               // classes.starts_at
	EndsAt       time.Time   `json:"ends_at"`                 // classes.ends_at
	Capacity     int         `json:"capacity"`                // classes.capacity
	Status       ClassStatus `json:"status"`                  // classes.status
	WaitlistSeq  uint64      `json:"-"`                       // classes.waitlist_seq
	CreatedAt    time.Time   `json:"created_at"`              // classes.created_at
	UpdatedAt    time.Time   `json:"updated_at"`              // classes.updated_at
}

// Bookable reports whether new reservations may be taken at now.
func (c Class) Bookable(now time.Time) bool {
	return c.Status == ClassScheduled && now.Before(c.StartsAt)
}

// Availability summarises the seat usage of a class.
type Availability struct {
	ClassID        uint64 `json:"class_id"`
	Capacity       int    `json:"capacity"`
	BookedSeats    int    `json:"booked_seats"`
	FreeSeats      int    `json:"free_seats"`
	WaitlistLength int    `json:"waitlist_length"`
}
