package booking

import (
	"context"
	"time"
)

// EventType names a notification emitted by the engine.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationPromoted  EventType = "reservation.promoted"
	EventWaitlistJoined       EventType = "waitlist.joined"
	EventPaymentExpired       EventType = "reservation.payment_expired"
)

// Event describes a committed change that students or staff may want to
// hear about.
type Event struct {
	Type            EventType
	StudentID       uint64
	ClassID         uint64
	ReservationID   uint64
	WaitlistEntryID uint64
	PackageID       *uint64
	Reason          string
	OccurredAt      time.Time
}

// Notifier delivers events outside the engine.  Notify is called after
// commit; its failures are logged and never undo a booking.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

type outboxKey struct{}

// outbox collects events raised inside one transaction attempt.
type outbox struct {
	events []Event
}

func withOutbox(ctx context.Context, ob *outbox) context.Context {
	return context.WithValue(ctx, outboxKey{}, ob)
}

func (o *outbox) reset() { o.events = o.events[:0] }

func (o *outbox) drain() []Event {
	out := make([]Event, len(o.events))
	copy(out, o.events)
	o.events = nil
	return out
}

// emit records ev on the outbox carried by ctx, if any.
func emit(ctx context.Context, ev Event) {
	if ob, ok := ctx.Value(outboxKey{}).(*outbox); ok {
		ob.events = append(ob.events, ev)
	}
}
