// Package queue defines the booking notification payload carried over
// RabbitMQ and the consumer that records delivered notifications.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/studio-booking/internal/booking"
)

// NotificationQueue is the durable queue booking events are published to.
const NotificationQueue = "studio.booking.events"

// NotificationEvent is the JSON body of a booking notification.  It
// carries enough for a downstream mailer or push service to address the
// student without querying the booking database.
type NotificationEvent struct {
	EventID         string  `json:"event_id"`
	Type            string  `json:"type"`
	StudentID       uint64  `json:"student_id"`
	ClassID         uint64  `json:"class_id"`
	ReservationID   uint64  `json:"reservation_id,omitempty"`
	WaitlistEntryID uint64  `json:"waitlist_entry_id,omitempty"`
	PackageID       *uint64 `json:"package_id,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	OccurredAt      string  `json:"occurred_at"`
}

// NewNotificationEvent converts an engine event into its wire form.
func NewNotificationEvent(id string, ev booking.Event) NotificationEvent {
	return NotificationEvent{
		EventID:         id,
		Type:            string(ev.Type),
		StudentID:       ev.StudentID,
		ClassID:         ev.ClassID,
		ReservationID:   ev.ReservationID,
		WaitlistEntryID: ev.WaitlistEntryID,
		PackageID:       ev.PackageID,
		Reason:          ev.Reason,
		OccurredAt:      ev.OccurredAt.UTC().Format(time.RFC3339),
	}
}

var summaries = map[string]string{
	string(booking.EventReservationCreated):   "Reservation confirmed",
	string(booking.EventReservationCancelled): "Reservation cancelled",
	string(booking.EventReservationPromoted):  "Promoted from waitlist",
	string(booking.EventWaitlistJoined):       "Joined waitlist",
	string(booking.EventPaymentExpired):       "Reservation cancelled for non-payment",
}

// FormatLine renders ev as one line of logs/notifications.log.
func FormatLine(ev NotificationEvent) string {
	summary, ok := summaries[ev.Type]
	if !ok {
		summary = ev.Type
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | event_id=%s | student_id=%d | class_id=%d", ev.OccurredAt, summary, ev.EventID, ev.StudentID, ev.ClassID)
	if ev.ReservationID != 0 {
		fmt.Fprintf(&b, " | reservation_id=%d", ev.ReservationID)
	}
	if ev.WaitlistEntryID != 0 {
		fmt.Fprintf(&b, " | waitlist_entry_id=%d", ev.WaitlistEntryID)
	}
	if ev.PackageID != nil {
		fmt.Fprintf(&b, " | package_id=%d", *ev.PackageID)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, " | reason=%q", ev.Reason)
	}
	b.WriteByte('\n')
	return b.String()
}
