package booking

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/studio-booking/internal/clock"
	"github.com/iliyamo/studio-booking/internal/model"
)

// StateMachine owns the reservation lifecycle:
//
//	CONFIRMED -> CHECKED_IN -> COMPLETED
//	CONFIRMED -> CANCELLED | NO_SHOW
//	CHECKED_IN -> CANCELLED
//
// Its methods must run inside Store.WithTx.  Locks are always taken in
// the order class, reservation, package.
type StateMachine struct {
	store    Store
	clock    clock.Clock
	policy   Policy
	ledger   *Ledger
	seats    *CapacityTracker
	waitlist *Waitlist
}

// BookingRequest asks for a seat in a class.
type BookingRequest struct {
	StudentID uint64
	ClassID   uint64
	// PackageID pays with a credit.  Nil books a credit-less seat that
	// must be paid before its deadline.
	PackageID *uint64
	// SkipWaitlist fails with ErrClassFull when the class is full
	// instead of queueing the student.
	SkipWaitlist bool

	rescheduledFrom *uint64
}

// BookingResult carries either the reservation or, for a full class,
// the waitlist entry.
type BookingResult struct {
	Reservation   *model.Reservation   `json:"reservation,omitempty"`
	WaitlistEntry *model.WaitlistEntry `json:"waitlist_entry,omitempty"`
}

// Waitlisted reports whether the request was queued.
func (r BookingResult) Waitlisted() bool { return r.WaitlistEntry != nil }

// CancelResult describes a cancellation.
type CancelResult struct {
	Reservation      model.Reservation  `json:"reservation"`
	AlreadyCancelled bool               `json:"already_cancelled"`
	Promoted         *model.Reservation `json:"promoted,omitempty"`
}

// Create books a seat, or queues the student when the class is full.
// Nothing is debited for a queued request.
func (m *StateMachine) Create(ctx context.Context, req BookingRequest) (BookingResult, error) {
	class, err := m.store.GetClassForUpdate(ctx, req.ClassID)
	if err != nil {
		return BookingResult{}, err
	}
	return m.createLocked(ctx, class, req, ReasonBooking)
}

func (m *StateMachine) createLocked(ctx context.Context, class model.Class, req BookingRequest, reason string) (BookingResult, error) {
	if !class.Bookable(m.clock.Now()) {
		return BookingResult{}, ErrClassNotBookable
	}
	dup, err := m.store.FindActiveReservation(ctx, req.StudentID, class.ID)
	if err != nil {
		return BookingResult{}, err
	}
	if dup != nil {
		return BookingResult{}, ErrDuplicateReservation
	}
	if req.PackageID != nil {
		if _, err := m.ledger.CheckUsable(ctx, DebitRequest{
			PackageID:   *req.PackageID,
			StudentID:   req.StudentID,
			ClassTypeID: class.ClassTypeID,
			Amount:      1,
		}); err != nil {
			return BookingResult{}, err
		}
	}

	if err := m.seats.ReserveSeat(ctx, class); err != nil {
		if errors.Is(err, ErrClassFull) && !req.SkipWaitlist {
			entry, qerr := m.waitlist.Enqueue(ctx, class, req.StudentID, req.PackageID)
			if qerr != nil {
				return BookingResult{}, qerr
			}
			return BookingResult{WaitlistEntry: &entry}, nil
		}
		return BookingResult{}, err
	}

	res, err := m.admitChained(ctx, class, req.StudentID, req.PackageID, req.rescheduledFrom, reason)
	if err != nil {
		return BookingResult{}, err
	}
	if entry, err := m.store.FindWaitlistEntry(ctx, req.StudentID, class.ID); err != nil {
		return BookingResult{}, err
	} else if entry != nil {
		if err := m.store.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
			return BookingResult{}, err
		}
	}
	emit(ctx, Event{
		Type:          EventReservationCreated,
		StudentID:     res.StudentID,
		ClassID:       class.ID,
		ReservationID: res.ID,
		PackageID:     res.PackageID,
		OccurredAt:    res.ReservedAt,
	})
	return BookingResult{Reservation: &res}, nil
}

// admit inserts a CONFIRMED reservation and debits its package.  The
// caller has already checked capacity under the class lock.
func (m *StateMachine) admit(ctx context.Context, class model.Class, studentID uint64, packageID *uint64, reason string) (model.Reservation, error) {
	return m.admitChained(ctx, class, studentID, packageID, nil, reason)
}

// admitChained is admit for a reservation continuing the reschedule
// chain started by chain.
func (m *StateMachine) admitChained(ctx context.Context, class model.Class, studentID uint64, packageID, chain *uint64, reason string) (model.Reservation, error) {
	now := m.clock.Now()
	res := model.Reservation{
		StudentID:       studentID,
		ClassID:         class.ID,
		PackageID:       packageID,
		Status:          model.ReservationConfirmed,
		ReservedAt:      now,
		UpdatedAt:       now,
		RescheduledFrom: chain,
	}
	if packageID == nil {
		deadline := model.PaymentDeadlineFor(class.StartsAt, now, m.policy.PaymentLead, m.policy.LastMinuteWindow)
		res.PaymentDeadline = &deadline
	}
	if err := m.store.CreateReservation(ctx, &res); err != nil {
		return model.Reservation{}, err
	}
	if packageID != nil {
		resID := res.ID
		if _, err := m.ledger.Debit(ctx, DebitRequest{
			PackageID:     *packageID,
			StudentID:     studentID,
			ClassTypeID:   class.ClassTypeID,
			Amount:        1,
			ReservationID: &resID,
			Reason:        reason,
		}); err != nil {
			return model.Reservation{}, err
		}
	}
	return res, nil
}

// lockReservation locks the class of a reservation and then the
// reservation itself.
func (m *StateMachine) lockReservation(ctx context.Context, id uint64) (model.Class, model.Reservation, error) {
	peek, err := m.store.GetReservation(ctx, id)
	if err != nil {
		return model.Class{}, model.Reservation{}, err
	}
	class, err := m.store.GetClassForUpdate(ctx, peek.ClassID)
	if err != nil {
		return model.Class{}, model.Reservation{}, err
	}
	res, err := m.store.GetReservationForUpdate(ctx, id)
	if err != nil {
		return model.Class{}, model.Reservation{}, err
	}
	return class, res, nil
}

// checkCancellable applies the status and cutoff rules of cancellation.
func (m *StateMachine) checkCancellable(actor Actor, class model.Class, res model.Reservation) error {
	if !actor.owns(res.StudentID) {
		return ErrForbidden
	}
	if res.Status.Terminal() {
		return errors.Wrapf(ErrNotCancellable, "reservation is %s", res.Status)
	}
	if actor.IsStudent() && m.clock.Now().After(class.StartsAt.Add(-m.policy.CancelCutoff)) {
		return errors.Wrap(ErrNotCancellable, "cancellation cutoff has passed")
	}
	return nil
}

// Cancel cancels a reservation, restores its credit and promotes the
// next waitlister into the freed seat.  Cancelling an already cancelled
// reservation succeeds without side effects.  Students are bound by the
// cancellation cutoff; staff and the system are not.
func (m *StateMachine) Cancel(ctx context.Context, actor Actor, id uint64, reason string) (CancelResult, error) {
	class, res, err := m.lockReservation(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	if !actor.owns(res.StudentID) {
		return CancelResult{}, ErrForbidden
	}
	if res.Status == model.ReservationCancelled {
		return CancelResult{Reservation: res, AlreadyCancelled: true}, nil
	}
	if err := m.checkCancellable(actor, class, res); err != nil {
		return CancelResult{}, err
	}
	return m.cancelLocked(ctx, class, res, reason, ReasonCancellation)
}

func (m *StateMachine) cancelLocked(ctx context.Context, class model.Class, res model.Reservation, reason, ledgerReason string) (CancelResult, error) {
	now := m.clock.Now()
	res.Status = model.ReservationCancelled
	res.CancelledAt = &now
	res.UpdatedAt = now
	if reason != "" {
		r := reason
		res.CancellationReason = &r
	}
	if err := m.store.UpdateReservation(ctx, res); err != nil {
		return CancelResult{}, err
	}
	if res.PackageID != nil {
		resID := res.ID
		if _, err := m.ledger.Credit(ctx, CreditRequest{
			PackageID:     *res.PackageID,
			Amount:        1,
			ReservationID: &resID,
			Reason:        ledgerReason,
		}); err != nil {
			return CancelResult{}, err
		}
	}
	emit(ctx, Event{
		Type:          EventReservationCancelled,
		StudentID:     res.StudentID,
		ClassID:       class.ID,
		ReservationID: res.ID,
		PackageID:     res.PackageID,
		Reason:        reason,
		OccurredAt:    now,
	})
	promoted, err := m.seats.ReleaseSeat(ctx, class.ID)
	if err != nil {
		return CancelResult{}, err
	}
	return CancelResult{Reservation: res, Promoted: promoted}, nil
}

// CheckIn marks a confirmed reservation as attended.
func (m *StateMachine) CheckIn(ctx context.Context, id uint64) (model.Reservation, error) {
	return m.transition(ctx, id, model.ReservationConfirmed, model.ReservationCheckedIn, func(r *model.Reservation, now time.Time) {
		r.CheckedInAt = &now
	})
}

// Complete closes a checked-in reservation.  The credit stays consumed.
func (m *StateMachine) Complete(ctx context.Context, id uint64) (model.Reservation, error) {
	return m.transition(ctx, id, model.ReservationCheckedIn, model.ReservationCompleted, func(r *model.Reservation, now time.Time) {
		r.CompletedAt = &now
	})
}

// MarkNoShow records that a confirmed student did not attend.  The
// credit is not restored; the seat is released.
func (m *StateMachine) MarkNoShow(ctx context.Context, id uint64) (model.Reservation, *model.Reservation, error) {
	class, res, err := m.lockReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, nil, err
	}
	if res.Status != model.ReservationConfirmed {
		return model.Reservation{}, nil, errors.Wrapf(ErrInvalidTransition, "%s -> %s", res.Status, model.ReservationNoShow)
	}
	now := m.clock.Now()
	res.Status = model.ReservationNoShow
	res.NoShowAt = &now
	res.UpdatedAt = now
	if err := m.store.UpdateReservation(ctx, res); err != nil {
		return model.Reservation{}, nil, err
	}
	promoted, err := m.seats.ReleaseSeat(ctx, class.ID)
	if err != nil {
		return model.Reservation{}, nil, err
	}
	return res, promoted, nil
}

func (m *StateMachine) transition(ctx context.Context, id uint64, from, to model.ReservationStatus, stamp func(*model.Reservation, time.Time)) (model.Reservation, error) {
	res, err := m.store.GetReservationForUpdate(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if res.Status != from {
		return model.Reservation{}, errors.Wrapf(ErrInvalidTransition, "%s -> %s", res.Status, to)
	}
	now := m.clock.Now()
	res.Status = to
	res.UpdatedAt = now
	stamp(&res, now)
	if err := m.store.UpdateReservation(ctx, res); err != nil {
		return model.Reservation{}, err
	}
	return res, nil
}

// RescheduleRequest moves a reservation to another class.
type RescheduleRequest struct {
	Actor         Actor
	ReservationID uint64
	NewClassID    uint64
	// JoinWaitlist queues the student on the new class when it is full.
	// The old reservation is cancelled either way.
	JoinWaitlist bool
}

// Reschedule cancels the reservation and books the same student into
// another class with the same package, all or nothing.  The package is
// re-validated against the new class type.  A credit-less reservation
// joins the reschedule chain of the old one, so payments already made
// keep settling it without their rows being touched.
func (m *StateMachine) Reschedule(ctx context.Context, req RescheduleRequest) (BookingResult, error) {
	peek, err := m.store.GetReservation(ctx, req.ReservationID)
	if err != nil {
		return BookingResult{}, err
	}
	if !req.Actor.owns(peek.StudentID) {
		return BookingResult{}, ErrForbidden
	}
	if peek.ClassID == req.NewClassID {
		return BookingResult{}, errors.Wrap(ErrDuplicateReservation, "reservation is already in this class")
	}

	oldClass, newClass, err := m.lockClassPair(ctx, peek.ClassID, req.NewClassID)
	if err != nil {
		return BookingResult{}, err
	}
	res, err := m.store.GetReservationForUpdate(ctx, req.ReservationID)
	if err != nil {
		return BookingResult{}, err
	}
	if res.Status != model.ReservationConfirmed {
		if res.Status.Terminal() {
			return BookingResult{}, errors.Wrapf(ErrNotCancellable, "reservation is %s", res.Status)
		}
		return BookingResult{}, errors.Wrapf(ErrInvalidTransition, "cannot reschedule a %s reservation", res.Status)
	}
	if err := m.checkCancellable(req.Actor, oldClass, res); err != nil {
		return BookingResult{}, err
	}

	if _, err := m.cancelLocked(ctx, oldClass, res, "rescheduled", ReasonReschedule); err != nil {
		return BookingResult{}, err
	}
	chain := res.ChainID()
	out, err := m.createLocked(ctx, newClass, BookingRequest{
		StudentID:       res.StudentID,
		ClassID:         newClass.ID,
		PackageID:       res.PackageID,
		SkipWaitlist:    !req.JoinWaitlist,
		rescheduledFrom: &chain,
	}, ReasonReschedule)
	if err != nil {
		return BookingResult{}, err
	}
	if out.Reservation == nil || res.PackageID != nil {
		return out, nil
	}

	paid, err := m.store.HasCompletedPayment(ctx, out.Reservation.ID)
	if err != nil {
		return BookingResult{}, err
	}
	if paid {
		settled := *out.Reservation
		settled.PaymentDeadline = nil
		if err := m.store.UpdateReservation(ctx, settled); err != nil {
			return BookingResult{}, err
		}
		out.Reservation = &settled
	}
	return out, nil
}

// lockClassPair locks two classes in ascending ID order.
func (m *StateMachine) lockClassPair(ctx context.Context, a, b uint64) (model.Class, model.Class, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	c1, err := m.store.GetClassForUpdate(ctx, first)
	if err != nil {
		return model.Class{}, model.Class{}, err
	}
	c2, err := m.store.GetClassForUpdate(ctx, second)
	if err != nil {
		return model.Class{}, model.Class{}, err
	}
	if c1.ID == a {
		return c1, c2, nil
	}
	return c2, c1, nil
}
