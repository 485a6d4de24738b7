package booking

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/clock"
	"github.com/iliyamo/studio-booking/internal/model"
)

// admitter turns a waitlist entry into a reservation.
type admitter interface {
	admit(ctx context.Context, class model.Class, studentID uint64, packageID *uint64, reason string) (model.Reservation, error)
}

// Waitlist keeps the FIFO queue of students waiting for a seat.
type Waitlist struct {
	store    Store
	clock    clock.Clock
	admitter admitter
	log      *zap.Logger
}

// Enqueue appends the student to the class queue.  packageID is the
// package the student intends to pay with, nil for direct payment.
func (w *Waitlist) Enqueue(ctx context.Context, class model.Class, studentID uint64, packageID *uint64) (model.WaitlistEntry, error) {
	res, err := w.store.FindActiveReservation(ctx, studentID, class.ID)
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	if res != nil {
		return model.WaitlistEntry{}, ErrAlreadyBooked
	}
	existing, err := w.store.FindWaitlistEntry(ctx, studentID, class.ID)
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	if existing != nil {
		return model.WaitlistEntry{}, ErrAlreadyQueued
	}
	seq, err := w.store.NextWaitlistSeq(ctx, class.ID)
	if err != nil {
		return model.WaitlistEntry{}, err
	}
	entry := model.WaitlistEntry{
		ClassID:   class.ID,
		StudentID: studentID,
		PackageID: packageID,
		Priority:  seq,
		CreatedAt: w.clock.Now(),
	}
	if err := w.store.CreateWaitlistEntry(ctx, &entry); err != nil {
		return model.WaitlistEntry{}, err
	}
	emit(ctx, Event{
		Type:            EventWaitlistJoined,
		StudentID:       studentID,
		ClassID:         class.ID,
		WaitlistEntryID: entry.ID,
		PackageID:       packageID,
		OccurredAt:      entry.CreatedAt,
	})
	return entry, nil
}

// PromoteNext gives a free seat to the first eligible waitlister.
// Entries whose student can no longer pay with credits they queued with
// are dropped and the next entry is tried.  It returns nil when the
// queue is empty, the class is full or the class is no longer bookable.
func (w *Waitlist) PromoteNext(ctx context.Context, classID uint64) (*model.Reservation, error) {
	class, err := w.store.GetClassForUpdate(ctx, classID)
	if err != nil {
		return nil, err
	}
	if !class.Bookable(w.clock.Now()) {
		return nil, nil
	}
	entries, err := w.store.ListWaitlist(ctx, classID)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		booked, err := w.store.CountBookedSeats(ctx, classID)
		if err != nil {
			return nil, err
		}
		if booked >= class.Capacity {
			return nil, nil
		}
		if err := w.store.DeleteWaitlistEntry(ctx, entry.ID); err != nil {
			return nil, err
		}

		active, err := w.store.FindActiveReservation(ctx, entry.StudentID, classID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			continue
		}
		pkgID, ok, err := w.paymentFor(ctx, entry, class)
		if err != nil {
			return nil, err
		}
		if !ok {
			w.log.Info("waitlist entry dropped: no usable package",
				zap.Uint64("class_id", classID),
				zap.Uint64("student_id", entry.StudentID))
			continue
		}

		res, err := w.admitter.admit(ctx, class, entry.StudentID, pkgID, ReasonPromotion)
		if errors.Is(err, ErrDuplicateReservation) {
			continue
		}
		if err != nil {
			return nil, err
		}
		emit(ctx, Event{
			Type:          EventReservationPromoted,
			StudentID:     res.StudentID,
			ClassID:       classID,
			ReservationID: res.ID,
			PackageID:     res.PackageID,
			OccurredAt:    res.ReservedAt,
		})
		return &res, nil
	}
	return nil, nil
}

// paymentFor picks how a promoted entry pays.  Direct-payment entries
// need no package.  Otherwise the queued package is preferred while it
// is still usable, falling back to the best eligible package.
func (w *Waitlist) paymentFor(ctx context.Context, entry model.WaitlistEntry, class model.Class) (*uint64, bool, error) {
	if entry.PackageID == nil {
		return nil, true, nil
	}
	pkgs, err := w.store.ListPackagesByStudent(ctx, entry.StudentID)
	if err != nil {
		return nil, false, err
	}
	elig := ResolveEligibility(pkgs, class, 0, w.clock.Now())
	if elig.Status != Eligible {
		return nil, false, nil
	}
	for _, p := range elig.Packages {
		if p.ID == *entry.PackageID {
			id := p.ID
			return &id, true, nil
		}
	}
	id := elig.Packages[0].ID
	return &id, true, nil
}

// Leave removes the student from the class queue.
func (w *Waitlist) Leave(ctx context.Context, studentID, classID uint64) error {
	entry, err := w.store.FindWaitlistEntry(ctx, studentID, classID)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNotQueued
	}
	return w.store.DeleteWaitlistEntry(ctx, entry.ID)
}

// Position returns the 1-based queue position of the student.
func (w *Waitlist) Position(ctx context.Context, studentID, classID uint64) (int, error) {
	entries, err := w.store.ListWaitlist(ctx, classID)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if e.StudentID == studentID {
			return i + 1, nil
		}
	}
	return 0, ErrNotQueued
}

// LeaveWaitlist removes a student from a class waitlist.
func (e *Engine) LeaveWaitlist(ctx context.Context, actor Actor, studentID, classID uint64) error {
	if !actor.owns(studentID) {
		return ErrForbidden
	}
	return e.run(ctx, func(ctx context.Context) error {
		if _, err := e.store.GetClassForUpdate(ctx, classID); err != nil {
			return err
		}
		return e.Waitlist.Leave(ctx, studentID, classID)
	})
}

// ListWaitlist returns the class queue in promotion order.
func (e *Engine) ListWaitlist(ctx context.Context, classID uint64) ([]model.WaitlistEntry, error) {
	if _, err := e.store.GetClass(ctx, classID); err != nil {
		return nil, err
	}
	return e.store.ListWaitlist(ctx, classID)
}

// WaitlistPosition returns the student's 1-based place in the queue.
func (e *Engine) WaitlistPosition(ctx context.Context, studentID, classID uint64) (int, error) {
	return e.Waitlist.Position(ctx, studentID, classID)
}
