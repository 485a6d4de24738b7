package booking

import (
	"context"

	"github.com/iliyamo/studio-booking/internal/model"
)

// BookClass books a seat, or queues the student when the class is full
// and the request allows it.
func (e *Engine) BookClass(ctx context.Context, actor Actor, req BookingRequest) (BookingResult, error) {
	if !actor.owns(req.StudentID) {
		return BookingResult{}, ErrForbidden
	}
	var out BookingResult
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.Reservations.Create(ctx, req)
		return err
	})
	return out, err
}

// CancelReservation cancels a reservation on behalf of actor.
func (e *Engine) CancelReservation(ctx context.Context, actor Actor, id uint64, reason string) (CancelResult, error) {
	var out CancelResult
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.Reservations.Cancel(ctx, actor, id, reason)
		return err
	})
	return out, err
}

// Reschedule moves a reservation to another class.
func (e *Engine) Reschedule(ctx context.Context, req RescheduleRequest) (BookingResult, error) {
	var out BookingResult
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.Reservations.Reschedule(ctx, req)
		return err
	})
	return out, err
}

// CheckIn marks a reservation as attended.
func (e *Engine) CheckIn(ctx context.Context, id uint64) (model.Reservation, error) {
	var out model.Reservation
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.Reservations.CheckIn(ctx, id)
		return err
	})
	return out, err
}

// Complete closes an attended reservation.
func (e *Engine) Complete(ctx context.Context, id uint64) (model.Reservation, error) {
	var out model.Reservation
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.Reservations.Complete(ctx, id)
		return err
	})
	return out, err
}

// MarkNoShow records a no-show and returns the waitlister promoted into
// the freed seat, if any.
func (e *Engine) MarkNoShow(ctx context.Context, id uint64) (model.Reservation, *model.Reservation, error) {
	var (
		out      model.Reservation
		promoted *model.Reservation
	)
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		out, promoted, err = e.Reservations.MarkNoShow(ctx, id)
		return err
	})
	return out, promoted, err
}

// GetReservation returns a reservation the actor may see.
func (e *Engine) GetReservation(ctx context.Context, actor Actor, id uint64) (model.Reservation, error) {
	res, err := e.store.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if !actor.owns(res.StudentID) {
		return model.Reservation{}, ErrForbidden
	}
	return res, nil
}

// ListStudentReservations returns every reservation of a student.
func (e *Engine) ListStudentReservations(ctx context.Context, studentID uint64) ([]model.Reservation, error) {
	return e.store.ListReservationsByStudent(ctx, studentID)
}
