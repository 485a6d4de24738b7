package booking

import (
	"context"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/clock"
	"github.com/iliyamo/studio-booking/internal/model"
)

// DeadlineEnforcer cancels credit-less reservations whose payment
// deadline has passed without a completed payment.
type DeadlineEnforcer struct {
	store   Store
	clock   clock.Clock
	machine *StateMachine
	log     *zap.Logger
	batch   int
	run     func(ctx context.Context, fn func(ctx context.Context) error) error
}

// Sweep cancels overdue reservations, each in its own transaction, and
// returns how many were cancelled.  A failure on one reservation is
// logged and does not stop the sweep.  Running Sweep twice cancels
// nothing the second time.
func (d *DeadlineEnforcer) Sweep(ctx context.Context) (int, error) {
	ids, err := d.store.ListOverdueUnpaid(ctx, d.clock.Now(), d.batch)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return cancelled, ctx.Err()
		}
		var done bool
		err := d.run(ctx, func(ctx context.Context) error {
			var err error
			done, err = d.expire(ctx, id)
			return err
		})
		if err != nil {
			d.log.Warn("payment deadline sweep: cancel failed",
				zap.Uint64("reservation_id", id), zap.Error(err))
			continue
		}
		if done {
			cancelled++
		}
	}
	if cancelled > 0 {
		d.log.Info("payment deadline sweep finished", zap.Int("cancelled", cancelled), zap.Int("candidates", len(ids)))
	}
	return cancelled, nil
}

// expire re-checks the reservation under lock and cancels it when it is
// still unpaid and overdue.
func (d *DeadlineEnforcer) expire(ctx context.Context, id uint64) (bool, error) {
	class, res, err := d.machine.lockReservation(ctx, id)
	if err != nil {
		return false, err
	}
	now := d.clock.Now()
	if res.Status != model.ReservationConfirmed || res.PackageID != nil {
		return false, nil
	}
	if res.PaymentDeadline == nil || !res.PaymentDeadline.Before(now) {
		return false, nil
	}
	paid, err := d.store.HasCompletedPayment(ctx, res.ID)
	if err != nil {
		return false, err
	}
	if paid {
		return false, nil
	}
	out, err := d.machine.cancelLocked(ctx, class, res, ReasonDeadline, ReasonDeadline)
	if err != nil {
		return false, err
	}
	emit(ctx, Event{
		Type:          EventPaymentExpired,
		StudentID:     out.Reservation.StudentID,
		ClassID:       class.ID,
		ReservationID: out.Reservation.ID,
		Reason:        ReasonDeadline,
		OccurredAt:    now,
	})
	return true, nil
}

// SweepExpiredPayments runs one payment deadline sweep.
func (e *Engine) SweepExpiredPayments(ctx context.Context) (int, error) {
	return e.Deadlines.Sweep(ctx)
}
