package booking

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iliyamo/studio-booking/internal/model"
)

// PaymentRequest records money received from a student.  Exactly one of
// PackageID and ReservationID must be set.
type PaymentRequest struct {
	StudentID     uint64
	PackageID     *uint64
	ReservationID *uint64
	AmountCents   int64
	Method        string
	// Pending records the payment as PENDING instead of COMPLETED.
	Pending bool
}

// RecordPayment stores a payment.  A completed payment for a credit-less
// reservation clears its payment deadline.
func (e *Engine) RecordPayment(ctx context.Context, req PaymentRequest) (model.Payment, error) {
	if (req.PackageID == nil) == (req.ReservationID == nil) {
		return model.Payment{}, errors.Wrap(ErrInvalidPayment, "exactly one of package or reservation is required")
	}
	if req.AmountCents <= 0 {
		return model.Payment{}, errors.Wrap(ErrInvalidPayment, "amount must be positive")
	}
	status := model.PaymentCompleted
	if req.Pending {
		status = model.PaymentPending
	}

	var out model.Payment
	err := e.run(ctx, func(ctx context.Context) error {
		now := e.clock.Now()
		if req.PackageID != nil {
			p, err := e.store.GetPackage(ctx, *req.PackageID)
			if err != nil {
				return err
			}
			if p.StudentID != req.StudentID {
				return errors.Wrap(ErrInvalidPayment, "package belongs to another student")
			}
		}
		if req.ReservationID != nil {
			r, err := e.store.GetReservationForUpdate(ctx, *req.ReservationID)
			if err != nil {
				return err
			}
			if r.StudentID != req.StudentID {
				return errors.Wrap(ErrInvalidPayment, "reservation belongs to another student")
			}
			if r.PackageID != nil {
				return errors.Wrap(ErrInvalidPayment, "reservation was paid with credits")
			}
		}

		p := model.Payment{
			StudentID:     req.StudentID,
			PackageID:     req.PackageID,
			ReservationID: req.ReservationID,
			AmountCents:   req.AmountCents,
			Method:        req.Method,
			Status:        status,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.store.CreatePayment(ctx, &p); err != nil {
			return err
		}
		if req.ReservationID != nil && status == model.PaymentCompleted {
			if err := e.clearDeadline(ctx, *req.ReservationID); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	return out, err
}

// CompletePayment settles a PENDING payment.
func (e *Engine) CompletePayment(ctx context.Context, id uint64) (model.Payment, error) {
	var out model.Payment
	err := e.run(ctx, func(ctx context.Context) error {
		p, err := e.store.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentPending {
			return errors.Wrapf(ErrInvalidPayment, "payment is %s", p.Status)
		}
		if err := e.store.UpdatePaymentStatus(ctx, p.ID, model.PaymentCompleted); err != nil {
			return err
		}
		p.Status = model.PaymentCompleted
		p.UpdatedAt = e.clock.Now()
		if p.ReservationID != nil {
			if err := e.clearDeadline(ctx, *p.ReservationID); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	return out, err
}

// RefundPayment appends a REFUNDED record for a completed payment.  If
// the refunded payment was settling a reservation that is still
// confirmed for a future class, the reservation owes payment again and
// gets a fresh deadline.
func (e *Engine) RefundPayment(ctx context.Context, id uint64) (model.Payment, error) {
	var out model.Payment
	err := e.run(ctx, func(ctx context.Context) error {
		p, err := e.store.GetPaymentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentCompleted || p.RefundOf != nil {
			return errors.Wrapf(ErrInvalidPayment, "payment is %s", p.Status)
		}
		refunded, err := e.store.IsRefunded(ctx, p.ID)
		if err != nil {
			return err
		}
		if refunded {
			return errors.Wrap(ErrInvalidPayment, "payment already refunded")
		}

		now := e.clock.Now()
		orig := p.ID
		refund := model.Payment{
			StudentID:     p.StudentID,
			PackageID:     p.PackageID,
			ReservationID: p.ReservationID,
			AmountCents:   p.AmountCents,
			Method:        p.Method,
			Status:        model.PaymentRefunded,
			RefundOf:      &orig,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.store.CreatePayment(ctx, &refund); err != nil {
			return err
		}
		if p.ReservationID != nil {
			if err := e.reinstateDeadline(ctx, *p.ReservationID); err != nil {
				return err
			}
		}
		out = refund
		return nil
	})
	return out, err
}

// clearDeadline drops the payment deadline of the live reservation in
// the reschedule chain of reservationID.
func (e *Engine) clearDeadline(ctx context.Context, reservationID uint64) error {
	live, err := e.store.FindActiveInChain(ctx, reservationID)
	if err != nil || live == nil || live.PaymentDeadline == nil {
		return err
	}
	res := *live
	res.PaymentDeadline = nil
	res.UpdatedAt = e.clock.Now()
	return e.store.UpdateReservation(ctx, res)
}

func (e *Engine) reinstateDeadline(ctx context.Context, reservationID uint64) error {
	live, err := e.store.FindActiveInChain(ctx, reservationID)
	if err != nil || live == nil {
		return err
	}
	res := *live
	if res.Status != model.ReservationConfirmed || res.PackageID != nil || res.PaymentDeadline != nil {
		return nil
	}
	paid, err := e.store.HasCompletedPayment(ctx, res.ID)
	if err != nil || paid {
		return err
	}
	class, err := e.store.GetClass(ctx, res.ClassID)
	if err != nil {
		return err
	}
	now := e.clock.Now()
	if !now.Before(class.StartsAt) {
		return nil
	}
	deadline := model.PaymentDeadlineFor(class.StartsAt, now, e.policy.PaymentLead, e.policy.LastMinuteWindow)
	res.PaymentDeadline = &deadline
	res.UpdatedAt = now
	return e.store.UpdateReservation(ctx, res)
}
