package booking

import (
	"context"

	"github.com/iliyamo/studio-booking/internal/model"
)

// promoter fills a released seat from the waitlist.
type promoter interface {
	PromoteNext(ctx context.Context, classID uint64) (*model.Reservation, error)
}

// CapacityTracker guards class capacity.  Callers must hold the class
// row lock (GetClassForUpdate) so that the seat count cannot change
// between the check and the insert.
type CapacityTracker struct {
	store    Store
	promoter promoter
}

// ReserveSeat fails with ErrClassFull when every seat is taken.
func (c *CapacityTracker) ReserveSeat(ctx context.Context, class model.Class) error {
	booked, err := c.store.CountBookedSeats(ctx, class.ID)
	if err != nil {
		return err
	}
	if booked >= class.Capacity {
		return ErrClassFull
	}
	return nil
}

// ReleaseSeat is called after a reservation stops holding a seat.  It
// hands the seat to the next eligible waitlister and returns the
// promoted reservation, if any.
func (c *CapacityTracker) ReleaseSeat(ctx context.Context, classID uint64) (*model.Reservation, error) {
	if c.promoter == nil {
		return nil, nil
	}
	return c.promoter.PromoteNext(ctx, classID)
}

// Availability returns seat usage and queue length for a class.
func (c *CapacityTracker) Availability(ctx context.Context, classID uint64) (model.Availability, error) {
	class, err := c.store.GetClass(ctx, classID)
	if err != nil {
		return model.Availability{}, err
	}
	booked, err := c.store.CountBookedSeats(ctx, classID)
	if err != nil {
		return model.Availability{}, err
	}
	queue, err := c.store.ListWaitlist(ctx, classID)
	if err != nil {
		return model.Availability{}, err
	}
	free := class.Capacity - booked
	if free < 0 {
		free = 0
	}
	return model.Availability{
		ClassID:        class.ID,
		Capacity:       class.Capacity,
		BookedSeats:    booked,
		FreeSeats:      free,
		WaitlistLength: len(queue),
	}, nil
}

// GetAvailability reports seat usage for a class.
func (e *Engine) GetAvailability(ctx context.Context, classID uint64) (model.Availability, error) {
	return e.Seats.Availability(ctx, classID)
}
