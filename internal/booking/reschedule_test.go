package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

func TestRescheduleMovesCredit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	from := f.class(5, 72*time.Hour, yoga)
	to := f.class(5, 96*time.Hour, yoga)
	p := f.pkg(t, 10, 1, nil, 0)
	res := f.book(t, 10, from, &p).Reservation

	out, err := f.engine.Reschedule(ctx, booking.RescheduleRequest{
		Actor:         booking.Student(10),
		ReservationID: res.ID,
		NewClassID:    to.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Reservation)
	assert.Equal(t, to.ID, out.Reservation.ClassID)
	assert.Equal(t, p.ID, *out.Reservation.PackageID)
	assert.Equal(t, model.ReservationCancelled, f.reloadRes(t, res.ID).Status)
	assert.Equal(t, 1, f.reloadPkg(t, p.ID).UsedCredits)

	ledger, err := f.engine.PackageLedger(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 3)
	assert.Equal(t, booking.ReasonReschedule, ledger[1].Reason)
	assert.Equal(t, booking.ReasonReschedule, ledger[2].Reason)
}

func TestRescheduleFailsAtomically(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	from := f.class(5, 72*time.Hour, yoga)
	full := f.class(1, 96*time.Hour, yoga)
	pilatesClass := f.class(5, 96*time.Hour, pilates)
	f.book(t, 99, full, nil)
	p := f.pkg(t, 10, 1, ptr(yoga), 0)
	res := f.book(t, 10, from, &p).Reservation

	tests := []struct {
		name    string
		req     booking.RescheduleRequest
		wantErr error
	}{
		{"full class", booking.RescheduleRequest{Actor: booking.Student(10), ReservationID: res.ID, NewClassID: full.ID}, booking.ErrClassFull},
		{"package type mismatch", booking.RescheduleRequest{Actor: booking.Student(10), ReservationID: res.ID, NewClassID: pilatesClass.ID}, booking.ErrPackageNotUsable},
		{"same class", booking.RescheduleRequest{Actor: booking.Student(10), ReservationID: res.ID, NewClassID: from.ID}, booking.ErrDuplicateReservation},
		{"other student", booking.RescheduleRequest{Actor: booking.Student(11), ReservationID: res.ID, NewClassID: full.ID}, booking.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Reschedule(ctx, tt.req)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Equal(t, model.ReservationConfirmed, f.reloadRes(t, res.ID).Status)
			assert.Equal(t, 1, f.reloadPkg(t, p.ID).UsedCredits)
		})
	}
}

func TestRescheduleOntoWaitlist(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	from := f.class(5, 72*time.Hour, yoga)
	full := f.class(1, 96*time.Hour, yoga)
	f.book(t, 99, full, nil)
	p := f.pkg(t, 10, 1, nil, 0)
	res := f.book(t, 10, from, &p).Reservation

	out, err := f.engine.Reschedule(ctx, booking.RescheduleRequest{
		Actor:         booking.Student(10),
		ReservationID: res.ID,
		NewClassID:    full.ID,
		JoinWaitlist:  true,
	})
	require.NoError(t, err)
	require.True(t, out.Waitlisted())
	assert.Equal(t, p.ID, *out.WaitlistEntry.PackageID)
	assert.Equal(t, 0, f.reloadPkg(t, p.ID).UsedCredits)
}

func TestStaffRescheduleBypassesCutoff(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	from := f.class(5, 3*time.Hour, yoga)
	to := f.class(5, 72*time.Hour, yoga)
	res := f.book(t, 10, from, nil).Reservation

	_, err := f.engine.RecordPayment(ctx, booking.PaymentRequest{StudentID: 10, ReservationID: ptr(res.ID), AmountCents: 1800, Method: "cash"})
	require.NoError(t, err)

	_, err = f.engine.Reschedule(ctx, booking.RescheduleRequest{Actor: booking.Student(10), ReservationID: res.ID, NewClassID: to.ID})
	assert.True(t, errors.Is(err, booking.ErrNotCancellable))

	out, err := f.engine.Reschedule(ctx, booking.RescheduleRequest{Actor: booking.Staff(1), ReservationID: res.ID, NewClassID: to.ID})
	require.NoError(t, err)
	require.NotNil(t, out.Reservation)
	assert.Nil(t, out.Reservation.PaymentDeadline, "payment follows the reservation")

	paid, err := f.store.HasCompletedPayment(ctx, out.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, paid)
}

func TestReschedulePaidReservationKeepsPaymentRow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	from := f.class(5, 72*time.Hour, yoga)
	to := f.class(5, 96*time.Hour, yoga)
	res := f.book(t, 10, from, nil).Reservation

	paid, err := f.engine.RecordPayment(ctx, booking.PaymentRequest{StudentID: 10, ReservationID: ptr(res.ID), AmountCents: 1800, Method: "card"})
	require.NoError(t, err)
	require.Equal(t, model.PaymentCompleted, paid.Status)

	out, err := f.engine.Reschedule(ctx, booking.RescheduleRequest{Actor: booking.Student(10), ReservationID: res.ID, NewClassID: to.ID})
	require.NoError(t, err)
	require.NotNil(t, out.Reservation)
	require.NotNil(t, out.Reservation.RescheduledFrom)
	assert.Equal(t, res.ID, *out.Reservation.RescheduledFrom)
	assert.Nil(t, out.Reservation.PaymentDeadline)

	row, err := f.store.GetPaymentForUpdate(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, paid, row, "completed payment is never rewritten")

	f.clock.Advance(73 * time.Hour)
	n, err := f.engine.SweepExpiredPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, model.ReservationConfirmed, f.reloadRes(t, out.Reservation.ID).Status)
}

func TestRefundAfterRescheduleReinstatesDeadline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	from := f.class(5, 72*time.Hour, yoga)
	to := f.class(5, 96*time.Hour, yoga)
	res := f.book(t, 10, from, nil).Reservation

	paid, err := f.engine.RecordPayment(ctx, booking.PaymentRequest{StudentID: 10, ReservationID: ptr(res.ID), AmountCents: 1800, Method: "card"})
	require.NoError(t, err)
	out, err := f.engine.Reschedule(ctx, booking.RescheduleRequest{Actor: booking.Student(10), ReservationID: res.ID, NewClassID: to.ID})
	require.NoError(t, err)
	require.NotNil(t, out.Reservation)

	refund, err := f.engine.RefundPayment(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ID, *refund.ReservationID)

	live := f.reloadRes(t, out.Reservation.ID)
	require.NotNil(t, live.PaymentDeadline)
	assert.Equal(t, to.StartsAt.Add(-24*time.Hour), *live.PaymentDeadline)
	assert.Equal(t, model.ReservationCancelled, f.reloadRes(t, res.ID).Status)
}
