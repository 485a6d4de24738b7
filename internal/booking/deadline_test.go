package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository/inmem"
)

// failingStore rejects reservation updates for one reservation id.
type failingStore struct {
	*inmem.Store
	failID uint64
}

func (s *failingStore) UpdateReservation(ctx context.Context, r model.Reservation) error {
	if r.ID == s.failID {
		return errors.New("deadlock found when trying to get lock")
	}
	return s.Store.UpdateReservation(ctx, r)
}

func TestSweepCancelsOverdueReservation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	class := f.class(1, 2*time.Hour, yoga)
	res := f.book(t, 10, class, nil).Reservation
	require.True(t, f.book(t, 20, class, nil).Waitlisted())

	f.clock.Advance(35 * time.Minute)
	n, err := f.engine.SweepExpiredPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.reloadRes(t, res.ID)
	assert.Equal(t, model.ReservationCancelled, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, "payment deadline exceeded", *got.CancellationReason)

	list, err := f.engine.ListStudentReservations(ctx, 20)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.ReservationConfirmed, list[0].Status, "freed seat goes to the waitlist")

	n, err = f.engine.SweepExpiredPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Contains(t, f.events.types(), booking.EventPaymentExpired)
}

func TestSweepSkipsPaidAndCreditReservations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	class := f.class(5, 2*time.Hour, yoga)
	p := f.pkg(t, 30, 1, nil, 0)

	unpaid := f.book(t, 10, class, nil).Reservation
	paid := f.book(t, 20, class, nil).Reservation
	credit := f.book(t, 30, class, &p).Reservation

	_, err := f.engine.RecordPayment(ctx, booking.PaymentRequest{
		StudentID:     20,
		ReservationID: ptr(paid.ID),
		AmountCents:   1500,
		Method:        "card",
	})
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	n, err := f.engine.SweepExpiredPayments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.ReservationCancelled, f.reloadRes(t, unpaid.ID).Status)
	assert.Equal(t, model.ReservationConfirmed, f.reloadRes(t, paid.ID).Status)
	assert.Equal(t, model.ReservationConfirmed, f.reloadRes(t, credit.ID).Status)
}

func TestSweepRespectsBatchSize(t *testing.T) {
	f := setup(t)
	policy := booking.DefaultPolicy()
	policy.SweepBatchSize = 2
	f.engine = booking.NewEngine(f.store, booking.WithClock(f.clock), booking.WithPolicy(policy))

	class := f.class(10, 2*time.Hour, yoga)
	for s := uint64(1); s <= 3; s++ {
		f.book(t, s, class, nil)
	}
	f.clock.Advance(time.Hour)

	n, err := f.engine.SweepExpiredPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = f.engine.SweepExpiredPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepLogsFailureAndContinues(t *testing.T) {
	f := setup(t)
	class := f.class(10, 2*time.Hour, yoga)
	var ids []uint64
	for s := uint64(1); s <= 3; s++ {
		ids = append(ids, f.book(t, s, class, nil).Reservation.ID)
	}

	core, logs := observer.New(zap.WarnLevel)
	store := &failingStore{Store: f.store, failID: ids[1]}
	engine := booking.NewEngine(store, booking.WithClock(f.clock), booking.WithLogger(zap.New(core)))

	f.clock.Advance(time.Hour)
	n, err := engine.SweepExpiredPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, model.ReservationCancelled, f.reloadRes(t, ids[0]).Status)
	assert.Equal(t, model.ReservationConfirmed, f.reloadRes(t, ids[1]).Status)
	assert.Equal(t, model.ReservationCancelled, f.reloadRes(t, ids[2]).Status)

	warns := logs.FilterMessage("payment deadline sweep: cancel failed").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zap.WarnLevel, warns[0].Level)
	assert.Equal(t, ids[1], warns[0].ContextMap()["reservation_id"])
	assert.Contains(t, warns[0].ContextMap()["error"], "deadlock found")

	av, err := f.engine.GetAvailability(context.Background(), class.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, av.FreeSeats, "failed cancellation keeps its seat")
}
