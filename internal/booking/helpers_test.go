package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/clock"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository/inmem"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	yoga    uint64 = 1
	pilates uint64 = 2
)

type recorder struct {
	mu     sync.Mutex
	events []booking.Event
}

func (r *recorder) Notify(_ context.Context, ev booking.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []booking.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]booking.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store  *inmem.Store
	clock  *clock.Manual
	engine *booking.Engine
	events *recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  inmem.New(),
		clock:  clock.NewManual(t0),
		events: &recorder{},
	}
	f.engine = booking.NewEngine(f.store,
		booking.WithClock(f.clock),
		booking.WithNotifier(f.events),
		booking.WithAsync(func(fn func()) { fn() }),
	)
	return f
}

func (f *fixture) class(capacity int, startsIn time.Duration, classType uint64) model.Class {
	start := f.clock.Now().Add(startsIn)
	return f.store.AddClass(model.Class{
		ClassTypeID: classType,
		Name:        "Morning flow",
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Capacity:    capacity,
	})
}

func (f *fixture) pkg(t *testing.T, studentID uint64, credits int, classType *uint64, expiresIn time.Duration) model.Package {
	t.Helper()
	req := booking.PurchaseRequest{
		StudentID:   studentID,
		Name:        "10 class pass",
		ClassTypeID: classType,
		Credits:     credits,
	}
	if expiresIn > 0 {
		exp := f.clock.Now().Add(expiresIn)
		req.ExpiresAt = &exp
	}
	p, _, err := f.engine.PurchasePackage(context.Background(), req)
	require.NoError(t, err)
	return p
}

func (f *fixture) book(t *testing.T, studentID uint64, class model.Class, pkg *model.Package) booking.BookingResult {
	t.Helper()
	req := booking.BookingRequest{StudentID: studentID, ClassID: class.ID}
	if pkg != nil {
		id := pkg.ID
		req.PackageID = &id
	}
	out, err := f.engine.BookClass(context.Background(), booking.Student(studentID), req)
	require.NoError(t, err)
	return out
}

func (f *fixture) reloadPkg(t *testing.T, id uint64) model.Package {
	t.Helper()
	p, err := f.store.GetPackage(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) reloadRes(t *testing.T, id uint64) model.Reservation {
	t.Helper()
	r, err := f.store.GetReservation(context.Background(), id)
	require.NoError(t, err)
	return r
}

func ptr[T any](v T) *T { return &v }
