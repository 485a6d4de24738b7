// Package inmem is a process-local booking.Store used by tests and by
// STORE_DRIVER=memory.  Transactions are serialised by a single mutex
// and rolled back by restoring a snapshot of every table.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/studio-booking/internal/booking"
	"github.com/iliyamo/studio-booking/internal/model"
)

type txKey struct{}

type tables struct {
	packages     map[uint64]model.Package
	classes      map[uint64]model.Class
	reservations map[uint64]model.Reservation
	waitlist     map[uint64]model.WaitlistEntry
	payments     map[uint64]model.Payment
	ledger       []model.LedgerEntry
	nextID       uint64
}

func (t tables) clone() tables {
	c := tables{
		packages:     make(map[uint64]model.Package, len(t.packages)),
		classes:      make(map[uint64]model.Class, len(t.classes)),
		reservations: make(map[uint64]model.Reservation, len(t.reservations)),
		waitlist:     make(map[uint64]model.WaitlistEntry, len(t.waitlist)),
		payments:     make(map[uint64]model.Payment, len(t.payments)),
		ledger:       append([]model.LedgerEntry(nil), t.ledger...),
		nextID:       t.nextID,
	}
	for k, v := range t.packages {
		c.packages[k] = v
	}
	for k, v := range t.classes {
		c.classes[k] = v
	}
	for k, v := range t.reservations {
		c.reservations[k] = v
	}
	for k, v := range t.waitlist {
		c.waitlist[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	return c
}

// Store implements booking.Store in memory.
type Store struct {
	mu sync.Mutex
	t  tables
}

var _ booking.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{t: tables{
		packages:     map[uint64]model.Package{},
		classes:      map[uint64]model.Class{},
		reservations: map[uint64]model.Reservation{},
		waitlist:     map[uint64]model.WaitlistEntry{},
		payments:     map[uint64]model.Payment{},
	}}
}

// WithTx runs fn with the store locked.  Nested calls join the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.t.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.t = snap
		return err
	}
	return nil
}

// lock takes the store mutex unless ctx is already inside WithTx.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) id() uint64 {
	s.t.nextID++
	return s.t.nextID
}

// AddClass stores a class and returns it with its ID.  Classes are
// owned by the scheduling tools, so the booking contract has no insert.
func (s *Store) AddClass(c model.Class) model.Class {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	} else if c.ID > s.t.nextID {
		s.t.nextID = c.ID
	}
	if c.Status == "" {
		c.Status = model.ClassScheduled
	}
	s.t.classes[c.ID] = c
	return c
}

// SetClassStatus changes the status of a stored class.
func (s *Store) SetClassStatus(id uint64, status model.ClassStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.t.classes[id]; ok {
		c.Status = status
		s.t.classes[id] = c
	}
}

// ---- packages ----

func (s *Store) CreatePackage(ctx context.Context, p *model.Package) error {
	defer s.lock(ctx)()
	p.ID = s.id()
	s.t.packages[p.ID] = *p
	return nil
}

func (s *Store) GetPackage(ctx context.Context, id uint64) (model.Package, error) {
	defer s.lock(ctx)()
	p, ok := s.t.packages[id]
	if !ok {
		return model.Package{}, booking.ErrPackageNotFound
	}
	return p, nil
}

func (s *Store) GetPackageForUpdate(ctx context.Context, id uint64) (model.Package, error) {
	return s.GetPackage(ctx, id)
}

func (s *Store) ListPackagesByStudent(ctx context.Context, studentID uint64) ([]model.Package, error) {
	defer s.lock(ctx)()
	out := []model.Package{}
	for _, p := range s.t.packages {
		if p.StudentID == studentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdatePackageCredits(ctx context.Context, id uint64, usedCredits int, status model.PackageStatus) error {
	defer s.lock(ctx)()
	p, ok := s.t.packages[id]
	if !ok {
		return booking.ErrPackageNotFound
	}
	p.UsedCredits = usedCredits
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	s.t.packages[id] = p
	return nil
}

func (s *Store) AppendLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	defer s.lock(ctx)()
	e.ID = s.id()
	s.t.ledger = append(s.t.ledger, *e)
	return nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, packageID uint64) ([]model.LedgerEntry, error) {
	defer s.lock(ctx)()
	out := []model.LedgerEntry{}
	for _, e := range s.t.ledger {
		if e.PackageID == packageID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---- classes ----

func (s *Store) GetClass(ctx context.Context, id uint64) (model.Class, error) {
	defer s.lock(ctx)()
	c, ok := s.t.classes[id]
	if !ok {
		return model.Class{}, booking.ErrClassNotFound
	}
	return c, nil
}

func (s *Store) GetClassForUpdate(ctx context.Context, id uint64) (model.Class, error) {
	return s.GetClass(ctx, id)
}

func (s *Store) CountBookedSeats(ctx context.Context, classID uint64) (int, error) {
	defer s.lock(ctx)()
	n := 0
	for _, r := range s.t.reservations {
		if r.ClassID == classID && r.Status.HoldsSeat() {
			n++
		}
	}
	return n, nil
}

func (s *Store) NextWaitlistSeq(ctx context.Context, classID uint64) (uint64, error) {
	defer s.lock(ctx)()
	c, ok := s.t.classes[classID]
	if !ok {
		return 0, booking.ErrClassNotFound
	}
	c.WaitlistSeq++
	s.t.classes[classID] = c
	return c.WaitlistSeq, nil
}

// ---- reservations ----

func (s *Store) CreateReservation(ctx context.Context, r *model.Reservation) error {
	defer s.lock(ctx)()
	for _, existing := range s.t.reservations {
		if existing.StudentID == r.StudentID && existing.ClassID == r.ClassID && existing.Status != model.ReservationCancelled {
			return booking.ErrDuplicateReservation
		}
	}
	r.ID = s.id()
	s.t.reservations[r.ID] = *r
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	defer s.lock(ctx)()
	r, ok := s.t.reservations[id]
	if !ok {
		return model.Reservation{}, booking.ErrReservationNotFound
	}
	return r, nil
}

func (s *Store) GetReservationForUpdate(ctx context.Context, id uint64) (model.Reservation, error) {
	return s.GetReservation(ctx, id)
}

func (s *Store) FindActiveReservation(ctx context.Context, studentID, classID uint64) (*model.Reservation, error) {
	defer s.lock(ctx)()
	for _, r := range s.t.reservations {
		if r.StudentID == studentID && r.ClassID == classID && r.Status != model.ReservationCancelled {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateReservation(ctx context.Context, r model.Reservation) error {
	defer s.lock(ctx)()
	if _, ok := s.t.reservations[r.ID]; !ok {
		return booking.ErrReservationNotFound
	}
	s.t.reservations[r.ID] = r
	return nil
}

func (s *Store) ListReservationsByStudent(ctx context.Context, studentID uint64) ([]model.Reservation, error) {
	defer s.lock(ctx)()
	out := []model.Reservation{}
	for _, r := range s.t.reservations {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindActiveInChain(ctx context.Context, reservationID uint64) (*model.Reservation, error) {
	defer s.lock(ctx)()
	r, ok := s.t.reservations[reservationID]
	if !ok {
		return nil, booking.ErrReservationNotFound
	}
	chain := r.ChainID()
	var live *model.Reservation
	for _, c := range s.t.reservations {
		if c.ChainID() != chain || c.Status == model.ReservationCancelled {
			continue
		}
		if live == nil || c.ID > live.ID {
			c := c
			live = &c
		}
	}
	return live, nil
}

func (s *Store) ListOverdueUnpaid(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	defer s.lock(ctx)()
	var due []model.Reservation
	for _, r := range s.t.reservations {
		if r.Status != model.ReservationConfirmed || r.PackageID != nil || r.PaymentDeadline == nil {
			continue
		}
		if !r.PaymentDeadline.Before(now) || s.hasCompletedPayment(r.ID) {
			continue
		}
		due = append(due, r)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].PaymentDeadline.Equal(*due[j].PaymentDeadline) {
			return due[i].PaymentDeadline.Before(*due[j].PaymentDeadline)
		}
		return due[i].ID < due[j].ID
	})
	ids := make([]uint64, 0, len(due))
	for _, r := range due {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// ---- waitlist ----

func (s *Store) CreateWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	defer s.lock(ctx)()
	for _, existing := range s.t.waitlist {
		if existing.ClassID == e.ClassID && existing.StudentID == e.StudentID {
			return booking.ErrAlreadyQueued
		}
	}
	e.ID = s.id()
	s.t.waitlist[e.ID] = *e
	return nil
}

func (s *Store) FindWaitlistEntry(ctx context.Context, studentID, classID uint64) (*model.WaitlistEntry, error) {
	defer s.lock(ctx)()
	for _, e := range s.t.waitlist {
		if e.ClassID == classID && e.StudentID == studentID {
			e := e
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) ListWaitlist(ctx context.Context, classID uint64) ([]model.WaitlistEntry, error) {
	defer s.lock(ctx)()
	out := []model.WaitlistEntry{}
	for _, e := range s.t.waitlist {
		if e.ClassID == classID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteWaitlistEntry(ctx context.Context, id uint64) error {
	defer s.lock(ctx)()
	delete(s.t.waitlist, id)
	return nil
}

// ---- payments ----

func (s *Store) CreatePayment(ctx context.Context, p *model.Payment) error {
	defer s.lock(ctx)()
	p.ID = s.id()
	s.t.payments[p.ID] = *p
	return nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, id uint64) (model.Payment, error) {
	defer s.lock(ctx)()
	p, ok := s.t.payments[id]
	if !ok {
		return model.Payment{}, booking.ErrPaymentNotFound
	}
	return p, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id uint64, status model.PaymentStatus) error {
	defer s.lock(ctx)()
	p, ok := s.t.payments[id]
	if !ok {
		return booking.ErrPaymentNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	s.t.payments[id] = p
	return nil
}

func (s *Store) HasCompletedPayment(ctx context.Context, reservationID uint64) (bool, error) {
	defer s.lock(ctx)()
	return s.hasCompletedPayment(reservationID), nil
}

// hasCompletedPayment looks at the payments of every reservation in the
// reschedule chain of reservationID.
func (s *Store) hasCompletedPayment(reservationID uint64) bool {
	r, ok := s.t.reservations[reservationID]
	if !ok {
		return false
	}
	chain := r.ChainID()
	for _, p := range s.t.payments {
		if p.ReservationID == nil || p.Status != model.PaymentCompleted {
			continue
		}
		paid, ok := s.t.reservations[*p.ReservationID]
		if !ok || paid.ChainID() != chain {
			continue
		}
		if !s.isRefunded(p.ID) {
			return true
		}
	}
	return false
}

func (s *Store) IsRefunded(ctx context.Context, paymentID uint64) (bool, error) {
	defer s.lock(ctx)()
	return s.isRefunded(paymentID), nil
}

func (s *Store) isRefunded(paymentID uint64) bool {
	for _, p := range s.t.payments {
		if p.RefundOf != nil && *p.RefundOf == paymentID {
			return true
		}
	}
	return false
}


