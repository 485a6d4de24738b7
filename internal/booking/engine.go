// Package booking implements the studio's booking and credit ledger
// engine: package credits, class seats, the waitlist, the reservation
// lifecycle and the payment deadline sweep.  Every mutating operation
// runs in one Store transaction; notifications leave the engine only
// after that transaction has committed.
package booking

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/clock"
)

// Policy holds the time windows used by the engine.
type Policy struct {
	// CancelCutoff is how long before class start students lose the
	// right to cancel.
	CancelCutoff time.Duration
	// PaymentLead is how long before class start a credit-less booking
	// must be paid.
	PaymentLead time.Duration
	// LastMinuteWindow is the time to pay granted to bookings made less
	// than PaymentLead before class start.
	LastMinuteWindow time.Duration
	// SweepBatchSize caps the reservations handled by one sweep.
	SweepBatchSize int
}

// DefaultPolicy returns the studio's standard windows.
func DefaultPolicy() Policy {
	return Policy{
		CancelCutoff:     24 * time.Hour,
		PaymentLead:      24 * time.Hour,
		LastMinuteWindow: 30 * time.Minute,
		SweepBatchSize:   200,
	}
}

// Role identifies who is performing an operation.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleStaff   Role = "STAFF"
	RoleSystem  Role = "SYSTEM"
)

// Actor is the caller of a mutating operation.
type Actor struct {
	ID   uint64
	Role Role
}

// Student returns a student actor.
func Student(id uint64) Actor { return Actor{ID: id, Role: RoleStudent} }

// Staff returns a staff actor.
func Staff(id uint64) Actor { return Actor{ID: id, Role: RoleStaff} }

// System is the actor used by scheduled jobs.
var System = Actor{Role: RoleSystem}

// IsStudent reports whether the actor is a student.
func (a Actor) IsStudent() bool { return a.Role == RoleStudent }

// owns reports whether the actor may act on data belonging to studentID.
func (a Actor) owns(studentID uint64) bool { return !a.IsStudent() || a.ID == studentID }

// Engine wires the ledger, seat tracker, waitlist, reservation state
// machine and deadline enforcer together and exposes the operations
// used by the booking UI and staff tooling.
type Engine struct {
	store    Store
	clock    clock.Clock
	policy   Policy
	log      *zap.Logger
	notifier Notifier
	async    func(func())

	Ledger       *Ledger
	Seats        *CapacityTracker
	Waitlist     *Waitlist
	Reservations *StateMachine
	Deadlines    *DeadlineEnforcer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the system clock.
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option { return func(e *Engine) { e.policy = p } }

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithNotifier sets the post-commit notifier.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithAsync replaces the goroutine used to dispatch notifications.
// Tests pass a function that runs fn inline.
func WithAsync(async func(fn func())) Option { return func(e *Engine) { e.async = async } }

// NewEngine builds an Engine on top of store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		clock:  clock.System{},
		policy: DefaultPolicy(),
		log:    zap.NewNop(),
		async:  func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.SweepBatchSize <= 0 {
		e.policy.SweepBatchSize = DefaultPolicy().SweepBatchSize
	}

	e.Ledger = &Ledger{store: store, clock: e.clock, log: e.log}
	e.Seats = &CapacityTracker{store: store}
	e.Waitlist = &Waitlist{store: store, clock: e.clock, log: e.log}
	e.Reservations = &StateMachine{
		store:    store,
		clock:    e.clock,
		policy:   e.policy,
		ledger:   e.Ledger,
		seats:    e.Seats,
		waitlist: e.Waitlist,
	}
	e.Seats.promoter = e.Waitlist
	e.Waitlist.admitter = e.Reservations
	e.Deadlines = &DeadlineEnforcer{
		store:   store,
		clock:   e.clock,
		machine: e.Reservations,
		log:     e.log,
		batch:   e.policy.SweepBatchSize,
		run:     e.run,
	}
	return e
}

// Policy returns the windows the engine was built with.
func (e *Engine) Policy() Policy { return e.policy }

// run executes fn in one transaction and dispatches the events it
// emitted once the transaction has committed.
func (e *Engine) run(ctx context.Context, fn func(ctx context.Context) error) error {
	ob := &outbox{}
	err := e.store.WithTx(withOutbox(ctx, ob), func(txCtx context.Context) error {
		ob.reset()
		return fn(txCtx)
	})
	if err != nil {
		if errors.Is(err, ErrOverRestoration) {
			e.log.Error("credit ledger invariant violated; transaction rolled back", zap.Error(err))
		}
		return err
	}
	e.dispatch(ob.drain())
	return nil
}

func (e *Engine) dispatch(events []Event) {
	if e.notifier == nil {
		return
	}
	for _, ev := range events {
		ev := ev
		e.async(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.notifier.Notify(ctx, ev); err != nil {
				e.log.Warn("notification dispatch failed",
					zap.String("type", string(ev.Type)),
					zap.Uint64("reservation_id", ev.ReservationID),
					zap.Error(err))
			}
		})
	}
}
