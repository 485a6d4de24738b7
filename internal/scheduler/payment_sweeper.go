// Package scheduler runs the periodic background jobs of the booking
// service.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SweepLockKey is the redis key that keeps concurrent instances from
// sweeping at the same time.
const SweepLockKey = "lock:payment-sweep"

// Sweeper cancels credit-less reservations whose payment deadline passed.
type Sweeper interface {
	SweepExpiredPayments(ctx context.Context) (int, error)
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// PaymentSweeper invokes a Sweeper on a fixed interval.  When a redis
// client is configured each tick first takes a short-lived lock; without
// redis it sweeps unconditionally.
type PaymentSweeper struct {
	sweeper  Sweeper
	rdb      *redis.Client
	interval time.Duration
	lockTTL  time.Duration
	log      *zap.Logger
	key      string
}

// NewPaymentSweeper builds a sweeper.  rdb may be nil.
func NewPaymentSweeper(s Sweeper, rdb *redis.Client, interval, lockTTL time.Duration, log *zap.Logger) *PaymentSweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	return &PaymentSweeper{
		sweeper:  s,
		rdb:      rdb,
		interval: interval,
		lockTTL:  lockTTL,
		log:      log.Named("payment-sweeper"),
		key:      SweepLockKey,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (p *PaymentSweeper) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	p.log.Info("payment sweeper started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("payment sweeper stopped")
			return
		case <-t.C:
			if _, err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn("payment sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single sweep and returns the number of cancelled
// reservations.  It returns 0 without sweeping when another instance
// holds the lock.
func (p *PaymentSweeper) RunOnce(ctx context.Context) (int, error) {
	if p.rdb == nil {
		return p.sweep(ctx)
	}

	token := uuid.NewString()
	ok, err := p.rdb.SetNX(ctx, p.key, token, p.lockTTL).Result()
	if err != nil {
		return 0, errors.Wrap(err, "acquire sweep lock")
	}
	if !ok {
		p.log.Debug("sweep lock held elsewhere, skipping")
		return 0, nil
	}
	defer func() {
		// the tick context may already be cancelled on shutdown
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, p.rdb, []string{p.key}, token).Err(); err != nil {
			p.log.Warn("release sweep lock", zap.Error(err))
		}
	}()
	return p.sweep(ctx)
}

func (p *PaymentSweeper) sweep(ctx context.Context) (int, error) {
	n, err := p.sweeper.SweepExpiredPayments(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		p.log.Info("expired unpaid reservations cancelled", zap.Int("count", n))
	}
	return n, nil
}
