package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSweeper struct {
	calls  atomic.Int32
	n      int
	err    error
	during func()
}

func (f *fakeSweeper) SweepExpiredPayments(context.Context) (int, error) {
	f.calls.Add(1)
	if f.during != nil {
		f.during()
	}
	return f.n, f.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return srv, rdb
}

func TestRunOnceWithoutRedisSweepsDirectly(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	fs := &fakeSweeper{n: 3}
	p := NewPaymentSweeper(fs, nil, time.Minute, 0, zap.New(core))

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 1, fs.calls.Load())

	entries := logs.FilterMessage("expired unpaid reservations cancelled").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0].ContextMap()["count"])
}

func TestRunOnceQuietWhenNothingExpired(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewPaymentSweeper(&fakeSweeper{}, nil, time.Minute, 0, zap.New(core))

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, logs.FilterMessage("expired unpaid reservations cancelled").Len())
}

func TestRunOncePropagatesSweepError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPaymentSweeper(&fakeSweeper{err: boom}, nil, time.Minute, 0, nil)

	_, err := p.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunStopsOnCancel(t *testing.T) {
	fs := &fakeSweeper{}
	p := NewPaymentSweeper(fs, nil, 5*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return fs.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDefaults(t *testing.T) {
	p := NewPaymentSweeper(&fakeSweeper{}, nil, 0, 0, nil)
	assert.Equal(t, time.Minute, p.interval)
	assert.Equal(t, time.Minute, p.lockTTL)
	assert.Equal(t, SweepLockKey, p.key)
}

func TestRunOnceHoldsLockWhileSweeping(t *testing.T) {
	srv, rdb := newRedis(t)
	fs := &fakeSweeper{n: 2}
	fs.during = func() {
		assert.True(t, srv.Exists(SweepLockKey), "lock taken before sweeping")
		assert.Equal(t, 30*time.Second, srv.TTL(SweepLockKey))
	}
	p := NewPaymentSweeper(fs, rdb, time.Minute, 30*time.Second, nil)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 1, fs.calls.Load())
	assert.False(t, srv.Exists(SweepLockKey), "lock released after sweeping")
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	srv, rdb := newRedis(t)
	require.NoError(t, srv.Set(SweepLockKey, "other-instance"))
	fs := &fakeSweeper{n: 5}
	p := NewPaymentSweeper(fs, rdb, time.Minute, 0, nil)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, fs.calls.Load())
	got, err := srv.Get(SweepLockKey)
	require.NoError(t, err)
	assert.Equal(t, "other-instance", got)
}

func TestRunOnceKeepsLockTakenOverByOtherInstance(t *testing.T) {
	srv, rdb := newRedis(t)
	fs := &fakeSweeper{n: 1}
	fs.during = func() {
		// our lock expired mid-sweep and another instance took it
		srv.Del(SweepLockKey)
		require.NoError(t, srv.Set(SweepLockKey, "other-instance"))
	}
	p := NewPaymentSweeper(fs, rdb, time.Minute, 0, nil)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := srv.Get(SweepLockKey)
	require.NoError(t, err)
	assert.Equal(t, "other-instance", got)
}

func TestRunOnceLockError(t *testing.T) {
	srv, rdb := newRedis(t)
	require.NoError(t, rdb.Ping(context.Background()).Err())
	srv.SetError("ERR server busy")
	fs := &fakeSweeper{}
	p := NewPaymentSweeper(fs, rdb, time.Minute, 0, nil)

	_, err := p.RunOnce(context.Background())
	assert.ErrorContains(t, err, "acquire sweep lock")
	assert.Zero(t, fs.calls.Load())
}

func TestRunOnceLogsFailedRelease(t *testing.T) {
	srv, rdb := newRedis(t)
	core, logs := observer.New(zap.WarnLevel)
	fs := &fakeSweeper{n: 1}
	fs.during = func() { srv.SetError("ERR server unavailable") }
	p := NewPaymentSweeper(fs, rdb, time.Minute, 0, zap.New(core))

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, logs.FilterMessage("release sweep lock").Len())
}
