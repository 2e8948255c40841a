package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nightshadow92/cbird/internal/index"
)

type fakeVacuumTarget struct {
	lastActivity time.Time
	calls        int64
	err          error
}

func (f *fakeVacuumTarget) Vacuum(ctx context.Context) (*index.CheckResult, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &index.CheckResult{}, nil
}

func (f *fakeVacuumTarget) LastActivity() time.Time {
	return f.lastActivity
}

func TestVacuumScheduler_SkipsWhenNotIdleLongEnough(t *testing.T) {
	target := &fakeVacuumTarget{lastActivity: time.Now()}
	sched := NewVacuumScheduler(target, 20*time.Millisecond, time.Hour)

	sched.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	sched.Stop()

	require.Zero(t, atomic.LoadInt64(&target.calls))
}

func TestVacuumScheduler_RunsWhenIdle(t *testing.T) {
	target := &fakeVacuumTarget{lastActivity: time.Now().Add(-time.Hour)}
	sched := NewVacuumScheduler(target, 20*time.Millisecond, time.Millisecond)

	sched.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	sched.Stop()

	require.Greater(t, atomic.LoadInt64(&target.calls), int64(0))
}

func TestVacuumScheduler_CoolsOffAfterRepeatedFailures(t *testing.T) {
	target := &fakeVacuumTarget{lastActivity: time.Now().Add(-time.Hour), err: errors.New("boom")}
	sched := NewVacuumScheduler(target, time.Hour, time.Millisecond)
	sched.pacer.retries = 0 // keep the test fast: no backoff sleeps

	ctx := context.Background()
	sched.attempt(ctx)
	sched.attempt(ctx)
	sched.attempt(ctx)
	require.False(t, sched.pacer.ready(time.Now()), "three failed ticks should start the cool-off")
	require.Error(t, sched.LastError())

	callsBeforeCoolOff := atomic.LoadInt64(&target.calls)
	sched.attempt(ctx)
	require.Equal(t, callsBeforeCoolOff, atomic.LoadInt64(&target.calls),
		"a cooling-off scheduler should skip the vacuum call entirely")
}

func TestVacuumScheduler_StopIsIdempotent(t *testing.T) {
	target := &fakeVacuumTarget{lastActivity: time.Now().Add(-time.Hour)}
	sched := NewVacuumScheduler(target, time.Hour, time.Millisecond)
	sched.Start(context.Background())
	sched.Stop()
	sched.Stop()
}

func TestVacuumPacer_RetriesTransientFailureWithinTick(t *testing.T) {
	p := newVacuumPacer(time.Hour)
	p.baseDelay = time.Millisecond
	p.retries = 2

	attempts := 0
	err := p.run(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("writer holds the lock")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.True(t, p.ready(time.Now()), "a tick that eventually succeeds leaves no strikes")
}

func TestVacuumPacer_SuccessClearsStrikes(t *testing.T) {
	p := newVacuumPacer(time.Hour)
	p.retries = 0
	p.strikeLimit = 3

	fail := func() error { return errors.New("boom") }
	_ = p.run(context.Background(), fail)
	_ = p.run(context.Background(), fail)
	require.NoError(t, p.run(context.Background(), func() error { return nil }))

	_ = p.run(context.Background(), fail)
	_ = p.run(context.Background(), fail)
	require.True(t, p.ready(time.Now()), "the success in between must have reset the strike count")
}

func TestVacuumPacer_CoolOffExpires(t *testing.T) {
	p := newVacuumPacer(30 * time.Millisecond)
	p.retries = 0
	p.strikeLimit = 1

	_ = p.run(context.Background(), func() error { return errors.New("boom") })
	require.False(t, p.ready(time.Now()))

	time.Sleep(50 * time.Millisecond)
	require.True(t, p.ready(time.Now()), "the cool-off window must expire on its own")
}

func TestVacuumPacer_RunHonorsContextCancellation(t *testing.T) {
	p := newVacuumPacer(time.Hour)
	p.baseDelay = time.Hour // a retry sleep would hang forever without the ctx check

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.run(ctx, func() error { return errors.New("boom") })
	require.ErrorIs(t, err, context.Canceled)
}
